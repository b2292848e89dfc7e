package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/treeoflife/affiliate/internal/auth"
	"github.com/treeoflife/affiliate/internal/commission"
	"github.com/treeoflife/affiliate/internal/gzip"
	"github.com/treeoflife/affiliate/internal/handler/config"
	"github.com/treeoflife/affiliate/internal/logger"
	"github.com/treeoflife/affiliate/internal/service"
	"github.com/treeoflife/affiliate/internal/service/processorclient"
)

func Serve(cfg config.Config, auth auth.Auth, service service.Service, zaplog *zap.Logger) error {
	h := newHandler(auth, service, zaplog)
	router := h.newRouter()

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: router,
	}

	return srv.ListenAndServe()
}

type handler struct {
	auth    auth.Auth
	service service.Service
	zaplog  *zap.Logger
}

func newHandler(auth auth.Auth, service service.Service, zaplog *zap.Logger) *handler {
	return &handler{
		auth:    auth,
		service: service,
		zaplog:  zaplog,
	}
}

func (h *handler) newRouter() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/affiliate/register", gzip.GzipMiddleware(logger.RequestLogMdlw(h.auth.Register, h.zaplog)))
	mux.HandleFunc("POST /api/affiliate/login", gzip.GzipMiddleware(logger.RequestLogMdlw(h.auth.Login, h.zaplog)))
	mux.HandleFunc("POST /api/affiliate/link", gzip.GzipMiddleware(logger.RequestLogMdlw(h.auth.Middleware(h.PostLink), h.zaplog)))
	mux.HandleFunc("GET /api/affiliate/dashboard", gzip.GzipMiddleware(logger.RequestLogMdlw(h.auth.Middleware(h.GetDashboard), h.zaplog)))
	mux.HandleFunc("GET /api/affiliate/balance", gzip.GzipMiddleware(logger.RequestLogMdlw(h.auth.Middleware(h.GetBalance), h.zaplog)))
	mux.HandleFunc("GET /api/affiliate/history", gzip.GzipMiddleware(logger.RequestLogMdlw(h.auth.Middleware(h.GetHistory), h.zaplog)))
	mux.HandleFunc("POST /api/affiliate/payout", gzip.GzipMiddleware(logger.RequestLogMdlw(h.auth.Middleware(h.PostPayout), h.zaplog)))
	mux.HandleFunc("GET /api/affiliate/payouts", gzip.GzipMiddleware(logger.RequestLogMdlw(h.auth.Middleware(h.GetPayouts), h.zaplog)))
	mux.HandleFunc("POST /api/referral/track", gzip.GzipMiddleware(logger.RequestLogMdlw(h.PostTrack, h.zaplog)))
	mux.HandleFunc("GET /api/commissions", gzip.GzipMiddleware(logger.RequestLogMdlw(h.GetCommissions, h.zaplog)))
	mux.HandleFunc("GET /api/payout-schedule", gzip.GzipMiddleware(logger.RequestLogMdlw(h.GetPayoutSchedule, h.zaplog)))
	mux.HandleFunc("POST /api/processor/webhook", gzip.GzipMiddleware(logger.RequestLogMdlw(h.PostProcessorWebhook, h.zaplog)))

	return mux
}

type PostLinkJSONResponse struct {
	ReferralCode string `json:"referralCode"`
	ReferralLink string `json:"referralLink"`
	AffiliateID  string `json:"affiliateId"`
}

func (h *handler) PostLink(w http.ResponseWriter, r *http.Request) {
	affiliateCode := r.Header.Get(auth.HeaderAffiliateKey)

	link, err := h.service.GenerateReferralLink(r.Context(), affiliateCode)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, PostLinkJSONResponse{
		ReferralCode: link.ReferralCode,
		ReferralLink: link.ReferralLink,
		AffiliateID:  affiliateCode,
	})
}

type PostTrackJSONRequest struct {
	EventID      string  `json:"eventId"`
	ReferralCode string  `json:"referralCode"`
	Plan         string  `json:"plan"`
	PaymentKind  string  `json:"paymentKind"`
	Amount       float64 `json:"amount"`
}

type PostTrackJSONResponse struct {
	Tracked      bool      `json:"tracked"`
	EventID      string    `json:"eventId"`
	ReferralCode string    `json:"referralCode"`
	Commission   float64   `json:"commission"`
	Tier         string    `json:"tier"`
	Duplicate    bool      `json:"duplicate,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

func (h *handler) PostTrack(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r.Body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var trackJSON PostTrackJSONRequest
	if err := json.Unmarshal(buf.Bytes(), &trackJSON); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.service.TrackReferral(r.Context(), service.TrackRequest{
		EventID:      trackJSON.EventID,
		ReferralCode: trackJSON.ReferralCode,
		Plan:         trackJSON.Plan,
		PaymentKind:  trackJSON.PaymentKind,
		Amount:       h.amountInput(trackJSON.Amount),
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInsufficientData):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, service.ErrUnknownReferralCode):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, commission.ErrUnknownPlan),
			errors.Is(err, commission.ErrUnknownPaymentKind),
			errors.Is(err, commission.ErrAmountIncorrect):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, PostTrackJSONResponse{
		Tracked:      true,
		EventID:      result.EventID,
		ReferralCode: trackJSON.ReferralCode,
		Commission:   h.amountOutput(result.Commission),
		Tier:         result.Tier,
		Duplicate:    result.Duplicate,
		Timestamp:    time.Now(),
	})
}

type GetBalanceJSONResponse struct {
	Current   float64 `json:"current"`
	Withdrawn float64 `json:"withdrawn"`
}

func (h *handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	affiliateCode := r.Header.Get(auth.HeaderAffiliateKey)

	balance, err := h.service.GetBalance(r.Context(), affiliateCode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, GetBalanceJSONResponse{
		Current:   h.amountOutput(balance.Data.Balance),
		Withdrawn: h.amountOutput(balance.Data.Withdrawn),
	})
}

type HistoryJSONItem struct {
	Timestamp  time.Time `json:"timestamp"`
	Difference float64   `json:"difference"`
	Balance    float64   `json:"balance"`
	Ref        string    `json:"ref"`
}

type GetHistoryJSONResponse struct {
	AffiliateID string            `json:"affiliateId"`
	History     []HistoryJSONItem `json:"history"`
}

// GetHistory - журнал операций по балансу: начисления, списания, возвраты
func (h *handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	affiliateCode := r.Header.Get(auth.HeaderAffiliateKey)

	history, err := h.service.BalanceHistory(r.Context(), affiliateCode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	response := GetHistoryJSONResponse{
		AffiliateID: affiliateCode,
		History:     []HistoryJSONItem{},
	}
	for _, row := range history {
		response.History = append(response.History, HistoryJSONItem{
			Timestamp:  row.Data.Timestamp,
			Difference: h.amountOutput(row.Data.Difference),
			Balance:    h.amountOutput(row.Data.Balance),
			Ref:        row.Data.Ref,
		})
	}
	h.writeJSON(w, response)
}

type PayoutReadyJSONResponse struct {
	Status           string    `json:"status"`
	PayoutID         string    `json:"payoutId"`
	AffiliateID      string    `json:"affiliateId"`
	Amount           float64   `json:"amount"`
	Tier             string    `json:"tier"`
	Frequency        string    `json:"frequency"`
	ProcessedAt      time.Time `json:"processedAt"`
	EstimatedArrival time.Time `json:"estimatedArrival"`
	Message          string    `json:"message"`
}

type PayoutPendingJSONResponse struct {
	Status          string    `json:"status"`
	Message         string    `json:"message"`
	CurrentBalance  float64   `json:"currentBalance"`
	MinimumRequired float64   `json:"minimumRequired"`
	NextPayoutDate  time.Time `json:"nextPayoutDate"`
}

func (h *handler) PostPayout(w http.ResponseWriter, r *http.Request) {
	affiliateCode := r.Header.Get(auth.HeaderAffiliateKey)

	result, err := h.service.RunPayout(r.Context(), affiliateCode)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, service.ErrInsufficientFunds):
			http.Error(w, err.Error(), http.StatusPaymentRequired)
		case errors.Is(err, processorclient.ErrProcessor):
			// процессор недоступен: выплата отменена, можно повторить позже
			http.Error(w, err.Error(), http.StatusBadGateway)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	if !result.Evaluation.Decision.Ready() {
		h.writeJSON(w, PayoutPendingJSONResponse{
			Status:          result.Evaluation.Decision.Status,
			Message:         result.Evaluation.Decision.Reason,
			CurrentBalance:  h.amountOutput(result.Evaluation.Decision.Amount),
			MinimumRequired: h.amountOutput(result.Evaluation.Decision.MinimumRequired),
			NextPayoutDate:  result.Evaluation.NextPayout,
		})
		return
	}

	h.writeJSON(w, PayoutReadyJSONResponse{
		Status:           "success",
		PayoutID:         result.Payout.ID,
		AffiliateID:      affiliateCode,
		Amount:           h.amountOutput(result.Payout.Data.Amount),
		Tier:             result.Evaluation.Tier,
		Frequency:        result.Evaluation.Frequency,
		ProcessedAt:      result.Payout.Data.InitiatedAt,
		EstimatedArrival: result.ArrivalEstimate,
		Message:          "Payout initiated successfully",
	})
}

type PayoutJSONItem struct {
	PayoutID    string    `json:"payoutId"`
	Amount      float64   `json:"amount"`
	Status      string    `json:"status"`
	ProcessedAt time.Time `json:"processedAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type GetPayoutsJSONResponse struct {
	AffiliateID   string           `json:"affiliateId"`
	PayoutHistory []PayoutJSONItem `json:"payoutHistory"`
	TotalPaid     float64          `json:"totalPaid"`
}

func (h *handler) GetPayouts(w http.ResponseWriter, r *http.Request) {
	affiliateCode := r.Header.Get(auth.HeaderAffiliateKey)

	payouts, totalPaid, err := h.service.PayoutHistory(r.Context(), affiliateCode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// пустая история сериализуется как [], не null
	response := GetPayoutsJSONResponse{
		AffiliateID:   affiliateCode,
		PayoutHistory: []PayoutJSONItem{},
		TotalPaid:     h.amountOutput(totalPaid),
	}
	for _, payoutRow := range payouts {
		response.PayoutHistory = append(response.PayoutHistory, PayoutJSONItem{
			PayoutID:    payoutRow.ID,
			Amount:      h.amountOutput(payoutRow.Data.Amount),
			Status:      payoutRow.Data.Status,
			ProcessedAt: payoutRow.Data.InitiatedAt,
			UpdatedAt:   payoutRow.Data.UpdatedAt,
		})
	}
	h.writeJSON(w, response)
}

type DashboardStatsJSON struct {
	TotalReferrals   int64   `json:"totalReferrals"`
	TotalCommissions float64 `json:"totalCommissions"`
	PendingPayout    float64 `json:"pendingPayout"`
	Lifetime         float64 `json:"lifetime"`
}

type GetDashboardJSONResponse struct {
	AffiliateID    string             `json:"affiliateId"`
	Stats          DashboardStatsJSON `json:"stats"`
	Tier           string             `json:"tier"`
	MonthlyRevenue float64            `json:"monthlyRevenue"`
	NextPayout     time.Time          `json:"nextPayout"`
}

func (h *handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	affiliateCode := r.Header.Get(auth.HeaderAffiliateKey)

	dashboard, err := h.service.Dashboard(r.Context(), affiliateCode)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, GetDashboardJSONResponse{
		AffiliateID: affiliateCode,
		Stats: DashboardStatsJSON{
			TotalReferrals:   dashboard.TotalReferrals,
			TotalCommissions: h.amountOutput(dashboard.TotalCommissions),
			PendingPayout:    h.amountOutput(dashboard.PendingBalance),
			Lifetime:         h.amountOutput(dashboard.LifetimePaid),
		},
		Tier:           dashboard.Tier,
		MonthlyRevenue: h.amountOutput(dashboard.TrailingMonthlyRevenue),
		NextPayout:     dashboard.NextPayout,
	})
}

type PlanRatesJSON struct {
	Subscription float64 `json:"subscription"`
	OneTime      float64 `json:"oneTime"`
}

type TierJSON struct {
	Name              string   `json:"name"`
	MinMonthlyRevenue float64  `json:"minMonthlyRevenue"`
	CommissionBonus   float64  `json:"commissionBonus"`
	Features          []string `json:"features"`
}

type GetCommissionsJSONResponse struct {
	CommissionStructure map[string]PlanRatesJSON `json:"commissionStructure"`
	APIUsage            float64                  `json:"apiUsage"`
	PartnerTiers        []TierJSON               `json:"partnerTiers"`
	Timestamp           time.Time                `json:"timestamp"`
}

func (h *handler) GetCommissions(w http.ResponseWriter, r *http.Request) {
	prog := h.service.Structure()

	structure := make(map[string]PlanRatesJSON, len(prog.Rates.Plans))
	for plan, rates := range prog.Rates.Plans {
		structure[plan] = PlanRatesJSON{
			Subscription: rates.Recurring.InexactFloat64(),
			OneTime:      rates.OneTime.InexactFloat64(),
		}
	}

	var tiers []TierJSON
	for _, tier := range prog.Tiers {
		tiers = append(tiers, TierJSON{
			Name:              tier.Name,
			MinMonthlyRevenue: h.amountOutput(tier.MinMonthlyRevenue),
			CommissionBonus:   tier.CommissionBonus.InexactFloat64(),
			Features:          tier.Features,
		})
	}

	h.writeJSON(w, GetCommissionsJSONResponse{
		CommissionStructure: structure,
		APIUsage:            prog.Rates.Overage.InexactFloat64(),
		PartnerTiers:        tiers,
		Timestamp:           time.Now(),
	})
}

type ScheduleJSON struct {
	Frequency     string  `json:"frequency"`
	MinimumPayout float64 `json:"minimumPayout"`
}

type GetPayoutScheduleJSONResponse struct {
	Schedule  map[string]ScheduleJSON `json:"schedule"`
	Timestamp time.Time               `json:"timestamp"`
}

func (h *handler) GetPayoutSchedule(w http.ResponseWriter, r *http.Request) {
	prog := h.service.Structure()

	schedule := make(map[string]ScheduleJSON, len(prog.Tiers))
	for _, tier := range prog.Tiers {
		schedule[tier.Name] = ScheduleJSON{
			Frequency:     string(tier.PayoutFrequency),
			MinimumPayout: h.amountOutput(tier.MinimumPayout),
		}
	}

	h.writeJSON(w, GetPayoutScheduleJSONResponse{
		Schedule:  schedule,
		Timestamp: time.Now(),
	})
}

func (h *handler) PostProcessorWebhook(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r.Body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var event processorclient.WebhookEvent
	if err := json.Unmarshal(buf.Bytes(), &event); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err := h.service.ApplyProcessorEvent(r.Context(), event)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInsufficientData):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, service.ErrNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *handler) writeJSON(w http.ResponseWriter, response any) {
	responseJSON, err := json.Marshal(response)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(responseJSON)
}

func (h *handler) amountOutput(cents int64) float64 {
	return float64(cents) / 100
}

func (h *handler) amountInput(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
