package processorclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// Платежный процессор. Перевод средств и верификация подписи вебхуков -
// на его стороне, мы только инициируем выплату и принимаем уведомления

// ErrProcessor - процессор недоступен или ответил ошибкой.
// Повторять вызов решает вызывающая сторона, клиент сам не ретраит
var ErrProcessor = errors.New("processor request failed")

type PayoutRequest struct {
	PayoutID    string `json:"payout_id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Destination string `json:"destination"`
}

// JSON ответ процессора
type PayoutAnswer struct {
	ProcessorRef    string    `json:"id"`
	Status          string    `json:"status"`
	ArrivalEstimate time.Time `json:"arrival_estimate"`
}

// Асинхронное уведомление процессора о судьбе выплаты
type WebhookEvent struct {
	Type     string `json:"type"`
	PayoutID string `json:"payout_id"`
}

const (
	EventPayoutPaid   = "payout.paid"
	EventPayoutFailed = "payout.failed"
)

type ProcessorClient interface {
	CreatePayout(ctx context.Context, request PayoutRequest) (PayoutAnswer, error)
}

type processorClient struct {
	serviceAddr string
}

func NewProcessorClient(serviceAddr string) ProcessorClient {
	return processorClient{serviceAddr: serviceAddr}
}

func (client processorClient) CreatePayout(ctx context.Context, request PayoutRequest) (PayoutAnswer, error) {
	path := "/api/payouts"

	body, err := json.Marshal(request)
	if err != nil {
		return PayoutAnswer{}, err
	}

	setreq := resty.New().R().SetContext(ctx)
	setreq.Method = http.MethodPost
	setreq.URL = client.serviceAddr + path
	setreq.SetHeader("Content-Type", "application/json")
	// ключ идемпотентности: повтор той же попытки не создает вторую выплату
	setreq.SetHeader("Idempotency-Key", request.PayoutID)
	setreq.SetBody(body)
	setresp, err := setreq.Send()
	if err != nil {
		return PayoutAnswer{}, fmt.Errorf("%w: %w", ErrProcessor, err)
	}

	switch setresp.StatusCode() {
	case http.StatusOK, http.StatusCreated:
		var payoutAnswer PayoutAnswer
		err = json.Unmarshal(setresp.Body(), &payoutAnswer)
		return payoutAnswer, err
	default:
		return PayoutAnswer{}, fmt.Errorf("%w: status %d", ErrProcessor, setresp.StatusCode())
	}
}
