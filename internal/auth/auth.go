package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/treeoflife/affiliate/internal/auth/config"
	"github.com/treeoflife/affiliate/internal/service"
	"github.com/treeoflife/affiliate/internal/token"
)

type Auth interface {
	Register(w http.ResponseWriter, r *http.Request)
	Login(w http.ResponseWriter, r *http.Request)
	Middleware(h http.HandlerFunc) http.HandlerFunc
}

const (
	HeaderAffiliateKey   = "X-Affiliate-Code"
	cookieAffiliateToken = "affiliateToken"
)

type auth struct {
	service service.Service
	secret  []byte
}

func NewAuth(service service.Service, cfg config.Config) Auth {
	return &auth{
		service: service,
		secret:  []byte(cfg.TokenSecret),
	}
}

type RegisterJSONRequest struct {
	Login         string `json:"login"`
	Password      string `json:"password"`
	PayoutAccount string `json:"payoutAccount"`
}

type RegisterJSONResponse struct {
	AffiliateID  string    `json:"affiliateId"`
	ReferralCode string    `json:"referralCode"`
	Created      time.Time `json:"created"`
}

func (a *auth) Register(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r.Body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var registerJSON RegisterJSONRequest
	if err := json.Unmarshal(buf.Bytes(), &registerJSON); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	affiliate, err := a.service.Register(r.Context(), registerJSON.Login, registerJSON.Password, registerJSON.PayoutAccount)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInsufficientData):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, service.ErrPayoutAccountIncorrect):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		case errors.Is(err, service.ErrAlreadyExists):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	if err := a.setTokenCookie(w, affiliate.Code); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	responseJSON, err := json.Marshal(RegisterJSONResponse{
		AffiliateID:  affiliate.Code,
		ReferralCode: affiliate.Data.ReferralCode,
		Created:      affiliate.Data.RegisteredAt,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(responseJSON)
}

type LoginJSONRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

func (a *auth) Login(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r.Body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var loginJSON LoginJSONRequest
	if err := json.Unmarshal(buf.Bytes(), &loginJSON); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	affiliate, err := a.service.Login(r.Context(), loginJSON.Login, loginJSON.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInsufficientData):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, service.ErrAuthFailed):
			http.Error(w, err.Error(), http.StatusUnauthorized)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	if err := a.setTokenCookie(w, affiliate.Code); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *auth) setTokenCookie(w http.ResponseWriter, affiliateCode string) error {
	tokenString, err := token.BuildJWT(a.secret, affiliateCode)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieAffiliateToken,
		Value:    tokenString,
		Path:     "/",
		HttpOnly: true,
		Expires:  time.Now().Add(token.TokenExp),
	})
	return nil
}

func (a *auth) Middleware(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// получение кода партнера
		affiliateCode, err := a.getAffiliateCode(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		// записываем
		r.Header.Set(HeaderAffiliateKey, affiliateCode)

		// передаём управление хендлеру
		h.ServeHTTP(w, r)
	}
}

func (a *auth) getAffiliateCode(r *http.Request) (string, error) {
	tokenCookie, err := r.Cookie(cookieAffiliateToken)
	if err != nil {
		return "", err
	}
	return token.GetAffiliateCode(a.secret, tokenCookie.Value)
}
