package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"portal-service/internal/models"
	"portal-service/internal/service"
	"portal-service/internal/util"
)

// VerificationFlow is the consumer verification surface.
type VerificationFlow interface {
	StartSession(ctx context.Context, req service.StartRequest) (*service.StartResult, error)
	GetSession(ctx context.Context, sessionID string) (*models.VerificationSession, error)
	EndSession(ctx context.Context, sessionID string) error
	SubmitPhone(ctx context.Context, sessionID, raw string) (*models.VerificationSession, error)
	SelectAccount(ctx context.Context, sessionID, accountID string) (*models.VerificationSession, error)
	SubmitVerification(ctx context.Context, sessionID, ssnTail string) (*models.VerificationSession, error)
}

type ResolutionFlow interface {
	Offers(ctx context.Context, sessionID string) ([]models.Offer, error)
	SelectOffer(ctx context.Context, sessionID string, offerType models.OfferType) (*models.VerificationSession, error)
}

type PaymentCapture interface {
	Submit(ctx context.Context, sessionID string, req service.PaymentRequest) (*service.PaymentResult, error)
}

// SessionTokens resolves a bearer token to its session id.
type SessionTokens interface {
	Parse(raw string) (string, error)
}

type sessionCtxKey struct{}

// PortalHandler serves the consumer verification and payment flow.
type PortalHandler struct {
	verification VerificationFlow
	resolution   ResolutionFlow
	payments     PaymentCapture
	tokens       SessionTokens
	logger       *zap.Logger
}

func NewPortalHandler(verification VerificationFlow, resolution ResolutionFlow, payments PaymentCapture, tokens SessionTokens, logger *zap.Logger) *PortalHandler {
	return &PortalHandler{
		verification: verification,
		resolution:   resolution,
		payments:     payments,
		tokens:       tokens,
		logger:       logger,
	}
}

// RegisterRoutes registers all consumer portal routes
func (h *PortalHandler) RegisterRoutes(router chi.Router) {
	router.Route("/portal", func(r chi.Router) {
		r.Post("/sessions", h.StartSession)

		r.Group(func(r chi.Router) {
			r.Use(h.requireSession)
			r.Get("/session", h.GetSession)
			r.Delete("/session", h.EndSession)
			r.Post("/session/phone", h.SubmitPhone)
			r.Post("/session/select", h.SelectAccount)
			r.Post("/session/verify", h.SubmitVerification)
			r.Get("/session/offers", h.Offers)
			r.Post("/session/offers/select", h.SelectOffer)
			r.Post("/session/payments", h.SubmitPayment)
		})
	})
}

func (h *PortalHandler) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(raw, "Bearer ") {
			respondWithError(w, h.logger, http.StatusUnauthorized, errors.New("missing bearer token"), "Please start a new session.")
			return
		}
		sessionID, err := h.tokens.Parse(strings.TrimSpace(strings.TrimPrefix(raw, "Bearer ")))
		if err != nil {
			respondWithError(w, h.logger, http.StatusUnauthorized, errors.New("invalid session token"), "Your session has expired. Please start again.")
			return
		}
		ctx := context.WithValue(r.Context(), sessionCtxKey{}, sessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionID(r *http.Request) string {
	id, _ := r.Context().Value(sessionCtxKey{}).(string)
	return id
}

// respondFlow writes the session together with any step failure so the
// consumer sees the current step and the message for it.
func (h *PortalHandler) respondFlow(w http.ResponseWriter, session *models.VerificationSession, err error, message string) {
	if err == nil {
		respondWithJSON(w, h.logger, http.StatusOK, successResponse(session, message))
		return
	}
	status := getStatusCode(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("portal request failed", util.ErrorField(err))
	}
	resp := errorResponse(status, err, service.UserMessage(err))
	if session != nil {
		resp.Data = session
	}
	respondWithJSON(w, h.logger, status, resp)
}

type startSessionRequest struct {
	Phone string `json:"phone"`
	Demo  bool   `json:"demo"`
}

// StartSession opens a verification session. An empty body is allowed.
func (h *PortalHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid request body")
			return
		}
	}
	if req.Phone == "" {
		req.Phone = r.URL.Query().Get("phone")
	}

	res, err := h.verification.StartSession(r.Context(), service.StartRequest{Phone: req.Phone, Demo: req.Demo})
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, service.UserMessage(err))
		return
	}
	respondWithJSON(w, h.logger, http.StatusCreated, successResponse(res, "Session started"))
}

func (h *PortalHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.verification.GetSession(r.Context(), sessionID(r))
	h.respondFlow(w, session, err, "")
}

func (h *PortalHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	if err := h.verification.EndSession(r.Context(), sessionID(r)); err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to end session")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(nil, "Session ended"))
}

func (h *PortalHandler) SubmitPhone(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone string `json:"phone"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	session, err := h.verification.SubmitPhone(r.Context(), sessionID(r), req.Phone)
	h.respondFlow(w, session, err, "Phone number accepted")
}

func (h *PortalHandler) SelectAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string `json:"account_id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	session, err := h.verification.SelectAccount(r.Context(), sessionID(r), req.AccountID)
	h.respondFlow(w, session, err, "Account selected")
}

func (h *PortalHandler) SubmitVerification(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req struct {
		SSNLast4 string `json:"ssn_last4"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, errors.New("malformed verification body"), "Invalid request body")
		return
	}
	session, err := h.verification.SubmitVerification(r.Context(), sessionID(r), req.SSNLast4)
	h.respondFlow(w, session, err, "Identity verified")
	h.logger.Debug("verification handled",
		util.String("session_id", sessionID(r)),
		util.Bool("ok", err == nil),
		util.Duration("duration", time.Since(start)))
}

func (h *PortalHandler) Offers(w http.ResponseWriter, r *http.Request) {
	offers, err := h.resolution.Offers(r.Context(), sessionID(r))
	if err != nil {
		h.respondFlow(w, nil, err, "")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(offers, ""))
}

func (h *PortalHandler) SelectOffer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type models.OfferType `json:"type"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	session, err := h.resolution.SelectOffer(r.Context(), sessionID(r), req.Type)
	h.respondFlow(w, session, err, "Offer selected")
}

func (h *PortalHandler) SubmitPayment(w http.ResponseWriter, r *http.Request) {
	var req service.PaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		// The decoder error can quote card fields.
		respondWithError(w, h.logger, http.StatusBadRequest, errors.New("malformed payment body"), "Invalid request body")
		return
	}
	res, err := h.payments.Submit(r.Context(), sessionID(r), req)
	if err != nil {
		h.respondFlow(w, nil, err, "")
		return
	}
	status, message := http.StatusCreated, "Payment received"
	if !res.Created {
		status, message = http.StatusOK, "Payment already received"
	}
	respondWithJSON(w, h.logger, status, successResponse(res.Payment, message))
}
