package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"portal-service/internal/analytics"
	"portal-service/internal/audit"
	"portal-service/internal/client"
	"portal-service/internal/importer"
	"portal-service/internal/models"
	"portal-service/internal/repository"
	"portal-service/internal/service"
	"portal-service/internal/util"
)

const maxUploadBytes = 32 << 20

type PaymentOperations interface {
	List(ctx context.Context, filter repository.PaymentFilter) ([]models.Payment, error)
	Get(ctx context.Context, paymentID string) (*models.Payment, error)
	DecryptDetails(ctx context.Context, paymentID, operator string) (*models.InstrumentDetails, error)
	MarkProcessed(ctx context.Context, paymentID string) (*models.Payment, error)
	MarkDeclined(ctx context.Context, paymentID string) (*models.Payment, error)
	Create(ctx context.Context, accountID string, req service.OperatorPaymentRequest) (*service.PaymentResult, error)
}

type AccountOperations interface {
	ListPhones(ctx context.Context, accountID string) ([]models.PhoneNumber, error)
	UpdatePhoneStatus(ctx context.Context, accountID, phone string, status models.PhoneStatus) error
}

type AccountImporter interface {
	Preview(r io.Reader) (*importer.Preview, error)
	Import(ctx context.Context, r io.Reader, overrides importer.Mapping, dryRun bool) (*service.ImportSummary, error)
}

type CallOperations interface {
	TestCall(ctx context.Context, phone string) (*client.CallResponse, error)
	InboundNumbers(ctx context.Context) ([]string, error)
}

// OperatorDeps groups the back-office collaborators.
type OperatorDeps struct {
	Payments PaymentOperations
	Accounts AccountOperations
	Importer AccountImporter
	Calls    CallOperations
	Recorder audit.Recorder
	Tracker  analytics.Tracker
	// PhoneHash turns a phone number into the fingerprint audit events
	// are keyed by.
	PhoneHash func(phone string) string
	APIKey    string
}

// OperatorHandler serves the creditor back office.
type OperatorHandler struct {
	deps   OperatorDeps
	logger *zap.Logger
}

func NewOperatorHandler(deps OperatorDeps, logger *zap.Logger) *OperatorHandler {
	return &OperatorHandler{deps: deps, logger: logger}
}

// RegisterRoutes registers all operator routes
func (h *OperatorHandler) RegisterRoutes(router chi.Router) {
	router.Route("/operator", func(r chi.Router) {
		r.Use(h.requireAPIKey)

		r.Get("/payments", h.ListPayments)
		r.Get("/payments/{paymentID}", h.GetPayment)
		r.Get("/payments/{paymentID}/details", h.GetPaymentDetails)
		r.Post("/payments/{paymentID}/process", h.ProcessPayment)
		r.Post("/payments/{paymentID}/decline", h.DeclinePayment)

		r.Post("/accounts/import/preview", h.PreviewImport)
		r.Post("/accounts/import", h.ImportAccounts)
		r.Post("/accounts/{accountID}/payments", h.CreatePayment)
		r.Get("/accounts/{accountID}/phones", h.ListPhones)
		r.Patch("/accounts/{accountID}/phones/{phone}/status", h.UpdatePhoneStatus)

		r.Post("/calls/test", h.TestCall)
		r.Get("/calls/numbers", h.InboundNumbers)

		r.Get("/security-events", h.SecurityEvents)
		r.Get("/analytics/funnel", h.Funnel)
	})
}

func (h *OperatorHandler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.deps.APIKey == "" {
			respondWithError(w, h.logger, http.StatusServiceUnavailable, errors.New("operator api key not configured"), "Operator access is disabled")
			return
		}
		got := strings.TrimSpace(r.Header.Get("X-Internal-API-Key"))
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.deps.APIKey)) != 1 {
			respondWithError(w, h.logger, http.StatusUnauthorized, errors.New("invalid api key"), "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *OperatorHandler) fail(w http.ResponseWriter, err error, message string) {
	respondWithError(w, h.logger, getStatusCode(err), err, message)
}

func parseLimit(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	return n, nil
}

func (h *OperatorHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.PaymentFilter{
		Status:    models.PaymentStatus(q.Get("status")),
		AccountID: q.Get("account_id"),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := parseLimit(raw)
		if err != nil {
			respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid limit")
			return
		}
		filter.Limit = n
	}

	payments, err := h.deps.Payments.List(r.Context(), filter)
	if err != nil {
		h.fail(w, err, "Failed to list payments")
		return
	}
	resp := successResponse(payments, "")
	resp.Meta = &Meta{Total: len(payments), Limit: filter.Limit}
	respondWithJSON(w, h.logger, http.StatusOK, resp)
}

func (h *OperatorHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := h.deps.Payments.Get(r.Context(), chi.URLParam(r, "paymentID"))
	if err != nil {
		h.fail(w, err, "Failed to get payment")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(payment, ""))
}

func (h *OperatorHandler) GetPaymentDetails(w http.ResponseWriter, r *http.Request) {
	operator := strings.TrimSpace(r.Header.Get("X-Operator"))
	if operator == "" {
		operator = "unknown"
	}
	details, err := h.deps.Payments.DecryptDetails(r.Context(), chi.URLParam(r, "paymentID"), operator)
	if err != nil {
		h.fail(w, err, "Failed to read payment details")
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(details, ""))
}

func (h *OperatorHandler) ProcessPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := h.deps.Payments.MarkProcessed(r.Context(), chi.URLParam(r, "paymentID"))
	if err != nil {
		h.fail(w, err, "Failed to process payment")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(payment, "Payment processed"))
}

func (h *OperatorHandler) DeclinePayment(w http.ResponseWriter, r *http.Request) {
	payment, err := h.deps.Payments.MarkDeclined(r.Context(), chi.URLParam(r, "paymentID"))
	if err != nil {
		h.fail(w, err, "Failed to decline payment")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(payment, "Payment declined"))
}

func (h *OperatorHandler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req service.OperatorPaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, errors.New("malformed payment body"), "Invalid request body")
		return
	}
	res, err := h.deps.Payments.Create(r.Context(), chi.URLParam(r, "accountID"), req)
	if err != nil {
		h.fail(w, err, "Failed to create payment")
		return
	}
	status := http.StatusCreated
	if !res.Created {
		status = http.StatusOK
	}
	respondWithJSON(w, h.logger, status, successResponse(res.Payment, "Payment recorded"))
}

// uploadedFile returns the multipart "file" part of r.
func (h *OperatorHandler) uploadedFile(w http.ResponseWriter, r *http.Request) (io.ReadCloser, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, err
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, err
	}
	return file, nil
}

func (h *OperatorHandler) PreviewImport(w http.ResponseWriter, r *http.Request) {
	file, err := h.uploadedFile(w, r)
	if err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "A CSV file is required")
		return
	}
	defer file.Close()

	preview, err := h.deps.Importer.Preview(file)
	if err != nil {
		h.fail(w, err, "Failed to read CSV file")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(preview, ""))
}

func (h *OperatorHandler) ImportAccounts(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	file, err := h.uploadedFile(w, r)
	if err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "A CSV file is required")
		return
	}
	defer file.Close()

	overrides := importer.Mapping{}
	if raw := r.FormValue("mapping"); raw != "" {
		var m map[string]string
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			respondWithError(w, h.logger, http.StatusBadRequest, err, "Mapping must be a JSON object")
			return
		}
		for field, header := range m {
			f := importer.Field(field)
			if !f.Valid() {
				respondWithError(w, h.logger, http.StatusBadRequest, errors.New("unknown field "+field), "Invalid mapping")
				return
			}
			overrides[f] = header
		}
	}
	dryRun, _ := strconv.ParseBool(r.FormValue("dry_run"))

	summary, err := h.deps.Importer.Import(r.Context(), file, overrides, dryRun)
	if err != nil {
		h.fail(w, err, "Import failed")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(summary, "Import finished"))
	h.logger.Info("accounts imported via HTTP",
		util.Int("imported", summary.Imported),
		util.Bool("dry_run", dryRun),
		util.Duration("duration", time.Since(start)))
}

func (h *OperatorHandler) ListPhones(w http.ResponseWriter, r *http.Request) {
	phones, err := h.deps.Accounts.ListPhones(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		h.fail(w, err, "Failed to list phone numbers")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(phones, ""))
}

func (h *OperatorHandler) UpdatePhoneStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status models.PhoneStatus `json:"status"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	err := h.deps.Accounts.UpdatePhoneStatus(r.Context(), chi.URLParam(r, "accountID"), chi.URLParam(r, "phone"), req.Status)
	if err != nil {
		h.fail(w, err, "Failed to update phone status")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(nil, "Phone status updated"))
}

func (h *OperatorHandler) TestCall(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone string `json:"phone"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	call, err := h.deps.Calls.TestCall(r.Context(), req.Phone)
	if err != nil {
		h.fail(w, err, "Failed to start test call")
		return
	}
	respondWithJSON(w, h.logger, http.StatusAccepted, successResponse(call, "Call started"))
}

func (h *OperatorHandler) InboundNumbers(w http.ResponseWriter, r *http.Request) {
	numbers, err := h.deps.Calls.InboundNumbers(r.Context())
	if err != nil {
		h.fail(w, err, "Failed to list numbers")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(numbers, ""))
}

func (h *OperatorHandler) SecurityEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		EventType: q.Get("type"),
		AccountID: q.Get("account_id"),
	}
	if phone := q.Get("phone"); phone != "" {
		normalized, ok := util.NormalizePhone(phone)
		if !ok {
			respondWithError(w, h.logger, http.StatusBadRequest, errors.New("phone must be a 10-digit number"), "Invalid phone")
			return
		}
		filter.PhoneHash = h.deps.PhoneHash(normalized)
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondWithError(w, h.logger, http.StatusBadRequest, err, "since must be RFC3339")
			return
		}
		filter.Since = since
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := parseLimit(raw)
		if err != nil {
			respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid limit")
			return
		}
		filter.Limit = n
	}

	found, err := h.deps.Recorder.Search(r.Context(), filter)
	if err != nil {
		respondWithError(w, h.logger, http.StatusBadGateway, err, "Failed to search security events")
		return
	}
	resp := successResponse(found, "")
	resp.Meta = &Meta{Total: len(found)}
	respondWithJSON(w, h.logger, http.StatusOK, resp)
}

func (h *OperatorHandler) Funnel(w http.ResponseWriter, r *http.Request) {
	since := time.Now().UTC().AddDate(0, 0, -7)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondWithError(w, h.logger, http.StatusBadRequest, err, "since must be RFC3339")
			return
		}
		since = parsed
	}
	counts, err := h.deps.Tracker.Funnel(r.Context(), since)
	if err != nil {
		respondWithError(w, h.logger, http.StatusBadGateway, err, "Failed to load funnel")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(counts, ""))
}
