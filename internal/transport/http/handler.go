package httptransport

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"intake/pkg/domain"
	dErrors "intake/pkg/domain-errors"
	"intake/pkg/platform/sentinel"
)

// Deduplicator runs the batch deduplication pass.
type Deduplicator interface {
	DeduplicateImport(ctx context.Context, importID domain.ImportID) error
}

// Merger runs the merge task.
type Merger interface {
	MergeImport(ctx context.Context, importID domain.ImportID) error
}

// BiometricService is the slice of the biometric pipeline driven over HTTP.
type BiometricService interface {
	UploadAndProcessDeduplicationSet(ctx context.Context, programID domain.ProgramID) error
	MarkProcessing(ctx context.Context, programID domain.ProgramID) error
	FetchResultsAndProcess(ctx context.Context, programID domain.ProgramID) error
}

// Admin performs administrative import operations.
type Admin interface {
	DeleteImport(ctx context.Context, importID domain.ImportID) error
	ReindexImport(ctx context.Context, importID domain.ImportID) error
}

// HealthChecker reports readiness of one downstream dependency.
type HealthChecker func(ctx context.Context) error

// Handler is the thin HTTP layer; it parses, delegates and translates errors.
type Handler struct {
	dedup         Deduplicator
	merger        Merger
	biometric     BiometricService
	admin         Admin
	webhookSecret string
	health        map[string]HealthChecker
	logger        *slog.Logger
}

func NewHandler(
	dedup Deduplicator,
	merger Merger,
	biometric BiometricService,
	admin Admin,
	webhookSecret string,
	health map[string]HealthChecker,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		dedup:         dedup,
		merger:        merger,
		biometric:     biometric,
		admin:         admin,
		webhookSecret: webhookSecret,
		health:        health,
		logger:        logger,
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := make(map[string]string, len(h.health))
	for name, check := range h.health {
		if err := check(r.Context()); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	writeJSON(w, status, map[string]any{"checks": checks})
}

// callbackPayload is the engine's webhook body.
type callbackPayload struct {
	State string `json:"state"`
}

func (h *Handler) handleBiometricCallback(w http.ResponseWriter, r *http.Request) {
	programID, err := domain.ParseProgramID(chi.URLParam(r, "programID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	var payload callbackPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, dErrors.New(dErrors.CodeInvalidInput, "malformed callback body"))
		return
	}

	switch payload.State {
	case "Processing":
		err = h.biometric.MarkProcessing(r.Context(), programID)
	default:
		err = h.biometric.FetchResultsAndProcess(r.Context(), programID)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (h *Handler) handleBiometricRun(w http.ResponseWriter, r *http.Request) {
	programID, err := domain.ParseProgramID(chi.URLParam(r, "programID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.biometric.UploadAndProcessDeduplicationSet(r.Context(), programID); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (h *Handler) handleDeduplicate(w http.ResponseWriter, r *http.Request) {
	h.runImportAction(w, r, h.dedup.DeduplicateImport, http.StatusAccepted)
}

func (h *Handler) handleMerge(w http.ResponseWriter, r *http.Request) {
	h.runImportAction(w, r, h.merger.MergeImport, http.StatusAccepted)
}

func (h *Handler) handleReindex(w http.ResponseWriter, r *http.Request) {
	h.runImportAction(w, r, h.admin.ReindexImport, http.StatusOK)
}

func (h *Handler) handleDeleteImport(w http.ResponseWriter, r *http.Request) {
	h.runImportAction(w, r, h.admin.DeleteImport, http.StatusOK)
}

func (h *Handler) runImportAction(w http.ResponseWriter, r *http.Request,
	action func(ctx context.Context, importID domain.ImportID) error, okStatus int) {

	importID, err := domain.ParseImportID(chi.URLParam(r, "importID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := action(r.Context(), importID); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, okStatus, map[string]string{"status": "ok"})
}

// requireWebhookSecret authenticates the engine's callback.
func (h *Handler) requireWebhookSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("X-Webhook-Secret")
		if h.webhookSecret == "" ||
			subtle.ConstantTimeCompare([]byte(got), []byte(h.webhookSecret)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case dErrors.HasCode(err, dErrors.CodeInvalidInput):
		status = http.StatusBadRequest
	case dErrors.HasCode(err, dErrors.CodeNotFound), errors.Is(err, sentinel.ErrNotFound):
		status = http.StatusNotFound
	case dErrors.HasCode(err, dErrors.CodeInvariantViolation):
		status = http.StatusConflict
	case dErrors.HasCode(err, dErrors.CodeConflict),
		errors.Is(err, sentinel.ErrConflict),
		errors.Is(err, sentinel.ErrAlreadyProcessing):
		status = http.StatusConflict
	case errors.Is(err, sentinel.ErrUnavailable):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
