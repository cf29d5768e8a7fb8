package checkout

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/meridian-pos/meridian-pos/internal/platform/httpx"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// Handler exposes checkout over HTTP.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	idempotency    *shared.IdempotencyStore
	validate       *validator.Validate
	defaultTaxRate float64
}

// NewHandler builds Handler. Requests that omit a tax rate fall back to
// defaultTaxRate.
func NewHandler(logger *slog.Logger, service *Service, idempotency *shared.IdempotencyStore, defaultTaxRate float64) *Handler {
	return &Handler{logger: logger, service: service, idempotency: idempotency, validate: validator.New(), defaultTaxRate: defaultTaxRate}
}

// MountRoutes registers checkout routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/checkout", h.checkout)
	r.Get("/sales/{id}", h.getSale)
	r.Get("/sales/number/{number}", h.getSaleByNumber)
	r.Post("/sales/{id}/payments", h.recordPayment)
	r.Get("/daily", h.daily)
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	sessionKey := shared.SessionKeyFromContext(r.Context())
	if sessionKey == "" {
		httpx.Problem(w, http.StatusBadRequest, "missing session", "the X-Session-Key header is required")
		return
	}

	var input CheckoutInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid body", err.Error())
		return
	}
	if err := h.validate.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid body", err.Error())
		return
	}
	input.ActorID = shared.ActorFromContext(r.Context())
	if input.TaxRate == nil {
		rate := h.defaultTaxRate
		input.TaxRate = &rate
	}

	// A retried request with the same key must not commit a second sale.
	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey != "" {
		if _, err := uuid.Parse(idemKey); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "invalid idempotency key", "Idempotency-Key must be a UUID")
			return
		}
		switch err := h.idempotency.CheckAndInsert(r.Context(), idemKey, "pos.checkout"); {
		case errors.Is(err, shared.ErrIdempotencyConflict):
			httpx.Problem(w, http.StatusConflict, "duplicate request", "this checkout was already processed")
			return
		case err != nil:
			httpx.RespondError(w, err)
			return
		}
	}

	sale, err := h.service.Checkout(r.Context(), sessionKey, input)
	if err != nil {
		if idemKey != "" {
			if delErr := h.idempotency.Delete(r.Context(), idemKey); delErr != nil {
				h.logger.Warn("release idempotency key", slog.Any("error", delErr))
			}
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sale)
}

func (h *Handler) getSale(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid id", "sale id must be an integer")
		return
	}
	sale, err := h.service.GetSale(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) getSaleByNumber(w http.ResponseWriter, r *http.Request) {
	sale, err := h.service.GetSaleByNumber(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid id", "sale id must be an integer")
		return
	}

	var input PaymentInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid body", err.Error())
		return
	}
	if err := h.validate.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid body", err.Error())
		return
	}
	input.ActorID = shared.ActorFromContext(r.Context())

	sale, err := h.service.RecordPayment(r.Context(), id, input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sale)
}

func (h *Handler) daily(w http.ResponseWriter, r *http.Request) {
	day := time.Now()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, time.Local)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "invalid date", "expected YYYY-MM-DD")
			return
		}
		day = parsed
	}
	summary, err := h.service.DailySummary(r.Context(), day)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}
