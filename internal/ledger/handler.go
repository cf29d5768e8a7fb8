package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-pos/meridian-pos/internal/platform/httpx"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// Handler wires HTTP endpoints for the stock ledger.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs ledger handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/intake", h.intake)
	r.Get("/units/{id}", h.getUnit)
	r.Post("/units/{id}/write-off", h.writeOff)
	r.Get("/products/{id}/available", h.countAvailable)
	r.Get("/scan/{code}", h.scan)
}

func (h *Handler) intake(w http.ResponseWriter, r *http.Request) {
	var input IntakeInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input.ActorID = shared.ActorFromContext(r.Context())

	units, err := h.service.Intake(r.Context(), input)
	if err != nil {
		if errors.Is(err, ErrDuplicateBarcode) || errors.Is(err, ErrDuplicateSerial) {
			httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
			return
		}
		if !shared.IsValidation(err) {
			h.logger.Error("intake", slog.Any("error", err), slog.Int64("product_id", input.ProductID))
		}
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("stock intake",
		slog.Int64("product_id", input.ProductID),
		slog.Int("quantity", input.Quantity))
	httpx.JSON(w, http.StatusCreated, units)
}

func (h *Handler) getUnit(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid unit id")
		return
	}
	unit, err := h.service.GetUnit(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, unit)
}

type writeOffRequest struct {
	Status string `json:"status" validate:"required,oneof=used damaged other"`
	Note   string `json:"note" validate:"max=500"`
}

func (h *Handler) writeOff(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid unit id")
		return
	}
	var req writeOffRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor := shared.ActorFromContext(r.Context())
	if err := h.service.WriteOff(r.Context(), id, UnitStatus(req.Status), req.Note, actor); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Transition", err.Error())
			return
		}
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) countAvailable(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return
	}
	count, err := h.service.CountAvailable(r.Context(), id)
	if err != nil {
		h.logger.Error("count available", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int{"available": count})
}

func (h *Handler) scan(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	result, err := h.service.Scan(r.Context(), code)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}
