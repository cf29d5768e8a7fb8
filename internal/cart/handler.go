package cart

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-pos/meridian-pos/internal/platform/httpx"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// Handler exposes the cart over HTTP. Every route requires a session key,
// carried by the identity middleware.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers cart routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/cart", h.get)
	r.Post("/cart/items", h.addItem)
	r.Patch("/cart/items/{key}", h.setQuantity)
	r.Delete("/cart/items/{key}", h.removeItem)
	r.Delete("/cart", h.clear)
}

type cartResponse struct {
	Cart   *Cart  `json:"cart"`
	Totals Totals `json:"totals"`
}

func respondCart(w http.ResponseWriter, status int, cart *Cart) {
	httpx.JSON(w, status, cartResponse{Cart: cart, Totals: cart.Totals()})
}

func sessionKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := shared.SessionKeyFromContext(r.Context())
	if key == "" {
		httpx.Problem(w, http.StatusBadRequest, "missing session", "the X-Session-Key header is required")
		return "", false
	}
	return key, true
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	key, ok := sessionKey(w, r)
	if !ok {
		return
	}
	cart, err := h.service.Get(r.Context(), key)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	respondCart(w, http.StatusOK, cart)
}

type addItemRequest struct {
	UnitID    int64 `json:"unit_id" validate:"required_without=ProductID,excluded_with=ProductID"`
	ProductID int64 `json:"product_id" validate:"required_without=UnitID"`
	Quantity  int   `json:"quantity" validate:"excluded_with=UnitID,omitempty,gt=0"`
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	key, ok := sessionKey(w, r)
	if !ok {
		return
	}
	var req addItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid body", err.Error())
		return
	}

	var (
		cart *Cart
		err  error
	)
	if req.UnitID != 0 {
		cart, err = h.service.AddConcrete(r.Context(), key, req.UnitID)
	} else {
		qty := req.Quantity
		if qty == 0 {
			qty = 1
		}
		cart, err = h.service.AddQuantity(r.Context(), key, req.ProductID, qty)
	}
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	respondCart(w, http.StatusOK, cart)
}

type setQuantityRequest struct {
	Quantity int `json:"quantity" validate:"gte=0"`
}

func (h *Handler) setQuantity(w http.ResponseWriter, r *http.Request) {
	key, ok := sessionKey(w, r)
	if !ok {
		return
	}
	lineKey := chi.URLParam(r, "key")
	var req setQuantityRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid body", err.Error())
		return
	}

	productID, ok := ParseProductKey(lineKey)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "invalid line key", "quantity can only be set on product lines")
		return
	}
	cart, err := h.service.SetQuantity(r.Context(), key, productID, req.Quantity)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	respondCart(w, http.StatusOK, cart)
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	key, ok := sessionKey(w, r)
	if !ok {
		return
	}
	cart, err := h.service.RemoveLine(r.Context(), key, chi.URLParam(r, "key"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	respondCart(w, http.StatusOK, cart)
}

func (h *Handler) clear(w http.ResponseWriter, r *http.Request) {
	key, ok := sessionKey(w, r)
	if !ok {
		return
	}
	if err := h.service.Clear(r.Context(), key); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
