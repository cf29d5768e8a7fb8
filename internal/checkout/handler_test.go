package checkout

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-pos/meridian-pos/internal/cart"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

func newTestRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := shared.ContextWithSessionKey(req.Context(), req.Header.Get("X-Session-Key"))
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Group(h.MountRoutes)
	return r
}

func postCheckout(t *testing.T, router *chi.Mux, session, body string) Sale {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Session-Key", session)
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var sale Sale
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sale))
	return sale
}

func TestCheckoutHandlerDefaultTaxRate(t *testing.T) {
	carts := cartWith("s1",
		cart.Line{Key: cart.UnitKey(1), Kind: cart.ClaimConcrete, ProductID: 10, UnitID: 1, Quantity: 1, UnitPrice: 100},
	)
	carts.carts["s2"] = &cart.Cart{SessionKey: "s2", Lines: []cart.Line{
		{Key: cart.UnitKey(2), Kind: cart.ClaimConcrete, ProductID: 10, UnitID: 2, Quantity: 1, UnitPrice: 100},
	}}
	svc, repo, _ := newTestService(carts)
	seedUnits(repo, 10, 1, 2)

	h := NewHandler(slog.New(slog.DiscardHandler), svc, nil, 0.15)
	router := newTestRouter(h)

	// Omitting tax_rate applies the configured default.
	sale := postCheckout(t, router, "s1", `{"payment_method":"cash"}`)
	assert.InDelta(t, 15.0, sale.Tax, 1e-9)
	assert.InDelta(t, 115.0, sale.Total, 1e-9)

	// An explicit zero is a tax free sale, not an omission.
	sale = postCheckout(t, router, "s2", `{"payment_method":"cash","tax_rate":0}`)
	assert.InDelta(t, 0.0, sale.Tax, 1e-9)
	assert.InDelta(t, 100.0, sale.Total, 1e-9)
}

func TestRecordPaymentRoute(t *testing.T) {
	carts := cartWith("s1",
		cart.Line{Key: cart.UnitKey(1), Kind: cart.ClaimConcrete, ProductID: 10, UnitID: 1, Quantity: 1, UnitPrice: 100},
	)
	svc, repo, _ := newTestService(carts)
	seedUnits(repo, 10, 1)

	h := NewHandler(slog.New(slog.DiscardHandler), svc, nil, 0)
	router := newTestRouter(h)

	sale := postCheckout(t, router, "s1", `{"payment_method":"due"}`)
	require.Equal(t, StatusPending, sale.PaymentStatus)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/sales/"+strconv.FormatInt(sale.ID, 10)+"/payments", strings.NewReader(`{"amount":100,"payment_method":"cash"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var settled Sale
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &settled))
	assert.Equal(t, StatusPaid, settled.PaymentStatus)
	require.Len(t, settled.Payments, 1)
}
