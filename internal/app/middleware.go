package app

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger *slog.Logger
	Config *Config
}

// MiddlewareStack installs the Meridian middleware chain.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
		SSLRedirect:        cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:    map[string]string{"X-Forwarded-Proto": "https"},
	})

	return []func(http.Handler) http.Handler{
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		secureMiddleware.Handler,
		httprate.LimitByIP(300, time.Minute),
		identityMiddleware,
	}
}

// identityMiddleware lifts the opaque caller identity into the request
// context. The acting user and the cart session are supplied by the caller;
// authentication itself happens upstream.
func identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if actor := r.Header.Get("X-Actor-ID"); actor != "" {
			if id, err := strconv.ParseInt(actor, 10, 64); err == nil {
				ctx = shared.ContextWithActor(ctx, id)
			}
		}
		if key := r.Header.Get("X-Session-Key"); key != "" {
			ctx = shared.ContextWithSessionKey(ctx, key)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
