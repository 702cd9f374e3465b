package app

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const wsPath = "/ws"

func newRouter(a *App) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(WithRequestLogging(a.log, a.metrics))

	// The websocket gateway enforces its own origin allow-list.
	r.Use(func(next http.Handler) http.Handler {
		cors := WithCORS(next, a.cfg, a.log)
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.URL.Path == wsPath {
				next.ServeHTTP(w, req)
				return
			}
			cors.ServeHTTP(w, req)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if a.cfg.ReadinessRequireDB && !a.stores.Persistent() {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}
		if err := a.stores.Ping(req.Context(), 2*time.Second); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			a.log.Info("readyz.db.not_ready", "err", err)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if a.metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.metrics.Handler())
	}

	r.Handle(wsPath, a.ws)
	a.api.Register(r)

	return r
}
