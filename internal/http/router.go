package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"remindd/internal/config"
	"remindd/internal/http/handler"
	mw "remindd/internal/http/middleware"
	"remindd/internal/schedule"
	"remindd/internal/sweep"
)

func NewRouter(cfg config.Config, scheduler *schedule.Service, deliverer *sweep.Service) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(mw.CORS(cfg.CORSAllowedOrigins, cfg.CORSAllowCredentials))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	hooks := &handler.HookHandler{Scheduler: scheduler}
	r.Route("/hooks", func(r chi.Router) {
		r.Post("/reminders/changed", hooks.ReminderChanged)
		r.Post("/endpoints/registered", hooks.EndpointRegistered)
	})

	sh := &handler.SweepHandler{Sweep: deliverer}
	r.Route("/sweep", func(r chi.Router) {
		r.Post("/run", sh.Run)
		r.Get("/last", sh.Last)
	})

	return r
}
