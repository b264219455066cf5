package schedule

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	schedUC "notify-pipeline/internal/usecase/schedule"
)

// Register mounts the schedule routes.
func Register(r chi.Router, svc Manager) {
	r.Route("/schedules", func(r chi.Router) {
		r.Method(http.MethodPost, "/", CommandHandler{Svc: svc, Action: schedUC.ActionCreate, Status: http.StatusCreated})
		r.Route("/{id}", func(r chi.Router) {
			r.Method(http.MethodGet, "/", GetHandler{svc})
			r.Method(http.MethodPatch, "/", CommandHandler{Svc: svc, Action: schedUC.ActionUpdate})
			r.Method(http.MethodDelete, "/", CommandHandler{Svc: svc, Action: schedUC.ActionDelete})
			r.Method(http.MethodPost, "/enable", CommandHandler{Svc: svc, Action: schedUC.ActionEnable})
			r.Method(http.MethodPost, "/disable", CommandHandler{Svc: svc, Action: schedUC.ActionDisable})
		})
	})
}
