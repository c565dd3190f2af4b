package router

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/unclebandit/broadcast-dispatcher/internal/controller"
	"github.com/unclebandit/broadcast-dispatcher/internal/handler"
)

// New mounts the campaign API. An empty allowedOrigins allows any origin.
func New(ctrl *controller.CampaignController, h *handler.CampaignHandler, allowedOrigins []string) chi.Router {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Route("/campaigns", func(r chi.Router) {
		r.Post("/", ctrl.CreateCampaign)
		r.Get("/", h.ListCampaignsHandler)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetCampaignHandlerWithStats)
			r.Get("/recipients", h.ListRecipientsHandler)
			r.Get("/progress", h.ProgressHandler)
			r.Post("/preview", h.PreviewHandler)

			r.Post("/start", ctrl.StartCampaign)
			r.Post("/schedule", ctrl.ScheduleCampaign)
			r.Post("/pause", ctrl.PauseCampaign)
			r.Post("/resume", ctrl.ResumeCampaign)
			r.Post("/cancel", ctrl.CancelCampaign)
			r.Post("/step", ctrl.ProcessStep)
		})
	})

	return r
}
