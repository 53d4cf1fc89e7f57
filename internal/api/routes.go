package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures the full route tree. corsOrigins lists the browser
// origins allowed to call the API; webhook routes are origin-agnostic since
// providers call them server to server.
func SetupRoutes(h *Handlers, corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	if len(corsOrigins) == 0 {
		corsOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.HealthCheck)

	// Provider callbacks. Open/click events carry our step log id (embedded
	// in tracking URLs); delivery/bounce events carry the provider's own
	// message id.
	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/email/opened", h.EmailOpened)
		r.Post("/email/clicked", h.EmailClicked)
		r.Post("/email/unsubscribed", h.EmailUnsubscribed)
		r.Post("/email/delivered", h.EmailDelivered)
		r.Post("/email/bounced", h.EmailBounced)
		r.Post("/conversion", h.Conversion)
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/triggers", func(r chi.Router) {
			r.Post("/abandoned-cart", h.AbandonedCartTrigger)
			r.Post("/post-purchase", h.PostPurchaseTrigger)
			r.Post("/welcome", h.WelcomeTrigger)
		})

		r.Route("/automations", func(r chi.Router) {
			r.Get("/", h.ListAutomations)
			r.Post("/", h.CreateAutomation)

			r.Route("/{automationID}", func(r chi.Router) {
				r.Get("/", h.GetAutomation)
				r.Put("/", h.UpdateAutomation)
				r.Get("/steps", h.ListSteps)
				r.Post("/steps", h.CreateStep)
				r.Post("/enroll", h.EnrollManually)
				r.Get("/enrollments", h.EnrollmentList)
				r.Get("/analytics", h.AutomationAnalytics)
				r.Get("/analytics/steps", h.StepAnalytics)
				r.Get("/ab-test/statistics", h.ABTestStatistics)
				r.Post("/ab-test/apply-winner", h.ABTestApplyWinner)
				r.Post("/ab-test/variants", h.CreateVariant)
			})
		})

		r.Delete("/ab-test/variants/{variantID}", h.DeleteVariant)

		r.Route("/enrollments/{enrollmentID}", func(r chi.Router) {
			r.Post("/exit", h.ExitEnrollment)
		})

		r.Route("/personalization", func(r chi.Router) {
			r.Get("/tokens", h.PersonalizationTokens)
			r.Post("/validate", h.PersonalizationValidate)
			r.Post("/preview", h.PersonalizationPreview)
		})

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", h.ListTemplates)
			r.Post("/", h.CreateTemplate)
			r.Get("/{templateID}", h.GetTemplate)
			r.Put("/{templateID}", h.UpdateTemplate)
			r.Delete("/{templateID}", h.DeleteTemplate)
		})

		r.Route("/winback", func(r chi.Router) {
			r.Get("/rules", h.ListWinbackRules)
			r.Post("/rules", h.CreateWinbackRule)
			r.Put("/rules/{ruleID}", h.UpdateWinbackRule)
			r.Delete("/rules/{ruleID}", h.DeleteWinbackRule)
			r.Post("/scan", h.RunWinbackScan)
		})
	})

	return r
}
