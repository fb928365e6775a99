package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the HTTP surface. The limiter is optional; passing nil
// disables rate limiting (used by tests).
func NewRouter(apiHandler *APIHandler, limiter func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Route("/api", func(r chi.Router) {
		if limiter != nil {
			r.Use(limiter)
		}

		// Public routes
		r.Post("/signup", apiHandler.SignupHandler)
		r.Post("/login", apiHandler.LoginHandler)
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})

		// User-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)

			// Logging conversation routes
			r.Get("/conversation", apiHandler.GetConversationHandler)
			r.Post("/conversation/messages", apiHandler.PostConversationMessageHandler)
			r.Post("/conversation/skip", apiHandler.SkipToSummaryHandler)
			r.Post("/conversation/undo", apiHandler.UndoExchangeHandler)
			r.Put("/conversation/draft", apiHandler.UpdateDraftHandler)
			r.Post("/conversation/accept", apiHandler.AcceptSummaryHandler)
			r.Post("/conversation/reset", apiHandler.ResetConversationHandler)

			// Target routes
			r.Post("/targets", apiHandler.CreateTargetHandler)
			r.Get("/targets", apiHandler.ListTargetsHandler)
			r.Delete("/targets/{targetID}", apiHandler.ArchiveTargetHandler)

			// Work entry routes
			r.Get("/entries", apiHandler.ListWorkEntriesHandler)
			r.Get("/entries/{entryID}", apiHandler.GetWorkEntryHandler)
			r.Delete("/entries/{entryID}", apiHandler.DeleteWorkEntryHandler)

			// Profile routes
			r.Get("/profile", apiHandler.GetProfileHandler)
			r.Put("/profile", apiHandler.UpdateProfileHandler)
		})
	})

	return r
}
