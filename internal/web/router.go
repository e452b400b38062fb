package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a chi router with all control API endpoints.
// hub may be nil to disable the websocket stream.
func NewRouter(handler *Handler, hub *Hub) http.Handler {
	r := chi.NewRouter()

	// middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	// basic cors
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS", "DELETE", "PUT"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	// health check
	r.Get("/health", handler.Health)

	// live event stream
	if hub != nil {
		r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
			ServeWs(hub, w, req)
		})
	}

	// api v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/processing", func(r chi.Router) {
			r.Post("/start", handler.StartProcessing)
			r.Post("/stop", handler.StopProcessing)
			r.Get("/status", handler.ProcessingStatus)
		})

		r.Get("/stats", handler.Stats)

		r.Route("/chats", func(r chi.Router) {
			r.Get("/", handler.ListChats)
			r.Post("/", handler.AddChat)
			r.Get("/available", handler.AvailableChats)
			r.Delete("/{chatID}", handler.RemoveChat)
			r.Get("/{chatID}/participants", handler.ListParticipants)
			r.Put("/{chatID}/participants", handler.SetParticipants)
		})

		r.Route("/platforms", func(r chi.Router) {
			r.Get("/", handler.ListPlatforms)
			r.Put("/{platform}", handler.SetPlatform)
		})

		r.Route("/responses", func(r chi.Router) {
			r.Get("/", handler.ListResponses)
			r.Post("/", handler.AddResponse)
			r.Delete("/{id}", handler.DeleteResponse)
		})

		r.Route("/settings", func(r chi.Router) {
			r.Get("/only-self", handler.GetOnlySelf)
			r.Put("/only-self", handler.SetOnlySelf)
		})
	})

	return r
}
