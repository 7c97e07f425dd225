package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vtrenkov/chatrelay/internal/handler/chat"
	"github.com/vtrenkov/chatrelay/internal/handler/ws"
	middlewarePkg "github.com/vtrenkov/chatrelay/internal/middleware"
	"github.com/vtrenkov/chatrelay/internal/service/engine"
)

// NewRouter wires HTTP routes to the relay engine and delivery hub.
func NewRouter(eng *engine.Engine, hub *ws.Hub) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	chatHandler := chat.New(eng)
	wsHandler := ws.New(hub, eng)

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)
	})

	return r
}
