package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/DoyleJ11/skygames-rooms/internal/auth"
)

type RouterDeps struct {
	API       *API
	JWT       *auth.JWT
	Presence  http.Handler // websocket feed
	Metrics   http.Handler
	CORSAllow []string
	Log       *zap.Logger
}

func SetupRoutes(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(AccessLog(d.Log.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   d.CORSAllow,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler)

	// Public routes
	r.Get("/healthz", Healthz)
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(RequireUser(d.JWT))

		r.Route("/api/rooms", func(r chi.Router) {
			r.Post("/create", d.API.CreateRoom)
			r.Post("/join", d.API.JoinRoom)
			r.Get("/friends-active", d.API.FriendsActive)
			r.Get("/code/{code}", d.API.GetRoom)
			r.Post("/{roomId}/close", d.API.CloseRoom)
			r.Post("/{roomId}/leave", d.API.LeaveRoom)
			r.Post("/{roomId}/heartbeat", d.API.Heartbeat)
		})

		r.Route("/api/presence", func(r chi.Router) {
			r.Post("/playing", d.API.StartPlaying)
			r.Post("/idle", d.API.GoIdle)
			r.Get("/me", d.API.Me)
			r.Get("/friends", d.API.FriendsSnapshot)
		})

		if d.Presence != nil {
			r.Get("/ws/presence", d.Presence.ServeHTTP)
		}
	})
	return r
}
