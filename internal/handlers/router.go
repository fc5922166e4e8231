package handlers

import (
	"net/http"

	"joy-journal/internal/middleware"
	"joy-journal/internal/services"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// Services groups what the HTTP surface is built on
type Services struct {
	Sessions *services.SessionManager
	Moments  *services.MomentService
	Profiles *services.ProfileService
	Hub      *services.WSHub
}

// maxBodyBytes caps request bodies, which may carry a base64 image
const maxBodyBytes = 10 << 20

// NewRouter wires every route of the view API. Cross-origin callers must be
// listed in allowedOrigins.
func NewRouter(s Services, allowedOrigins []string) http.Handler {
	momentHandler := NewMomentHandler(s.Moments)
	authHandler := NewAuthHandler(s.Sessions)
	profileHandler := NewProfileHandler(s.Profiles, s.Sessions)
	wsHandler := NewWebSocketHandler(s.Hub, s.Sessions, s.Moments, allowedOrigins)

	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(allowedOrigins))
	r.Use(chiMiddleware.RequestSize(maxBodyBytes))

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/moments", func(r chi.Router) {
			r.Get("/", momentHandler.ListMoments)
			r.Post("/", momentHandler.CreateMoment)
			r.Delete("/", momentHandler.ClearMoments)
			r.Post("/reload", momentHandler.ReloadMoments)
			r.Get("/random", momentHandler.RandomMoment)
			r.Get("/timeline", momentHandler.Timeline)
			r.Get("/stats", momentHandler.Stats)
			r.Delete("/{id}", momentHandler.DeleteMoment)
		})

		r.Get("/session", authHandler.GetSession)
		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", authHandler.SignUp)
			r.Post("/signin", authHandler.SignIn)
			r.Post("/oauth", authHandler.SignInWithProvider)
			r.Post("/magic-link", authHandler.SignInWithMagicLink)
			r.Post("/reset", authHandler.ResetPassword)
			r.Post("/signout", authHandler.SignOut)
			r.Post("/callback", authHandler.Callback)
		})

		r.Get("/profile", profileHandler.GetProfile)
		r.Put("/profile/name", profileHandler.UpdateName)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSession(s.Sessions))
			r.Put("/profile/avatar", profileHandler.UpdateAvatar)
		})
	})

	r.Get("/ws", wsHandler.HandleWebSocket)

	return r
}
