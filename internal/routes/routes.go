package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/pchan-tw/campusauth/internal/handlers"
	"github.com/pchan-tw/campusauth/internal/middleware"
)

// RegisterRoutes registers all application routes. Nothing here is
// bearer-token guarded: the login sequence itself polices state through
// the signed session cookie, so the split is only between the
// interactive auth steps and the emailed-token endpoints.
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	registerHandler *handlers.RegisterHandler,
	bindHandler *handlers.BindHandler,
	passwordResetHandler *handlers.PasswordResetHandler,
) {
	authLimit := middleware.RateLimitByIP(middleware.DefaultAuthRateLimit())
	tokenLimit := middleware.RateLimitByIP(middleware.DefaultTokenRateLimit())

	// Interactive login sequence
	router.Group(func(r chi.Router) {
		r.Use(authLimit)
		r.Post("/auth/email", authHandler.IdentifyEmail)
		r.Get("/auth/challenge", authHandler.Challenge)
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/totp", authHandler.TOTP)
		r.Get("/auth/setup", authHandler.SetupShow)
		r.Post("/auth/setup", authHandler.SetupComplete)
	})
	router.Post("/auth/change-account", authHandler.ChangeAccount)
	router.Post("/auth/logout", authHandler.Logout)
	router.Get("/auth/me", authHandler.Me)
	router.Get("/auth/activity", authHandler.Activity)

	// Registration and emailed-token flows
	router.With(tokenLimit).Post("/register", registerHandler.Register)
	router.Group(func(r chi.Router) {
		r.Use(tokenLimit)
		r.Get("/bind", bindHandler.Show)
		r.Post("/bind", bindHandler.Confirm)
		r.Post("/bind/resend", bindHandler.Resend)
		r.Post("/password/forgot", passwordResetHandler.Forgot)
		r.Post("/password/reset", passwordResetHandler.Reset)
	})
}
