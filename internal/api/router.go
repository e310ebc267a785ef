package api

import (
	"fmt"
	"log"
	"net/http"

	_ "github.com/asmiverse/capsule-server/docs"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/asmiverse/capsule-server/internal/api/handlers"
	"github.com/asmiverse/capsule-server/internal/api/middleware"
	"github.com/asmiverse/capsule-server/internal/config"
	"github.com/asmiverse/capsule-server/internal/delivery"
	"github.com/asmiverse/capsule-server/internal/mailer"
	"github.com/asmiverse/capsule-server/internal/repositories"
	"github.com/rs/cors"
)

func SetupRouter(m *mailer.Mailer) http.Handler {
	mainMux := http.NewServeMux()
	c := cors.New(config.Envs.CorsConfig)

	handlers.Mail = m

	capsuleStore := repositories.NewCapsuleStore(repositories.DB)
	deliveryHandler := &handlers.DeliveryHandler{
		Scheduler: delivery.NewScheduler(capsuleStore, m),
		Secret:    config.Envs.CronSecret,
	}

	// ---------- PUBLIC ROUTES ----------
	mainMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})

	mainMux.HandleFunc("/docs/", httpSwagger.WrapHandler)

	authMux := http.NewServeMux()
	authMux.HandleFunc("/sign-up", handlers.RegisterUser)
	authMux.HandleFunc("/login", handlers.LoginUser)
	authMux.HandleFunc("/verify-email", handlers.VerifyEmail)
	authMux.HandleFunc("/forgot-password", handlers.ForgotPassword)
	authMux.HandleFunc("/reset-password", handlers.ResetPassword)
	authMux.HandleFunc("/google/login", handlers.HandleGoogleLogin)
	authMux.HandleFunc("/google/callback", handlers.HandleGoogleCallback)

	mainMux.Handle("/api/v1/auth/",
		http.StripPrefix("/api/v1/auth", authMux),
	)

	// Capsule unlock by password is public: recipients are not account
	// holders.
	mainMux.HandleFunc("/api/v1/capsules/verify-password", handlers.VerifyCapsulePassword)

	// External cron trigger; guarded by its own bearer secret, not by the
	// user session middleware.
	mainMux.HandleFunc("GET /api/v1/cron/check-capsules", deliveryHandler.CheckCapsules)

	// ---------- PROTECTED ROUTES ----------
	protectedMux := http.NewServeMux()

	protectedMux.HandleFunc("POST /capsules", handlers.CreateCapsule)
	protectedMux.HandleFunc("GET /capsules", handlers.ListCapsules)
	protectedMux.HandleFunc("PATCH /capsules/{id}", handlers.UpdateCapsule)
	protectedMux.HandleFunc("DELETE /capsules/{id}", handlers.DeleteCapsule)

	protectedMux.HandleFunc("POST /media/presign", handlers.PresignUpload)
	protectedMux.HandleFunc("POST /media/complete", handlers.CompleteUpload)

	protectedMux.HandleFunc("GET /me", handlers.GetProfile)
	protectedMux.HandleFunc("/auth/logout", handlers.Logout)

	adminMux := http.NewServeMux()
	adminMux.HandleFunc("GET /users", handlers.AdminListUsers)
	adminMux.HandleFunc("PATCH /users", handlers.AdminUpdateUser)
	adminMux.HandleFunc("GET /capsules", handlers.AdminListCapsules)
	adminMux.HandleFunc("DELETE /capsules", handlers.AdminDeleteCapsule)
	adminMux.HandleFunc("GET /stats", handlers.AdminStats)

	protectedMux.Handle("/admin/",
		http.StripPrefix("/admin", middleware.AdminOnly(adminMux)),
	)

	mainMux.Handle("/api/v1/",
		http.StripPrefix(
			"/api/v1",
			middleware.AuthMiddleware(protectedMux),
		),
	)

	log.Println("Router initialized")
	handler := c.Handler(mainMux)
	handler = middleware.Logger(handler)
	return handler
}
