package main

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/asmiverse/capsule-server/internal/api"
	"github.com/asmiverse/capsule-server/internal/config"
	"github.com/asmiverse/capsule-server/internal/mailer"
	"github.com/asmiverse/capsule-server/internal/repositories"
)

// @title AsmiVerse Capsule API
// @version 1.0
// @description Time-capsule server: schedule messages for future email delivery.
// @BasePath /
func main() {
	// Connect to database
	repositories.ConnectDatabase()

	r2 := config.Envs.R2
	if err := repositories.InitR2(r2.AccessKeyID, r2.SecretAccessKey, r2.AccountID, r2.BucketName, r2.Region); err != nil {
		log.Fatalf("Could not initialize R2: %v", err)
	}

	m, err := mailer.New(config.Envs.SMTP, config.Envs.BaseURL)
	if err != nil {
		log.Fatalf("Could not initialize mailer: %v", err)
	}

	mux := api.SetupRouter(m)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", config.Envs.Port),
		Handler: mux,
		// Timeouts prevent resource exhaustion from slow clients
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Printf("Starting capsule server on port: %s", config.Envs.Port)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on port %s: %v", config.Envs.Port, err)
	}
}
