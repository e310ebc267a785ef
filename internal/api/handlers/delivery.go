package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/asmiverse/capsule-server/internal/delivery"
	"github.com/asmiverse/capsule-server/internal/utils"
)

// PassRunner is what the trigger endpoint needs from the delivery scheduler.
type PassRunner interface {
	RunPass(ctx context.Context) (*delivery.Summary, error)
}

// DeliveryHandler exposes the delivery pass to the external cron trigger.
// The server runs no timer of its own; every pass is caller-driven.
type DeliveryHandler struct {
	Scheduler PassRunner
	Secret    string
}

// GET /api/v1/cron/check-capsules
// CheckCapsules godoc
// @Summary Run one capsule delivery pass
// @Description Delivers every due, undelivered capsule. Intended for an external cron caller; requires the shared bearer secret.
// @Tags Cron
// @Produce json
// @Param Authorization header string true "Bearer <CRON_SECRET>"
// @Success 200 {object} utils.Payload
// @Failure 401 {object} utils.Payload
// @Failure 500 {object} utils.Payload
// @Router /api/v1/cron/check-capsules [get]
func (h *DeliveryHandler) CheckCapsules(w http.ResponseWriter, r *http.Request) {
	// Credential check comes before any repository access.
	if !h.authorized(r) {
		utils.JSONResponse(w, http.StatusUnauthorized, utils.Payload{
			Success: false,
			Message: "Unauthorized",
		})
		return
	}

	summary, err := h.Scheduler.RunPass(r.Context())
	if err != nil {
		// Candidate query failed: nothing was attempted.
		log.Printf("[delivery] pass aborted: %v", err)
		writeJSON(w, http.StatusInternalServerError, passFailure{
			Success: false,
			Error:   "Failed to process time capsules",
		})
		return
	}

	writeJSON(w, http.StatusOK, passResponse{
		Success:        true,
		ProcessedCount: summary.ProcessedCount,
		Results:        summary.Results,
	})
}

// The cron caller consumes a flat shape rather than the API's usual
// message/data envelope.
type passResponse struct {
	Success        bool              `json:"success"`
	ProcessedCount int               `json:"processedCount"`
	Results        []delivery.Result `json:"results"`
}

type passFailure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *DeliveryHandler) authorized(r *http.Request) bool {
	if h.Secret == "" {
		// Refuse to run unauthenticated rather than run open.
		return false
	}
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.Secret)) == 1
}
