package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/asmiverse/capsule-server/internal/config"
	"github.com/asmiverse/capsule-server/internal/repositories"
	"github.com/asmiverse/capsule-server/internal/utils"
	"github.com/google/uuid"
)

const presignTTL = 15 * time.Minute

// POST /api/v1/media/presign
// PresignUpload godoc
// @Summary Request a presigned upload URL for capsule media
// @Tags Media
// @Accept json
// @Produce json
// @Success 200 {object} utils.Payload
// @Failure 400 {object} utils.Payload
// @Router /api/v1/media/presign [post]
func PresignUpload(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUserID(r)
	if !ok {
		utils.JSONResponse(w, http.StatusUnauthorized, utils.Payload{
			Success: false,
			Message: "Unauthorized",
		})
		return
	}

	var input struct {
		Filename string `json:"filename"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil || input.Filename == "" {
		utils.JSONResponse(w, http.StatusBadRequest, utils.Payload{
			Success: false,
			Message: "Filename required",
		})
		return
	}

	// Key layout: media/<owner>/<random>_<basename>; basename is flattened
	// to keep user input out of the key hierarchy.
	key := fmt.Sprintf("media/%s/%s_%s", userID, uuid.NewString(), path.Base(input.Filename))

	url, err := repositories.GeneratePresignedPutURL(r.Context(), key, presignTTL)
	if err != nil {
		utils.JSONResponse(w, http.StatusInternalServerError, utils.Payload{
			Success: false,
			Message: "Failed to generate upload URL",
		})
		return
	}

	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: "Presigned upload URL generated successfully",
		Data: map[string]any{
			"url":       url,
			"key":       key,
			"expiresIn": presignTTL.String(),
		},
	})
}

// POST /api/v1/media/complete
// CompleteUpload godoc
// @Summary Confirm a media upload and resolve its public URL
// @Description Verifies the object landed in the bucket and returns the URL to store on the capsule.
// @Tags Media
// @Accept json
// @Produce json
// @Success 200 {object} utils.Payload
// @Failure 404 {object} utils.Payload
// @Router /api/v1/media/complete [post]
func CompleteUpload(w http.ResponseWriter, r *http.Request) {
	if _, ok := requestUserID(r); !ok {
		utils.JSONResponse(w, http.StatusUnauthorized, utils.Payload{
			Success: false,
			Message: "Unauthorized",
		})
		return
	}

	var input struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil || input.Key == "" {
		utils.JSONResponse(w, http.StatusBadRequest, utils.Payload{
			Success: false,
			Message: "Object key required",
		})
		return
	}

	exists, err := repositories.VerifyObjectExists(r.Context(), input.Key)
	if err != nil {
		utils.JSONResponse(w, http.StatusInternalServerError, utils.Payload{
			Success: false,
			Message: "Failed to verify upload",
		})
		return
	}
	if !exists {
		utils.JSONResponse(w, http.StatusNotFound, utils.Payload{
			Success: false,
			Message: "Uploaded object not found",
		})
		return
	}

	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: "Upload verified",
		Data: map[string]any{
			"mediaUrl": fmt.Sprintf("%s/%s", config.Envs.R2.PublicBaseURL, input.Key),
		},
	})
}
