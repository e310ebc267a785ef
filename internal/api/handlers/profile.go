package handlers

import (
	"net/http"

	"github.com/asmiverse/capsule-server/internal/models"
	"github.com/asmiverse/capsule-server/internal/repositories"
	"github.com/asmiverse/capsule-server/internal/utils"
)

// GET /api/v1/me
func GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUserID(r)
	if !ok {
		utils.JSONResponse(w, http.StatusUnauthorized, utils.Payload{
			Success: false,
			Message: "Unauthorized",
		})
		return
	}

	var user models.User
	if err := repositories.DB.First(&user, "id = ?", userID).Error; err != nil {
		utils.JSONResponse(w, http.StatusNotFound, utils.Payload{
			Success: false,
			Message: "User not found",
		})
		return
	}

	var capsuleCount int64
	repositories.DB.Model(&models.Capsule{}).Where("user_id = ?", userID).Count(&capsuleCount)

	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: "Profile retrieved successfully",
		Data: map[string]any{
			"user":         user,
			"capsuleCount": capsuleCount,
		},
	})
}
