package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/asmiverse/capsule-server/internal/api/middleware"
	"github.com/asmiverse/capsule-server/internal/models"
	"github.com/asmiverse/capsule-server/internal/repositories"
	"github.com/asmiverse/capsule-server/internal/utils"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

func requestUserID(r *http.Request) (uuid.UUID, bool) {
	raw, _ := r.Context().Value(middleware.UserIDKey).(string)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// capsuleSummary is the list-view shape: everything except the message body,
// which stays sealed until the capsule is opened.
type capsuleSummary struct {
	ID             uuid.UUID  `json:"id"`
	Title          string     `json:"title"`
	RecipientName  string     `json:"recipientName"`
	RecipientEmail string     `json:"recipientEmail"`
	UnlockAt       time.Time  `json:"unlockAt"`
	CreatedAt      time.Time  `json:"createdAt"`
	IsDelivered    bool       `json:"isDelivered"`
	DeliveredAt    *time.Time `json:"deliveredAt"`
	HasPassword    bool       `json:"hasPassword"`
	MediaURL       string     `json:"mediaUrl,omitempty"`
}

func summarize(c *models.Capsule) capsuleSummary {
	return capsuleSummary{
		ID:             c.ID,
		Title:          c.Title,
		RecipientName:  c.RecipientName,
		RecipientEmail: c.RecipientEmail,
		UnlockAt:       c.UnlockAt,
		CreatedAt:      c.CreatedAt,
		IsDelivered:    c.IsDelivered,
		DeliveredAt:    c.DeliveredAt,
		HasPassword:    c.Password != "",
		MediaURL:       c.MediaURL,
	}
}

// POST /api/v1/capsules
// CreateCapsule godoc
// @Summary Create a time capsule
// @Description Schedules a message for delivery to the recipient once the unlock time passes.
// @Tags Capsules
// @Accept json
// @Produce json
// @Success 201 {object} utils.Payload
// @Failure 400 {object} utils.Payload
// @Router /api/v1/capsules [post]
func CreateCapsule(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUserID(r)
	if !ok {
		utils.JSONResponse(w, http.StatusUnauthorized, utils.Payload{
			Success: false,
			Message: "Unauthorized",
		})
		return
	}

	var input struct {
		Title          string    `json:"title"`
		Message        string    `json:"message"`
		RecipientName  string    `json:"recipientName"`
		RecipientEmail string    `json:"recipientEmail"`
		UnlockAt       time.Time `json:"unlockAt"`
		MediaURL       string    `json:"mediaUrl"`
		Password       string    `json:"password"`
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&input); err != nil {
		utils.JSONResponse(w, http.StatusBadRequest, utils.Payload{
			Success: false,
			Message: "Invalid input",
		})
		return
	}

	if input.Title == "" || input.RecipientName == "" || input.RecipientEmail == "" || input.UnlockAt.IsZero() {
		utils.JSONResponse(w, http.StatusBadRequest, utils.Payload{
			Success: false,
			Message: "Please provide all required fields",
		})
		return
	}

	if !utils.ValidEmail(input.RecipientEmail) {
		utils.JSONResponse(w, http.StatusBadRequest, utils.Payload{
			Success: false,
			Message: "Please provide a valid email address",
		})
		return
	}

	if !input.UnlockAt.After(time.Now()) {
		utils.JSONResponse(w, http.StatusBadRequest, utils.Payload{
			Success: false,
			Message: "Time lock must be set in the future",
		})
		return
	}

	capsule := models.Capsule{
		UserID:         userID,
		Title:          input.Title,
		Message:        input.Message,
		RecipientName:  input.RecipientName,
		RecipientEmail: input.RecipientEmail,
		UnlockAt:       input.UnlockAt.UTC(),
		MediaURL:       input.MediaURL,
	}

	if input.Password != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
		if err != nil {
			utils.JSONResponse(w, http.StatusInternalServerError, utils.Payload{
				Success: false,
				Message: "Failed to hash password",
			})
			return
		}
		capsule.Password = string(hashed)
	}

	if err := repositories.DB.Create(&capsule).Error; err != nil {
		utils.JSONResponse(w, http.StatusInternalServerError, utils.Payload{
			Success: false,
			Message: "Server error while creating time capsule",
		})
		return
	}

	var capsuleCount int64
	repositories.DB.Model(&models.Capsule{}).Where("user_id = ?", userID).Count(&capsuleCount)

	// Fire-and-forget confirmation to the owner; delivery state is not
	// coupled to this mail in any way.
	var owner models.User
	if err := repositories.DB.First(&owner, "id = ?", userID).Error; err == nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := Mail.SendCreationConfirmation(ctx, owner.Email, &capsule); err != nil {
				log.Printf("confirmation email to %s failed: %v", owner.Email, err)
			}
		}()
	}

	utils.JSONResponse(w, http.StatusCreated, utils.Payload{
		Success: true,
		Message: "Time capsule created successfully",
		Data: map[string]any{
			"capsule":      summarize(&capsule),
			"capsuleCount": capsuleCount,
		},
	})
}

// GET /api/v1/capsules
// ListCapsules godoc
// @Summary List the caller's capsules
// @Description Returns capsule metadata, newest first. Message bodies are excluded.
// @Tags Capsules
// @Produce json
// @Success 200 {object} utils.Payload
// @Router /api/v1/capsules [get]
func ListCapsules(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUserID(r)
	if !ok {
		utils.JSONResponse(w, http.StatusUnauthorized, utils.Payload{
			Success: false,
			Message: "Unauthorized",
		})
		return
	}

	var capsules []models.Capsule
	err := repositories.DB.
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&capsules).Error
	if err != nil {
		utils.JSONResponse(w, http.StatusInternalServerError, utils.Payload{
			Success: false,
			Message: "Server error while fetching capsules",
		})
		return
	}

	summaries := make([]capsuleSummary, 0, len(capsules))
	for i := range capsules {
		summaries = append(summaries, summarize(&capsules[i]))
	}

	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: "Capsules retrieved successfully",
		Data: map[string]any{
			"count":    len(summaries),
			"capsules": summaries,
		},
	})
}

// PATCH /api/v1/capsules/{id}
// UpdateCapsule godoc
// @Summary Edit a capsule before it unlocks
// @Description Owners may edit content fields until the unlock time passes; afterwards edits are rejected.
// @Tags Capsules
// @Accept json
// @Produce json
// @Param id path string true "Capsule ID"
// @Success 200 {object} utils.Payload
// @Failure 403 {object} utils.Payload
// @Router /api/v1/capsules/{id} [patch]
func UpdateCapsule(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUserID(r)
	if !ok {
		utils.JSONResponse(w, http.StatusUnauthorized, utils.Payload{
			Success: false,
			Message: "Unauthorized",
		})
		return
	}

	capsuleID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		utils.JSONResponse(w, http.StatusBadRequest, utils.Payload{
			Success: false,
			Message: "Invalid capsule ID",
		})
		return
	}

	var capsule models.Capsule
	if err := repositories.DB.First(&capsule, "id = ?", capsuleID).Error; err != nil {
		utils.JSONResponse(w, http.StatusNotFound, utils.Payload{
			Success: false,
			Message: "Capsule not found",
		})
		return
	}

	if capsule.UserID != userID {
		utils.JSONResponse(w, http.StatusForbidden, utils.Payload{
			Success: false,
			Message: "Forbidden",
		})
		return
	}

	// Content is frozen once the unlock time has passed, even if delivery
	// hasn't happened yet.
	if capsule.Unlocked(time.Now()) {
		utils.JSONResponse(w, http.StatusForbidden, utils.Payload{
			Success: false,
			Message: "Cannot edit capsule after it is opened",
		})
		return
	}

	var input struct {
		Title          *string    `json:"title"`
		Message        *string    `json:"message"`
		RecipientName  *string    `json:"recipientName"`
		RecipientEmail *string    `json:"recipientEmail"`
		UnlockAt       *time.Time `json:"unlockAt"`
		MediaURL       *string    `json:"mediaUrl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		utils.JSONResponse(w, http.StatusBadRequest, utils.Payload{
			Success: false,
			Message: "Invalid input",
		})
		return
	}

	updates := map[string]any{}
	if input.Title != nil {
		if *input.Title == "" {
			utils.JSONResponse(w, http.StatusBadRequest, utils.Payload{
				Success: false,
				Message: "Title cannot be empty",
			})
			return
		}
		updates["title"] = *input.Title
	}
	if input.Message != nil {
		updates["message"] = *input.Message
	}
	if input.RecipientName != nil {
		updates["recipient_name"] = *input.RecipientName
	}
	if input.RecipientEmail != nil {
		if !utils.ValidEmail(*input.RecipientEmail) {
			utils.JSONResponse(w, http.StatusBadRequest, utils.Payload{
				Success: false,
				Message: "Please provide a valid email address",
			})
			return
		}
		updates["recipient_email"] = *input.RecipientEmail
	}
	if input.UnlockAt != nil {
		if !input.UnlockAt.After(time.Now()) {
			utils.JSONResponse(w, http.StatusBadRequest, utils.Payload{
				Success: false,
				Message: "Time lock must be set in the future",
			})
			return
		}
		updates["unlock_at"] = input.UnlockAt.UTC()
	}
	if input.MediaURL != nil {
		updates["media_url"] = *input.MediaURL
	}

	if len(updates) == 0 {
		utils.JSONResponse(w, http.StatusBadRequest, utils.Payload{
			Success: false,
			Message: "No fields to update",
		})
		return
	}

	// The guard on unlock_at keeps an edit from landing after the capsule
	// came due between our read and this write; the delivery worker treats
	// selected capsules as read-only, and we return the courtesy.
	res := repositories.DB.Model(&models.Capsule{}).
		Where("id = ? AND unlock_at > ?", capsule.ID, time.Now()).
		Updates(updates)
	if res.Error != nil {
		utils.JSONResponse(w, http.StatusInternalServerError, utils.Payload{
			Success: false,
			Message: "Failed to update capsule",
		})
		return
	}
	if res.RowsAffected == 0 {
		utils.JSONResponse(w, http.StatusForbidden, utils.Payload{
			Success: false,
			Message: "Cannot edit capsule after it is opened",
		})
		return
	}

	repositories.DB.First(&capsule, "id = ?", capsule.ID)
	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: "Capsule updated successfully",
		Data:    map[string]any{"capsule": summarize(&capsule)},
	})
}

// DELETE /api/v1/capsules/{id}
func DeleteCapsule(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUserID(r)
	if !ok {
		utils.JSONResponse(w, http.StatusUnauthorized, utils.Payload{
			Success: false,
			Message: "Unauthorized",
		})
		return
	}

	capsuleID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		utils.JSONResponse(w, http.StatusBadRequest, utils.Payload{
			Success: false,
			Message: "Invalid capsule ID",
		})
		return
	}

	var capsule models.Capsule
	if err := repositories.DB.First(&capsule, "id = ?", capsuleID).Error; err != nil {
		utils.JSONResponse(w, http.StatusNotFound, utils.Payload{
			Success: false,
			Message: "Capsule not found",
		})
		return
	}

	if capsule.UserID != userID {
		utils.JSONResponse(w, http.StatusForbidden, utils.Payload{
			Success: false,
			Message: "Forbidden",
		})
		return
	}

	if err := repositories.DB.Delete(&capsule).Error; err != nil {
		utils.JSONResponse(w, http.StatusInternalServerError, utils.Payload{
			Success: false,
			Message: "Failed to delete capsule",
		})
		return
	}

	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: "Capsule deleted successfully",
	})
}

// POST /api/v1/capsules/verify-password
// VerifyCapsulePassword godoc
// @Summary Unlock a password-protected capsule
// @Description Compares the supplied password with the capsule's hash and returns the full content on a match.
// @Tags Capsules
// @Accept json
// @Produce json
// @Success 200 {object} utils.Payload
// @Failure 401 {object} utils.Payload
// @Router /api/v1/capsules/verify-password [post]
func VerifyCapsulePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.JSONResponse(w, http.StatusMethodNotAllowed, utils.Payload{
			Success: false,
			Message: "Method not allowed",
		})
		return
	}

	var input struct {
		CapsuleID string `json:"capsuleId"`
		Password  string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil || input.CapsuleID == "" || input.Password == "" {
		utils.JSONResponse(w, http.StatusBadRequest, utils.Payload{
			Success: false,
			Message: "Capsule ID and password required",
		})
		return
	}

	capsuleID, err := uuid.Parse(input.CapsuleID)
	if err != nil {
		utils.JSONResponse(w, http.StatusBadRequest, utils.Payload{
			Success: false,
			Message: "Invalid capsule ID",
		})
		return
	}

	var capsule models.Capsule
	err = repositories.DB.First(&capsule, "id = ?", capsuleID).Error
	switch err {
	case nil:
	case gorm.ErrRecordNotFound:
		utils.JSONResponse(w, http.StatusNotFound, utils.Payload{
			Success: false,
			Message: "Capsule not found",
		})
		return
	default:
		utils.JSONResponse(w, http.StatusInternalServerError, utils.Payload{
			Success: false,
			Message: "Database error",
		})
		return
	}

	if capsule.Password == "" {
		utils.JSONResponse(w, http.StatusBadRequest, utils.Payload{
			Success: false,
			Message: "This capsule is not password protected",
		})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(capsule.Password), []byte(input.Password)); err != nil {
		utils.JSONResponse(w, http.StatusUnauthorized, utils.Payload{
			Success: false,
			Message: "Incorrect password",
		})
		return
	}

	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: "Password verified",
		Data: map[string]any{
			"capsule": map[string]any{
				"id":             capsule.ID,
				"title":          capsule.Title,
				"message":        capsule.Message,
				"recipientName":  capsule.RecipientName,
				"recipientEmail": capsule.RecipientEmail,
				"unlockAt":       capsule.UnlockAt,
				"createdAt":      capsule.CreatedAt,
				"mediaUrl":       capsule.MediaURL,
			},
		},
	})
}
