package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/asmiverse/capsule-server/internal/models"
	"github.com/asmiverse/capsule-server/internal/repositories"
	"github.com/asmiverse/capsule-server/internal/utils"
	"github.com/google/uuid"
)

func pagination(r *http.Request) (page, limit, offset int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 10
	}
	return page, limit, (page - 1) * limit
}

// GET /api/v1/admin/users
// AdminListUsers godoc
// @Summary List users with search and pagination
// @Tags Admin
// @Produce json
// @Param search query string false "Match against name or email"
// @Param page query int false "Page number"
// @Param limit query int false "Page size"
// @Success 200 {object} utils.Payload
// @Router /api/v1/admin/users [get]
func AdminListUsers(w http.ResponseWriter, r *http.Request) {
	page, limit, offset := pagination(r)
	search := r.URL.Query().Get("search")

	q := repositories.DB.Model(&models.User{})
	if search != "" {
		pattern := "%" + search + "%"
		q = q.Where("name ILIKE ? OR email ILIKE ?", pattern, pattern)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		utils.JSONResponse(w, http.StatusInternalServerError, utils.Payload{
			Success: false,
			Message: "Failed to fetch users",
		})
		return
	}

	var users []models.User
	err := q.Order("created_at DESC").Offset(offset).Limit(limit).Find(&users).Error
	if err != nil {
		utils.JSONResponse(w, http.StatusInternalServerError, utils.Payload{
			Success: false,
			Message: "Failed to fetch users",
		})
		return
	}

	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: "Users retrieved successfully",
		Data: map[string]any{
			"users":      users,
			"total":      total,
			"page":       page,
			"limit":      limit,
			"totalPages": (total + int64(limit) - 1) / int64(limit),
		},
	})
}

// PATCH /api/v1/admin/users
// AdminUpdateUser godoc
// @Summary Ban, unban, promote or demote a user
// @Tags Admin
// @Accept json
// @Produce json
// @Success 200 {object} utils.Payload
// @Failure 400 {object} utils.Payload
// @Router /api/v1/admin/users [patch]
func AdminUpdateUser(w http.ResponseWriter, r *http.Request) {
	var input struct {
		UserID string `json:"userId"`
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil || input.UserID == "" || input.Action == "" {
		utils.JSONResponse(w, http.StatusBadRequest, utils.Payload{
			Success: false,
			Message: "User ID and action required",
		})
		return
	}

	userID, err := uuid.Parse(input.UserID)
	if err != nil {
		utils.JSONResponse(w, http.StatusBadRequest, utils.Payload{
			Success: false,
			Message: "Invalid user ID",
		})
		return
	}

	var updates map[string]any
	var message string
	switch input.Action {
	case "ban":
		updates = map[string]any{"is_banned": true}
		message = "User banned successfully"
	case "unban":
		updates = map[string]any{"is_banned": false}
		message = "User unbanned successfully"
	case "makeAdmin":
		updates = map[string]any{"is_admin": true}
		message = "User made admin successfully"
	case "removeAdmin":
		updates = map[string]any{"is_admin": false}
		message = "Admin privileges removed successfully"
	default:
		utils.JSONResponse(w, http.StatusBadRequest, utils.Payload{
			Success: false,
			Message: "Invalid action",
		})
		return
	}

	res := repositories.DB.Model(&models.User{}).Where("id = ?", userID).Updates(updates)
	if res.Error != nil {
		utils.JSONResponse(w, http.StatusInternalServerError, utils.Payload{
			Success: false,
			Message: "Failed to update user",
		})
		return
	}
	if res.RowsAffected == 0 {
		utils.JSONResponse(w, http.StatusNotFound, utils.Payload{
			Success: false,
			Message: "User not found",
		})
		return
	}

	var user models.User
	repositories.DB.First(&user, "id = ?", userID)
	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: message,
		Data:    map[string]any{"user": user},
	})
}

// GET /api/v1/admin/capsules
// AdminListCapsules godoc
// @Summary List capsules with search and pagination
// @Tags Admin
// @Produce json
// @Param search query string false "Match against title or recipient"
// @Param page query int false "Page number"
// @Param limit query int false "Page size"
// @Success 200 {object} utils.Payload
// @Router /api/v1/admin/capsules [get]
func AdminListCapsules(w http.ResponseWriter, r *http.Request) {
	page, limit, offset := pagination(r)
	search := r.URL.Query().Get("search")

	q := repositories.DB.Model(&models.Capsule{})
	if search != "" {
		pattern := "%" + search + "%"
		q = q.Where("title ILIKE ? OR recipient_name ILIKE ? OR recipient_email ILIKE ?", pattern, pattern, pattern)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		utils.JSONResponse(w, http.StatusInternalServerError, utils.Payload{
			Success: false,
			Message: "Failed to fetch capsules",
		})
		return
	}

	var capsules []models.Capsule
	err := q.Order("created_at DESC").Offset(offset).Limit(limit).Find(&capsules).Error
	if err != nil {
		utils.JSONResponse(w, http.StatusInternalServerError, utils.Payload{
			Success: false,
			Message: "Failed to fetch capsules",
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
			"capsules":   summaries,
			"total":      total,
			"page":       page,
			"limit":      limit,
			"totalPages": (total + int64(limit) - 1) / int64(limit),
		},
	})
}

// DELETE /api/v1/admin/capsules?id=...
func AdminDeleteCapsule(w http.ResponseWriter, r *http.Request) {
	capsuleID, err := uuid.Parse(r.URL.Query().Get("id"))
	if err != nil {
		utils.JSONResponse(w, http.StatusBadRequest, utils.Payload{
			Success: false,
			Message: "Capsule ID required",
		})
		return
	}

	res := repositories.DB.Delete(&models.Capsule{}, "id = ?", capsuleID)
	if res.Error != nil {
		utils.JSONResponse(w, http.StatusInternalServerError, utils.Payload{
			Success: false,
			Message: "Failed to delete capsule",
		})
		return
	}
	if res.RowsAffected == 0 {
		utils.JSONResponse(w, http.StatusNotFound, utils.Payload{
			Success: false,
			Message: "Capsule not found",
		})
		return
	}

	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: "Capsule deleted successfully",
	})
}

// GET /api/v1/admin/stats
// AdminStats godoc
// @Summary Dashboard counters and recent activity
// @Tags Admin
// @Produce json
// @Success 200 {object} utils.Payload
// @Router /api/v1/admin/stats [get]
func AdminStats(w http.ResponseWriter, r *http.Request) {
	db := repositories.DB
	now := time.Now()
	sevenDaysAgo := now.AddDate(0, 0, -7)

	var totalUsers, totalCapsules, unlockedCapsules, newUsers, newCapsules int64
	db.Model(&models.User{}).Count(&totalUsers)
	db.Model(&models.Capsule{}).Count(&totalCapsules)
	db.Model(&models.Capsule{}).Where("unlock_at <= ?", now).Count(&unlockedCapsules)
	db.Model(&models.User{}).Where("created_at >= ?", sevenDaysAgo).Count(&newUsers)
	db.Model(&models.Capsule{}).Where("created_at >= ?", sevenDaysAgo).Count(&newCapsules)

	var recentCapsules []models.Capsule
	db.Order("created_at DESC").Limit(5).Find(&recentCapsules)
	recent := make([]capsuleSummary, 0, len(recentCapsules))
	for i := range recentCapsules {
		recent = append(recent, summarize(&recentCapsules[i]))
	}

	var recentUsers []models.User
	db.Order("created_at DESC").Limit(5).Find(&recentUsers)

	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: "Stats retrieved successfully",
		Data: map[string]any{
			"totalUsers":       totalUsers,
			"totalCapsules":    totalCapsules,
			"unlockedCapsules": unlockedCapsules,
			"newUsers":         newUsers,
			"newCapsules":      newCapsules,
			"recentCapsules":   recent,
			"recentUsers":      recentUsers,
		},
	})
}
