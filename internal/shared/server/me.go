package server

import (
	"math"
	"net/http"

	"github.com/gin-gonic/gin"

	"translator-backend/internal/shared/server/middleware"
	"translator-backend/internal/shared/server/respond"
)

type meResponse struct {
	UserID        string `json:"userId"`
	Email         string `json:"email,omitempty"`
	IsGuest       bool   `json:"isGuest"`
	CanList       bool   `json:"canListTranslations"`
	UploadsPerMin int    `json:"uploadsPerMinute"`
	UploadBurst   int    `json:"uploadBurst"`
}

// registerMeRoutes attaches /me, which tells a client who it is and how
// often it may submit documents.
func registerMeRoutes(rg *gin.RouterGroup, upload middleware.RateLimitRule) {
	rg.GET("/me", func(c *gin.Context) {
		userID := middleware.UserIDFromContext(c)
		if userID == "" {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
			return
		}
		guest := middleware.IsGuest(c)
		respond.OK(c, meResponse{
			UserID:        userID,
			Email:         middleware.UserEmailFromContext(c),
			IsGuest:       guest,
			CanList:       !guest,
			UploadsPerMin: int(math.Round(upload.Rate * 60)),
			UploadBurst:   upload.Burst,
		})
	})
}
