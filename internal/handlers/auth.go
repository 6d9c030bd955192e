package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/bilirag-backend/internal/middleware"
	"github.com/yungbote/bilirag-backend/internal/services"
)

type AuthHandler struct {
	sessionService services.SessionService
}

func NewAuthHandler(sessionService services.SessionService) *AuthHandler {
	return &AuthHandler{sessionService: sessionService}
}

// GenerateQRCode hands the frontend a fresh login QR code.
func (ah *AuthHandler) GenerateQRCode(c *gin.Context) {
	qr, err := ah.sessionService.GenerateLoginQRCode(c.Request.Context())
	if err != nil {
		RespondError(c, http.StatusBadGateway, "qr_generate_failed", err)
		return
	}
	RespondOK(c, qr)
}

// PollQRCode reports the scan state. The frontend polls this until the
// status turns confirmed or expired.
func (ah *AuthHandler) PollQRCode(c *gin.Context) {
	qrcodeKey := c.Query("qrcode_key")
	if qrcodeKey == "" {
		RespondError(c, http.StatusBadRequest, "missing_qrcode_key", errMissing("qrcode_key"))
		return
	}
	result, err := ah.sessionService.PollLogin(c.Request.Context(), qrcodeKey)
	if err != nil {
		RespondError(c, http.StatusBadGateway, "qr_poll_failed", err)
		return
	}
	RespondOK(c, result)
}

// GetMe returns the profile bound to the caller's session.
func (ah *AuthHandler) GetMe(c *gin.Context) {
	session := middleware.SessionFromContext(c)
	if session == nil {
		RespondError(c, http.StatusUnauthorized, "no_session", errMissing("session"))
		return
	}
	RespondOK(c, gin.H{
		"session_id": session.SessionID,
		"mid":        session.Mid,
		"uname":      session.Uname,
		"face":       session.Face,
	})
}

func (ah *AuthHandler) Logout(c *gin.Context) {
	session := middleware.SessionFromContext(c)
	if session == nil {
		RespondError(c, http.StatusUnauthorized, "no_session", errMissing("session"))
		return
	}
	if err := ah.sessionService.Logout(c.Request.Context(), session.SessionID); err != nil {
		RespondError(c, http.StatusBadRequest, "logout_failed", err)
		return
	}
	RespondOK(c, gin.H{"message": "logged out successfully"})
}
