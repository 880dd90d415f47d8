package controllers

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

func queryInt(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func Descendants(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	page, okPage := queryInt(c, "page", 1)
	limit, okLimit := queryInt(c, "limit", 0)
	if !okPage || !okLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "page and limit must be non-negative integers"})
		return
	}

	children, err := deps.Queries.GetDirectDescendants(c.Request.Context(), user.UUID, page, limit)
	if err != nil {
		deps.Logger.Error("list descendants", zap.String("user", user.UUID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch descendants"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"page": page, "descendants": children})
}

func Ledger(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	limit, okLimit := queryInt(c, "limit", 0)
	if !okLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return
	}

	entries, err := deps.Queries.GetRecentLedgerActivity(c.Request.Context(), user.UUID, limit)
	if err != nil {
		deps.Logger.Error("list ledger", zap.String("user", user.UUID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch ledger"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func Status(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	status, err := deps.Queries.GetLevelStatus(c.Request.Context(), user.UUID)
	if err != nil {
		deps.Logger.Error("level status", zap.String("user", user.UUID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch status"})
		return
	}
	c.JSON(http.StatusOK, status)
}

// InviteLink is the signup URL that carries the user's referral code.
func InviteLink(host, code string) string {
	return fmt.Sprintf("http://%s/signup?ref=%s", host, url.QueryEscape(code))
}

func QRCode(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	png, err := qrcode.Encode(InviteLink(deps.Config.WebHost, user.ReferralCode), qrcode.Medium, 256)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to render QR code"})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}
