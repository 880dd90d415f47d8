package controllers

import (
	"fmt"
	"html"
	"net/http"
	"time"

	"go-referral/web/db"

	"github.com/gin-gonic/gin"
)

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>%s</title>
<style>
    body { font-family: Arial, sans-serif; background: #f2f2f2; display: flex; justify-content: center; align-items: center; height: 100vh; }
    .container { background: #fff; padding: 40px; border-radius: 10px; box-shadow: 0 4px 10px rgba(0,0,0,0.1); text-align: center; max-width: 400px; }
    h2 { color: %s; }
    p { color: #333; }
</style>
</head>
<body>
<div class="container">
<h2>%s</h2>
<p>%s</p>
</div>
</body>
</html>`

func page(c *gin.Context, status int, title, message string) {
	color := "#2ecc71"
	if status != http.StatusOK {
		color = "#e74c3c"
	}
	body := fmt.Sprintf(pageTemplate, html.EscapeString(title), color, html.EscapeString(title), html.EscapeString(message))
	c.Data(status, "text/html; charset=utf-8", []byte(body))
}

func VerifyEmail(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		page(c, http.StatusBadRequest, "Token is required", "Please check your email link and try again.")
		return
	}

	var user db.User
	if err := db.DB.WithContext(c.Request.Context()).First(&user, "verify_token = ?", token).Error; err != nil {
		page(c, http.StatusBadRequest, "Invalid token", "The verification link is invalid.")
		return
	}

	if user.TokenExpiry.Before(time.Now()) {
		page(c, http.StatusBadRequest, "Token expired", "Your verification link has expired. Please request a new one.")
		return
	}

	err := db.DB.WithContext(c.Request.Context()).Model(&user).Updates(map[string]any{
		"is_verified":  true,
		"verify_token": "",
	}).Error
	if err != nil {
		page(c, http.StatusInternalServerError, "Verification failed", "Please try again later.")
		return
	}

	page(c, http.StatusOK, "Email Verified!", "Your email has been successfully verified. You can now log in.")
}
