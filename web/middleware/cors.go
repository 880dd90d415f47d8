package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func CORS(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	if len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = allowedOrigins
		cfg.AllowCredentials = true
	}
	cfg.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	cfg.AllowHeaders = []string{
		"Origin", "Content-Type", "Content-Length", "Accept-Encoding",
		"X-CSRF-Token", "Authorization", "Accept", "Cache-Control", "X-Requested-With", "X-Admin-Key",
	}
	cfg.MaxAge = 12 * time.Hour
	return cors.New(cfg)
}
