package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go-referral/web/db"
	"go-referral/web/session"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type Auth struct {
	Secret   []byte
	AdminKey string
	Sessions session.Store
	// LoadUser fetches the account a token was issued to, by user UUID.
	LoadUser func(ctx context.Context, uuid string) (db.User, error)
}

// IssueToken signs a token for the user and registers it as a session.
func (a *Auth) IssueToken(ctx context.Context, userUUID string, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userUUID,
		"exp": time.Now().Add(ttl).Unix(),
	})
	signed, err := token.SignedString(a.Secret)
	if err != nil {
		return "", err
	}
	if err := a.Sessions.Put(ctx, signed, userUUID, ttl); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return signed, nil
}

func bearer(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

func (a *Auth) subject(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		return a.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("token has no subject")
	}
	return sub, nil
}

// RequireAuth accepts a bearer token that is both a valid JWT and a live
// session, and puts the user into the context as "user" and "userID".
func (a *Auth) RequireAuth(c *gin.Context) {
	tokenString := bearer(c)
	if tokenString == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
		return
	}

	sub, err := a.subject(tokenString)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
		return
	}

	owner, err := a.Sessions.Lookup(c.Request.Context(), tokenString)
	if err != nil || owner != sub {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
		return
	}

	user, err := a.LoadUser(c.Request.Context(), sub)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}

	c.Set("token", tokenString)
	c.Set("user", user)
	c.Set("userID", user.ID)
	c.Next()
}

// AdminAuth checks the admin key from the X-Admin-Key header or the regkey
// query parameter.
func (a *Auth) AdminAuth(c *gin.Context) {
	key := c.GetHeader("X-Admin-Key")
	if key == "" {
		key = c.Query("regkey")
	}
	if a.AdminKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(a.AdminKey)) != 1 {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Invalid registration key"})
		return
	}
	c.Next()
}
