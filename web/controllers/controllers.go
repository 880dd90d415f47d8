package controllers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go-referral/config"
	"go-referral/referral"
	"go-referral/utils"
	"go-referral/web/db"
	"go-referral/web/email"
	"go-referral/web/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const referralCodeAttempts = 3

// Deps are the services the handlers share. Setup must run before the
// router serves requests.
type Deps struct {
	Config  *config.Config
	Logger  *zap.Logger
	Auth    *middleware.Auth
	Store   referral.Store
	Placer  *referral.Placer
	Bridge  *referral.Bridge
	Queries *referral.Queries
	// TxStore binds a referral store to an open database transaction.
	TxStore func(tx *gorm.DB) referral.Store
}

var deps Deps

func Setup(d Deps) {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	deps = d
}

type codeResolver struct {
	db *gorm.DB
}

// NewCodeResolver resolves referral codes against the users table.
func NewCodeResolver(conn *gorm.DB) referral.CodeResolver {
	return codeResolver{db: conn}
}

func (r codeResolver) ResolveCode(ctx context.Context, code string) (string, error) {
	var user db.User
	err := r.db.WithContext(ctx).
		Select("uuid").
		Where("referral_code = ?", strings.ToUpper(code)).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", referral.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return user.UUID, nil
}

// LoadUser fetches a user by UUID for the auth middleware.
func LoadUser(ctx context.Context, uuid string) (db.User, error) {
	var user db.User
	err := db.DB.WithContext(ctx).Where("uuid = ?", uuid).First(&user).Error
	return user, err
}

// LookupEmail resolves a user UUID to an address for notifications.
func LookupEmail(ctx context.Context, uuid string) (string, error) {
	user, err := LoadUser(ctx, uuid)
	return user.Email, err
}

func placementStatus(err error) (int, string) {
	switch {
	case errors.Is(err, referral.ErrInvalidReferralCode):
		return http.StatusBadRequest, "invalid_referral_code"
	case errors.Is(err, referral.ErrSelfReferral):
		return http.StatusBadRequest, "self_referral"
	case errors.Is(err, referral.ErrCyclicReferral):
		return http.StatusBadRequest, "cyclic_referral"
	case errors.Is(err, referral.ErrAlreadyPlaced):
		return http.StatusConflict, "already_placed"
	}
	return http.StatusInternalServerError, "placement_failed"
}

func currentUser(c *gin.Context) (db.User, bool) {
	user, ok := c.Get("user")
	if !ok {
		return db.User{}, false
	}
	u, ok := user.(db.User)
	return u, ok
}

func Signup(c *gin.Context) {
	var body struct {
		Email        string `json:"email"`
		Password     string `json:"password"`
		ReferralCode string `json:"referral_code"`
	}

	if err := c.ShouldBindJSON(&body); err != nil || body.Email == "" || len(body.Password) < 8 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and a password of at least 8 characters are required"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(body.Password), 10)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to hash password."})
		return
	}

	now := time.Now()
	user := db.User{
		Email:       strings.ToLower(strings.TrimSpace(body.Email)),
		Password:    string(hash),
		UUID:        utils.GenerateUUID(),
		Plan:        db.FreePlan,
		VerifyToken: utils.GenerateUUID(),
		TokenExpiry: now.Add(24 * time.Hour),
	}

	ctx := c.Request.Context()
	var placed referral.PlacementResult
	err = db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		for i := 0; i < referralCodeAttempts; i++ {
			user.ReferralCode = utils.GenerateReferralCode()
			if err = tx.Create(&user).Error; !errors.Is(err, gorm.ErrDuplicatedKey) {
				break
			}
			if taken, _ := emailTaken(tx, user.Email); taken {
				break
			}
			user.ID = 0
		}
		if err != nil {
			return err
		}

		if strings.TrimSpace(body.ReferralCode) == "" {
			return nil
		}
		placer := deps.Placer.With(deps.TxStore(tx), codeResolver{db: tx})
		placed, err = placer.PlaceReferral(ctx, user.UUID, body.ReferralCode)
		if err != nil {
			return err
		}
		return tx.Model(&user).Update("referred_by", placed.ReferrerID).Error
	})

	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			c.JSON(http.StatusConflict, gin.H{"error": "Email already registered"})
			return
		}
		status, code := placementStatus(err)
		if status == http.StatusInternalServerError {
			deps.Logger.Error("signup failed", zap.String("email", user.Email), zap.Error(err))
			c.JSON(status, gin.H{"error": "Failed to create user."})
			return
		}
		c.JSON(status, gin.H{"error": code})
		return
	}

	go func() {
		if err := email.SendVerificationEmail(user.Email, user.VerifyToken); err != nil {
			deps.Logger.Warn("verification email failed", zap.String("email", user.Email), zap.Error(err))
		}
	}()

	resp := gin.H{"uuid": user.UUID, "referral_code": user.ReferralCode}
	if placed.ReferrerID != "" {
		resp["side"] = placed.Side
	}
	c.JSON(http.StatusOK, resp)
}

func emailTaken(tx *gorm.DB, addr string) (bool, error) {
	var n int64
	err := tx.Model(&db.User{}).Where("email = ?", addr).Count(&n).Error
	return n > 0, err
}

func Login(c *gin.Context) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	if c.ShouldBindJSON(&body) != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}

	var user db.User
	err := db.DB.WithContext(c.Request.Context()).
		First(&user, "email = ?", strings.ToLower(strings.TrimSpace(body.Email))).Error
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid email or password"})
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(body.Password)) != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid email or password"})
		return
	}

	if !user.IsVerified {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email not verified, please click the link in the verification email"})
		return
	}

	token, err := deps.Auth.IssueToken(c.Request.Context(), user.UUID, deps.Config.TokenTTL)
	if err != nil {
		deps.Logger.Error("issue token", zap.String("user", user.UUID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}

func Logout(c *gin.Context) {
	if err := deps.Auth.Sessions.Revoke(c.Request.Context(), c.GetString("token")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to revoke session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

func User(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"email":         user.Email,
		"uuid":          user.UUID,
		"referral_code": user.ReferralCode,
		"referred_by":   user.ReferredBy,
		"plan":          user.Plan,
		"plan_end":      user.PlanEnd.Format(time.RFC3339),
		"active":        user.HasActivePlan(time.Now()),
		"balance":       user.Balance,
	})
}
