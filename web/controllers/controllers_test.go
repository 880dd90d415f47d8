package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go-referral/config"
	"go-referral/referral"
	"go-referral/referral/memstore"
	"go-referral/web/db"

	"github.com/cenkalti/backoff/v5"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store  *memstore.Store
	engine *referral.Engine
	router *gin.Engine
}

func newFixture(t *testing.T, user db.User) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{WebHost: "example.test", RetryBatch: 10, PlanName: "Premium plan", PlanPrice: 300}
	s := memstore.New()
	engine := referral.NewEngine(s, referral.EngineConfig{
		ShareAmount: decimal.NewFromInt(250),
		Thresholds:  referral.DefaultThresholdPolicy(),
	})
	bridge := referral.NewBridge(s, engine,
		referral.WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
		referral.WithMaxTries(1),
	)
	Setup(Deps{
		Config:  cfg,
		Store:   s,
		Bridge:  bridge,
		Queries: referral.NewQueries(s, engine.Thresholds()),
	})

	r := gin.New()
	withUser := func(c *gin.Context) {
		c.Set("user", user)
		c.Next()
	}
	r.GET("/referral/descendants", withUser, Descendants)
	r.GET("/referral/ledger", withUser, Ledger)
	r.GET("/referral/status", withUser, Status)
	r.GET("/referral/qrcode", withUser, QRCode)
	r.POST("/admin/events/retry", RetryEvents)
	return &fixture{store: s, engine: engine, router: r}
}

func (f *fixture) get(t *testing.T, path string, out any) *httptest.ResponseRecorder {
	t.Helper()
	return f.do(t, http.MethodGet, path, out)
}

func (f *fixture) do(t *testing.T, method, path string, out any) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	if out != nil && w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
	}
	return w
}

func (f *fixture) place(t *testing.T, parent, child string, side referral.Side) {
	t.Helper()
	require.NoError(t, f.store.Placements().Create(context.Background(), referral.Placement{
		ParentID: parent, ChildID: child, Side: side, Depth: 1, Status: referral.Pending, CreatedAt: time.Now(),
	}))
}

func TestDescendantsEndpoint(t *testing.T) {
	f := newFixture(t, db.User{UUID: "root"})
	for i := 0; i < 3; i++ {
		f.place(t, "root", fmt.Sprintf("c%d", i), referral.Left)
	}

	var body struct {
		Page        int                  `json:"page"`
		Descendants []referral.Placement `json:"descendants"`
	}
	w := f.get(t, "/referral/descendants?page=2&limit=2", &body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, body.Page)
	require.Len(t, body.Descendants, 1)
	assert.Equal(t, "c2", body.Descendants[0].ChildID)

	w = f.get(t, "/referral/descendants?page=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLedgerAndStatusEndpoints(t *testing.T) {
	f := newFixture(t, db.User{UUID: "root"})
	ctx := context.Background()
	require.NoError(t, f.store.Accounts().SetActive(ctx, "root", true, time.Now()))
	f.place(t, "root", "kid", referral.Right)
	_, err := f.engine.OnChildCompleted(ctx, "kid")
	require.NoError(t, err)

	var ledger struct {
		Entries []referral.EarningRecord `json:"entries"`
	}
	w := f.get(t, "/referral/ledger?limit=5", &ledger)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, ledger.Entries, 1)
	assert.Equal(t, "kid", ledger.Entries[0].FromUserID)
	assert.True(t, ledger.Entries[0].Amount.Equal(decimal.NewFromInt(125)))

	var status referral.LevelStatus
	w = f.get(t, "/referral/status", &status)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, status.Level)
	assert.Equal(t, 1, status.RightCount)
	assert.True(t, status.ActiveSubscription)
	assert.True(t, status.TotalEarnings.Equal(decimal.NewFromInt(125)))
}

func TestQRCodeEndpoint(t *testing.T) {
	f := newFixture(t, db.User{UUID: "root", ReferralCode: "ABCD1234"})

	w := f.get(t, "/referral/qrcode", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")))

	assert.Equal(t, "http://example.test/signup?ref=ABCD1234", InviteLink("example.test", "ABCD1234"))
}

func TestRetryEventsEndpoint(t *testing.T) {
	f := newFixture(t, db.User{UUID: "root"})
	ctx := context.Background()
	require.NoError(t, f.store.Accounts().SetActive(ctx, "root", true, time.Now()))
	f.place(t, "root", "kid", referral.Left)

	f.store.FailNext("placements.FindPendingEdgesForChild", errors.New("lock wait timeout"))
	err := deps.Bridge.OnSubscriptionActivated(ctx, "kid")
	require.Error(t, err)

	var body struct {
		Processed int    `json:"processed"`
		Error     string `json:"error"`
	}
	w := f.do(t, http.MethodPost, "/admin/events/retry", &body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, body.Processed)
	assert.Empty(t, body.Error)

	total, err := f.store.Ledger().TotalFor(ctx, "root")
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(125)))

	w = f.do(t, http.MethodPost, "/admin/events/retry?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPlacementStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{referral.ErrInvalidReferralCode, http.StatusBadRequest, "invalid_referral_code"},
		{fmt.Errorf("wrapped: %w", referral.ErrSelfReferral), http.StatusBadRequest, "self_referral"},
		{referral.ErrCyclicReferral, http.StatusBadRequest, "cyclic_referral"},
		{referral.ErrAlreadyPlaced, http.StatusConflict, "already_placed"},
		{errors.New("db down"), http.StatusInternalServerError, "placement_failed"},
	}
	for _, tt := range tests {
		status, code := placementStatus(tt.err)
		assert.Equal(t, tt.status, status, tt.code)
		assert.Equal(t, tt.code, code)
	}
}

func TestExtendPlan(t *testing.T) {
	now := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	user := db.User{Plan: db.FreePlan}

	assert.True(t, extendPlan(&user, "Premium plan", 1, now), "first paid month activates")
	assert.Equal(t, now.AddDate(0, 1, 0), user.PlanEnd)

	assert.False(t, extendPlan(&user, "Premium plan", 2, now.Add(24*time.Hour)), "renewal of a running plan")
	assert.Equal(t, now.AddDate(0, 3, 0), user.PlanEnd)

	later := now.AddDate(1, 0, 0)
	assert.True(t, extendPlan(&user, "Premium plan", 1, later), "lapsed plan activates again")
	assert.Equal(t, later, user.PlanStart)
}
