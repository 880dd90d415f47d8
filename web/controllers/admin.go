package controllers

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"go-referral/referral"
	"go-referral/web/db"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SetPlan grants months of the paid plan to a user without payment.
func SetPlan(c *gin.Context) {
	var req struct {
		UUID   string `json:"uuid"`
		Months int    `json:"months"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.UUID == "" || req.Months < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "uuid and months are required"})
		return
	}

	ctx := c.Request.Context()
	var ev *referral.ActivationEvent
	var saved db.User
	err := db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user db.User
		if err := tx.Where("uuid = ?", req.UUID).First(&user).Error; err != nil {
			return err
		}
		locked, err := lockUser(tx, user.ID)
		if err != nil {
			return err
		}
		ev, err = applyPlan(ctx, tx, &locked, req.Months)
		saved = locked
		return err
	})
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	dispatch(ctx, ev)
	c.JSON(http.StatusOK, gin.H{
		"message":  "Plan updated successfully",
		"plan":     saved.Plan,
		"plan_end": saved.PlanEnd.Format(time.RFC3339),
	})
}

// RetryEvents drives stored activations that have not been processed yet.
func RetryEvents(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(deps.Config.RetryBatch)))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	done, err := deps.Bridge.RetryPending(c.Request.Context(), limit)
	resp := gin.H{"processed": done}
	if err != nil {
		deps.Logger.Warn("retry activations", zap.Int("processed", done), zap.Error(err))
		resp["error"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func Health(c *gin.Context) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	resp := gin.H{
		"status":     "ok",
		"goroutines": runtime.NumGoroutine(),
		"heap_bytes": ms.HeapAlloc,
	}

	if vm, err := mem.VirtualMemoryWithContext(c.Request.Context()); err == nil {
		resp["mem_used_percent"] = vm.UsedPercent
	}
	if pct, err := cpu.PercentWithContext(c.Request.Context(), 0, false); err == nil && len(pct) > 0 {
		resp["cpu_percent"] = pct[0]
	}
	if info, err := host.InfoWithContext(c.Request.Context()); err == nil {
		resp["hostname"] = info.Hostname
		resp["uptime_seconds"] = info.Uptime
	}

	if db.DB != nil {
		if sqlDB, err := db.DB.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			resp["status"] = "degraded"
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
	}
	c.JSON(http.StatusOK, resp)
}
