// Package scheduler runs the periodic maintenance jobs of the web service.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Job struct {
	Name string
	Spec string // cron expression or "@every <duration>"
	Run  func(ctx context.Context) error
}

// Start schedules jobs and stops them when ctx is done. A run is skipped
// while the previous run of the same job is still going.
func Start(ctx context.Context, logger *zap.Logger, jobs ...Job) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(
		cron.Recover(cron.PrintfLogger(zap.NewStdLog(logger))),
		cron.SkipIfStillRunning(cron.PrintfLogger(zap.NewStdLog(logger))),
	))

	for _, job := range jobs {
		job := job
		_, err := c.AddFunc(job.Spec, func() {
			start := time.Now()
			if err := job.Run(ctx); err != nil {
				logger.Warn("job failed", zap.String("job", job.Name), zap.Error(err))
				return
			}
			logger.Debug("job done", zap.String("job", job.Name), zap.Duration("took", time.Since(start)))
		})
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", job.Name, err)
		}
	}

	c.Start()
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return c, nil
}
