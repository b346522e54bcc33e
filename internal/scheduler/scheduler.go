// File: internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chainpulse/chainpulse/internal/metrics"
	"github.com/chainpulse/chainpulse/pkg/utils"
)

// Pipeline is one periodically executed unit of work
type Pipeline interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler drives each registered pipeline on its own fixed interval.
// A tick that fires while the previous run of the same pipeline is still
// active is skipped, so a pipeline never overlaps itself. Panics inside a
// run are recovered and counted as errors.
type Scheduler struct {
	metrics *metrics.Manager
	logger  *logrus.Entry

	mu        sync.Mutex
	pipelines []*registration
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   bool
}

type registration struct {
	pipeline Pipeline
	interval time.Duration
	active   bool
	mu       sync.Mutex
}

// NewScheduler creates an empty scheduler
func NewScheduler(metricsManager *metrics.Manager) *Scheduler {
	return &Scheduler{
		metrics: metricsManager,
		logger:  utils.ComponentLogger("scheduler"),
	}
}

// Register adds a pipeline with its tick interval. Must be called before Start.
func (s *Scheduler) Register(pipeline Pipeline, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pipelines = append(s.pipelines, &registration{
		pipeline: pipeline,
		interval: interval,
	})
}

// Start launches one goroutine per pipeline
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Scheduler already started", "")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	for _, reg := range s.pipelines {
		s.wg.Add(1)
		go s.loop(runCtx, reg)
		s.logger.WithFields(logrus.Fields{
			"pipeline": reg.pipeline.Name(),
			"interval": reg.interval.String(),
		}).Info("Pipeline scheduled")
	}
	return nil
}

// Stop cancels all pipelines and waits for in-flight runs to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

// loop ticks one pipeline until the context is cancelled. The first run
// fires immediately.
func (s *Scheduler) loop(ctx context.Context, reg *registration) {
	defer s.wg.Done()

	ticker := time.NewTicker(reg.interval)
	defer ticker.Stop()

	s.tick(ctx, reg)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, reg)
		}
	}
}

// tick runs the pipeline once, skipping if the previous run is still active
func (s *Scheduler) tick(ctx context.Context, reg *registration) {
	name := reg.pipeline.Name()

	reg.mu.Lock()
	if reg.active {
		reg.mu.Unlock()
		s.metrics.PipelineSkips.WithLabelValues(name).Inc()
		s.logger.WithField("pipeline", name).Debug("Tick skipped, previous run still active")
		return
	}
	reg.active = true
	reg.mu.Unlock()

	defer func() {
		reg.mu.Lock()
		reg.active = false
		reg.mu.Unlock()
	}()

	start := time.Now()
	err := s.runProtected(ctx, reg.pipeline)
	duration := time.Since(start)

	s.metrics.PipelineRuns.WithLabelValues(name).Inc()
	s.metrics.PipelineDuration.WithLabelValues(name).Observe(duration.Seconds())

	if err != nil {
		s.metrics.PipelineErrors.WithLabelValues(name).Inc()
		s.logger.WithFields(logrus.Fields{
			"pipeline": name,
			"duration": duration.String(),
			"error":    err.Error(),
		}).Error("Pipeline run failed")
	}
}

// runProtected executes one run and turns a panic into an error
func (s *Scheduler) runProtected(ctx context.Context, pipeline Pipeline) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = utils.NewAppError(utils.ErrCodeInternal,
				"Pipeline panicked", fmt.Sprintf("%v", r)).WithStackTrace()
		}
	}()
	return pipeline.Run(ctx)
}
