package workloop

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/traphq/trap/internal/common/config"
	"github.com/traphq/trap/internal/common/logger"
	"github.com/traphq/trap/internal/events/bus"
	"github.com/traphq/trap/internal/task/models"
	"github.com/traphq/trap/internal/task/repository"
)

// SessionSyncer mirrors gateway session rows into the store. Reap and ghost
// detection read those rows, so the sync runs at the top of every tick.
type SessionSyncer interface {
	Sync(ctx context.Context) error
}

// Supervisor ticks the cycle driver: one cycle per enabled project per tick,
// projects in parallel, per-project exclusion delegated to the driver.
type Supervisor struct {
	cfg      config.WorkLoopConfig
	repo     repository.Repository
	driver   *CycleDriver
	agents   AgentManager
	sessions SessionSyncer
	bus      bus.EventBus
	logger   *logger.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewSupervisor creates the top-level scheduler.
func NewSupervisor(cfg config.WorkLoopConfig, repo repository.Repository, driver *CycleDriver, agents AgentManager, sessions SessionSyncer, eventBus bus.EventBus, log *logger.Logger) *Supervisor {
	return &Supervisor{
		cfg:      cfg,
		repo:     repo,
		driver:   driver,
		agents:   agents,
		sessions: sessions,
		bus:      eventBus,
		logger:   log.WithFields(zap.String("component", "supervisor")),
	}
}

// Start launches the tick loop. Safe to call once.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})

	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("work loop started",
		zap.Duration("tick_interval", s.cfg.TickIntervalDuration()))
}

// Stop stops dispatching ticks, waits for in-flight cycles up to the
// shutdown grace, then aborts every live agent.
func (s *Supervisor) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	grace := s.cfg.ShutdownGraceDuration()
	if grace <= 0 {
		grace = 30 * time.Second
	}
	select {
	case <-done:
	case <-time.After(grace):
		s.logger.Warn("shutdown grace elapsed with cycles in flight")
	case <-ctx.Done():
	}

	s.agents.KillAll(ctx)
	s.logger.Info("work loop stopped")
}

func (s *Supervisor) loop(ctx context.Context) {
	defer s.wg.Done()

	interval := s.tickInterval(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
			// Project schedules can change at runtime; follow them
			// without a restart.
			if next := s.tickInterval(ctx); next != interval {
				interval = next
				ticker.Reset(interval)
				s.logger.Info("tick interval updated",
					zap.Duration("tick_interval", interval))
			}
		}
	}
}

// tick mirrors sessions, reaps finished agents, then runs one cycle per
// enabled project in parallel.
func (s *Supervisor) tick(ctx context.Context) {
	if err := s.sessions.Sync(ctx); err != nil {
		// Reap keeps working on the last mirrored rows.
		s.logger.Warn("session sync failed", zap.Error(err))
	}

	for _, reaped := range s.agents.Reap(ctx) {
		_ = s.repo.AppendTaskEvent(ctx, &models.TaskEvent{
			ID:        uuid.New().String(),
			TaskID:    reaped.Handle.TaskID,
			ProjectID: reaped.Handle.ProjectID,
			EventType: models.EventAgentReaped,
			Timestamp: time.Now().UTC(),
			Actor:     "supervisor",
			Data: map[string]interface{}{
				"role":           string(reaped.Handle.Role),
				"session_status": string(reaped.SessionStatus),
			},
		})
		_ = s.bus.Publish(ctx, bus.SubjectAgentReaped,
			bus.NewEvent("agent_reaped", "supervisor", map[string]interface{}{
				"task_id":        reaped.Handle.TaskID,
				"role":           string(reaped.Handle.Role),
				"session_status": string(reaped.SessionStatus),
			}))
	}

	projects, err := s.repo.ListEnabledProjects(ctx)
	if err != nil {
		s.logger.Error("tick aborted, project listing failed", zap.Error(err))
		return
	}
	if len(projects) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, project := range projects {
		project := project
		g.Go(func() error {
			s.driver.RunCycle(gctx, project)
			return nil
		})
	}
	_ = g.Wait()
}

// tickInterval is the configured interval, tightened to the smallest project
// cron cadence when that is faster.
func (s *Supervisor) tickInterval(ctx context.Context) time.Duration {
	interval := s.cfg.TickIntervalDuration()
	if interval <= 0 {
		interval = 5 * time.Second
	}

	projects, err := s.repo.ListEnabledProjects(ctx)
	if err != nil {
		return interval
	}
	for _, project := range projects {
		if d, ok := scheduleInterval(project.WorkLoopSchedule); ok && d < interval {
			interval = d
		}
	}
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

// scheduleInterval derives the cadence of a cron expression from the gap
// between its next two activations.
func scheduleInterval(spec string) (time.Duration, bool) {
	if spec == "" {
		return 0, false
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return 0, false
	}
	first := sched.Next(time.Now())
	second := sched.Next(first)
	return second.Sub(first), true
}
