package workloop

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/traphq/trap/internal/common/logger"
	"github.com/traphq/trap/internal/events/bus"
	"github.com/traphq/trap/internal/task/models"
)

// Phase is one step of a project cycle.
type Phase interface {
	Run(ctx context.Context, project *models.Project) error
}

// PhaseError records one failed phase of a cycle.
type PhaseError struct {
	Phase string
	Err   error
}

// CycleResult summarises one completed cycle.
type CycleResult struct {
	ProjectID string
	Cycle     int64
	Skipped   bool
	Errors    []PhaseError
}

type namedPhase struct {
	name  string
	phase Phase
}

// CycleDriver runs one project's phases in order with per-project mutual
// exclusion.
type CycleDriver struct {
	phases []namedPhase
	bus    bus.EventBus
	logger *logger.Logger

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	cycles map[string]int64
}

// NewCycleDriver creates a cycle driver running cleanup, review, and work in
// that order.
func NewCycleDriver(cleanup, review, work Phase, eventBus bus.EventBus, log *logger.Logger) *CycleDriver {
	return &CycleDriver{
		phases: []namedPhase{
			{name: "cleanup", phase: cleanup},
			{name: "review", phase: review},
			{name: "work", phase: work},
		},
		bus:    eventBus,
		logger: log.WithFields(zap.String("component", "cycle-driver")),
		locks:  make(map[string]*sync.Mutex),
		cycles: make(map[string]int64),
	}
}

func (d *CycleDriver) projectLock(projectID string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	lock, ok := d.locks[projectID]
	if !ok {
		lock = &sync.Mutex{}
		d.locks[projectID] = lock
	}
	return lock
}

func (d *CycleDriver) nextCycle(projectID string) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cycles[projectID]++
	return d.cycles[projectID]
}

// CycleCount returns the number of cycles started for a project.
func (d *CycleDriver) CycleCount(projectID string) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cycles[projectID]
}

// RunCycle runs one cycle for the project. If the previous cycle is still in
// flight the tick is skipped. Phase failures are recorded and the remaining
// phases still run; phases are independent.
func (d *CycleDriver) RunCycle(ctx context.Context, project *models.Project) CycleResult {
	lock := d.projectLock(project.ID)
	if !lock.TryLock() {
		d.logger.Debug("cycle still running, skipping tick",
			zap.String("project_id", project.ID))
		return CycleResult{ProjectID: project.ID, Skipped: true}
	}
	defer lock.Unlock()

	result := CycleResult{
		ProjectID: project.ID,
		Cycle:     d.nextCycle(project.ID),
	}
	log := d.logger.WithProjectID(project.ID).WithFields(zap.Int64("cycle", result.Cycle))

	for _, np := range d.phases {
		if ctx.Err() != nil {
			break
		}
		if err := np.phase.Run(ctx, project); err != nil {
			log.Error("phase failed",
				zap.String("cycle_phase", np.name),
				zap.Error(err))
			result.Errors = append(result.Errors, PhaseError{Phase: np.name, Err: err})
		}
	}

	_ = d.bus.Publish(ctx, bus.SubjectCycleCompleted,
		bus.NewEvent("cycle_completed", "cycle-driver", map[string]interface{}{
			"project_id": project.ID,
			"cycle":      result.Cycle,
			"errors":     len(result.Errors),
		}))

	log.Debug("cycle completed", zap.Int("phase_errors", len(result.Errors)))
	return result
}
