package agent

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/traphq/trap/internal/common/logger"
	"github.com/traphq/trap/internal/gateway"
	"github.com/traphq/trap/internal/task/models"
)

// SessionLister is the slice of the gateway the mirror needs.
type SessionLister interface {
	SessionsList(ctx context.Context, limit int) ([]gateway.SessionInfo, error)
}

// SessionWriter persists mirrored session rows.
type SessionWriter interface {
	UpsertSession(ctx context.Context, session *models.SessionRecord) error
}

// Liveness thresholds for sessions the gateway has not marked terminal.
const (
	defaultIdleAfter  = 5 * time.Minute
	defaultStaleAfter = 30 * time.Minute
)

// Mirror copies the gateway's session table into the store. The store rows
// are the ground truth Reap and ghost detection read, so the mirror runs at
// the top of every tick; a failed sync leaves the previous rows in place.
type Mirror struct {
	gw         SessionLister
	store      SessionWriter
	logger     *logger.Logger
	idleAfter  time.Duration
	staleAfter time.Duration

	now func() time.Time
}

// NewMirror creates a session mirror with the default liveness thresholds.
func NewMirror(gw SessionLister, store SessionWriter, log *logger.Logger) *Mirror {
	return &Mirror{
		gw:         gw,
		store:      store,
		logger:     log.WithFields(zap.String("component", "session-mirror")),
		idleAfter:  defaultIdleAfter,
		staleAfter: defaultStaleAfter,
		now:        time.Now,
	}
}

// Sync lists the gateway's sessions and upserts one row per session. A single
// row failing to write is logged and skipped; the rest of the batch lands.
func (m *Mirror) Sync(ctx context.Context) error {
	infos, err := m.gw.SessionsList(ctx, 0)
	if err != nil {
		return fmt.Errorf("sessions.list: %w", err)
	}
	for _, info := range infos {
		rec := &models.SessionRecord{
			SessionKey:   info.Key,
			Status:       m.classify(info),
			Model:        info.Model,
			InputTokens:  info.InputTokens,
			OutputTokens: info.OutputTokens,
			TotalTokens:  info.TotalTokens,
			LastActiveAt: info.UpdatedAt,
		}
		if err := m.store.UpsertSession(ctx, rec); err != nil {
			m.logger.Warn("session upsert failed",
				zap.String("session_key", info.Key), zap.Error(err))
		}
	}
	return nil
}

// classify derives liveness. The gateway marks ended sessions with a terminal
// kind; the rest age out of active through idle into stale.
func (m *Mirror) classify(info gateway.SessionInfo) models.SessionStatus {
	switch info.Kind {
	case "completed", "ended", "aborted":
		return models.SessionCompleted
	}
	age := m.now().Sub(info.UpdatedAt)
	switch {
	case age > m.staleAfter:
		return models.SessionStale
	case age > m.idleAfter:
		return models.SessionIdle
	default:
		return models.SessionActive
	}
}
