// Package browser closes leftover browser tabs that agents opened for tasks
// that have since finished. Everything here is best effort: a browser that is
// not running, an endpoint that is not configured, or any HTTP failure simply
// means no tabs get closed this cycle.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/traphq/trap/internal/common/config"
	"github.com/traphq/trap/internal/common/logger"
)

// Tab is one open browser tab as reported by the control endpoint.
type Tab struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Sweeper closes task-related tabs through a local browser-control endpoint.
type Sweeper struct {
	controlURL string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewSweeper creates a tab sweeper. An empty control URL disables it.
func NewSweeper(cfg config.BrowserConfig, log *logger.Logger) *Sweeper {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Sweeper{
		controlURL: strings.TrimRight(cfg.ControlURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.WithFields(zap.String("component", "browser-sweeper")),
	}
}

// Enabled reports whether a control endpoint is configured.
func (s *Sweeper) Enabled() bool {
	return s.controlURL != ""
}

// CloseTaskTabs closes tabs referencing any of the given task short ids.
// Returns the number of tabs closed; never returns an error.
func (s *Sweeper) CloseTaskTabs(ctx context.Context, shortIDs []string) int {
	if !s.Enabled() || len(shortIDs) == 0 {
		return 0
	}

	tabs, err := s.listTabs(ctx)
	if err != nil {
		s.logger.Debug("tab listing failed", zap.Error(err))
		return 0
	}

	closed := 0
	for _, tab := range tabs {
		if !tabMatches(tab, shortIDs) {
			continue
		}
		if err := s.closeTab(ctx, tab.ID); err != nil {
			s.logger.Debug("tab close failed",
				zap.String("tab_id", tab.ID), zap.Error(err))
			continue
		}
		closed++
	}
	if closed > 0 {
		s.logger.Info("closed stale task tabs", zap.Int("count", closed))
	}
	return closed
}

func tabMatches(tab Tab, shortIDs []string) bool {
	for _, shortID := range shortIDs {
		if shortID == "" {
			continue
		}
		if strings.Contains(tab.URL, shortID) || strings.Contains(tab.Title, shortID) {
			return true
		}
	}
	return false
}

func (s *Sweeper) listTabs(ctx context.Context) ([]Tab, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.controlURL+"/tabs", nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("browser control returned %d", resp.StatusCode)
	}
	var tabs []Tab
	if err := json.NewDecoder(resp.Body).Decode(&tabs); err != nil {
		return nil, err
	}
	return tabs, nil
}

func (s *Sweeper) closeTab(ctx context.Context, tabID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.controlURL+"/tabs/"+tabID, nil)
	if err != nil {
		return err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("browser control returned %d", resp.StatusCode)
	}
	return nil
}
