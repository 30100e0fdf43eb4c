// Package httpapi is the client for the board's HTTP API, the same surface
// agents call. The supervisor uses it when acting on an agent's behalf.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/traphq/trap/internal/common/config"
	"github.com/traphq/trap/internal/task/models"
)

// Client calls the board HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an API client from configuration.
func NewClient(cfg config.APIConfig) *Client {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// CreateTask posts a new task.
func (c *Client) CreateTask(ctx context.Context, task *models.Task) error {
	return c.post(ctx, "/api/tasks", task, nil)
}

// PatchTask applies a partial update to a task.
func (c *Client) PatchTask(ctx context.Context, taskID string, fields map[string]interface{}) error {
	return c.do(ctx, http.MethodPatch, "/api/tasks/"+taskID, fields, nil)
}

// PostComment adds a comment to a task.
func (c *Client) PostComment(ctx context.Context, taskID string, comment *models.Comment) error {
	return c.post(ctx, "/api/tasks/"+taskID+"/comments", comment, nil)
}

// CompleteTask marks a task done with a resolution.
func (c *Client) CompleteTask(ctx context.Context, taskID string, resolution models.TaskResolution) error {
	body := map[string]string{"resolution": string(resolution)}
	return c.post(ctx, "/api/tasks/"+taskID+"/complete", body, nil)
}

// RaiseSignal posts an agent signal.
func (c *Client) RaiseSignal(ctx context.Context, signal *models.Signal) error {
	return c.post(ctx, "/api/signal", signal, nil)
}

// PostChatMessage sends a message into a project chat on behalf of an agent.
func (c *Client) PostChatMessage(ctx context.Context, chatID, author, content string) error {
	body := map[string]string{"author": author, "content": content}
	return c.post(ctx, "/api/chats/"+chatID+"/messages", body, nil)
}

func (c *Client) post(ctx context.Context, path string, body, result interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, result)
}

func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, string(data))
	}
	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return nil
}
