package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ChatSendRequest are the parameters for chat.send.
type ChatSendRequest struct {
	SessionKey     string `json:"sessionKey"`
	Message        string `json:"message"`
	Model          string `json:"model,omitempty"`
	Thinking       string `json:"thinking,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// ChatSendResult is the chat.send payload.
type ChatSendResult struct {
	RunID  string `json:"runId"`
	Status string `json:"status"` // started, queued, error
}

// ChatSend starts or continues an agent conversation.
func (c *Client) ChatSend(ctx context.Context, req ChatSendRequest) (*ChatSendResult, error) {
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.New().String()
	}
	var result ChatSendResult
	if err := c.Call(ctx, "chat.send", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ChatAbort aborts an agent conversation.
func (c *Client) ChatAbort(ctx context.Context, sessionKey string) error {
	return c.Call(ctx, "chat.abort", map[string]string{"sessionKey": sessionKey}, nil)
}

// SessionInfo is one entry of the sessions.list payload.
type SessionInfo struct {
	Key          string    `json:"key"`
	Model        string    `json:"model"`
	UpdatedAt    time.Time `json:"updatedAt"`
	InputTokens  int64     `json:"inputTokens"`
	OutputTokens int64     `json:"outputTokens"`
	TotalTokens  int64     `json:"totalTokens"`
	Kind         string    `json:"kind"`
}

// SessionsList returns the gateway's known sessions.
func (c *Client) SessionsList(ctx context.Context, limit int) ([]SessionInfo, error) {
	params := map[string]interface{}{}
	if limit > 0 {
		params["limit"] = limit
	}
	var result struct {
		Sessions []SessionInfo `json:"sessions"`
	}
	if err := c.Call(ctx, "sessions.list", params, &result); err != nil {
		return nil, err
	}
	return result.Sessions, nil
}

// SessionPreviewItem is one transcript item in a session preview.
type SessionPreviewItem struct {
	Role  string `json:"role"`
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

// SessionPreview is one entry of the sessions.preview payload.
type SessionPreview struct {
	Key    string               `json:"key"`
	Status string               `json:"status"` // ok, empty, missing, error
	Items  []SessionPreviewItem `json:"items"`
}

// SessionsPreview fetches recent transcript items for the given session keys.
func (c *Client) SessionsPreview(ctx context.Context, keys []string, limit int) ([]SessionPreview, error) {
	var result struct {
		Previews []SessionPreview `json:"previews"`
	}
	params := map[string]interface{}{"keys": keys, "limit": limit}
	if err := c.Call(ctx, "sessions.preview", params, &result); err != nil {
		return nil, err
	}
	return result.Previews, nil
}

// SessionsReset resets a session's context.
func (c *Client) SessionsReset(ctx context.Context, sessionKey string) error {
	return c.Call(ctx, "sessions.reset", map[string]string{"sessionKey": sessionKey}, nil)
}

// SessionsCompact compacts a session's context.
func (c *Client) SessionsCompact(ctx context.Context, sessionKey string) error {
	return c.Call(ctx, "sessions.compact", map[string]string{"sessionKey": sessionKey}, nil)
}

// SessionsCancel cancels a session's in-flight run.
func (c *Client) SessionsCancel(ctx context.Context, sessionKey string) error {
	return c.Call(ctx, "sessions.cancel", map[string]string{"sessionKey": sessionKey}, nil)
}

// ConfigGet fetches the gateway's configuration document.
func (c *Client) ConfigGet(ctx context.Context) (map[string]interface{}, error) {
	var result map[string]interface{}
	if err := c.Call(ctx, "config.get", map[string]interface{}{}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// CronJob describes a scheduled job registered in the gateway.
type CronJob struct {
	ID       string `json:"id"`
	Schedule string `json:"schedule"`
	Command  string `json:"command"`
	Enabled  bool   `json:"enabled"`
}

// CronAdd registers (or replaces) a scheduled job.
func (c *Client) CronAdd(ctx context.Context, job CronJob) error {
	return c.Call(ctx, "cron.add", job, nil)
}
