package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traphq/trap/internal/common/config"
	"github.com/traphq/trap/internal/common/logger"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewClient(config.GatewayConfig{HTTPURL: srv.URL, Timeout: 2}, logger.Default())
	return client, srv
}

func okHandler(payload interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		data, _ := json.Marshal(payload)
		_ = json.NewEncoder(w).Encode(rpcResponse{
			Type:    "res",
			ID:      req.ID,
			OK:      true,
			Payload: data,
		})
	}
}

func TestCallSuccess(t *testing.T) {
	client, _ := newTestClient(t, okHandler(map[string]string{"runId": "r1", "status": "started"}))

	result, err := client.ChatSend(context.Background(), ChatSendRequest{
		SessionKey: "workloop:dev:abc",
		Message:    "do the thing",
	})
	require.NoError(t, err)
	assert.Equal(t, "r1", result.RunID)
	assert.Equal(t, "started", result.Status)
	assert.Equal(t, 0, client.ConsecutiveFailures())
}

func TestCallSendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		okHandler(nil)(w, r)
	}))
	defer srv.Close()

	client := NewClient(config.GatewayConfig{HTTPURL: srv.URL, Token: "sekrit"}, logger.Default())
	require.NoError(t, client.Call(context.Background(), "config.get", nil, nil))
	assert.Equal(t, "Bearer sekrit", gotAuth)
}

func TestCallSemanticErrorDoesNotTrip(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(rpcResponse{Type: "res", OK: false, Error: "unknown session"})
	})

	err := client.Call(context.Background(), "chat.abort", map[string]string{"sessionKey": "x"}, nil)
	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, "chat.abort", gwErr.Method)
	assert.Equal(t, 0, client.ConsecutiveFailures())
}

func TestCallBackoffSchedule(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	base := time.Now()
	clock := base
	client.now = func() time.Time { return clock }

	expected := []time.Duration{5, 10, 20, 40, 60, 60}
	for i, want := range expected {
		err := client.Call(context.Background(), "chat.send", nil, nil)
		require.ErrorIs(t, err, ErrUnavailable)
		assert.Equal(t, i+1, client.ConsecutiveFailures())
		assert.Equal(t, clock.Add(want*time.Second), client.nextAttempt, "failure %d", i+1)
		// Step past the window so the next call reaches the wire.
		clock = client.nextAttempt
	}
}

func TestCallBackoffStaysCappedOnLongOutage(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	clock := time.Now()
	client.now = func() time.Time { return clock }

	for i := 0; i < 80; i++ {
		before := clock
		err := client.Call(context.Background(), "chat.send", nil, nil)
		require.ErrorIs(t, err, ErrUnavailable)
		require.False(t, client.nextAttempt.Before(before),
			"failure %d: backoff window collapsed", i+1)
		if i >= 4 {
			require.Equal(t, before.Add(60*time.Second), client.nextAttempt,
				"failure %d", i+1)
		}
		clock = client.nextAttempt
	}
	assert.Equal(t, 80, client.ConsecutiveFailures())
}

func TestCallShortCircuitsDuringBackoff(t *testing.T) {
	calls := 0
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	})

	clock := time.Now()
	client.now = func() time.Time { return clock }

	require.ErrorIs(t, client.Call(context.Background(), "chat.send", nil, nil), ErrUnavailable)
	require.Equal(t, 1, calls)

	// Within the window: no network I/O.
	err := client.Call(context.Background(), "chat.send", nil, nil)
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, client.ConsecutiveFailures())
}

func TestCallResetsAfterSuccess(t *testing.T) {
	fail := true
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		okHandler(nil)(w, r)
	})

	clock := time.Now()
	client.now = func() time.Time { return clock }

	require.Error(t, client.Call(context.Background(), "chat.send", nil, nil))
	require.Error(t, func() error {
		clock = client.nextAttempt
		return client.Call(context.Background(), "chat.send", nil, nil)
	}())
	assert.Equal(t, 2, client.ConsecutiveFailures())

	fail = false
	clock = client.nextAttempt
	require.NoError(t, client.Call(context.Background(), "chat.send", nil, nil))
	assert.Equal(t, 0, client.ConsecutiveFailures())

	// Streak starts over at 5s after the reset.
	fail = true
	require.Error(t, client.Call(context.Background(), "chat.send", nil, nil))
	assert.Equal(t, clock.Add(5*time.Second), client.nextAttempt)
}

func TestCallHonorsRetryAfter(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "17")
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	clock := time.Now()
	client.now = func() time.Time { return clock }

	require.ErrorIs(t, client.Call(context.Background(), "chat.send", nil, nil), ErrUnavailable)
	assert.Equal(t, clock.Add(18*time.Second), client.nextAttempt)
}

func TestCallClientErrorDoesNotTrip(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	err := client.Call(context.Background(), "chat.send", nil, nil)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnavailable))
	assert.Equal(t, 0, client.ConsecutiveFailures())
}
