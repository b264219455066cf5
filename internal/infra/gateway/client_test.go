package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notify-pipeline/internal/config"
	"notify-pipeline/internal/domain/entity"
	"notify-pipeline/internal/resilience/retry"
)

type stubApps map[string]config.App

func (s stubApps) Get(id string) (config.App, error) {
	app, ok := s[id]
	if !ok {
		return config.App{}, &entity.NotFoundError{Resource: "app", Key: id}
	}
	return app, nil
}

func testApps() stubApps {
	return stubApps{"hr": {
		ID: "hr", CorpID: "corp1", AgentID: 1000002, Secret: "s3cret",
		RatePerSecond: 1000, Burst: 1000,
	}}
}

func testClient(baseURL string) *Client {
	return NewClient(Config{
		BaseURL: baseURL,
		Timeout: 2 * time.Second,
		Retry: retry.Config{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2,
		},
	}, testApps())
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

// gatewayServer serves /gettoken and delegates everything else to handler.
func gatewayServer(t *testing.T, tokenCalls *int32, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/gettoken" {
			n := atomic.AddInt32(tokenCalls, 1)
			assert.Equal(t, "corp1", r.URL.Query().Get("corpid"))
			assert.Equal(t, "s3cret", r.URL.Query().Get("corpsecret"))
			writeJSON(t, w, map[string]any{
				"errcode": 0, "errmsg": "ok",
				"access_token": "tok" + string(rune('0'+n)), "expires_in": 7200,
			})
			return
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Send(t *testing.T) {
	var tokenCalls int32
	var got map[string]any
	srv := gatewayServer(t, &tokenCalls, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/message/send", r.URL.Path)
		assert.Equal(t, "tok1", r.URL.Query().Get("access_token"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(t, w, map[string]any{"errcode": 0, "errmsg": "ok", "msgid": "task-1", "invaliduser": "ghost"})
	})

	c := testClient(srv.URL)
	res, err := c.Send(context.Background(), "hr", []string{"alice", "bob", "ghost"},
		Message{Type: "text", Content: textContent{Content: "hi"}})
	require.NoError(t, err)

	assert.Equal(t, "task-1", res.TaskID)
	assert.NotEmpty(t, res.RequestID)
	assert.Equal(t, []string{"ghost"}, res.InvalidRecipients)

	assert.Equal(t, "alice|bob|ghost", got["touser"])
	assert.Equal(t, "text", got["msgtype"])
	assert.EqualValues(t, 1000002, got["agentid"])
	assert.Equal(t, map[string]any{"content": "hi"}, got["text"])
}

func TestClient_ReusesCachedToken(t *testing.T) {
	var tokenCalls int32
	srv := gatewayServer(t, &tokenCalls, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"errcode": 0, "errmsg": "ok", "msgid": "t"})
	})

	c := testClient(srv.URL)
	msg := Message{Type: "text", Content: textContent{Content: "hi"}}
	for i := 0; i < 3; i++ {
		_, err := c.Send(context.Background(), "hr", []string{"alice"}, msg)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&tokenCalls))
}

func TestClient_RefreshesRejectedToken(t *testing.T) {
	var tokenCalls, sends int32
	srv := gatewayServer(t, &tokenCalls, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&sends, 1) == 1 {
			writeJSON(t, w, map[string]any{"errcode": CodeTokenExpired, "errmsg": "access_token expired"})
			return
		}
		assert.Equal(t, "tok2", r.URL.Query().Get("access_token"))
		writeJSON(t, w, map[string]any{"errcode": 0, "errmsg": "ok", "msgid": "t"})
	})

	c := testClient(srv.URL)
	_, err := c.Send(context.Background(), "hr", []string{"alice"}, Message{Type: "text", Content: textContent{Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&tokenCalls))
	assert.Equal(t, int32(2), atomic.LoadInt32(&sends))
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var tokenCalls, sends int32
	srv := gatewayServer(t, &tokenCalls, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&sends, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(t, w, map[string]any{"errcode": 0, "errmsg": "ok", "msgid": "t"})
	})

	c := testClient(srv.URL)
	_, err := c.Send(context.Background(), "hr", []string{"alice"}, Message{Type: "text", Content: textContent{Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&sends))
}

func TestClient_BusinessErrorIsNotRetried(t *testing.T) {
	var tokenCalls, sends int32
	srv := gatewayServer(t, &tokenCalls, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&sends, 1)
		writeJSON(t, w, map[string]any{"errcode": 81013, "errmsg": "user, department and tag all invalid"})
	})

	c := testClient(srv.URL)
	_, err := c.Send(context.Background(), "hr", []string{"ghost"}, Message{Type: "text", Content: textContent{Content: "hi"}})
	require.Error(t, err)

	var gwErr *Error
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, 81013, gwErr.Code)
	assert.True(t, IsBusinessError(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&sends))
}

func TestClient_Send_Validation(t *testing.T) {
	c := testClient("http://127.0.0.1:0")

	_, err := c.Send(context.Background(), "hr", nil, Message{Type: "text"})
	assert.Error(t, err)

	_, err = c.Send(context.Background(), "unknown", []string{"a"}, Message{Type: "text"})
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestClient_Recall(t *testing.T) {
	var tokenCalls int32
	srv := gatewayServer(t, &tokenCalls, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/message/recall", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"msgid":"task-9"}`, string(body))
		_, _ = w.Write([]byte(`{"errcode":0,"errmsg":"ok"}`))
	})

	c := testClient(srv.URL)
	res, err := c.Recall(context.Background(), "hr", "task-9")
	require.NoError(t, err)
	assert.JSONEq(t, `{"errcode":0,"errmsg":"ok"}`, res.Raw)
}

func TestClient_UploadMedia(t *testing.T) {
	var tokenCalls int32
	srv := gatewayServer(t, &tokenCalls, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/media/upload", r.URL.Path)
		assert.Equal(t, "image", r.URL.Query().Get("type"))

		file, header, err := r.FormFile("media")
		require.NoError(t, err)
		defer func() { _ = file.Close() }()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "banner.png", header.Filename)
		assert.Equal(t, []byte("PNG"), data)

		writeJSON(t, w, map[string]any{"errcode": 0, "errmsg": "ok", "type": "image", "media_id": "MEDIA1"})
	})

	c := testClient(srv.URL)
	id, err := c.UploadMedia(context.Background(), "hr", entity.KindImage, "banner.png", []byte("PNG"))
	require.NoError(t, err)
	assert.Equal(t, "MEDIA1", id)

	_, err = c.UploadMedia(context.Background(), "hr", entity.KindText, "x.txt", []byte("x"))
	assert.True(t, entity.IsValidation(err))
}

func TestClient_TransportErrorsAreRedacted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	baseURL := srv.URL
	srv.Close()

	c := testClient(baseURL)
	c.cfg.Retry.MaxAttempts = 1
	_, err := c.Send(context.Background(), "hr", []string{"alice"}, Message{Type: "text", Content: textContent{Content: "hi"}})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "s3cret")
	assert.NotContains(t, err.Error(), "corpsecret")
}

func TestClient_RateLimitResponse(t *testing.T) {
	var tokenCalls int32
	srv := gatewayServer(t, &tokenCalls, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	c := testClient(srv.URL)
	c.cfg.Retry.MaxAttempts = 1
	err := c.GetJSON(context.Background(), "hr", "/user/get", nil, nil)

	var rl *RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, 7*time.Second, rl.RetryAfter)
	assert.False(t, IsBusinessError(err))
}

func TestClient_PostJSON(t *testing.T) {
	var tokenCalls int32
	srv := gatewayServer(t, &tokenCalls, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/user/getuserid", r.URL.Path)
		assert.True(t, strings.HasPrefix(r.Header.Get("Content-Type"), "application/json"))
		writeJSON(t, w, map[string]any{"errcode": 0, "errmsg": "ok", "userid": "u-1"})
	})

	c := testClient(srv.URL)
	var out struct {
		UserID string `json:"userid"`
	}
	require.NoError(t, c.PostJSON(context.Background(), "hr", "/user/getuserid", map[string]string{"mobile": "13800000000"}, &out))
	assert.Equal(t, "u-1", out.UserID)
}

func TestTokenCache_RefreshMargin(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newTokenCache()
	c.now = func() time.Time { return now }

	c.put("hr", "tok", 10*time.Minute)
	_, ok := c.get("hr")
	assert.True(t, ok)

	now = now.Add(6 * time.Minute)
	_, ok = c.get("hr")
	assert.False(t, ok, "token inside the refresh margin must be refetched")

	c.put("hr", "tok", time.Hour)
	c.invalidate("hr")
	_, ok = c.get("hr")
	assert.False(t, ok)
}

func TestRateLimiter_ContextCancelled(t *testing.T) {
	l := NewRateLimiter(0.001, 1)
	require.NoError(t, l.Allow(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, l.Allow(ctx))
}
