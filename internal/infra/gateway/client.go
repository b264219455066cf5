// Package gateway is the HTTP client for the enterprise messaging gateway.
//
// Every app gets its own token bucket, circuit breaker and cached access
// token. Calls are retried briefly on transport and "busy" errors; longer
// outages are handled by the compensation sweep.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"notify-pipeline/internal/config"
	"notify-pipeline/internal/domain/entity"
	"notify-pipeline/internal/resilience/circuitbreaker"
	"notify-pipeline/internal/resilience/retry"
)

// Config contains HTTP settings for the gateway client.
type Config struct {
	BaseURL string
	// Timeout bounds a single HTTP round trip.
	Timeout time.Duration
	Retry   retry.Config
}

// AppSource resolves app credentials. *config.AppRegistry implements it.
type AppSource interface {
	Get(id string) (config.App, error)
}

// SendResult is the gateway's answer to a send.
type SendResult struct {
	TaskID            string
	RequestID         string
	InvalidRecipients []string
}

// RecallResult carries the raw gateway answer for the recall record.
type RecallResult struct {
	Raw string
}

// Status is the errcode envelope of every gateway response.
type Status struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

type Client struct {
	cfg        Config
	apps       AppSource
	httpClient *http.Client
	limiters   *limiterSet
	tokens     *tokenCache

	mu       sync.Mutex
	breakers map[string]*circuitbreaker.CircuitBreaker
}

func NewClient(cfg Config, apps AppSource) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.GatewayConfig()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:        cfg,
		apps:       apps,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiters:   newLimiterSet(),
		tokens:     newTokenCache(),
		breakers:   make(map[string]*circuitbreaker.CircuitBreaker),
	}
}

func (c *Client) breaker(appID string) *circuitbreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	cb, ok := c.breakers[appID]
	if !ok {
		cb = circuitbreaker.NewWithFilter(circuitbreaker.GatewayConfig(appID), IsBusinessError)
		c.breakers[appID] = cb
	}
	return cb
}

type sendResponse struct {
	Status
	MsgID       string `json:"msgid"`
	InvalidUser string `json:"invaliduser"`
}

// Send delivers msg to recipients (directory codes) in one gateway call.
func (c *Client) Send(ctx context.Context, appID string, recipients []string, msg Message) (*SendResult, error) {
	if len(recipients) == 0 {
		return nil, errors.New("send: no recipients")
	}
	app, err := c.apps.Get(appID)
	if err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}

	// content is keyed by msgtype
	payload := map[string]any{
		"touser":  strings.Join(recipients, "|"),
		"msgtype": msg.Type,
		"agentid": app.AgentID,
		msg.Type:  msg.Content,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal send payload: %w", err)
	}

	requestID := uuid.New().String()
	var resp sendResponse
	if err := c.call(ctx, app, "send", http.MethodPost, "/message/send", nil, requestID, jsonBody(body), &resp); err != nil {
		return nil, err
	}

	result := &SendResult{TaskID: resp.MsgID, RequestID: requestID}
	if resp.InvalidUser != "" {
		result.InvalidRecipients = strings.Split(resp.InvalidUser, "|")
		slog.Warn("Gateway reported invalid recipients",
			slog.String("app_id", appID),
			slog.String("request_id", requestID),
			slog.Int("invalid_count", len(result.InvalidRecipients)))
	}
	return result, nil
}

// Recall withdraws a sent message by its gateway task id.
func (c *Client) Recall(ctx context.Context, appID, taskID string) (*RecallResult, error) {
	app, err := c.apps.Get(appID)
	if err != nil {
		return nil, fmt.Errorf("recall: %w", err)
	}
	body, err := json.Marshal(map[string]string{"msgid": taskID})
	if err != nil {
		return nil, fmt.Errorf("marshal recall payload: %w", err)
	}

	var raw json.RawMessage
	if err := c.call(ctx, app, "recall", http.MethodPost, "/message/recall", nil, uuid.New().String(), jsonBody(body), &raw); err != nil {
		return nil, err
	}
	return &RecallResult{Raw: string(raw)}, nil
}

type uploadResponse struct {
	Status
	MediaID string `json:"media_id"`
}

// UploadMedia stores data at the gateway and returns the media id used as media_ref.
func (c *Client) UploadMedia(ctx context.Context, appID string, kind entity.MessageKind, filename string, data []byte) (string, error) {
	if !kind.NeedsMedia() {
		return "", &entity.ValidationError{Field: "kind", Message: fmt.Sprintf("%q does not carry media", kind)}
	}
	app, err := c.apps.Get(appID)
	if err != nil {
		return "", fmt.Errorf("upload media: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("media", filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	query := url.Values{"type": {string(kind)}}
	var resp uploadResponse
	err = c.call(ctx, app, "upload", http.MethodPost, "/media/upload", query, uuid.New().String(),
		requestBody{data: buf.Bytes(), contentType: mw.FormDataContentType()}, &resp)
	if err != nil {
		return "", err
	}
	return resp.MediaID, nil
}

// GetJSON calls a read endpoint with the app's token. The directory client uses it.
func (c *Client) GetJSON(ctx context.Context, appID, path string, query url.Values, out any) error {
	app, err := c.apps.Get(appID)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	return c.call(ctx, app, "get", http.MethodGet, path, query, uuid.New().String(), requestBody{}, out)
}

// PostJSON calls a JSON endpoint with the app's token.
func (c *Client) PostJSON(ctx context.Context, appID, path string, payload, out any) error {
	app, err := c.apps.Get(appID)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", path, err)
	}
	return c.call(ctx, app, "post", http.MethodPost, path, nil, uuid.New().String(), jsonBody(body), out)
}

type requestBody struct {
	data        []byte
	contentType string
}

func jsonBody(b []byte) requestBody {
	return requestBody{data: b, contentType: "application/json"}
}

// call runs one API operation: rate limit, then breaker, then retry around
// the HTTP round trip. A rejected token is dropped and fetched again on the
// next attempt.
func (c *Client) call(ctx context.Context, app config.App, op, method, path string, query url.Values, requestID string, body requestBody, out any) error {
	waited, err := c.limiters.wait(ctx, app.ID, app.RatePerSecond, app.Burst)
	gatewayRateLimitWait.WithLabelValues(app.ID).Observe(waited.Seconds())
	if err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}

	start := time.Now()
	_, err = circuitbreaker.Call(c.breaker(app.ID), func() (struct{}, error) {
		return struct{}{}, retry.WithBackoff(ctx, c.cfg.Retry, func() error {
			token, err := c.accessToken(ctx, app)
			if err != nil {
				return err
			}
			err = c.roundTrip(ctx, method, path, query, token, requestID, body, out)
			var gwErr *Error
			if errors.As(err, &gwErr) && gwErr.tokenRejected() {
				c.tokens.invalidate(app.ID)
			}
			return err
		})
	})

	status := "success"
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		status = "circuit_open"
	case err != nil:
		status = "failure"
	}
	recordCall(app.ID, op, status, time.Since(start))

	if err != nil {
		slog.Warn("Gateway call failed",
			slog.String("app_id", app.ID),
			slog.String("op", op),
			slog.String("request_id", requestID),
			slog.Any("error", err))
		return fmt.Errorf("gateway %s: %w", op, err)
	}
	return nil
}

type tokenResponse struct {
	Status
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (c *Client) accessToken(ctx context.Context, app config.App) (string, error) {
	if token, ok := c.tokens.get(app.ID); ok {
		return token, nil
	}

	query := url.Values{"corpid": {app.CorpID}, "corpsecret": {app.Secret}}
	var resp tokenResponse
	if err := c.roundTrip(ctx, http.MethodGet, "/gettoken", query, "", "", requestBody{}, &resp); err != nil {
		gatewayTokenRefreshTotal.WithLabelValues(app.ID, "failure").Inc()
		return "", fmt.Errorf("fetch access token: %w", err)
	}
	ttl := time.Duration(resp.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	c.tokens.put(app.ID, resp.AccessToken, ttl)
	gatewayTokenRefreshTotal.WithLabelValues(app.ID, "success").Inc()
	return resp.AccessToken, nil
}

// roundTrip performs one HTTP request and decodes the errcode envelope.
func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, token, requestID string, body requestBody, out any) error {
	q := url.Values{}
	for k, v := range query {
		q[k] = v
	}
	if token != "" {
		q.Set("access_token", token)
	}
	endpoint := c.cfg.BaseURL + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	var reader io.Reader
	if body.data != nil {
		reader = bytes.NewReader(body.data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create http request: %w", redact(err))
	}
	if body.contentType != "" {
		req.Header.Set("Content-Type", body.contentType)
	}
	if requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute http request: %w", redact(err))
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: retryAfter(resp)}
	case resp.StatusCode >= 500:
		return &ServerError{StatusCode: resp.StatusCode, Message: string(raw)}
	case resp.StatusCode >= 400:
		return &ClientError{StatusCode: resp.StatusCode, Message: string(raw)}
	}

	var status Status
	if err := json.Unmarshal(raw, &status); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if status.ErrCode != 0 {
		return &Error{Code: status.ErrCode, Message: status.ErrMsg}
	}
	if out == nil {
		return nil
	}
	if rawOut, ok := out.(*json.RawMessage); ok {
		*rawOut = append((*rawOut)[:0], raw...)
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// retryAfter reads the Retry-After header in seconds (default 5s).
func retryAfter(resp *http.Response) time.Duration {
	if h := resp.Header.Get("Retry-After"); h != "" {
		if seconds, err := strconv.Atoi(h); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return 5 * time.Second
}

// redact strips the query string, which carries the access token or app
// secret, from URLs embedded in transport errors.
func redact(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		if i := strings.IndexByte(ue.URL, '?'); i >= 0 {
			ue.URL = ue.URL[:i]
		}
	}
	return err
}
