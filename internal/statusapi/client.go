// Package statusapi talks to the status source: HTTP pulls, remote commands and the
// WebSocket push stream.
package statusapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/validaoxyz/ephemery-sync-exporter/internal/cache"
	"github.com/validaoxyz/ephemery-sync-exporter/internal/logger"
	"github.com/validaoxyz/ephemery-sync-exporter/internal/telemetry"
)

const (
	CommandRestartConsensus = "restart-consensus"
	CommandCheckSyncSources = "check-sync-sources"
	CommandRunFixScript     = "run-fix-script"
)

type commandRoute struct {
	method string
	path   string
}

var commandRoutes = map[string]commandRoute{
	CommandRestartConsensus: {http.MethodPost, "/api/restart/lighthouse"},
	CommandCheckSyncSources: {http.MethodGet, "/api/check-sync-urls"},
	CommandRunFixScript:     {http.MethodPost, "/api/run-fix-script"},
}

// Commands lists the remote commands in a stable order.
func Commands() []string {
	return []string{CommandRestartConsensus, CommandCheckSyncSources, CommandRunFixScript}
}

type Options struct {
	BaseURL         string
	RequestTimeout  time.Duration
	CommandTimeout  time.Duration
	Retries         int
	RetryBackoff    time.Duration
	HistoryCacheTTL time.Duration
}

// CommandResult is the {success, output|error} answer of a remote command.
type CommandResult struct {
	Command string `json:"command"`
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Client is the pull side of the status source.
type Client struct {
	client  *http.Client
	baseURL string
	opts    Options

	// last good history answer per query, served when a refetch fails
	history *cache.LRU[string, []telemetry.RawSnapshot]
}

func NewClient(opts Options) *Client {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 5 * time.Minute
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = time.Second
	}
	if opts.HistoryCacheTTL <= 0 {
		opts.HistoryCacheTTL = time.Minute
	}
	return &Client{
		client:  &http.Client{},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		opts:    opts,
		history: cache.NewLRU[string, []telemetry.RawSnapshot](16, opts.HistoryCacheTTL),
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

// Status fetches the current snapshot. A {"success": false} answer is returned as-is;
// callers check RawSnapshot.Failed.
func (c *Client) Status(ctx context.Context) (telemetry.RawSnapshot, error) {
	v, err := c.get(ctx, "/api/status", nil)
	if err != nil {
		return telemetry.RawSnapshot{}, err
	}
	raw, err := telemetry.SnapshotFromValue(v)
	if err != nil {
		return telemetry.RawSnapshot{}, fmt.Errorf("status: %w", err)
	}
	return raw, nil
}

// History fetches snapshots from the last days days (0 = everything the source has).
func (c *Client) History(ctx context.Context, days int) ([]telemetry.RawSnapshot, error) {
	q := url.Values{}
	if days > 0 {
		q.Set("days", strconv.Itoa(days))
	}
	return c.fetchHistory(ctx, q)
}

// HistoryLimit fetches at most the newest limit snapshots.
func (c *Client) HistoryLimit(ctx context.Context, limit int) ([]telemetry.RawSnapshot, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.fetchHistory(ctx, q)
}

func (c *Client) fetchHistory(ctx context.Context, q url.Values) ([]telemetry.RawSnapshot, error) {
	key := q.Encode()
	if cached, fresh, found := c.history.Peek(key); found && fresh {
		logger.DebugComponent("poll", "Using cached history for %q", key)
		return cached, nil
	}

	v, err := c.get(ctx, "/api/history", q)
	if err == nil {
		err = historyFailure(v)
	}
	if err != nil {
		if stale, _, found := c.history.Peek(key); found {
			logger.WarningComponent("poll", "History fetch failed, using stale cache: %v", err)
			return stale, nil
		}
		return nil, err
	}

	snapshots := telemetry.SnapshotsFromValue(v)
	c.history.Set(key, snapshots)
	return snapshots, nil
}

// the history endpoint answers an array, or an object with success=false
func historyFailure(v interface{}) error {
	if _, ok := v.([]interface{}); ok {
		return nil
	}
	raw, err := telemetry.SnapshotFromValue(v)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	if msg, failed := raw.Failed(); failed {
		return fmt.Errorf("history: %s", msg)
	}
	return errors.New("history: unexpected response shape")
}

func (c *Client) RestartConsensusClient(ctx context.Context) (CommandResult, error) {
	return c.Run(ctx, CommandRestartConsensus)
}

func (c *Client) CheckSyncSources(ctx context.Context) (CommandResult, error) {
	return c.Run(ctx, CommandCheckSyncSources)
}

func (c *Client) RunFixScript(ctx context.Context) (CommandResult, error) {
	return c.Run(ctx, CommandRunFixScript)
}

// Run issues a remote command once. A command the source reports as failed yields a
// *RemoteCommandError alongside the result; commands are never retried.
func (c *Client) Run(ctx context.Context, command string) (CommandResult, error) {
	route, ok := commandRoutes[command]
	if !ok {
		return CommandResult{}, fmt.Errorf("unknown command %q", command)
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.CommandTimeout)
	defer cancel()

	logger.InfoComponent("system", "Running remote command %s", command)
	v, err := c.do(ctx, route.method, route.path, nil)
	if err != nil {
		var se *StatusError
		if !errors.As(err, &se) {
			return CommandResult{Command: command}, err
		}
		// the source still answers {success:false,error} with error statuses
		if v == nil {
			return CommandResult{Command: command, Error: se.Message}, &RemoteCommandError{Command: command, Message: se.Error()}
		}
	}

	m, _ := v.(map[string]interface{})
	res := CommandResult{Command: command}
	res.Success, _ = m["success"].(bool)
	res.Output, _ = m["output"].(string)
	res.Error, _ = m["error"].(string)
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "no error message"
		}
		return res, &RemoteCommandError{Command: command, Message: msg}
	}
	return res, nil
}

// get retries transport failures and 5xx answers with quadratic backoff.
func (c *Client) get(ctx context.Context, path string, q url.Values) (interface{}, error) {
	var lastErr error
	for attempt := 0; attempt < c.opts.Retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*attempt) * c.opts.RetryBackoff
			logger.DebugComponent("poll", "Retrying %s after %v (attempt %d/%d)", path, backoff, attempt+1, c.opts.Retries)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		reqCtx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
		v, err := c.do(reqCtx, http.MethodGet, path, q)
		cancel()
		if err == nil {
			return v, nil
		}
		lastErr = err

		var se *StatusError
		if errors.As(err, &se) && !se.retryable() {
			return v, err
		}
	}
	return nil, fmt.Errorf("%s failed after %d attempts: %w", path, c.opts.Retries, lastErr)
}

// do performs one request. On an error status it still returns the decoded body when
// there is one, together with a *StatusError.
func (c *Client) do(ctx context.Context, method, path string, q url.Values) (interface{}, error) {
	target := c.baseURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json, application/msgpack")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "read", URL: target, Err: err}
	}

	v, decodeErr := decodeBody(resp.Header.Get("Content-Type"), body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Code: resp.StatusCode}
		if m, ok := v.(map[string]interface{}); ok {
			se.Message, _ = m["error"].(string)
		}
		if se.Message == "" && decodeErr != nil {
			se.Message = strings.TrimSpace(string(body))
		}
		return v, se
	}
	if decodeErr != nil {
		return nil, &TransportError{Op: "decode", URL: target, Err: decodeErr}
	}
	return v, nil
}

func decodeBody(contentType string, body []byte) (interface{}, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch mediaType {
	case "application/msgpack", "application/x-msgpack", "application/vnd.msgpack":
		return telemetry.DecodeMsgpack(body)
	}
	return telemetry.DecodeJSON(bytes.NewReader(body))
}
