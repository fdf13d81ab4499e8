package acquisition

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/validaoxyz/ephemery-sync-exporter/internal/logger"
	"github.com/validaoxyz/ephemery-sync-exporter/internal/telemetry"
)

// Conn is one open push-stream connection. Read blocks until the next message or until
// the connection fails or is closed. RequestHistory may be called concurrently with Read.
type Conn interface {
	Read() (telemetry.PushMessage, error)
	RequestHistory(days int) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Poller is the pull side of the status source.
type Poller interface {
	Status(ctx context.Context) (telemetry.RawSnapshot, error)
	History(ctx context.Context, days int) ([]telemetry.RawSnapshot, error)
}

// Sink receives normalized samples in application order. seq increases with every
// application decision; ApplyHistory may reject a seq older than the last applied one.
type Sink interface {
	ApplyLive(seq uint64, sample telemetry.Sample) error
	ApplyHistory(seq uint64, samples []telemetry.Sample) error
	SetConnection(state telemetry.ConnectionState, attempts int)
	ReportError(err error)
}

type Options struct {
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	FallbackPollInterval time.Duration
	HistoryDays          int
	RequestTimeout       time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxReconnectAttempts: 5,
		ReconnectDelay:       3 * time.Second,
		FallbackPollInterval: 5 * time.Second,
		HistoryDays:          1,
		RequestTimeout:       10 * time.Second,
	}
}

type event interface{}

type dialResult struct {
	session uint64
	conn    Conn
	err     error
}

type frameEvent struct {
	session uint64
	msg     telemetry.PushMessage
}

type connClosed struct {
	session uint64
	err     error
}

type statusResult struct {
	raw      telemetry.RawSnapshot
	received time.Time
	err      error
}

type historyResult struct {
	seq      uint64
	raws     []telemetry.RawSnapshot
	received time.Time
	err      error
}

type request struct {
	refresh bool
	days    int
}

// Controller runs the acquisition loop. All state below the channels is owned by the
// Run goroutine; helpers doing network I/O post their results back as events.
type Controller struct {
	opts   Options
	dialer Dialer
	poller Poller
	sink   Sink
	now    func() time.Time

	events   chan event
	requests chan request
	done     chan struct{}
	postMu   sync.RWMutex // held by posters; shutdown takes it once so nothing enqueues after the drain

	ctx     context.Context
	machine Machine
	conn    Conn
	session uint64
	seq     uint64
	retry   *time.Timer
	retryC  <-chan time.Time
	poll    *time.Ticker
	pollC   <-chan time.Time
}

func NewController(opts Options, dialer Dialer, poller Poller, sink Sink) *Controller {
	def := DefaultOptions()
	if opts.MaxReconnectAttempts < 0 {
		opts.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = def.ReconnectDelay
	}
	if opts.FallbackPollInterval <= 0 {
		opts.FallbackPollInterval = def.FallbackPollInterval
	}
	if opts.HistoryDays <= 0 {
		opts.HistoryDays = def.HistoryDays
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = def.RequestTimeout
	}
	return &Controller{
		opts:     opts,
		dialer:   dialer,
		poller:   poller,
		sink:     sink,
		now:      time.Now,
		events:   make(chan event, 16),
		requests: make(chan request, 4),
		done:     make(chan struct{}),
		machine:  NewMachine(opts.MaxReconnectAttempts),
	}
}

// Refresh asks the loop for one extra status pull.
func (c *Controller) Refresh() {
	c.submit(request{refresh: true})
}

// RequestHistory asks for a backfill of the given number of days, over the push stream
// when connected and over HTTP otherwise.
func (c *Controller) RequestHistory(days int) {
	if days <= 0 {
		days = c.opts.HistoryDays
	}
	c.submit(request{days: days})
}

func (c *Controller) submit(r request) {
	select {
	case c.requests <- r:
	case <-c.done:
	}
}

// post hands ev to the loop and reports whether it was queued before shutdown.
func (c *Controller) post(ev event) bool {
	c.postMu.RLock()
	defer c.postMu.RUnlock()

	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

// shutdown stops intake and closes any connection still queued in a dial result.
func (c *Controller) shutdown() {
	close(c.done)
	// posters that saw done open finish before this returns
	c.postMu.Lock()
	c.postMu.Unlock()

	for {
		select {
		case ev := <-c.events:
			if d, ok := ev.(dialResult); ok && d.conn != nil {
				closeConn(d.conn)
			}
		default:
			return
		}
	}
}

func closeConn(conn Conn) {
	if err := conn.Close(); err != nil {
		logger.DebugComponent("transport", "Close: %v", err)
	}
}

// Run drives the controller until ctx is cancelled. It can be called once.
func (c *Controller) Run(ctx context.Context) error {
	c.ctx = ctx
	defer c.shutdown()

	logger.InfoComponent("transport", "Starting acquisition (max reconnects %d, retry delay %v, poll interval %v)",
		c.opts.MaxReconnectAttempts, c.opts.ReconnectDelay, c.opts.FallbackPollInterval)

	c.issuePoll()
	c.fire(TriggerStart)

	for {
		select {
		case <-ctx.Done():
			c.fire(TriggerStop)
			return nil

		case ev := <-c.events:
			c.handle(ev)

		case <-c.retryC:
			c.retryC = nil
			c.fire(TriggerRetryElapsed)

		case <-c.pollC:
			c.issuePoll()

		case r := <-c.requests:
			if r.refresh {
				c.issuePoll()
			} else {
				c.backfill(r.days)
			}
		}
	}
}

func (c *Controller) fire(t Trigger) {
	prev := c.machine
	next, actions := c.machine.Next(t)
	c.machine = next

	if prev.State != next.State {
		logger.InfoComponent("transport", "Connection %s -> %s (%s, attempt %d/%d)",
			prev.State, next.State, t, next.Attempts, next.MaxAttempts)
	}
	for _, a := range actions {
		c.perform(a)
	}
	if prev.State != next.State || prev.Attempts != next.Attempts {
		c.sink.SetConnection(next.State, next.Attempts)
	}
}

func (c *Controller) perform(a Action) {
	switch a {
	case ActionDial:
		c.session++
		session := c.session
		go func() {
			ctx, cancel := context.WithTimeout(c.ctx, c.opts.RequestTimeout)
			defer cancel()
			conn, err := c.dialer.Dial(ctx)
			if !c.post(dialResult{session: session, conn: conn, err: err}) && conn != nil {
				closeConn(conn)
			}
		}()

	case ActionScheduleRetry:
		c.stopRetry()
		c.retry = time.NewTimer(c.opts.ReconnectDelay)
		c.retryC = c.retry.C
		logger.DebugComponent("transport", "Reconnecting in %v (attempt %d/%d)",
			c.opts.ReconnectDelay, c.machine.Attempts, c.machine.MaxAttempts)

	case ActionCancelRetry:
		c.stopRetry()

	case ActionRequestBackfill:
		c.backfill(c.opts.HistoryDays)

	case ActionStartPolling:
		if c.poll == nil {
			c.poll = time.NewTicker(c.opts.FallbackPollInterval)
			c.pollC = c.poll.C
			logger.WarningComponent("poll", "Push stream unavailable, polling every %v", c.opts.FallbackPollInterval)
		}

	case ActionStopPolling:
		if c.poll != nil {
			c.poll.Stop()
			c.poll = nil
			c.pollC = nil
		}

	case ActionCloseConn:
		// bumping the session makes the old reader's close event stale
		c.session++
		if c.conn != nil {
			closeConn(c.conn)
			c.conn = nil
		}
	}
}

func (c *Controller) stopRetry() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	c.retryC = nil
}

func (c *Controller) handle(ev event) {
	switch e := ev.(type) {
	case dialResult:
		if e.session != c.session || c.machine.State != telemetry.Connecting {
			if e.conn != nil {
				closeConn(e.conn)
			}
			return
		}
		if e.err != nil {
			logger.WarningComponent("transport", "Dial failed: %v", e.err)
			c.sink.ReportError(e.err)
			c.fire(TriggerClosed)
			return
		}
		c.conn = e.conn
		go c.readLoop(e.session, e.conn)
		c.fire(TriggerOpened)

	case frameEvent:
		if e.session != c.session {
			return
		}
		c.handleFrame(e.msg)

	case connClosed:
		if e.session != c.session {
			return
		}
		logger.WarningComponent("transport", "Connection lost: %v", e.err)
		c.sink.ReportError(e.err)
		c.fire(TriggerClosed)

	case statusResult:
		if e.err != nil {
			logger.WarningComponent("poll", "Status pull failed: %v", e.err)
			c.sink.ReportError(e.err)
			return
		}
		if msg, failed := e.raw.Failed(); failed {
			err := fmt.Errorf("status source reported failure: %s", msg)
			logger.WarningComponent("poll", "%v", err)
			c.sink.ReportError(err)
			return
		}
		c.applyLive(e.raw, e.received)

	case historyResult:
		if e.err != nil {
			logger.WarningComponent("poll", "History pull failed: %v", e.err)
			c.sink.ReportError(e.err)
			return
		}
		c.applyHistory(e.seq, e.raws, e.received)
	}
}

func (c *Controller) handleFrame(msg telemetry.PushMessage) {
	switch msg.Action {
	case "":
		c.applyLive(msg.Snapshot, c.now())
	case telemetry.ActionHistoryData:
		// the stream is ordered, so receipt order is application order
		c.seq++
		c.applyHistory(c.seq, msg.History, c.now())
	case telemetry.ActionError:
		err := fmt.Errorf("status source: %s", msg.Message)
		logger.WarningComponent("transport", "%v", err)
		c.sink.ReportError(err)
	default:
		logger.DebugComponent("transport", "Ignoring push message with action %q", msg.Action)
	}
}

func (c *Controller) applyLive(raw telemetry.RawSnapshot, received time.Time) {
	sample, errs := telemetry.Normalize(raw, received)
	c.reportParseErrors(errs)
	c.seq++
	if err := c.sink.ApplyLive(c.seq, sample); err != nil {
		logger.DebugComponent("transport", "Live sample not applied: %v", err)
	}
}

func (c *Controller) applyHistory(seq uint64, raws []telemetry.RawSnapshot, received time.Time) {
	samples, errs := telemetry.NormalizeAll(raws, received)
	c.reportParseErrors(errs)
	if err := c.sink.ApplyHistory(seq, samples); err != nil {
		logger.DebugComponent("transport", "Backfill not applied: %v", err)
		return
	}
	logger.InfoComponent("transport", "Applied backfill of %d samples", len(samples))
}

func (c *Controller) reportParseErrors(errs []error) {
	for _, err := range errs {
		logger.DebugComponent("transport", "Parse: %v", err)
		c.sink.ReportError(err)
	}
}

func (c *Controller) readLoop(session uint64, conn Conn) {
	for {
		msg, err := conn.Read()
		if err != nil {
			c.post(connClosed{session: session, err: err})
			return
		}
		c.post(frameEvent{session: session, msg: msg})
	}
}

func (c *Controller) issuePoll() {
	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, c.opts.RequestTimeout)
		defer cancel()
		raw, err := c.poller.Status(ctx)
		c.post(statusResult{raw: raw, received: c.now(), err: err})
	}()
}

func (c *Controller) backfill(days int) {
	if c.machine.State == telemetry.Connected && c.conn != nil {
		conn := c.conn
		go func() {
			if err := conn.RequestHistory(days); err != nil {
				logger.WarningComponent("transport", "History request failed: %v", err)
			}
		}()
		return
	}

	// tagged at request time; a slower response loses to anything applied meanwhile
	c.seq++
	seq := c.seq
	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, c.opts.RequestTimeout)
		defer cancel()
		raws, err := c.poller.History(ctx, days)
		c.post(historyResult{seq: seq, raws: raws, received: c.now(), err: err})
	}()
}
