package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	spooled "github.com/spooled/spooled-sdk-go"
	"github.com/spooled/spooled-sdk-go/auth"
	"github.com/spooled/spooled-sdk-go/casewire"
	"github.com/spooled/spooled-sdk-go/config"
	"github.com/spooled/spooled-sdk-go/retry"
)

// Subscription delivers job and queue lifecycle events to registered
// handlers over a single connection, reconnecting with backoff when it
// drops. One read loop drives everything; handlers run synchronously on it,
// so a slow handler delays delivery of the next event — callers that need
// to do real work should hand it off to their own goroutine.
type Subscription struct {
	cfg   config.RealtimeConfig
	authn *auth.Authenticator
	log   *slog.Logger

	// reconnectBase/reconnectMax back the backoff policy used by wait. Both
	// start at the configured values and reconnectBase is overridden by a
	// server-supplied "retry:" hint after a connection drop; both fields are
	// only ever touched from the single run() goroutine.
	reconnectBase time.Duration
	reconnectMax  time.Duration

	mu            sync.Mutex
	typeHandlers  map[string][]Handler
	jobHandlers   map[string][]Handler
	queueHandlers map[string][]Handler
	anyHandlers   []Handler
	onState       func(ConnState)

	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Subscription.
type Option func(*Subscription)

// WithLogger attaches a logger used for reconnect/parse diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Subscription) { s.log = logger }
}

// WithStateListener registers cb to observe connecting/connected/
// reconnecting/closed transitions.
func WithStateListener(cb func(ConnState)) Option {
	return func(s *Subscription) { s.onState = cb }
}

// New creates a Subscription. Call Start to begin connecting.
func New(cfg config.RealtimeConfig, authn *auth.Authenticator, opts ...Option) *Subscription {
	spooled.AssertVersionChecked()
	s := &Subscription{
		cfg:           cfg,
		authn:         authn,
		log:           slog.Default(),
		typeHandlers:  make(map[string][]Handler),
		jobHandlers:   make(map[string][]Handler),
		queueHandlers: make(map[string][]Handler),
		reconnectBase: cfg.ReconnectBase,
		reconnectMax:  cfg.ReconnectMax,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// OnJob registers cb for events whose decoded data references jobID, either
// via a top-level "jobId" field or a nested "job.id" field.
func (s *Subscription) OnJob(jobID string, cb Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobHandlers[jobID] = append(s.jobHandlers[jobID], cb)
}

// OnQueue registers cb for events whose decoded data references queueName,
// either via a top-level "queueName" field or a nested "job.queueName"
// field.
func (s *Subscription) OnQueue(queueName string, cb Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queueHandlers[queueName] = append(s.queueHandlers[queueName], cb)
}

// OnAny registers cb for every event regardless of type or content.
func (s *Subscription) OnAny(cb Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anyHandlers = append(s.anyHandlers, cb)
}

// On registers cb for every event whose "event:" type matches eventType
// exactly (e.g. "job.completed").
func (s *Subscription) On(eventType string, cb Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typeHandlers[eventType] = append(s.typeHandlers[eventType], cb)
}

// decodeEventData JSON-decodes data and normalizes its keys to lowerCamel.
// On parse failure it falls back to the raw string; empty data decodes to
// nil.
func decodeEventData(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	return casewire.FromWire(v)
}

// jobIDFromDecoded extracts the job id an event's decoded data references,
// checking a top-level "jobId" field first and a nested "job.id" second.
func jobIDFromDecoded(v any) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	if id, ok := m["jobId"].(string); ok && id != "" {
		return id, true
	}
	if job, ok := m["job"].(map[string]any); ok {
		if id, ok := job["id"].(string); ok && id != "" {
			return id, true
		}
	}
	return "", false
}

// queueNameFromDecoded extracts the queue name an event's decoded data
// references, checking a top-level "queueName" field first and a nested
// "job.queueName" second.
func queueNameFromDecoded(v any) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	if name, ok := m["queueName"].(string); ok && name != "" {
		return name, true
	}
	if job, ok := m["job"].(map[string]any); ok {
		if name, ok := job["queueName"].(string); ok && name != "" {
			return name, true
		}
	}
	return "", false
}

func (s *Subscription) dispatch(ev Event) {
	ev.Decoded = decodeEventData(ev.Data)

	s.mu.Lock()
	typeCbs := append([]Handler{}, s.typeHandlers[ev.Topic]...)
	var jobCbs, queueCbs []Handler
	if jobID, ok := jobIDFromDecoded(ev.Decoded); ok {
		jobCbs = append(jobCbs, s.jobHandlers[jobID]...)
	}
	if queueName, ok := queueNameFromDecoded(ev.Decoded); ok {
		queueCbs = append(queueCbs, s.queueHandlers[queueName]...)
	}
	anyCbs := append([]Handler{}, s.anyHandlers...)
	s.mu.Unlock()

	for _, cb := range typeCbs {
		cb(ev)
	}
	for _, cb := range jobCbs {
		cb(ev)
	}
	for _, cb := range queueCbs {
		cb(ev)
	}
	for _, cb := range anyCbs {
		cb(ev)
	}
}

func (s *Subscription) emitState(st ConnState) {
	if s.onState != nil {
		s.onState(st)
	}
}

// Start begins the connect/read/reconnect loop in the background and returns
// immediately, before the first connection attempt; connecting and
// reconnecting happen silently behind On/OnJob/OnQueue handlers.
func (s *Subscription) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(loopCtx)
	return nil
}

// Stop tears down the connection and stops reconnecting.
func (s *Subscription) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.done)
	defer s.emitState(StateClosed)

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		s.emitState(StateConnecting)
		tr, err := s.dial(ctx)
		if err != nil {
			s.log.Warn("realtime: dial failed", "error", err, "attempt", attempt)
			if !s.wait(ctx, attempt) {
				return
			}
			attempt++
			continue
		}

		s.emitState(StateConnected)
		attempt = 0

		readErr := s.readLoop(ctx, tr)
		if hint := tr.ReconnectHint(); hint != nil {
			s.reconnectBase = *hint
			attempt = 0
		}
		tr.Close()
		if ctx.Err() != nil {
			return
		}
		if readErr != nil {
			s.log.Warn("realtime: connection lost", "error", readErr)
		}

		s.emitState(StateReconnecting)
		if !s.wait(ctx, attempt) {
			return
		}
		attempt++
	}
}

// dial prefers a duplex socket, falling back to the one-way push transport
// when no websocket URL is configured or the duplex dial fails.
func (s *Subscription) dial(ctx context.Context) (transport, error) {
	wsURL := s.cfg.WebsocketURL
	if wsURL == "" && s.cfg.PushURL != "" {
		wsURL = wsURLFromPushURL(s.cfg.PushURL)
	}

	if wsURL != "" {
		dt := newDuplexTransport(wsURL, s.authn)
		if err := dt.Connect(ctx); err == nil {
			return dt, nil
		}
	}

	if s.cfg.PushURL == "" {
		return nil, errors.New("realtime: no pushURL or websocketURL configured")
	}
	pt := newPushTransport(s.cfg.PushURL, s.authn)
	if err := pt.Connect(ctx); err != nil {
		return nil, fmt.Errorf("realtime: push transport fallback failed: %w", err)
	}
	return pt, nil
}

func (s *Subscription) readLoop(ctx context.Context, tr transport) error {
	for {
		ev, err := tr.Recv(ctx)
		if err != nil {
			return err
		}
		if len(ev.Data) == 0 {
			continue
		}
		s.dispatch(ev)
	}
}

// wait blocks for the reconnect backoff delay, or for ctx to be cancelled,
// whichever comes first. It reports false when ctx won the race. The
// backoff policy is rebuilt on every call since reconnectBase may have been
// overridden by a server "retry:" hint since the last attempt.
func (s *Subscription) wait(ctx context.Context, attempt int) bool {
	policy := retry.Policy{BaseDelay: s.reconnectBase, MaxDelay: s.reconnectMax, Factor: 2, Jitter: 0}
	d := policy.BackoffDelay(attempt)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
