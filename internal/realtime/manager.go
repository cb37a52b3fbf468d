// Package realtime keeps one long-lived duplex channel open, reconnects it
// with exponential backoff and fans inbound messages out to subscribers.
//
// Subscriptions survive unplanned drops: every successful connect replays
// the subscribe message of each registered subscription. A manual Disconnect
// is a full teardown and clears the table.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/chainguard/internal/core/domain"
	"github.com/vietddude/chainguard/internal/errorlog"
	"github.com/vietddude/chainguard/internal/metrics"
)

const (
	DefaultBaseDelay            = time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultConnectTimeout       = 10 * time.Second
)

var (
	// ErrNotConnected is returned when a message cannot be sent.
	ErrNotConnected = errors.New("realtime: not connected")
	// ErrUnknownSubscription is returned by Unsubscribe for an unknown id.
	ErrUnknownSubscription = errors.New("realtime: unknown subscription")
	// ErrDisconnected is returned by a connect that was overtaken by Disconnect.
	ErrDisconnected = errors.New("realtime: disconnected while connecting")
)

// Handler consumes one inbound message.
type Handler func(env Envelope) error

// Subscription is a registered interest in one message type.
type Subscription struct {
	ID      string
	Type    string
	Params  map[string]any
	Handler Handler
}

// ErrorReporter receives failures the manager isolates.
type ErrorReporter interface {
	LogError(ctx context.Context, err error, fields map[string]any)
}

// Option configures a Manager.
type Option func(*Manager)

// WithBaseDelay sets the first reconnect delay.
func WithBaseDelay(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.baseDelay = d
		}
	}
}

// WithMaxReconnectAttempts sets how many reconnects are scheduled before giving up.
func WithMaxReconnectAttempts(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.maxAttempts = n
		}
	}
}

// WithConnectTimeout bounds one dial.
func WithConnectTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.connectTimeout = d
		}
	}
}

// WithReporter forwards isolated failures to r.
func WithReporter(r ErrorReporter) Option {
	return func(m *Manager) { m.reporter = r }
}

// WithLogger sets the diagnostic logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// Manager owns the channel connection and the subscription table.
type Manager struct {
	dialer         Dialer
	baseDelay      time.Duration
	maxAttempts    int
	connectTimeout time.Duration
	reporter       ErrorReporter
	log            *slog.Logger

	mu       sync.Mutex
	state    domain.ConnectionState
	conn     Conn
	gen      uint64
	attempts int
	timer    *time.Timer
	manual   bool
	gaveUp   bool
	subs     map[string]*Subscription
	order    []string

	stateListeners  []func(domain.ConnectionState)
	giveUpListeners []func(attempts int)
}

// New creates a disconnected manager.
func New(dialer Dialer, opts ...Option) *Manager {
	m := &Manager{
		dialer:         dialer,
		baseDelay:      DefaultBaseDelay,
		maxAttempts:    DefaultMaxReconnectAttempts,
		connectTimeout: DefaultConnectTimeout,
		log:            slog.Default(),
		state:          domain.ConnectionDisconnected,
		subs:           make(map[string]*Subscription),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnStateChange registers a listener for state transitions.
func (m *Manager) OnStateChange(fn func(domain.ConnectionState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateListeners = append(m.stateListeners, fn)
}

// OnGiveUp registers a listener fired when reconnecting stops for good.
func (m *Manager) OnGiveUp(fn func(attempts int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.giveUpListeners = append(m.giveUpListeners, fn)
}

// Connect opens the channel. It is a no-op while connected or connecting.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == domain.ConnectionConnected || m.state == domain.ConnectionConnecting {
		m.mu.Unlock()
		return nil
	}
	m.manual = false
	m.gaveUp = false
	m.stopTimerLocked()
	m.gen++
	gen := m.gen
	notify := m.setStateLocked(domain.ConnectionConnecting)
	m.mu.Unlock()
	notify()

	return m.dial(ctx, gen)
}

// Disconnect tears the channel down: it cancels a pending reconnect, closes
// the connection and forgets every subscription.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	m.manual = true
	m.gen++
	m.stopTimerLocked()
	m.attempts = 0
	m.gaveUp = false
	m.subs = make(map[string]*Subscription)
	m.order = nil

	conn := m.conn
	m.conn = nil
	if conn == nil {
		notify := m.setStateLocked(domain.ConnectionDisconnected)
		m.mu.Unlock()
		notify()
		return nil
	}

	gen := m.gen
	notify := m.setStateLocked(domain.ConnectionClosing)
	m.mu.Unlock()
	notify()

	err := conn.Close()

	m.mu.Lock()
	notify = func() {}
	if m.gen == gen {
		notify = m.setStateLocked(domain.ConnectionDisconnected)
	}
	m.mu.Unlock()
	notify()

	if err != nil {
		return fmt.Errorf("realtime: close: %w", err)
	}
	return nil
}

// Subscribe registers sub and sends its subscribe message when connected.
// An empty ID is assigned. The returned id is valid even when the send fails;
// the subscription is replayed on the next connect.
func (m *Manager) Subscribe(sub Subscription) (string, error) {
	if sub.Type == "" {
		return "", errors.New("realtime: subscription type is required")
	}
	if sub.Handler == nil {
		return "", errors.New("realtime: subscription handler is required")
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}

	m.mu.Lock()
	if _, exists := m.subs[sub.ID]; !exists {
		m.order = append(m.order, sub.ID)
	}
	m.subs[sub.ID] = &sub
	conn := m.liveConnLocked()
	m.mu.Unlock()

	if conn == nil {
		return sub.ID, nil
	}
	if err := sendSubscribe(conn, &sub); err != nil {
		return sub.ID, err
	}
	return sub.ID, nil
}

// Unsubscribe removes a subscription, telling the server first when connected.
func (m *Manager) Unsubscribe(id string) error {
	m.mu.Lock()
	sub, ok := m.subs[id]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownSubscription
	}
	delete(m.subs, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	conn := m.liveConnLocked()
	m.mu.Unlock()

	if conn == nil {
		return nil
	}
	env, err := newEnvelope("unsubscribe", unsubscribePayload{ID: sub.ID, Channel: sub.Type})
	if err == nil {
		err = conn.Send(env)
	}
	if err != nil {
		return fmt.Errorf("realtime: unsubscribe %s: %w", sub.Type, err)
	}
	return nil
}

// Send writes an arbitrary message on the open connection.
func (m *Manager) Send(typ string, payload any) error {
	env, err := newEnvelope(typ, payload)
	if err != nil {
		return fmt.Errorf("realtime: encode %s: %w", typ, err)
	}

	m.mu.Lock()
	conn := m.liveConnLocked()
	m.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Send(env)
}

// IsConnected reports whether the channel is open.
func (m *Manager) IsConnected() bool {
	return m.State() == domain.ConnectionConnected
}

// State returns the current connection state.
func (m *Manager) State() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ReconnectAttempts returns the number of reconnects scheduled since the
// last successful connect.
func (m *Manager) ReconnectAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// GaveUp reports whether the manager stopped reconnecting.
func (m *Manager) GaveUp() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gaveUp
}

// Subscriptions returns the number of registered subscriptions.
func (m *Manager) Subscriptions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

func (m *Manager) dial(ctx context.Context, gen uint64) error {
	dialCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	conn, err := m.dialer.Dial(dialCtx)
	cancel()

	m.mu.Lock()
	if m.gen != gen || m.state != domain.ConnectionConnecting {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return ErrDisconnected
	}

	if err != nil {
		notify := m.setStateLocked(domain.ConnectionDisconnected)
		giveUp := m.scheduleReconnectLocked()
		m.mu.Unlock()
		notify()
		giveUp()

		err = fmt.Errorf("realtime: connect: %w", err)
		m.log.Warn("Realtime connect failed", "error", err)
		m.report(errorlog.WithCategory(err, domain.CategoryNetwork), map[string]any{"phase": "connect"})
		return err
	}

	m.conn = conn
	m.attempts = 0
	notify := m.setStateLocked(domain.ConnectionConnected)
	for _, id := range m.order {
		if sendErr := sendSubscribe(m.conn, m.subs[id]); sendErr != nil {
			m.log.Warn("Replay subscribe failed", "subscription", id, "error", sendErr)
		}
	}
	m.mu.Unlock()
	notify()

	m.log.Info("Realtime channel connected", "subscriptions", len(m.order))
	go m.readLoop(conn, gen)
	return nil
}

func (m *Manager) readLoop(conn Conn, gen uint64) {
	for {
		env, err := conn.Receive()
		if err != nil {
			m.handleDrop(gen, err)
			return
		}
		m.dispatch(env)
	}
}

func (m *Manager) handleDrop(gen uint64, cause error) {
	m.mu.Lock()
	if m.gen != gen || m.state != domain.ConnectionConnected {
		m.mu.Unlock()
		return
	}
	conn := m.conn
	m.conn = nil
	notify := m.setStateLocked(domain.ConnectionDisconnected)
	giveUp := m.scheduleReconnectLocked()
	m.mu.Unlock()

	_ = conn.Close()
	notify()
	giveUp()

	m.log.Warn("Realtime channel dropped", "error", cause)
	lost := fmt.Errorf("realtime: connection lost: %w", cause)
	m.report(errorlog.WithCategory(lost, domain.CategoryNetwork), map[string]any{"phase": "receive"})
}

// scheduleReconnectLocked arms the reconnect timer, or gives up once the
// budget is spent. The returned func fires give-up listeners.
func (m *Manager) scheduleReconnectLocked() func() {
	if m.manual {
		return func() {}
	}
	if m.attempts >= m.maxAttempts {
		if m.gaveUp {
			return func() {}
		}
		m.gaveUp = true
		metrics.ChannelGiveUps.Inc()
		attempts := m.attempts
		listeners := append([]func(int){}, m.giveUpListeners...)
		return func() {
			m.log.Error("Realtime channel gave up reconnecting", "attempts", attempts)
			for _, fn := range listeners {
				fn(attempts)
			}
		}
	}

	delay := m.baseDelay << m.attempts
	m.attempts++
	metrics.ChannelReconnects.Inc()

	gen := m.gen
	attempt := m.attempts
	m.timer = time.AfterFunc(delay, func() { m.reconnect(gen) })
	return func() {
		m.log.Info("Realtime reconnect scheduled", "attempt", attempt, "delay", delay)
	}
}

func (m *Manager) reconnect(gen uint64) {
	m.mu.Lock()
	if m.gen != gen || m.manual || m.state != domain.ConnectionDisconnected {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.gen++
	next := m.gen
	notify := m.setStateLocked(domain.ConnectionConnecting)
	m.mu.Unlock()
	notify()

	_ = m.dial(context.Background(), next)
}

// dispatch delivers env to every matching subscription in registration order.
func (m *Manager) dispatch(env Envelope) {
	metrics.ChannelMessages.WithLabelValues(env.Type).Inc()

	m.mu.Lock()
	var targets []Subscription
	for _, id := range m.order {
		if sub := m.subs[id]; sub.Type == env.Type {
			targets = append(targets, *sub)
		}
	}
	m.mu.Unlock()

	for _, sub := range targets {
		m.invoke(sub, env)
	}
}

func (m *Manager) invoke(sub Subscription, env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("realtime: handler panic: %v", r)
			m.log.Error("Subscription handler panicked", "subscription", sub.ID, "type", sub.Type, "panic", r)
			m.report(err, map[string]any{"subscription": sub.ID, "type": sub.Type})
		}
	}()

	if err := sub.Handler(env); err != nil {
		m.log.Warn("Subscription handler failed", "subscription", sub.ID, "type", sub.Type, "error", err)
		m.report(fmt.Errorf("realtime: handler %s: %w", sub.Type, err), map[string]any{"subscription": sub.ID, "type": sub.Type})
	}
}

// liveConnLocked returns the open connection, or nil when not connected.
// Callers write on it after releasing m.mu.
func (m *Manager) liveConnLocked() Conn {
	if m.state != domain.ConnectionConnected {
		return nil
	}
	return m.conn
}

func sendSubscribe(conn Conn, sub *Subscription) error {
	env, err := newEnvelope("subscribe", subscribePayload{ID: sub.ID, Channel: sub.Type, Params: sub.Params})
	if err != nil {
		return fmt.Errorf("realtime: encode subscribe: %w", err)
	}
	if err := conn.Send(env); err != nil {
		return fmt.Errorf("realtime: subscribe %s: %w", sub.Type, err)
	}
	return nil
}

func (m *Manager) setStateLocked(s domain.ConnectionState) func() {
	if m.state == s {
		return func() {}
	}
	m.state = s
	metrics.ChannelState.Set(stateGauge(s))
	listeners := append([]func(domain.ConnectionState){}, m.stateListeners...)
	return func() {
		for _, fn := range listeners {
			fn(s)
		}
	}
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) report(err error, fields map[string]any) {
	if m.reporter == nil {
		return
	}
	m.reporter.LogError(context.Background(), err, fields)
}

func stateGauge(s domain.ConnectionState) float64 {
	switch s {
	case domain.ConnectionConnecting:
		return 1
	case domain.ConnectionConnected:
		return 2
	case domain.ConnectionClosing:
		return 3
	default:
		return 0
	}
}
