// Package session tracks streaming-transport sessions. Each session owns a
// bounded outbound event queue and a lane goroutine that runs submitted jobs
// one at a time, so events reach the client in the order requests arrived.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/kaiun/internal/telemetry"
)

// Defaults applied when options are not given.
const (
	DefaultIdleTimeout = 30 * time.Minute
	DefaultQueueSize   = 64
)

var (
	// ErrSessionNotFound is returned for unknown or closed session ids.
	ErrSessionNotFound = errors.New("session: not found")
	// ErrQueueFull is returned when a session's job lane is saturated.
	ErrQueueFull = errors.New("session: queue full")
)

// State is a session lifecycle state.
type State string

const (
	StateActive State = "ACTIVE"
	StateClosed State = "CLOSED"
)

// Event is one outbound message for the streaming client.
type Event struct {
	Name string
	Data []byte
}

// Job runs on a session's lane. ctx is cancelled when the session closes.
type Job func(ctx context.Context)

// Session is one streaming client connection.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu           sync.Mutex
	lastActivity time.Time
	state        State

	events chan Event
	jobs   chan Job
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// Events is the outbound queue the transport drains.
func (s *Session) Events() <-chan Event { return s.events }

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastActivity returns the time of the last touch.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	if now.After(s.lastActivity) {
		s.lastActivity = now
	}
	s.mu.Unlock()
}

func (s *Session) close() bool {
	closed := false
	s.once.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		s.cancel()
		closed = true
	})
	return closed
}

// Option configures a Manager.
type Option func(*Manager)

// WithIdleTimeout sets how long a session may go untouched before Reap
// closes it.
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.idleTimeout = d
		}
	}
}

// WithQueueSize bounds each session's event queue and job lane.
func WithQueueSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.queueSize = n
		}
	}
}

// WithClock overrides the activity clock.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the manager logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// Manager owns the session table. The table is guarded by mu; each
// session guards its own state.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	idleTimeout time.Duration
	queueSize   int
	now         func() time.Time
	logger      *slog.Logger
	wg          sync.WaitGroup
}

// NewManager creates an empty session table.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		sessions:    make(map[string]*Session),
		idleTimeout: DefaultIdleTimeout,
		queueSize:   DefaultQueueSize,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	m.registerMetrics()
	return m
}

func (m *Manager) registerMetrics() {
	meter := telemetry.Meter("kaiun/session")
	gauge, err := meter.Int64ObservableGauge("kaiun.sessions.active",
		metric.WithDescription("Open streaming sessions"))
	if err != nil {
		m.logger.Warn("session: register metrics", "error", err)
		return
	}
	if _, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(gauge, int64(m.Len()))
		return nil
	}, gauge); err != nil {
		m.logger.Warn("session: register metrics callback", "error", err)
	}
}

// Open creates an ACTIVE session with a fresh 128-bit id and starts its lane.
func (m *Manager) Open() (*Session, error) {
	id, err := newID()
	if err != nil {
		return nil, err
	}
	now := m.now()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:           id,
		CreatedAt:    now,
		lastActivity: now,
		state:        StateActive,
		events:       make(chan Event, m.queueSize),
		jobs:         make(chan Job, m.queueSize),
		ctx:          ctx,
		cancel:       cancel,
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.wg.Add(1)
	go m.runLane(s)
	m.logger.Debug("session opened", "session_id", id)
	return s, nil
}

// runLane runs jobs for s in submission order until the session closes.
// Jobs still queued at close are dropped.
func (m *Manager) runLane(s *Session) {
	defer m.wg.Done()
	for {
		select {
		case job := <-s.jobs:
			if s.ctx.Err() != nil {
				return
			}
			m.runJob(s, job)
		case <-s.ctx.Done():
			return
		}
	}
}

func (m *Manager) runJob(s *Session, job Job) {
	defer func() {
		if p := recover(); p != nil {
			m.logger.Error("session: job panicked", "session_id", s.ID, "panic", fmt.Sprint(p))
		}
	}()
	job(s.ctx)
}

// Get returns the ACTIVE session with id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok || s.State() != StateActive {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Touch records activity on id.
func (m *Manager) Touch(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	s.touch(m.now())
	return nil
}

// Close closes id and removes it from the table.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok || !s.close() {
		return ErrSessionNotFound
	}
	m.logger.Debug("session closed", "session_id", id)
	return nil
}

// Deliver queues ev for the client of id, blocking while the queue is full
// until ctx ends or the session closes.
func (m *Manager) Deliver(ctx context.Context, id string, ev Event) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.deliver(ctx, ev, m.now())
}

func (s *Session) deliver(ctx context.Context, ev Event, now time.Time) error {
	// close takes s.mu, so a session that is still ACTIVE here cannot close
	// before the non-blocking send lands.
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	select {
	case s.events <- ev:
		if now.After(s.lastActivity) {
			s.lastActivity = now
		}
		s.mu.Unlock()
		return nil
	default:
	}
	s.mu.Unlock()

	select {
	case <-s.ctx.Done():
		return ErrSessionNotFound
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	select {
	case s.events <- ev:
		s.touch(now)
		return nil
	case <-s.ctx.Done():
		return ErrSessionNotFound
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit queues job on the lane of id. Jobs for one session run one at a
// time in submission order.
func (m *Manager) Submit(id string, job Job) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	s.touch(m.now())
	select {
	case s.jobs <- job:
		return nil
	case <-s.ctx.Done():
		return ErrSessionNotFound
	default:
		return ErrQueueFull
	}
}

// Reap closes every session idle for longer than the idle timeout as of now
// and returns how many it closed.
func (m *Manager) Reap(now time.Time) int {
	cutoff := now.Add(-m.idleTimeout)
	var stale []string
	m.mu.RLock()
	for id, s := range m.sessions {
		if s.LastActivity().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	n := 0
	for _, id := range stale {
		if m.Close(id) == nil {
			n++
		}
	}
	if n > 0 {
		m.logger.Info("sessions reaped", "count", n)
	}
	return n
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseAll closes every session and waits for their lanes to exit.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range all {
		s.close()
	}
	m.wg.Wait()
}

func newID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("session: generate id: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
