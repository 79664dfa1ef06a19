package client

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/layer-3/passage/internal/logging"
)

const (
	DefaultInactivityTimeout = 15 * time.Minute
	DefaultTickInterval      = time.Second

	logoutTimeout = 5 * time.Second
)

// ErrSessionExpired is returned by Restore when the persisted session has
// already run out
var ErrSessionExpired = errors.New("session expired")

// MonitorConfig configures a Monitor
type MonitorConfig struct {
	InactivityTimeout time.Duration
	TickInterval      time.Duration

	// OnTick receives the remaining time after every tick that leaves the session alive
	OnTick func(remaining time.Duration)
	// OnExpired is called once when the session is cleared by the monitor
	OnExpired func()

	Now    func() time.Time
	Logger *slog.Logger
}

// Monitor ends a client session after a period of inactivity or when the
// server-side token expires, whichever comes first
type Monitor struct {
	client  *Client
	markers MarkerStore
	cfg     MonitorConfig

	// cred is the credential this monitor watches; it never adopts another
	cred         atomic.Pointer[Credential]
	lastActivity atomic.Int64 // unix nanoseconds
	cleared      atomic.Bool

	// mu serializes marker writes with clearing
	mu        sync.Mutex
	persisted int64

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
	started   atomic.Bool
}

// NewMonitor creates a monitor for the credential held by c
func NewMonitor(c *Client, markers MarkerStore, cfg MonitorConfig) *Monitor {
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = DefaultInactivityTimeout
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if markers == nil {
		markers = NewMemoryMarkerStore()
	}
	return &Monitor{
		client:  c,
		markers: markers,
		cfg:     cfg,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Restore reloads a persisted session into the client. The remaining time is
// derived from the stored activity, not reset to the full timeout.
func (m *Monitor) Restore() (time.Duration, error) {
	marker, err := m.markers.Load()
	if err != nil {
		return 0, err
	}

	now := m.cfg.Now()
	if marker.Token == "" || m.remaining(now, marker.LastActivityAt.UnixNano(), marker.ExpiresAt) <= 0 {
		if err := m.markers.Clear(); err != nil {
			m.cfg.Logger.Warn("failed to clear session marker", slog.Any("error", err))
		}
		return 0, ErrSessionExpired
	}

	cred := &Credential{Token: marker.Token, ExpiresAt: marker.ExpiresAt}
	m.client.SetCredential(cred)
	m.cred.Store(cred)
	m.client.monitor.Store(m)
	m.lastActivity.Store(marker.LastActivityAt.UnixNano())
	m.persisted = marker.LastActivityAt.UnixNano()
	return m.remaining(now, m.persisted, marker.ExpiresAt), nil
}

// Start begins ticking for the credential the client holds now. It fails
// when the slot is empty. The monitor stops for good once that credential
// leaves the slot, even if another one takes its place.
func (m *Monitor) Start(ctx context.Context) error {
	if m.client.Credential() == nil {
		return ErrNoCredential
	}
	m.startOnce.Do(func() {
		m.begin()
		m.started.Store(true)
		go m.loop(ctx)
	})
	return nil
}

func (m *Monitor) begin() {
	cred := m.client.Credential()
	if cred == nil {
		return
	}
	m.cred.Store(cred)
	m.client.monitor.Store(m)
	if m.lastActivity.Load() == 0 {
		m.lastActivity.Store(m.cfg.Now().UnixNano())
	}
	m.persist(cred)
}

// Stop ends the tick loop. It does not log out.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
	if m.started.Load() {
		<-m.done
	}
}

// Touch records activity. It returns false once the session has been
// cleared; a cleared session is never revived.
func (m *Monitor) Touch() bool {
	if m.cleared.Load() {
		return false
	}
	m.lastActivity.Store(m.cfg.Now().UnixNano())
	return !m.cleared.Load()
}

// Remaining returns the time left before the monitor clears the session
func (m *Monitor) Remaining() time.Duration {
	cred := m.cred.Load()
	if m.cleared.Load() || cred == nil || m.client.Credential() != cred {
		return 0
	}
	r := m.remaining(m.cfg.Now(), m.lastActivity.Load(), cred.ExpiresAt)
	if r < 0 {
		return 0
	}
	return r
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			if !m.tick(ctx) {
				return
			}
		}
	}
}

// tick evaluates the session once and reports whether it is still alive
func (m *Monitor) tick(ctx context.Context) bool {
	if m.cleared.Load() {
		return false
	}

	cred := m.cred.Load()
	if cred == nil {
		m.cleared.Store(true)
		return false
	}
	if m.client.Credential() != cred {
		// Logged out, rejected by the server or replaced by a new session
		m.release(cred)
		return false
	}

	remaining := m.remaining(m.cfg.Now(), m.lastActivity.Load(), cred.ExpiresAt)
	if remaining <= 0 {
		m.expire(ctx, cred)
		return false
	}

	m.persist(cred)
	if m.cfg.OnTick != nil {
		m.cfg.OnTick(remaining)
	}
	return true
}

func (m *Monitor) expire(ctx context.Context, cred *Credential) {
	m.mu.Lock()
	if m.cleared.Swap(true) {
		m.mu.Unlock()
		return
	}
	m.client.cred.CompareAndSwap(cred, nil)
	m.clearMarker(cred)
	m.mu.Unlock()

	if m.cfg.OnExpired != nil {
		m.cfg.OnExpired()
	}

	logoutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logoutTimeout)
	defer cancel()
	if err := m.client.send(logoutCtx, http.MethodPost, "/api/logout", cred.Token, nil, nil); err != nil {
		m.cfg.Logger.Warn("logout after inactivity failed", slog.Any("error", err))
	}
}

// release ends the watch on cred without calling the server. It is a no-op
// for any other credential.
func (m *Monitor) release(cred *Credential) {
	if cred == nil || m.cred.Load() != cred {
		return
	}
	m.mu.Lock()
	first := !m.cleared.Swap(true)
	if first {
		m.clearMarker(cred)
	}
	m.mu.Unlock()
	if first {
		m.stopOnce.Do(func() {
			close(m.stop)
		})
	}
}

func (m *Monitor) remaining(now time.Time, lastActivity int64, expiresAt time.Time) time.Duration {
	remaining := m.cfg.InactivityTimeout - now.Sub(time.Unix(0, lastActivity))
	if !expiresAt.IsZero() {
		if untilExpiry := expiresAt.Sub(now); untilExpiry < remaining {
			remaining = untilExpiry
		}
	}
	return remaining
}

func (m *Monitor) persist(cred *Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cleared.Load() {
		return
	}
	last := m.lastActivity.Load()
	if last == m.persisted {
		return
	}
	err := m.markers.Save(Marker{
		Token:          cred.Token,
		ExpiresAt:      cred.ExpiresAt,
		LastActivityAt: time.Unix(0, last).UTC(),
	})
	if err != nil {
		m.cfg.Logger.Warn("failed to persist session marker", slog.Any("error", err))
		return
	}
	m.persisted = last
}

// clearMarker removes the durable marker unless it belongs to another session.
// Callers hold mu.
func (m *Monitor) clearMarker(cred *Credential) {
	marker, err := m.markers.Load()
	if errors.Is(err, ErrNoMarker) {
		return
	}
	if err == nil && marker.Token != cred.Token {
		return
	}
	if err := m.markers.Clear(); err != nil {
		m.cfg.Logger.Warn("failed to clear session marker", slog.Any("error", err))
	}
}
