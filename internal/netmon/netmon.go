package netmon

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"fieldsync/internal/config"
	"fieldsync/internal/logging"
)

// Connection classifies the device's current network attachment.
type Connection string

const (
	ConnOffline  Connection = "offline"
	ConnWifi     Connection = "wifi"
	ConnCellular Connection = "cellular"
)

// ValidConnection reports whether value names a known connection kind.
func ValidConnection(value string) bool {
	switch Connection(strings.ToLower(strings.TrimSpace(value))) {
	case ConnOffline, ConnWifi, ConnCellular:
		return true
	default:
		return false
	}
}

// Monitor tracks connectivity and fires the sync trigger when a usable
// connection appears. State arrives two ways: clients report the connection
// kind they observe, and an optional HTTP probe detects plain reachability.
type Monitor struct {
	cfg      *config.Config
	logger   *slog.Logger
	onUsable func(reason string)
	client   *http.Client

	mu      sync.Mutex
	current Connection
}

// New builds a monitor. onUsable runs every time connectivity transitions
// from unusable to usable under the configured sync policy; it must not
// block.
func New(cfg *config.Config, logger *slog.Logger, onUsable func(reason string)) *Monitor {
	return &Monitor{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "netmon"),
		onUsable: onUsable,
		client:   &http.Client{Timeout: 10 * time.Second},
		current:  ConnOffline,
	}
}

// State returns the last known connection.
func (m *Monitor) State() Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// SetState records a connection change reported by a client. Crossing from
// an unusable to a usable connection fires the trigger.
func (m *Monitor) SetState(conn Connection) {
	m.mu.Lock()
	previous := m.current
	m.current = conn
	m.mu.Unlock()

	if previous == conn {
		return
	}
	m.logger.Info("connectivity changed",
		logging.String("from", string(previous)),
		logging.String("to", string(conn)),
	)
	if !m.usable(previous) && m.usable(conn) && m.onUsable != nil {
		m.onUsable("connectivity restored on " + string(conn))
	}
}

// usable applies the sync policy: automatic sync must be enabled, and a
// metered connection only counts when wifi_only is off.
func (m *Monitor) usable(conn Connection) bool {
	if !m.cfg.Sync.Auto {
		return false
	}
	switch conn {
	case ConnWifi:
		return true
	case ConnCellular:
		return !m.cfg.Sync.WifiOnly
	default:
		return false
	}
}

// Run probes reachability until the context ends. Without a probe URL the
// monitor relies entirely on client reports and returns immediately.
func (m *Monitor) Run(ctx context.Context) {
	url := strings.TrimSpace(m.cfg.Sync.ProbeURL)
	if url == "" {
		return
	}
	interval := time.Duration(m.cfg.Sync.ProbeInterval) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		m.probe(ctx, url)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// probe reconciles reachability with the recorded state. A reachable
// backend while the state says offline is treated as a wifi attachment
// until a client reports otherwise; an unreachable one forces offline.
func (m *Monitor) probe(ctx context.Context, url string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		m.logger.Error("building probe request", logging.Error(err))
		return
	}
	resp, err := m.client.Do(req)
	reachable := err == nil
	if resp != nil {
		resp.Body.Close()
	}

	switch {
	case reachable && m.State() == ConnOffline:
		m.SetState(ConnWifi)
	case !reachable && m.State() != ConnOffline:
		m.SetState(ConnOffline)
	}
}
