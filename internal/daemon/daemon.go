package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"

	"fieldsync/internal/config"
	"fieldsync/internal/engine"
	"fieldsync/internal/events"
	"fieldsync/internal/logging"
	"fieldsync/internal/media"
	"fieldsync/internal/netmon"
	"fieldsync/internal/notifications"
	"fieldsync/internal/queue"
	"fieldsync/internal/transcribe"
	"fieldsync/internal/transport"
)

// Daemon owns the long-running pieces: both queue engines, the connectivity
// monitor, the scheduled sync trigger, and the local HTTP API. It enforces
// single-instance execution through a file lock.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	observations *engine.Observations
	tasks        *engine.Tasks
	obsStore     *queue.ObservationStore
	taskStore    *queue.TaskStore
	monitor      *netmon.Monitor
	notifier     notifications.Service
	bus          *events.Bus

	lockPath    string
	lock        *flock.Flock
	cron        *cron.Cron
	httpSrv     *http.Server
	listener    net.Listener
	unsubscribe func()

	running atomic.Bool
	cancel  context.CancelFunc
}

// Option overrides a dependency the daemon would otherwise build from
// configuration.
type Option func(*options)

type options struct {
	client      transport.Client
	transcriber transcribe.Client
	notifier    notifications.Service
}

// WithTransport substitutes the backend client.
func WithTransport(client transport.Client) Option {
	return func(o *options) { o.client = client }
}

// WithTranscriber substitutes the speech-to-text client.
func WithTranscriber(client transcribe.Client) Option {
	return func(o *options) { o.transcriber = client }
}

// WithNotifier substitutes the notification service.
func WithNotifier(svc notifications.Service) Option {
	return func(o *options) { o.notifier = svc }
}

// New wires a daemon from configuration. Stores are opened immediately;
// Start acquires the lock and brings the services up.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || logger == nil {
		return nil, errors.New("daemon requires config and logger")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.client == nil {
		client, err := transport.NewHTTPClient(cfg)
		if err != nil {
			return nil, err
		}
		o.client = client
	}
	if o.transcriber == nil {
		o.transcriber = transcribe.NewFromConfig(cfg)
	}
	if o.notifier == nil {
		o.notifier = notifications.NewService(cfg)
	}

	obsStore, err := queue.OpenObservations(cfg)
	if err != nil {
		return nil, err
	}
	taskStore, err := queue.OpenTasks(cfg)
	if err != nil {
		obsStore.Close()
		return nil, err
	}

	bus := events.NewBus(logger)
	mover := media.NewMover(cfg.MediaDir(), logger)

	d := &Daemon{
		cfg:          cfg,
		logger:       logging.NewComponentLogger(logger, "daemon"),
		observations: engine.NewObservations(cfg, obsStore, o.client, mover, bus, logger),
		tasks:        engine.NewTasks(cfg, taskStore, o.client, o.transcriber, mover, bus, logger),
		obsStore:     obsStore,
		taskStore:    taskStore,
		notifier:     o.notifier,
		bus:          bus,
		lockPath:     filepath.Join(cfg.DataDir, "fieldsyncd.lock"),
	}
	d.lock = flock.New(d.lockPath)
	d.monitor = netmon.New(cfg, logger, func(reason string) {
		d.SyncAll(reason)
	})
	d.unsubscribe = notifications.NewBridge(o.notifier, logger).Attach(bus)
	return d, nil
}

// Start acquires the instance lock, loads both queues, and brings the API,
// connectivity probe, and sync schedule online.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another fieldsync daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.observations.Initialize(runCtx); err != nil {
		d.logger.Warn("observation queue initialization incomplete", logging.Error(err))
	}
	if err := d.tasks.Initialize(runCtx); err != nil {
		d.logger.Warn("task queue initialization incomplete", logging.Error(err))
	}

	if err := d.startAPI(); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return err
	}
	go d.monitor.Run(runCtx)
	if err := d.startSchedule(); err != nil {
		d.stopAPI()
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	d.running.Store(true)
	d.logger.Info("fieldsync daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.APIAddr()),
	)
	return nil
}

// Stop halts syncing and background services and releases the lock. Queue
// stores stay open; Close releases those too.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cron != nil {
		d.cron.Stop()
		d.cron = nil
	}
	d.stopAPI()

	d.observations.CancelSync()
	d.tasks.CancelSync()
	d.observations.Wait()
	d.tasks.Wait()

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("releasing daemon lock failed", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("fieldsync daemon stopped")
}

// Close stops the daemon and releases every held resource.
func (d *Daemon) Close() error {
	d.Stop()
	if d.unsubscribe != nil {
		d.unsubscribe()
		d.unsubscribe = nil
	}
	var firstErr error
	if err := d.obsStore.Close(); err != nil {
		firstErr = err
	}
	if err := d.taskStore.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// SyncAll triggers a sync pass on both queues. Passes already running are
// left alone.
func (d *Daemon) SyncAll(reason string) (observations, tasks bool) {
	ctx := context.Background()
	observations = d.observations.StartSync(ctx)
	tasks = d.tasks.StartSync(ctx)
	d.logger.Info("sync requested",
		logging.String("reason", reason),
		logging.Bool("observations_started", observations),
		logging.Bool("tasks_started", tasks),
	)
	return observations, tasks
}

// Observations exposes the observation engine.
func (d *Daemon) Observations() *engine.Observations { return d.observations }

// Tasks exposes the task engine.
func (d *Daemon) Tasks() *engine.Tasks { return d.tasks }

// Monitor exposes the connectivity monitor.
func (d *Daemon) Monitor() *netmon.Monitor { return d.monitor }

// Bus exposes the in-process event bus.
func (d *Daemon) Bus() *events.Bus { return d.bus }

// APIAddr returns the bound API address, empty before Start.
func (d *Daemon) APIAddr() string {
	if d.listener == nil {
		return ""
	}
	return d.listener.Addr().String()
}

// Status summarizes the daemon for the CLI and the API.
type Status struct {
	Running      bool         `json:"running"`
	Connection   string       `json:"connection"`
	APIAddr      string       `json:"api_addr"`
	LockFilePath string       `json:"lock_file"`
	Observations FamilyStatus `json:"observations"`
	Tasks        FamilyStatus `json:"tasks"`
}

// FamilyStatus summarizes one queue family.
type FamilyStatus struct {
	Syncing    bool                `json:"syncing"`
	Pending    int                 `json:"pending"`
	Actionable int                 `json:"actionable"`
	States     map[queue.State]int `json:"states"`
}

// Status reports the current daemon state.
func (d *Daemon) Status() Status {
	return Status{
		Running:      d.running.Load(),
		Connection:   string(d.monitor.State()),
		APIAddr:      d.APIAddr(),
		LockFilePath: d.lockPath,
		Observations: FamilyStatus{
			Syncing:    d.observations.Syncing(),
			Pending:    d.observations.PendingCount(),
			Actionable: d.observations.ActionableCount(),
			States:     d.observations.Counts(),
		},
		Tasks: FamilyStatus{
			Syncing:    d.tasks.Syncing(),
			Pending:    d.tasks.PendingCount(),
			Actionable: d.tasks.ActionableCount(),
			States:     d.tasks.Counts(),
		},
	}
}

func (d *Daemon) startAPI() error {
	bind := strings.TrimSpace(d.cfg.APIBind)
	if bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("bind api %s: %w", bind, err)
	}
	srv := &http.Server{
		Handler:           d.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	d.listener = listener
	d.httpSrv = srv
	// The goroutine holds its own reference; stopAPI clears the fields
	// while Serve may still be winding down.
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("api server stopped", logging.Error(err))
		}
	}()
	return nil
}

func (d *Daemon) stopAPI() {
	if d.httpSrv == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.httpSrv.Shutdown(shutdownCtx); err != nil {
		d.logger.Warn("api shutdown incomplete", logging.Error(err))
	}
	d.httpSrv = nil
	d.listener = nil
}

func (d *Daemon) startSchedule() error {
	schedule := strings.TrimSpace(d.cfg.Sync.Schedule)
	if !d.cfg.Sync.Auto || schedule == "" {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		d.SyncAll("schedule")
	}); err != nil {
		return fmt.Errorf("sync schedule %q: %w", schedule, err)
	}
	c.Start()
	d.cron = c
	d.logger.Info("sync schedule active", logging.String("schedule", schedule))
	return nil
}
