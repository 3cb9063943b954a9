// Package service provides the hub that ties the serial link, the cloud
// sessions and the switch registry together.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/resident-x/homegrid/internal/accounting"
	"github.com/resident-x/homegrid/internal/api"
	"github.com/resident-x/homegrid/internal/codec"
	"github.com/resident-x/homegrid/internal/config"
	"github.com/resident-x/homegrid/internal/domain"
	"github.com/resident-x/homegrid/internal/history"
	"github.com/resident-x/homegrid/internal/inventory"
	"github.com/resident-x/homegrid/internal/metrics"
	"github.com/resident-x/homegrid/internal/queue"
	"github.com/resident-x/homegrid/internal/registry"
	"github.com/resident-x/homegrid/internal/serial"
)

// State is the hub lifecycle phase.
type State int32

const (
	StateInitializing State = iota
	StateRunning
	StateShuttingDown
	StateStopped
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrAlreadyStarted is returned by a second call to Run.
var ErrAlreadyStarted = errors.New("service: hub already started")

// SerialLink is the line-oriented connection to the radio coordinator.
type SerialLink interface {
	io.Writer
	ReadLine() (string, error)
	Close() error
}

// SerialOpener opens the serial link during initialization.
type SerialOpener func(cfg *config.Config) (SerialLink, error)

// OpenSerialDevice opens the configured serial device.
func OpenSerialDevice(cfg *config.Config) (SerialLink, error) {
	return serial.Open(cfg.Serial.Device, cfg.Serial.BaudRate, cfg.SerialReadTimeout())
}

// Dependencies are the collaborators a hub is built from. Nil Sink and
// Metrics disable history and metrics respectively.
type Dependencies struct {
	Store      domain.SnapshotStore
	Sessions   domain.SessionFactory
	Inventory  []inventory.Entry
	OpenSerial SerialOpener
	Sink       domain.TelemetrySink
	Metrics    *metrics.Metrics
	Version    string
}

// Hub owns the registry, both hand-off queues, the serial link and the
// cloud sessions, and runs the workers between them.
type Hub struct {
	config     *config.Config
	deps       Dependencies
	accountant accounting.Accountant
	logger     zerolog.Logger
	now        func() time.Time

	state    atomic.Int32
	started  atomic.Bool
	registry atomic.Pointer[registry.Registry]
	serial   SerialLink
	api      *api.Server

	serialQueue *queue.Queue[domain.SerialTelemetry]
	cloudQueue  *queue.Queue[domain.CloudCommand]

	mu     sync.Mutex
	cancel context.CancelFunc
	ready  chan struct{}
}

// NewHub creates a hub. Nothing is opened until Run.
func NewHub(cfg *config.Config, deps Dependencies) (*Hub, error) {
	if deps.Store == nil {
		return nil, errors.New("snapshot store is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("session factory is required")
	}
	if deps.OpenSerial == nil {
		deps.OpenSerial = OpenSerialDevice
	}
	if deps.Sink == nil {
		deps.Sink = history.NoopSink{}
	}

	h := &Hub{
		config:      cfg,
		deps:        deps,
		accountant:  accounting.New(cfg.Accounting.SampleIntervalSeconds, cfg.Accounting.KilowattCostDollars),
		logger:      log.With().Str("component", "hub").Logger(),
		now:         time.Now,
		serialQueue: queue.New[domain.SerialTelemetry](),
		cloudQueue:  queue.New[domain.CloudCommand](),
		ready:       make(chan struct{}),
	}

	if cfg.API.Enabled {
		var metricsHandler http.Handler
		if deps.Metrics != nil {
			metricsHandler = deps.Metrics.Handler()
		}
		h.api = api.NewServer(cfg, h, metricsHandler, deps.Version)
	}

	return h, nil
}

// State returns the current lifecycle phase.
func (h *Hub) State() string {
	return State(h.state.Load()).String()
}

// Records returns the durable state of every switch, or nil before the
// registry is loaded.
func (h *Hub) Records() []domain.SwitchRecord {
	r := h.registry.Load()
	if r == nil {
		return nil
	}
	return r.Records()
}

// Registry returns the loaded registry, or nil during initialization.
func (h *Hub) Registry() *registry.Registry {
	return h.registry.Load()
}

// Ready is closed once the hub is running.
func (h *Hub) Ready() <-chan struct{} {
	return h.ready
}

// Stop requests shutdown. Run returns once the hub has stopped.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
	}
}

// Run initializes the hub, runs the workers until ctx is cancelled or Stop is
// called, then takes a final snapshot and releases every resource. Errors are
// returned only for failed initialization.
func (h *Hub) Run(ctx context.Context) error {
	if !h.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	h.mu.Lock()
	h.cancel = cancel
	h.mu.Unlock()

	h.setState(StateInitializing)
	if err := h.initialize(ctx); err != nil {
		if cerr := h.deps.Sink.Close(); cerr != nil {
			h.logger.Warn().Err(cerr).Msg("Failed to close history sink")
		}
		h.setState(StateStopped)
		return err
	}

	h.setState(StateRunning)
	close(h.ready)
	h.logger.Info().Int("switches", h.registry.Load().Len()).Msg("Hub running")

	var wg sync.WaitGroup
	workers := []struct {
		name string
		run  func(context.Context)
	}{
		{"serial_receiver", h.receiveSerial},
		{"serial_processor", h.processSerial},
		{"cloud_processor", h.processCloud},
		{"cloud_pump", h.pumpSessions},
		{"snapshotter", h.snapshotPeriodically},
	}
	for _, w := range workers {
		wg.Add(1)
		go func(name string, run func(context.Context)) {
			defer wg.Done()
			h.logger.Debug().Str("worker", name).Msg("Worker started")
			run(ctx)
			h.logger.Debug().Str("worker", name).Msg("Worker stopped")
		}(w.name, w.run)
	}

	<-ctx.Done()
	h.setState(StateShuttingDown)
	h.logger.Info().Msg("Shutting down, waiting for workers")
	wg.Wait()

	h.shutdown()
	h.setState(StateStopped)
	h.logger.Info().Msg("Hub stopped")
	return nil
}

func (h *Hub) setState(s State) {
	h.state.Store(int32(s))
}

func (h *Hub) initialize(ctx context.Context) error {
	reg, err := registry.Load(h.deps.Store, h.deps.Sessions, h.deps.Inventory)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}

	var connected []domain.CloudSession
	for _, sw := range reg.Switches() {
		session := sw.Session()
		session.OnInbound(h.handleInbound)
		if err := session.Connect(ctx); err != nil {
			closeSessions(connected)
			return fmt.Errorf("failed to connect session for %s: %w", sw.MAC(), err)
		}
		connected = append(connected, session)
	}

	link, err := h.deps.OpenSerial(h.config)
	if err != nil {
		closeSessions(connected)
		return fmt.Errorf("failed to open serial link: %w", err)
	}

	if h.api != nil {
		if err := h.api.Start(ctx); err != nil {
			link.Close()
			closeSessions(connected)
			return fmt.Errorf("failed to start API server: %w", err)
		}
	}

	h.serial = link
	h.registry.Store(reg)
	return nil
}

func closeSessions(sessions []domain.CloudSession) {
	for _, s := range sessions {
		if err := s.Close(); err != nil {
			log.Warn().Err(err).Str("guid", s.ID()).Msg("Failed to close session")
		}
	}
}

func (h *Hub) shutdown() {
	reg := h.registry.Load()

	err := reg.SnapshotAndSave()
	h.deps.Metrics.Snapshot(err == nil)
	if err == nil {
		h.logger.Info().Int("switches", reg.Len()).Msg("Final snapshot saved")
	}

	sessions := make([]domain.CloudSession, 0, reg.Len())
	for _, sw := range reg.Switches() {
		sessions = append(sessions, sw.Session())
	}
	closeSessions(sessions)

	if err := h.serial.Close(); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to close serial link")
	}
	if err := h.deps.Sink.Close(); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to close history sink")
	}
	if h.api != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Duration(h.config.Hub.ShutdownTimeoutSeconds)*time.Second)
		defer cancel()
		if err := h.api.Stop(stopCtx); err != nil {
			h.logger.Warn().Err(err).Msg("Failed to stop API server")
		}
	}
}

// handleInbound runs on the pump worker. It only decodes and enqueues; it must
// never take a switch guard or do I/O.
func (h *Hub) handleInbound(msg domain.InboundMessage) {
	cmd, err := codec.DecodeCommand(msg)
	if err != nil {
		h.deps.Metrics.DecodeError(metrics.DirectionCloud)
		h.logger.Warn().
			Err(err).
			Str("guid", msg.ClientID).
			Str("topic", msg.Topic).
			Str("value", msg.Value).
			Msg("Dropping undecodable cloud command")
		return
	}

	h.logger.Debug().
		Str("guid", cmd.GUID).
		Str("topic", cmd.Topic).
		Str("channel", cmd.Channel.String()).
		Str("message_id", cmd.MessageID).
		Bool("power_state", cmd.PowerState).
		Msg("Cloud command received")

	h.cloudQueue.Put(cmd)
	h.deps.Metrics.QueueDepth(metrics.DirectionCloud, h.cloudQueue.Len())
}

func (h *Hub) receiveSerial(ctx context.Context) {
	for ctx.Err() == nil {
		line, err := h.serial.ReadLine()
		switch {
		case errors.Is(err, serial.ErrReadTimeout):
			continue
		case errors.Is(err, serial.ErrClosed):
			return
		case errors.Is(err, serial.ErrLineTooLong):
			h.deps.Metrics.DecodeError(metrics.DirectionSerial)
			continue
		case err != nil:
			h.logger.Error().Err(err).Msg("Serial read failed")
			select {
			case <-ctx.Done():
			case <-time.After(h.config.SerialReadTimeout()):
			}
			continue
		}

		sample, err := codec.DecodeTelemetry(line, h.now())
		if errors.Is(err, codec.ErrEmptyLine) {
			continue
		}
		if err != nil {
			h.deps.Metrics.DecodeError(metrics.DirectionSerial)
			h.logger.Warn().Err(err).Str("line", line).Msg("Dropping undecodable serial line")
			continue
		}

		h.serialQueue.Put(sample)
		h.deps.Metrics.QueueDepth(metrics.DirectionSerial, h.serialQueue.Len())
	}
}

func (h *Hub) processSerial(ctx context.Context) {
	for ctx.Err() == nil {
		sample, ok := h.serialQueue.Get(ctx, h.config.QueuePollTimeout())
		if !ok {
			continue
		}
		h.applyTelemetry(ctx, sample)
	}
}

func (h *Hub) applyTelemetry(ctx context.Context, sample domain.SerialTelemetry) {
	sw, ok := h.registry.Load().LookupByMAC(sample.MAC)
	if !ok {
		h.deps.Metrics.LookupMiss(metrics.DirectionSerial)
		h.logger.Warn().Str("mac", sample.MAC).Msg("Telemetry from unknown switch")
		return
	}

	upd := sw.ApplyTelemetry(sample, h.accountant)

	h.deps.Metrics.CloudWriteFailures(upd.FailedWrites)
	h.deps.Metrics.TelemetryAccepted(sw.MAC(), upd.Record.CumulativeEnergyKWh, upd.Record.CumulativeCostDollars)
	h.deps.Sink.Record(ctx, sample, upd.Record)
}

func (h *Hub) processCloud(ctx context.Context) {
	for ctx.Err() == nil {
		cmd, ok := h.cloudQueue.Get(ctx, h.config.QueuePollTimeout())
		if !ok {
			continue
		}
		h.relayCommand(cmd)
	}
}

func (h *Hub) relayCommand(cmd domain.CloudCommand) {
	sw, ok := h.registry.Load().LookupByGUID(cmd.GUID)
	if !ok {
		h.deps.Metrics.LookupMiss(metrics.DirectionCloud)
		h.logger.Warn().Str("guid", cmd.GUID).Msg("Command for unknown switch")
		return
	}

	if !codec.Actionable(cmd) {
		h.logger.Debug().
			Str("guid", cmd.GUID).
			Str("channel", cmd.Channel.String()).
			Msg("Ignoring command on non-actionable channel")
		return
	}

	serialCmd := codec.CommandFor(sw.MAC(), cmd.PowerState)
	if err := sw.SendCommand(serialCmd, h.serial); err != nil {
		h.deps.Metrics.SerialWriteFailure()
		h.logger.Error().
			Err(err).
			Bool("critical", true).
			Str("mac", sw.MAC()).
			Str("action", string(serialCmd.Action)).
			Msg("Failed to relay command to coordinator")
		return
	}

	h.deps.Metrics.CommandRelayed()
	h.logger.Info().
		Str("mac", sw.MAC()).
		Str("action", string(serialCmd.Action)).
		Msg("Command relayed")
}

func (h *Hub) pumpSessions(ctx context.Context) {
	ticker := time.NewTicker(h.config.PumpInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, sw := range h.registry.Load().Switches() {
				if ctx.Err() != nil {
					return
				}
				sw.Session().Pump()
			}
		}
	}
}

func (h *Hub) snapshotPeriodically(ctx context.Context) {
	ticker := time.NewTicker(h.config.BackupInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := h.registry.Load().SnapshotAndSave()
			h.deps.Metrics.Snapshot(err == nil)
		}
	}
}
