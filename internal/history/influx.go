// Package history records accepted telemetry samples in InfluxDB.
package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/resident-x/homegrid/internal/config"
	"github.com/resident-x/homegrid/internal/domain"
)

const (
	// Measurement is the InfluxDB measurement every sample is written to.
	Measurement = "switch_telemetry"

	defaultConnectTimeout = 10 * time.Second
	millisecondsPerSecond = 1000
)

// NoopSink discards every sample.
type NoopSink struct{}

// Record is a no-op for the NoopSink.
func (NoopSink) Record(_ context.Context, _ domain.SerialTelemetry, _ domain.SwitchRecord) {}

// Close is a no-op for the NoopSink.
func (NoopSink) Close() error {
	return nil
}

// InfluxSink implements domain.TelemetrySink on the non-blocking InfluxDB
// write API. Points are batched and flushed in the background.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   zerolog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// New returns the sink selected by cfg: a NoopSink when history is disabled,
// otherwise a connected InfluxSink.
func New(cfg *config.Config) (domain.TelemetrySink, error) {
	if !cfg.History.Enabled {
		return NoopSink{}, nil
	}
	return Connect(cfg)
}

// Connect creates the client and verifies the server answers a ping.
func Connect(cfg *config.Config) (*InfluxSink, error) {
	if !cfg.History.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.History.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	flushInterval := cfg.History.FlushIntervalSeconds
	if flushInterval <= 0 {
		flushInterval = 10
	}

	client := influxdb2.NewClientWithOptions(
		cfg.History.URL,
		cfg.History.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval)*millisecondsPerSecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	s := newInfluxSink(client, client.WriteAPI(cfg.History.Org, cfg.History.Bucket))
	s.logger.Info().
		Str("url", cfg.History.URL).
		Str("bucket", cfg.History.Bucket).
		Msg("History sink connected")
	return s, nil
}

func newInfluxSink(client influxdb2.Client, writeAPI api.WriteAPI) *InfluxSink {
	s := &InfluxSink{
		client:   client,
		writeAPI: writeAPI,
		logger:   log.With().Str("component", "history").Logger(),
		done:     make(chan struct{}),
	}
	go s.handleWriteErrors(writeAPI.Errors())
	return s
}

func (s *InfluxSink) handleWriteErrors(errorsCh <-chan error) {
	for {
		select {
		case err, ok := <-errorsCh:
			if !ok {
				return
			}
			s.logger.Warn().Err(err).Msg("History write failed")
		case <-s.done:
			return
		}
	}
}

// Point builds the InfluxDB point for one sample and the state it produced.
func Point(sample domain.SerialTelemetry, state domain.SwitchRecord) *write.Point {
	return write.NewPoint(
		Measurement,
		map[string]string{
			"mac":  state.MAC,
			"guid": state.GUID,
		},
		map[string]interface{}{
			"power_state":             sample.PowerState,
			"power_draw_watts":        sample.PowerDrawWatts,
			"voltage":                 sample.Voltage,
			"cumulative_energy_kwh":   state.CumulativeEnergyKWh,
			"cumulative_cost_dollars": state.CumulativeCostDollars,
		},
		sample.ReceivedAt,
	)
}

// Record queues one point. It never blocks on the network.
func (s *InfluxSink) Record(_ context.Context, sample domain.SerialTelemetry, state domain.SwitchRecord) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	s.writeAPI.WritePoint(Point(sample, state))
}

// Close flushes pending points and closes the client.
func (s *InfluxSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.writeAPI.Flush()
	close(s.done)
	s.client.Close()
	return nil
}
