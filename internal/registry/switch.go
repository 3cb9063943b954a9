package registry

import (
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/resident-x/homegrid/internal/accounting"
	"github.com/resident-x/homegrid/internal/codec"
	"github.com/resident-x/homegrid/internal/domain"
)

// Switch is one managed smart plug. Every state mutation and every push
// through its cloud session happens under mu.
type Switch struct {
	mac     string
	guid    string
	session domain.CloudSession
	logger  zerolog.Logger

	mu     sync.Mutex
	record domain.SwitchRecord
}

// Update describes the effect of one accepted telemetry sample.
type Update struct {
	// Record is the switch state after the sample was applied
	Record domain.SwitchRecord
	// EnergyIncrement is the kWh attributed to the sample
	EnergyIncrement float64
	// FailedWrites is the number of cloud channel writes that failed
	FailedWrites int
}

func newSwitch(rec domain.SwitchRecord, session domain.CloudSession) *Switch {
	return &Switch{
		mac:     rec.MAC,
		guid:    rec.GUID,
		session: session,
		logger: log.With().
			Str("component", "switch").
			Str("mac", rec.MAC).
			Str("guid", rec.GUID).
			Logger(),
		record: rec,
	}
}

// MAC returns the radio address.
func (s *Switch) MAC() string {
	return s.mac
}

// GUID returns the cloud identity.
func (s *Switch) GUID() string {
	return s.guid
}

// Session returns the cloud session bound to the switch.
func (s *Switch) Session() domain.CloudSession {
	return s.session
}

// Record returns a consistent copy of the durable state.
func (s *Switch) Record() domain.SwitchRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record
}

// ApplyTelemetry folds one sample into the switch state and pushes the derived
// channel writes to the cloud session. A failed write is logged and counted,
// the remaining writes still go out.
func (s *Switch) ApplyTelemetry(sample domain.SerialTelemetry, acct accounting.Accountant) Update {
	s.mu.Lock()
	defer s.mu.Unlock()

	totals, kwh := acct.Apply(accounting.Totals{
		EnergyKWh:   s.record.CumulativeEnergyKWh,
		CostDollars: s.record.CumulativeCostDollars,
	}, sample.PowerDrawWatts)

	s.record.CumulativeEnergyKWh = totals.EnergyKWh
	s.record.CumulativeCostDollars = totals.CostDollars
	s.record.PowerState = sample.PowerState
	if sample.ReceivedAt.After(s.record.LastSeen) {
		s.record.LastSeen = sample.ReceivedAt
	}

	failed := 0
	for _, w := range codec.EncodeTelemetry(sample, s.record) {
		if err := s.session.Send(w.Channel, w.Value, w.Kind); err != nil {
			failed++
			s.logger.Warn().
				Err(err).
				Str("channel", w.Channel.String()).
				Float64("value", w.Value).
				Msg("Cloud write failed")
		}
	}

	s.logger.Debug().
		Bool("power_state", s.record.PowerState).
		Float64("power_draw_watts", sample.PowerDrawWatts).
		Float64("cumulative_energy_kwh", s.record.CumulativeEnergyKWh).
		Msg("Telemetry applied")

	return Update{
		Record:          s.record,
		EnergyIncrement: kwh,
		FailedWrites:    failed,
	}
}

// SendCommand writes an encoded command to the serial link while holding the
// switch guard.
func (s *Switch) SendCommand(cmd domain.SerialCommand, w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := codec.EncodeCommand(cmd)
	n, err := w.Write(buf)
	if err != nil {
		return fmt.Errorf("failed to write command for %s: %w", s.mac, err)
	}
	if n != len(buf) {
		return fmt.Errorf("failed to write command for %s: %w (%d of %d bytes)", s.mac, io.ErrShortWrite, n, len(buf))
	}
	return nil
}

func (s *Switch) lock() {
	s.mu.Lock()
}

func (s *Switch) unlock() {
	s.mu.Unlock()
}

// recordLocked must only be called with mu held.
func (s *Switch) recordLocked() domain.SwitchRecord {
	return s.record
}
