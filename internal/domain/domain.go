// Package domain provides core domain models and interfaces for the homegrid hub.
package domain

import (
	"context"
	"fmt"
	"time"
)

// Channel is a Cayenne virtual channel identifier. The numeric values are part
// of the wire contract with the cloud dashboard.
type Channel int

// Virtual channels used by every smart switch.
const (
	ChannelPowerToggle         Channel = 1
	ChannelPowerState          Channel = 2
	ChannelPowerDraw           Channel = 3
	ChannelVoltage             Channel = 4
	ChannelCumulativeEnergyKWh Channel = 5
	ChannelCumulativeCost      Channel = 6
	ChannelPowerIndicator      Channel = 10
)

// Valid reports whether c is one of the defined virtual channels.
func (c Channel) Valid() bool {
	switch c {
	case ChannelPowerToggle, ChannelPowerState, ChannelPowerDraw, ChannelVoltage,
		ChannelCumulativeEnergyKWh, ChannelCumulativeCost, ChannelPowerIndicator:
		return true
	default:
		return false
	}
}

// String returns the string representation of the channel.
func (c Channel) String() string {
	switch c {
	case ChannelPowerToggle:
		return "power_toggle"
	case ChannelPowerState:
		return "power_state"
	case ChannelPowerDraw:
		return "power_draw"
	case ChannelVoltage:
		return "voltage"
	case ChannelCumulativeEnergyKWh:
		return "cumulative_energy_kwh"
	case ChannelCumulativeCost:
		return "cumulative_cost_dollars"
	case ChannelPowerIndicator:
		return "power_indicator"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// UnitKind is the Cayenne data type and unit pair attached to a channel write.
type UnitKind struct {
	Type string
	Unit string
}

// String renders the kind the way Cayenne expects it in a data payload.
func (k UnitKind) String() string {
	return k.Type + "," + k.Unit
}

// Unit kinds written by the hub.
var (
	KindPower         = UnitKind{Type: "pow", Unit: "w"}
	KindDigitalSensor = UnitKind{Type: "digital_sensor", Unit: "d"}
	KindVoltage       = UnitKind{Type: "voltage", Unit: "v"}
	KindAnalogSensor  = UnitKind{Type: "analog_sensor", Unit: "null"}
	KindEnergy        = UnitKind{Type: "energy", Unit: "kwh"}
)

// Action is the verb sent to the radio coordinator.
type Action string

const (
	ActionOn  Action = "on"
	ActionOff Action = "off"
)

// ActionFor maps a power state onto the coordinator verb.
func ActionFor(powerState bool) Action {
	if powerState {
		return ActionOn
	}
	return ActionOff
}

// SerialTelemetry is a decoded telemetry line from the radio coordinator.
type SerialTelemetry struct {
	MAC            string    `json:"mac"`
	PowerState     bool      `json:"power_state"`
	PowerDrawWatts float64   `json:"power_draw_watts"`
	Voltage        float64   `json:"voltage"`
	ReceivedAt     time.Time `json:"received_at"`
}

// SerialCommand is an outbound on/off command for one device.
type SerialCommand struct {
	MAC    string
	Action Action
}

// CloudCommand is a decoded command delivered by a cloud session.
type CloudCommand struct {
	GUID       string
	Topic      string
	Channel    Channel
	MessageID  string
	PowerState bool
}

// CloudTelemetryWrite is a single virtual channel write.
type CloudTelemetryWrite struct {
	Channel Channel
	Value   float64
	Kind    UnitKind
}

// InboundMessage is a raw command as delivered by a cloud session, before
// decoding.
type InboundMessage struct {
	ClientID  string
	Topic     string
	Channel   Channel
	MessageID string
	Value     string
}

// SwitchRecord is the durable subset of a switch's state.
type SwitchRecord struct {
	MAC                   string    `json:"mac"`
	GUID                  string    `json:"guid"`
	LastSeen              time.Time `json:"last_seen"`
	PowerState            bool      `json:"power_state"`
	CumulativeEnergyKWh   float64   `json:"cumulative_energy_kwh"`
	CumulativeCostDollars float64   `json:"cumulative_cost_dollars"`
}

// InboundHandler receives raw cloud messages. Implementations must not block.
type InboundHandler func(msg InboundMessage)

// CloudSession is the per-device connection to the cloud dashboard.
type CloudSession interface {
	// ID returns the cloud identity the session was opened for
	ID() string

	// Connect establishes the session
	Connect(ctx context.Context) error

	// Send pushes a single value on a virtual channel
	Send(channel Channel, value float64, kind UnitKind) error

	// OnInbound registers the handler invoked by Pump for every inbound message
	OnInbound(handler InboundHandler)

	// Pump delivers buffered inbound messages to the registered handler
	Pump()

	// Close terminates the session
	Close() error
}

// SessionFactory creates an unconnected session for a cloud identity.
type SessionFactory func(guid string) CloudSession

// SnapshotStore persists the ordered sequence of durable switch records.
type SnapshotStore interface {
	// Load returns the persisted records, or an error if the store is
	// missing or corrupt
	Load() ([]SwitchRecord, error)

	// Save replaces the persisted records
	Save(records []SwitchRecord) error
}

// TelemetrySink records accepted telemetry samples for long-term history.
type TelemetrySink interface {
	// Record stores one sample together with the switch state it produced
	Record(ctx context.Context, sample SerialTelemetry, state SwitchRecord)

	// Close flushes pending writes and terminates the sink
	Close() error
}
