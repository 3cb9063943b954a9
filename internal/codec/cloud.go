package codec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/resident-x/homegrid/internal/domain"
)

// DecodeCommand validates a raw inbound cloud message and converts it into a
// command.
func DecodeCommand(msg domain.InboundMessage) (domain.CloudCommand, error) {
	if !msg.Channel.Valid() {
		return domain.CloudCommand{}, fmt.Errorf("%w: %d", ErrUnknownChannel, int(msg.Channel))
	}

	value, err := strconv.Atoi(strings.TrimSpace(msg.Value))
	if err != nil {
		return domain.CloudCommand{}, fmt.Errorf("%w: %q", ErrInvalidValue, msg.Value)
	}
	if value != 0 && value != 1 {
		return domain.CloudCommand{}, fmt.Errorf("%w: %d", ErrInvalidValue, value)
	}

	return domain.CloudCommand{
		GUID:       msg.ClientID,
		Topic:      msg.Topic,
		Channel:    msg.Channel,
		MessageID:  msg.MessageID,
		PowerState: value == 1,
	}, nil
}

// Actionable reports whether the hub should relay cmd to the coordinator.
func Actionable(cmd domain.CloudCommand) bool {
	return cmd.Channel == domain.ChannelPowerToggle
}

// EncodeTelemetry produces the ordered channel writes for one accepted sample.
// state must already include the increments from the sample.
func EncodeTelemetry(sample domain.SerialTelemetry, state domain.SwitchRecord) []domain.CloudTelemetryWrite {
	toggle := boolToFloat(sample.PowerState)

	return []domain.CloudTelemetryWrite{
		{Channel: domain.ChannelPowerDraw, Value: sample.PowerDrawWatts, Kind: domain.KindPower},
		{Channel: domain.ChannelPowerToggle, Value: toggle, Kind: domain.KindDigitalSensor},
		{Channel: domain.ChannelPowerIndicator, Value: toggle, Kind: domain.KindDigitalSensor},
		{Channel: domain.ChannelVoltage, Value: sample.Voltage, Kind: domain.KindVoltage},
		{Channel: domain.ChannelPowerState, Value: boolToFloat(state.PowerState), Kind: domain.KindAnalogSensor},
		{Channel: domain.ChannelCumulativeEnergyKWh, Value: state.CumulativeEnergyKWh, Kind: domain.KindEnergy},
		{Channel: domain.ChannelCumulativeCost, Value: state.CumulativeCostDollars, Kind: domain.KindAnalogSensor},
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
