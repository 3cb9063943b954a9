// Package codec translates between the wire protocols of the hub and its
// domain messages.
//
// The serial direction speaks the radio coordinator's line protocol:
//
//	inbound:  <mac_hex>,<state_flag>,<power_draw>,<voltage>
//	outbound: <mac_hex>,<on|off>
//
// A state flag of 0 means the plug is on. The cloud direction uses the opposite
// convention (1 means on); both are kept as the devices and dashboard expect.
package codec

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/resident-x/homegrid/internal/domain"
)

const telemetryFieldCount = 4

// DecodeTelemetry parses one coordinator line into a telemetry message.
func DecodeTelemetry(line string, receivedAt time.Time) (domain.SerialTelemetry, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return domain.SerialTelemetry{}, ErrEmptyLine
	}

	fields := strings.Split(line, ",")
	if len(fields) != telemetryFieldCount {
		return domain.SerialTelemetry{}, fmt.Errorf("%w: expected %d fields, got %d",
			ErrMalformedLine, telemetryFieldCount, len(fields))
	}

	flag, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil {
		return domain.SerialTelemetry{}, fmt.Errorf("%w: state flag %q", ErrMalformedLine, fields[1])
	}

	powerDraw, err := parseFinite(fields[2])
	if err != nil {
		return domain.SerialTelemetry{}, fmt.Errorf("%w: power draw %q", ErrMalformedLine, fields[2])
	}

	voltage, err := parseFinite(fields[3])
	if err != nil {
		return domain.SerialTelemetry{}, fmt.Errorf("%w: voltage %q", ErrMalformedLine, fields[3])
	}

	return domain.SerialTelemetry{
		MAC:            fields[0],
		PowerState:     flag == 0,
		PowerDrawWatts: powerDraw,
		Voltage:        voltage,
		ReceivedAt:     receivedAt,
	}, nil
}

func parseFinite(field string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite value %v", v)
	}
	return v, nil
}

// CommandFor builds the serial command that drives mac to powerState.
func CommandFor(mac string, powerState bool) domain.SerialCommand {
	return domain.SerialCommand{MAC: mac, Action: domain.ActionFor(powerState)}
}

// EncodeCommand renders a serial command. No line terminator is appended.
func EncodeCommand(cmd domain.SerialCommand) []byte {
	return []byte(cmd.MAC + "," + string(cmd.Action))
}
