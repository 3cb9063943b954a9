package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resident-x/homegrid/internal/domain"
)

func TestDecodeTelemetry(t *testing.T) {
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		line      string
		mac       string
		powerOn   bool
		powerDraw float64
		voltage   float64
	}{
		{"flag zero is on", "0013a20041cc5773,0,15.169,122.5637", "0013a20041cc5773", true, 15.169, 122.5637},
		{"flag one is off", "0013a20041cc5773,1,15.169,122.5637", "0013a20041cc5773", false, 15.169, 122.5637},
		{"any other flag is off", "1234,7,0.0,122.4264", "1234", false, 0, 122.4264},
		{"negative flag is off", "1234,-1,2.6004,122.3614", "1234", false, 2.6004, 122.3614},
		{"trailing carriage return", "1234,0,7.5845,122.4336\r\n", "1234", true, 7.5845, 122.4336},
		{"integer readings", "abcd,0,12,120", "abcd", true, 12, 120},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeTelemetry(tt.line, now)
			require.NoError(t, err)

			assert.Equal(t, tt.mac, msg.MAC)
			assert.Equal(t, tt.powerOn, msg.PowerState)
			assert.InDelta(t, tt.powerDraw, msg.PowerDrawWatts, 1e-9)
			assert.InDelta(t, tt.voltage, msg.Voltage, 1e-9)
			assert.Equal(t, now, msg.ReceivedAt)
		})
	}
}

func TestDecodeTelemetry_Malformed(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"config banner", "0013a20041cc5773,Config Success"},
		{"too many fields", "1234,0,1.0,120.0,extra"},
		{"single field", "1234"},
		{"non numeric flag", "1234,on,1.0,120.0"},
		{"float flag", "1234,0.0,1.0,120.0"},
		{"non numeric draw", "1234,0,lots,120.0"},
		{"non numeric voltage", "1234,0,1.0,mains"},
		{"nan draw", "1234,0,NaN,120.0"},
		{"infinite voltage", "1234,0,1.0,Inf"},
		{"empty fields", ",,,"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				_, err := DecodeTelemetry(tt.line, time.Now())
				assert.ErrorIs(t, err, ErrMalformedLine)
			})
		})
	}
}

func TestDecodeTelemetry_Empty(t *testing.T) {
	_, err := DecodeTelemetry("  \r\n", time.Now())
	assert.ErrorIs(t, err, ErrEmptyLine)
}

func TestEncodeCommand(t *testing.T) {
	assert.Equal(t, "AA,on", string(EncodeCommand(CommandFor("AA", true))))
	assert.Equal(t, "AA,off", string(EncodeCommand(CommandFor("AA", false))))
}

func TestDecodeThenEncode_FollowsInvertedFlag(t *testing.T) {
	lines := map[string]string{
		"0013a20041cc5773,0,15.169,122.5637": "0013a20041cc5773,on",
		"0013a20041cc5773,1,15.169,122.5637": "0013a20041cc5773,off",
		"1234,3,0.0,122.4481":                "1234,off",
	}

	for line, expected := range lines {
		msg, err := DecodeTelemetry(line, time.Now())
		require.NoError(t, err)

		out := EncodeCommand(CommandFor(msg.MAC, msg.PowerState))
		assert.Equal(t, expected, string(out), line)
	}
}

func TestActionFor(t *testing.T) {
	assert.Equal(t, domain.ActionOn, domain.ActionFor(true))
	assert.Equal(t, domain.ActionOff, domain.ActionFor(false))
}
