package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resident-x/homegrid/internal/codec"
	"github.com/resident-x/homegrid/internal/domain"
)

func TestParseCommands(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantCmds []command
		wantRest string
	}{
		{name: "empty", input: "", wantRest: ""},
		{name: "single on", input: "AA,on", wantCmds: []command{{"AA", domain.ActionOn}}},
		{name: "single off", input: "AA,off", wantCmds: []command{{"AA", domain.ActionOff}}},
		{
			name:     "back to back",
			input:    "AA,offBB,on",
			wantCmds: []command{{"AA", domain.ActionOff}, {"BB", domain.ActionOn}},
		},
		{name: "partial action", input: "AA,of", wantRest: "AA,of"},
		{name: "partial mac", input: "0013a2", wantRest: "0013a2"},
		{name: "complete then partial", input: "AA,onBB,", wantCmds: []command{{"AA", domain.ActionOn}}, wantRest: "BB,"},
		{name: "garbage skipped", input: "AA,xyzBB,off", wantCmds: []command{{"xyzBB", domain.ActionOff}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmds, rest := parseCommands([]byte(tt.input))
			assert.Equal(t, tt.wantCmds, cmds)
			assert.Equal(t, tt.wantRest, string(rest))
		})
	}
}

func TestTelemetryLine_Decodes(t *testing.T) {
	sim := NewSimulator(nil, []string{"AA", "BB"}, 100, time.Second)
	sim.plugs[1].on = false

	on, err := codec.DecodeTelemetry(sim.telemetryLine(sim.plugs[0]), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "AA", on.MAC)
	assert.True(t, on.PowerState)
	assert.InDelta(t, 100, on.PowerDrawWatts, 5)
	assert.InDelta(t, 120, on.Voltage, 2)

	off, err := codec.DecodeTelemetry(sim.telemetryLine(sim.plugs[1]), time.Now())
	require.NoError(t, err)
	assert.False(t, off.PowerState)
	assert.Zero(t, off.PowerDrawWatts)
}

// pipePort is a bytes-backed io.ReadWriter: reads drain in, writes go to out.
type pipePort struct {
	mu  sync.Mutex
	in  bytes.Buffer
	out bytes.Buffer
}

func (p *pipePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.in.Len() == 0 {
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	return p.in.Read(b)
}

func (p *pipePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.Write(b)
}

func (p *pipePort) feed(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.in.WriteString(s)
}

func (p *pipePort) lines() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.Split(strings.TrimSpace(p.out.String()), "\n")
}

func TestSimulator_RunAppliesCommands(t *testing.T) {
	port := &pipePort{}
	sim := NewSimulator(port, []string{"AA"}, 50, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sim.Run(ctx) }()

	port.feed("AA,off")
	require.Eventually(t, func() bool {
		lines := port.lines()
		return strings.HasPrefix(lines[len(lines)-1], "AA,1,")
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestTelemetryLine_Replay(t *testing.T) {
	sim := NewSimulator(nil, []string{"0013a20041cc5773"}, 0, time.Second)
	sim.replay = true

	assert.Equal(t, "0013a20041cc5773,0,15.169,122.5637\n", sim.telemetryLine(sim.plugs[0]))

	sim.step = 2
	assert.Equal(t, "0013a20041cc5773,0,13.002,122.2096\n", sim.telemetryLine(sim.plugs[0]))

	sim.step = len(recordedSamples)
	assert.Equal(t, "0013a20041cc5773,0,15.169,122.5637\n", sim.telemetryLine(sim.plugs[0]))

	sim.plugs[0].on = false
	assert.Equal(t, "0013a20041cc5773,1,0,122.5637\n", sim.telemetryLine(sim.plugs[0]))
}
