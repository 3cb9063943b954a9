// Command coordinator-sim pretends to be the radio coordinator on a serial
// device: it reports telemetry for a set of plugs and obeys on/off commands
// written by the hub.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/resident-x/homegrid/internal/domain"
	"github.com/resident-x/homegrid/internal/serial"
)

// plug is one simulated smart switch.
type plug struct {
	mac   string
	on    bool
	watts float64
}

// recordedSamples is a captured draw/voltage sequence of a lamp being dimmed
// and switched off.
var recordedSamples = []struct{ watts, volts float64 }{
	{15.169, 122.5637}, {15.169, 122.5637}, {13.002, 122.2096}, {13.2187, 122.1879},
	{13.2187, 122.1807}, {13.2187, 122.2241}, {13.2187, 122.2385}, {13.4354, 122.2313},
	{13.4354, 122.2313}, {13.6521, 122.0939}, {13.6521, 122.0145}, {13.6521, 122.1084},
	{13.6521, 122.2385}, {13.8688, 122.2457}, {2.6004, 122.3614}, {0.0, 122.4264},
	{0.0, 122.4192}, {0.0, 122.4481}, {0.0, 122.4336}, {0.0, 122.477},
}

type command struct {
	mac    string
	action domain.Action
}

// Simulator writes telemetry lines to port and applies commands read from it.
type Simulator struct {
	port     io.ReadWriter
	interval time.Duration
	noise    float64
	replay   bool
	rng      *rand.Rand
	logger   zerolog.Logger

	mu    sync.Mutex
	plugs []*plug
	step  int
}

// NewSimulator creates a simulator for macs, all switched on with draw watts.
func NewSimulator(port io.ReadWriter, macs []string, watts float64, interval time.Duration) *Simulator {
	plugs := make([]*plug, 0, len(macs))
	for _, mac := range macs {
		plugs = append(plugs, &plug{mac: mac, on: true, watts: watts})
	}
	return &Simulator{
		port:     port,
		interval: interval,
		noise:    0.05,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:   log.With().Str("component", "coordinator-sim").Logger(),
		plugs:    plugs,
	}
}

// telemetryLine renders a plug report. The state flag is 0 when the plug is on.
func (s *Simulator) telemetryLine(p *plug) string {
	var watts, volts float64
	if s.replay {
		sample := recordedSamples[s.step%len(recordedSamples)]
		watts, volts = sample.watts, sample.volts
	} else {
		watts = p.watts * (1 + s.noise*(s.rng.Float64()*2-1))
		volts = 120 + s.rng.Float64()*4 - 2
	}

	flag := 0
	if !p.on {
		flag, watts = 1, 0
	}
	return fmt.Sprintf("%s,%d,%s,%s\n", p.mac, flag,
		strconv.FormatFloat(watts, 'f', -1, 64), strconv.FormatFloat(volts, 'f', 4, 64))
}

// parseCommands extracts complete "<mac>,on" and "<mac>,off" commands from
// buf. Commands carry no terminator, so an incomplete tail is returned for the
// next read.
func parseCommands(buf []byte) ([]command, []byte) {
	var cmds []command
	for {
		comma := strings.IndexByte(string(buf), ',')
		if comma < 0 {
			return cmds, buf
		}
		rest := string(buf[comma+1:])
		switch {
		case strings.HasPrefix(rest, string(domain.ActionOff)):
			cmds = append(cmds, command{mac: string(buf[:comma]), action: domain.ActionOff})
			buf = buf[comma+1+len(domain.ActionOff):]
		case strings.HasPrefix(rest, string(domain.ActionOn)):
			cmds = append(cmds, command{mac: string(buf[:comma]), action: domain.ActionOn})
			buf = buf[comma+1+len(domain.ActionOn):]
		case strings.HasPrefix(string(domain.ActionOff), rest):
			// "o" or "of" so far
			return cmds, buf
		default:
			// garbage before the comma
			buf = buf[comma+1:]
		}
	}
}

func (s *Simulator) apply(cmd command) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.plugs {
		if p.mac == cmd.mac {
			p.on = cmd.action == domain.ActionOn
			return true
		}
	}
	return false
}

func (s *Simulator) readCommands(ctx context.Context) {
	var pending []byte
	chunk := make([]byte, 256)
	for ctx.Err() == nil {
		n, err := s.port.Read(chunk)
		if n > 0 {
			pending = append(pending, chunk[:n]...)
			var cmds []command
			cmds, pending = parseCommands(pending)
			for _, cmd := range cmds {
				if s.apply(cmd) {
					s.logger.Info().Str("mac", cmd.mac).Str("action", string(cmd.action)).Msg("Command applied")
				} else {
					s.logger.Warn().Str("mac", cmd.mac).Msg("Command for unknown plug")
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Error().Err(err).Msg("Read failed")
			}
			return
		}
	}
}

func (s *Simulator) report() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.plugs {
		if _, err := io.WriteString(s.port, s.telemetryLine(p)); err != nil {
			return err
		}
	}
	s.step++
	return nil
}

// Run reports every interval until ctx is cancelled.
func (s *Simulator) Run(ctx context.Context) error {
	go s.readCommands(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	reports := 0
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Int("reports", reports).Msg("Simulator stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.report(); err != nil {
				return fmt.Errorf("failed to write telemetry: %w", err)
			}
			reports++
			s.logger.Debug().Int("reports", reports).Msg("Telemetry sent")
		}
	}
}

func main() {
	var (
		device   = flag.String("device", "/dev/ttyUSB1", "Serial device to write to (the other end of the hub's link)")
		baudRate = flag.Int("baud", 115200, "Baud rate")
		macs     = flag.String("macs", "0013a20041cc5773", "Comma-separated plug MAC addresses")
		watts    = flag.Float64("watts", 15.169, "Nominal draw of a plug that is on")
		interval = flag.Duration("interval", time.Second, "Interval between telemetry reports")
		replay   = flag.Bool("replay", false, "Replay the recorded lamp samples instead of random draw")
		verbose  = flag.Bool("verbose", false, "Enable debug logging")
	)
	flag.Parse()

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger()

	port, err := serial.OpenPort(*device, *baudRate)
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot open serial device")
	}
	defer port.Close()
	if err := port.SetReadTimeout(500 * time.Millisecond); err != nil {
		log.Fatal().Err(err).Msg("Cannot set read timeout")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sim := NewSimulator(port, strings.Split(*macs, ","), *watts, *interval)
	sim.replay = *replay
	log.Info().
		Str("device", *device).
		Str("macs", *macs).
		Dur("interval", *interval).
		Bool("replay", *replay).
		Msg("Starting coordinator simulator")

	if err := sim.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Simulator error")
		os.Exit(1)
	}
}
