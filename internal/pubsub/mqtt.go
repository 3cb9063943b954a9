// Package pubsub provides the per-switch cloud sessions.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/resident-x/homegrid/internal/config"
	"github.com/resident-x/homegrid/internal/domain"
)

var (
	// ErrNotConnected indicates a write was attempted on a session that is not connected.
	ErrNotConnected = errors.New("pubsub: session not connected")

	// ErrPublishTimeout indicates the broker did not acknowledge a publish in time.
	ErrPublishTimeout = errors.New("pubsub: publish timeout")
)

// NoopSession is a no-operation implementation of domain.CloudSession.
type NoopSession struct {
	guid string
}

// NewNoopSession creates a new no-operation session.
func NewNoopSession(guid string) *NoopSession {
	return &NoopSession{guid: guid}
}

// ID returns the cloud identity.
func (s *NoopSession) ID() string {
	return s.guid
}

// Connect is a no-op for the NoopSession.
func (s *NoopSession) Connect(_ context.Context) error {
	return nil
}

// Send is a no-op for the NoopSession.
func (s *NoopSession) Send(_ domain.Channel, _ float64, _ domain.UnitKind) error {
	return nil
}

// OnInbound is a no-op for the NoopSession.
func (s *NoopSession) OnInbound(_ domain.InboundHandler) {}

// Pump is a no-op for the NoopSession.
func (s *NoopSession) Pump() {}

// Close is a no-op for the NoopSession.
func (s *NoopSession) Close() error {
	return nil
}

// NewSessionFactory returns the factory the registry uses to bind a session
// to every switch. Disabled cloud settings yield no-op sessions.
func NewSessionFactory(cfg *config.Config) domain.SessionFactory {
	if !cfg.Cloud.Enabled {
		return func(guid string) domain.CloudSession {
			return NewNoopSession(guid)
		}
	}
	return func(guid string) domain.CloudSession {
		return NewCayenneSession(cfg, guid)
	}
}

// CayenneSession implements domain.CloudSession on the Cayenne MQTT API v1.
// The broker client id is the switch's GUID.
type CayenneSession struct {
	config        *config.Config
	guid          string
	client        mqtt.Client
	clientFactory func(cfg *config.Config, guid string, onConnect mqtt.OnConnectHandler, onLost mqtt.ConnectionLostHandler) mqtt.Client
	logger        zerolog.Logger

	mu        sync.RWMutex
	connected bool
	handler   domain.InboundHandler

	// inbox buffers messages received on paho's goroutines until Pump
	inbox chan domain.InboundMessage
}

// NewCayenneSession creates an unconnected session for guid.
func NewCayenneSession(cfg *config.Config, guid string) *CayenneSession {
	return &CayenneSession{
		config:        cfg,
		guid:          guid,
		clientFactory: createMQTTClient,
		logger:        log.With().Str("component", "cloud").Str("guid", guid).Logger(),
		inbox:         make(chan domain.InboundMessage, inboxSize(cfg)),
	}
}

// NewCayenneSessionWithClient creates a session with a custom client (for testing).
func NewCayenneSessionWithClient(cfg *config.Config, guid string, client mqtt.Client) *CayenneSession {
	s := NewCayenneSession(cfg, guid)
	s.client = client
	s.clientFactory = nil
	return s
}

func inboxSize(cfg *config.Config) int {
	if cfg.Cloud.InboxSize > 0 {
		return cfg.Cloud.InboxSize
	}
	return 64
}

// createMQTTClient is the default factory function for creating MQTT clients.
func createMQTTClient(cfg *config.Config, guid string, onConnect mqtt.OnConnectHandler, onLost mqtt.ConnectionLostHandler) mqtt.Client {
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Cloud.Host, cfg.Cloud.Port)).
		SetClientID(guid).
		SetAutoReconnect(true).
		SetConnectTimeout(time.Duration(cfg.Cloud.ConnectTimeoutSeconds) * time.Second).
		SetWriteTimeout(time.Duration(cfg.Cloud.PublishTimeoutSeconds) * time.Second).
		SetKeepAlive(30 * time.Second).
		SetCleanSession(true).
		SetOnConnectHandler(onConnect).
		SetConnectionLostHandler(onLost)

	if cfg.Cloud.Username != "" {
		opts.SetUsername(cfg.Cloud.Username)
		opts.SetPassword(cfg.Cloud.Password)
	}

	return mqtt.NewClient(opts)
}

// DataTopic returns the topic a channel value is published on.
func DataTopic(username, guid string, channel domain.Channel) string {
	return fmt.Sprintf("v1/%s/things/%s/data/%d", username, guid, int(channel))
}

// CommandTopic returns the subscription filter for commands addressed to guid.
func CommandTopic(username, guid string) string {
	return fmt.Sprintf("v1/%s/things/%s/cmd/+", username, guid)
}

// DataPayload renders a channel value as "type,unit=value".
func DataPayload(value float64, kind domain.UnitKind) string {
	return kind.String() + "=" + strconv.FormatFloat(value, 'f', -1, 64)
}

// ID returns the cloud identity.
func (s *CayenneSession) ID() string {
	return s.guid
}

// Connect establishes the broker connection and subscribes to the command topic.
func (s *CayenneSession) Connect(ctx context.Context) error {
	if s.client == nil {
		s.client = s.clientFactory(s.config, s.guid, s.onConnect, s.onConnectionLost)
	}

	timeout := s.connectTimeout()
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	connToken := s.client.Connect()

	select {
	case <-connectCtx.Done():
		return fmt.Errorf("failed to connect session %s: timeout after %s", s.guid, timeout)
	case <-connToken.Done():
		if connToken.Error() != nil {
			return fmt.Errorf("failed to connect session %s: %w", s.guid, connToken.Error())
		}
	}

	s.setConnected(true)

	// onConnect subscribes again after every automatic reconnect
	if err := s.subscribe(connectCtx); err != nil {
		s.client.Disconnect(250)
		s.setConnected(false)
		return err
	}

	s.logger.Info().Msg("Cloud session connected")
	return nil
}

func (s *CayenneSession) onConnect(client mqtt.Client) {
	s.setConnected(true)

	ctx, cancel := context.WithTimeout(context.Background(), s.connectTimeout())
	defer cancel()
	if err := s.subscribe(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Command subscription failed")
	}
}

func (s *CayenneSession) connectTimeout() time.Duration {
	if s.config.Cloud.ConnectTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(s.config.Cloud.ConnectTimeoutSeconds) * time.Second
}

func (s *CayenneSession) onConnectionLost(_ mqtt.Client, err error) {
	s.setConnected(false)
	s.logger.Warn().Err(err).Msg("Cloud connection lost")
}

func (s *CayenneSession) subscribe(ctx context.Context) error {
	topic := CommandTopic(s.config.Cloud.Username, s.guid)
	token := s.client.Subscribe(topic, 0, s.handleMessage)

	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to subscribe to %s: %w", topic, ctx.Err())
	case <-token.Done():
		if token.Error() != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, token.Error())
		}
	}

	s.logger.Debug().Str("topic", topic).Msg("Subscribed to commands")
	return nil
}

// handleMessage runs on paho's goroutines and must never block.
func (s *CayenneSession) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	inbound, err := parseCommand(s.guid, msg.Topic(), msg.Payload())
	if err != nil {
		s.logger.Warn().Err(err).Str("topic", msg.Topic()).Msg("Dropping unparseable command")
		return
	}

	select {
	case s.inbox <- inbound:
	default:
		s.logger.Warn().Str("topic", msg.Topic()).Msg("Inbox full, dropping command")
	}
}

// parseCommand splits a Cayenne command into its parts. The topic is
// v1/{username}/things/{guid}/cmd/{channel} and the payload "{msg_id},{value}".
func parseCommand(guid, topic string, payload []byte) (domain.InboundMessage, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 6 || parts[0] != "v1" || parts[2] != "things" || parts[4] != "cmd" {
		return domain.InboundMessage{}, fmt.Errorf("unexpected command topic %q", topic)
	}

	channel, err := strconv.Atoi(parts[5])
	if err != nil {
		return domain.InboundMessage{}, fmt.Errorf("non-numeric channel in %q", topic)
	}

	msgID, value, ok := strings.Cut(string(payload), ",")
	if !ok {
		return domain.InboundMessage{}, fmt.Errorf("command payload %q has no message id", payload)
	}

	return domain.InboundMessage{
		ClientID:  guid,
		Topic:     topic,
		Channel:   domain.Channel(channel),
		MessageID: msgID,
		Value:     value,
	}, nil
}

// OnInbound registers the handler Pump delivers commands to.
func (s *CayenneSession) OnInbound(handler domain.InboundHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

// Pump delivers every buffered command to the registered handler.
func (s *CayenneSession) Pump() {
	s.mu.RLock()
	handler := s.handler
	s.mu.RUnlock()

	for {
		select {
		case msg := <-s.inbox:
			if handler == nil {
				s.logger.Debug().Str("topic", msg.Topic).Msg("No handler registered, dropping command")
				continue
			}
			handler(msg)
		default:
			return
		}
	}
}

// Send publishes one channel value.
func (s *CayenneSession) Send(channel domain.Channel, value float64, kind domain.UnitKind) error {
	if !s.isConnected() {
		return ErrNotConnected
	}

	topic := DataTopic(s.config.Cloud.Username, s.guid, channel)
	token := s.client.Publish(topic, 0, false, DataPayload(value, kind))

	timeout := time.Duration(s.config.Cloud.PublishTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-timer.C:
		return fmt.Errorf("%w: %s after %s", ErrPublishTimeout, topic, timeout)
	case <-token.Done():
		if token.Error() != nil {
			return fmt.Errorf("failed to publish to %s: %w", topic, token.Error())
		}
	}

	return nil
}

// Close terminates the broker connection.
func (s *CayenneSession) Close() error {
	if s.client != nil && s.isConnected() {
		s.client.Disconnect(250)
		s.setConnected(false)
		s.logger.Debug().Msg("Cloud session closed")
	}
	return nil
}

func (s *CayenneSession) setConnected(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = v
}

func (s *CayenneSession) isConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}
