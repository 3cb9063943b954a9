// Package pubsubtest runs an embedded MQTT broker for tests.
package pubsubtest

import (
	"fmt"
	"net"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	mqttserver "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/require"
)

// Message is a message observed by a test client.
type Message struct {
	Topic   string
	Payload string
}

// StartBroker starts an embedded broker on a free local port and stops it when
// the test ends.
func StartBroker(t testing.TB) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	server := mqttserver.New(&mqttserver.Options{
		InlineClient: true,
	})
	require.NoError(t, server.AddHook(new(auth.AllowHook), nil))

	tcp := listeners.NewTCP(listeners.Config{
		ID:      "t1",
		Address: fmt.Sprintf("127.0.0.1:%d", port),
	})
	require.NoError(t, server.AddListener(tcp), "failed to add TCP listener to MQTT broker")

	go func() {
		if err := server.Serve(); err != nil {
			t.Logf("MQTT broker error: %v", err)
		}
	}()
	t.Cleanup(func() { server.Close() })

	// give the listener time to accept
	time.Sleep(100 * time.Millisecond)
	return port
}

// Connect opens a plain client to the broker.
func Connect(t testing.TB, port int, clientID string) mqtt.Client {
	t.Helper()

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://127.0.0.1:%d", port)).
		SetClientID(clientID).
		SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	require.True(t, token.WaitTimeout(5*time.Second), "failed to connect test client")
	require.NoError(t, token.Error())
	t.Cleanup(func() { client.Disconnect(100) })
	return client
}

// Subscribe forwards every message matching filter to the returned channel.
func Subscribe(t testing.TB, port int, filter string) <-chan Message {
	t.Helper()

	client := Connect(t, port, fmt.Sprintf("observer-%d", time.Now().UnixNano()))
	messages := make(chan Message, 256)

	token := client.Subscribe(filter, 0, func(_ mqtt.Client, msg mqtt.Message) {
		select {
		case messages <- Message{Topic: msg.Topic(), Payload: string(msg.Payload())}:
		default:
			t.Logf("observer channel full, dropping %s", msg.Topic())
		}
	})
	require.True(t, token.WaitTimeout(5*time.Second), "failed to subscribe")
	require.NoError(t, token.Error())
	return messages
}

// Publish sends payload on topic and waits for the broker to accept it.
func Publish(t testing.TB, client mqtt.Client, topic, payload string) {
	t.Helper()

	token := client.Publish(topic, 0, false, payload)
	require.True(t, token.WaitTimeout(5*time.Second), "publish timed out")
	require.NoError(t, token.Error())
}
