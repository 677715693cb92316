package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kilianp07/homecharge/core/model"
)

const mosquittoConf = `listener 1883
allow_anonymous true
persistence false
`

func startMosquitto(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mosquitto.conf")
	require.NoError(t, os.WriteFile(path, []byte(mosquittoConf), 0o644))

	ctx := context.Background()
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "eclipse-mosquitto:2.0",
			ExposedPorts: []string{"1883/tcp"},
			WaitingFor:   wait.ForListeningPort("1883/tcp"),
			Files: []tc.ContainerFile{{
				HostFilePath:      path,
				ContainerFilePath: "/mosquitto/config/mosquitto.conf",
				FileMode:          0o644,
			}},
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cont.Terminate(context.Background()) })

	host, err := cont.Host(ctx)
	require.NoError(t, err)
	port, err := cont.MappedPort(ctx, "1883/tcp")
	require.NoError(t, err)
	return fmt.Sprintf("tcp://%s:%s", host, port.Port())
}

func TestPublishAgainstBroker(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping broker test in short mode")
	}
	tc.SkipIfProviderIsNotHealthy(t)
	broker := startMosquitto(t)

	got := make(chan paho.Message, 4)
	sub := paho.NewClient(paho.NewClientOptions().AddBroker(broker).SetClientID("probe"))
	tok := sub.Connect()
	require.True(t, tok.WaitTimeout(5*time.Second))
	require.NoError(t, tok.Error())
	defer sub.Disconnect(100)
	tok = sub.Subscribe("homecharge/session/#", 1, func(_ paho.Client, m paho.Message) { got <- m })
	require.True(t, tok.WaitTimeout(5*time.Second))
	require.NoError(t, tok.Error())

	cli, err := NewPahoClient(Config{Broker: broker, ClientID: "publisher", QoS: 1})
	require.NoError(t, err)
	defer cli.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, cli.PublishNewSession(ctx, snapshot()))
	require.NoError(t, cli.PublishPrediction(ctx, "4242", model.Prediction{VehicleID: "bolt", Confidence: 0.9}))

	topics := map[string]map[string]any{}
	for len(topics) < 2 {
		select {
		case m := <-got:
			var body map[string]any
			require.NoError(t, json.Unmarshal(m.Payload(), &body))
			topics[m.Topic()] = body
		case <-ctx.Done():
			t.Fatalf("received %d of 2 messages", len(topics))
		}
	}
	require.Equal(t, "4242", topics["homecharge/session/new"]["session_id"])
	require.Equal(t, "bolt", topics["homecharge/session/4242/vehicle"]["vehicle_id"])
}
