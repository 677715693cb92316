package mqtt

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/homecharge/core/chargerstate"
	"github.com/kilianp07/homecharge/core/model"
)

// generateCert writes a self-signed certificate, its key and a CA bundle.
func generateCert(t *testing.T) (certFile, keyFile, caFile string) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := x509.Certificate{SerialNumber: big.NewInt(1), Subject: pkix.Name{CommonName: "test"}, NotBefore: time.Now(), NotAfter: time.Now().Add(time.Hour)}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	require.NoError(t, err)
	certPEM := pemEncode("CERTIFICATE", der)
	keyPEM := pemEncode("RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(priv))

	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	caFile = filepath.Join(dir, "ca.pem")
	require.NoError(t, os.WriteFile(certFile, certPEM, 0o644))
	require.NoError(t, os.WriteFile(keyFile, keyPEM, 0o600))
	require.NoError(t, os.WriteFile(caFile, certPEM, 0o644))
	return
}

func pemEncode(typ string, der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der})
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// mockClient implements pahoClient for tests.
type mockClient struct {
	opts        *paho.ClientOptions
	published   []published
	publishErrs []error
	connectErr  error
}

func (m *mockClient) IsConnected() bool { return true }
func (m *mockClient) Connect() paho.Token {
	if m.connectErr != nil {
		return &dummyToken{err: m.connectErr}
	}
	return &dummyToken{}
}
func (m *mockClient) Disconnect(uint) {}
func (m *mockClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	b, _ := payload.([]byte)
	m.published = append(m.published, published{topic, qos, retained, b})
	if len(m.publishErrs) > 0 {
		err := m.publishErrs[0]
		m.publishErrs = m.publishErrs[1:]
		return &dummyToken{err: err}
	}
	return &dummyToken{}
}

type dummyToken struct{ err error }

func (d dummyToken) Wait() bool                     { return true }
func (d dummyToken) WaitTimeout(time.Duration) bool { return true }
func (d dummyToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (d dummyToken) Error() error                   { return d.err }

func withMock(t *testing.T, mc *mockClient) {
	t.Helper()
	newMQTTClient = func(o *paho.ClientOptions) pahoClient { mc.opts = o; return mc }
	t.Cleanup(func() {
		newMQTTClient = func(opts *paho.ClientOptions) pahoClient { return paho.NewClient(opts) }
	})
}

func snapshot() chargerstate.Snapshot {
	return chargerstate.Snapshot{
		SessionID: "4242",
		Timestamp: time.Date(2025, 7, 5, 13, 0, 0, 0, time.UTC),
		Status:    chargerstate.ChargerState{ChargerID: "123", Connected: true, PluggedIn: true, ChargingStatus: "CHARGING", SessionID: "4242", Charging: true},
	}
}

func TestLoadTLSConfig(t *testing.T) {
	cert, key, ca := generateCert(t)
	cfg := Config{UseTLS: true, ClientCert: cert, ClientKey: key, CABundle: ca}
	tlsCfg, err := cfg.LoadTLSConfig()
	require.NoError(t, err)
	assert.NotEmpty(t, tlsCfg.Certificates)
	assert.NotNil(t, tlsCfg.RootCAs)

	_, err = Config{UseTLS: true}.LoadTLSConfig()
	assert.Error(t, err)
}

func TestNewClientOptions(t *testing.T) {
	opts, err := NewClientOptions(Config{Broker: "tcp://localhost:1883", ClientID: "id", Username: "u", Password: "p", TopicPrefix: "home/"})
	require.NoError(t, err)
	assert.Equal(t, "u", opts.Username)
	assert.Equal(t, "p", opts.Password)
	assert.True(t, opts.WillEnabled)
	assert.Equal(t, "home/status", opts.WillTopic)
	assert.Equal(t, "offline", string(opts.WillPayload))
	assert.True(t, opts.WillRetained)

	opts, err = NewClientOptions(Config{Broker: "tcp://localhost:1883", Username: "u", AuthMethod: "certificate"})
	require.NoError(t, err)
	assert.Empty(t, opts.Username)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, Config{}.Validate())
	assert.Error(t, Config{Broker: "tcp://b:1883", QoS: 3}.Validate())
	assert.Error(t, Config{Broker: "tcp://b:1883", UseTLS: true}.Validate())
}

func TestPublishTopics(t *testing.T) {
	mc := &mockClient{}
	withMock(t, mc)
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883", ClientID: "id", QoS: 1})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, cli.PublishState(ctx, snapshot()))
	require.NoError(t, cli.PublishNewSession(ctx, snapshot()))
	require.NoError(t, cli.PublishPrediction(ctx, "4242", model.Prediction{VehicleID: "bolt", Confidence: 0.93}))

	require.Len(t, mc.published, 3)
	assert.Equal(t, published{"homecharge/charger/123/state", 1, true, mc.published[0].payload}, mc.published[0])
	assert.Equal(t, "homecharge/session/new", mc.published[1].topic)
	assert.False(t, mc.published[1].retained)
	assert.Equal(t, "homecharge/session/4242/vehicle", mc.published[2].topic)
	assert.True(t, mc.published[2].retained)

	var state map[string]any
	require.NoError(t, json.Unmarshal(mc.published[0].payload, &state))
	assert.Equal(t, "4242", state["session_id"])
	assert.Equal(t, true, state["online"])
	assert.Equal(t, "CHARGING", state["status"].(map[string]any)["charging_status"])

	var ev map[string]any
	require.NoError(t, json.Unmarshal(mc.published[1].payload, &ev))
	assert.Equal(t, "4242", ev["session_id"])
	assert.NotEmpty(t, ev["event_id"])

	var pred map[string]any
	require.NoError(t, json.Unmarshal(mc.published[2].payload, &pred))
	assert.Equal(t, "bolt", pred["vehicle_id"])
	assert.InDelta(t, 0.93, pred["confidence"], 1e-9)
}

func TestPublishRetries(t *testing.T) {
	mc := &mockClient{publishErrs: []error{errors.New("net fail"), nil}}
	withMock(t, mc)
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883", ClientID: "id", MaxRetries: 1, BackoffMS: 1})
	require.NoError(t, err)
	require.NoError(t, cli.PublishState(context.Background(), snapshot()))
	assert.Len(t, mc.published, 2)
}

func TestPublishGivesUp(t *testing.T) {
	fail := errors.New("net fail")
	mc := &mockClient{publishErrs: []error{fail, fail, fail}}
	withMock(t, mc)
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883", ClientID: "id", MaxRetries: 2, BackoffMS: 1})
	require.NoError(t, err)
	assert.ErrorIs(t, cli.PublishNewSession(context.Background(), snapshot()), fail)
	assert.Len(t, mc.published, 3)
}

func TestPublishHonoursContext(t *testing.T) {
	mc := &mockClient{publishErrs: []error{errors.New("net fail")}}
	withMock(t, mc)
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883", ClientID: "id", MaxRetries: 3, BackoffMS: 10_000})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, cli.PublishState(ctx, snapshot()), context.DeadlineExceeded)
}

func TestConnectError(t *testing.T) {
	withMock(t, &mockClient{connectErr: errors.New("refused")})
	_, err := NewPahoClient(Config{Broker: "tcp://localhost:1883"})
	assert.EqualError(t, err, "refused")
}
