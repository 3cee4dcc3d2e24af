package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/edaniels/golog"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	aic "github.com/mtraver/awsiotcore"
)

const (
	mqttWait    = 10 * time.Second
	mqttQuiesce = 250
	mqttQoS     = 1
)

// MQTT publishes each reading to <prefix>/<device>/<sensor>.
type MQTT struct {
	client mqtt.Client
	prefix string
	format Format
}

func NewMQTT(client mqtt.Client, prefix string, format Format) *MQTT {
	return &MQTT{
		client: client,
		prefix: prefix,
		format: format,
	}
}

func (m *MQTT) Topic(r Reading) string {
	return path.Join(m.prefix, r.Device, Slug(r.Sensor))
}

func (m *MQTT) Write(ctx context.Context, r Reading) error {
	payload, err := Encode(r, m.format)
	if err != nil {
		return err
	}

	token := m.client.Publish(m.Topic(r), mqttQoS, false, payload)
	return waitToken(ctx, token, "publish")
}

func (m *MQTT) Close() error {
	m.client.Disconnect(mqttQuiesce)
	return nil
}

// waitToken waits for token up to mqttWait or until ctx is done.
func waitToken(ctx context.Context, token mqtt.Token, what string) error {
	timer := time.NewTimer(mqttWait)
	defer timer.Stop()

	select {
	case <-token.Done():
	case <-timer.C:
		// Timed out.
		return fmt.Errorf("sink: MQTT %s timed out after %v", what, mqttWait)
	case <-ctx.Done():
		return fmt.Errorf("sink: MQTT %s: %w", what, ctx.Err())
	}

	if err := token.Error(); err != nil {
		// Finished before timeout but failed.
		return fmt.Errorf("sink: MQTT %s failed: %w", what, err)
	}
	return nil
}

// ClientOption adjusts the MQTT client options before connecting.
type ClientOption func(*mqtt.ClientOptions)

// FileStore keeps in-flight messages in dir so they survive a restart.
func FileStore(dir string) ClientOption {
	return func(opts *mqtt.ClientOptions) {
		opts.SetStore(mqtt.NewFileStore(dir))
	}
}

// ConnectionLogging logs connection state changes under tag.
func ConnectionLogging(logger golog.Logger, tag string) ClientOption {
	return func(opts *mqtt.ClientOptions) {
		opts.SetOnConnectHandler(func(client mqtt.Client) {
			logger.Infof("[%s] Connected to MQTT broker", tag)
		})
		opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
			logger.Warnf("[%s] Connection to MQTT broker lost: %v", tag, err)
		})
	}
}

// ConnectMQTT connects to a plain MQTT broker.
func ConnectMQTT(broker, clientID string, options ...ClientOption) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetCleanSession(false)
	for _, o := range options {
		o(opts)
	}

	return connect(mqtt.NewClient(opts))
}

func connect(client mqtt.Client) (mqtt.Client, error) {
	if err := waitToken(context.Background(), client.Connect(), "connect"); err != nil {
		return nil, err
	}
	return client, nil
}

// ParseAWSDeviceFile reads a JSON encoded AWS IoT Core device description.
// The device ID is taken from the certificate when the file omits it.
func ParseAWSDeviceFile(filepath string) (aic.Device, error) {
	b, err := os.ReadFile(filepath)
	if err != nil {
		return aic.Device{}, err
	}

	var device aic.Device
	if err := json.Unmarshal(b, &device); err != nil {
		return aic.Device{}, fmt.Errorf("sink: parse %s: %w", filepath, err)
	}

	if device.DeviceID == "" {
		deviceID, err := aic.DeviceIDFromCert(device.CertPath)
		if err != nil {
			return aic.Device{}, err
		}
		device.DeviceID = deviceID
	}

	return device, nil
}

// ConnectAWS connects to AWS IoT Core as device.
func ConnectAWS(device aic.Device, options ...ClientOption) (mqtt.Client, error) {
	adapted := make([]func(*aic.Device, *mqtt.ClientOptions) error, len(options))
	for i, o := range options {
		o := o
		adapted[i] = func(_ *aic.Device, opts *mqtt.ClientOptions) error {
			o(opts)
			return nil
		}
	}

	client, err := device.NewClient(adapted...)
	if err != nil {
		return nil, fmt.Errorf("sink: failed to make MQTT client: %w", err)
	}
	return connect(client)
}

// MakeStoreDir creates the MQTT file store directory.
func MakeStoreDir(dir string) error {
	return os.MkdirAll(dir, 0700)
}
