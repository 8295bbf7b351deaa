// Package mqttsvc bridges the MQTT broker: it ingests device telemetry and publishes device commands.
package mqttsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/smarthomecloud/backend/core"
	"github.com/smarthomecloud/backend/core/automation"
	"github.com/smarthomecloud/backend/core/device"
	"github.com/smarthomecloud/backend/core/telemetry"
)

const (
	qos            = 1
	publishTimeout = 5 * time.Second

	readingsTopic  = "readings"
	heartbeatTopic = "heartbeat"
	commandsTopic  = "commands"
)

// NewClient returns a client for the configured broker. It is not connected yet.
func NewClient(conf *core.Config) mqtt.Client {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(conf.MQTT.Broker)
	opts.SetClientID(conf.MQTT.ClientID)
	if conf.MQTT.Username != "" {
		opts.SetUsername(conf.MQTT.Username)
	}
	if conf.MQTT.Password != "" {
		opts.SetPassword(conf.MQTT.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	return mqtt.NewClient(opts)
}

func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(publishTimeout):
		return errors.New("mqtt operation timed out")
	}
}

// deviceTopic returns "<prefix>/devices/<id>/<kind>".
func deviceTopic(prefix, deviceID, kind string) string {
	return strings.TrimSuffix(prefix, "/") + "/devices/" + deviceID + "/" + kind
}

// parseTopic extracts the device id and message kind of a device topic.
func parseTopic(prefix, topic string) (deviceID, kind string, ok bool) {
	rest := strings.TrimPrefix(topic, strings.TrimSuffix(prefix, "/")+"/devices/")
	if rest == topic {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

type (
	readingPayload struct {
		Metric     string    `json:"metric"`
		Value      float64   `json:"value"`
		Unit       string    `json:"unit"`
		RecordedAt time.Time `json:"recorded_at"`
	}

	heartbeatPayload struct {
		At time.Time `json:"at"`
	}
)

// Consumer ingests the readings and heartbeats devices publish.
type Consumer struct {
	client       mqtt.Client
	prefix       string
	telemetrySvc telemetry.Service
	deviceSvc    device.Service
	validate     *validator.Validate
	logger       core.Logger
}

func NewConsumer(
	client mqtt.Client,
	conf *core.Config,
	telemetrySvc telemetry.Service,
	deviceSvc device.Service,
	validate *validator.Validate,
	logger core.Logger,
) *Consumer {
	return &Consumer{
		client:       client,
		prefix:       conf.MQTT.TopicPrefix,
		telemetrySvc: telemetrySvc,
		deviceSvc:    deviceSvc,
		validate:     validate,
		logger:       logger,
	}
}

// Run connects, subscribes to all device topics and blocks until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	if !c.client.IsConnected() {
		if err := waitToken(ctx, c.client.Connect()); err != nil {
			return errors.Wrap(err, "connecting to mqtt broker")
		}
	}
	defer c.client.Disconnect(250)

	filter := deviceTopic(c.prefix, "+", "+")
	token := c.client.Subscribe(filter, qos, func(_ mqtt.Client, msg mqtt.Message) {
		if err := c.HandleMessage(ctx, msg.Topic(), msg.Payload()); err != nil {
			c.logger.Warn(fmt.Sprintf("mqtt message on %s dropped: %v", msg.Topic(), err))
		}
	})
	if err := waitToken(ctx, token); err != nil {
		return errors.Wrapf(err, "subscribing to %s", filter)
	}
	c.logger.Info("mqtt consumer subscribed to " + filter)

	<-ctx.Done()
	_ = waitToken(context.Background(), c.client.Unsubscribe(filter))
	return nil
}

// HandleMessage dispatches one message by topic. Readings may be a single object or an array.
func (c *Consumer) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	deviceID, kind, ok := parseTopic(c.prefix, topic)
	if !ok {
		return errors.Errorf("unexpected topic %q", topic)
	}

	switch kind {
	case readingsTopic:
		readings, err := decodeReadings(payload)
		if err != nil {
			return err
		}
		for _, p := range readings {
			nr := telemetry.NewReading{DeviceID: deviceID, Metric: p.Metric, Value: p.Value, Unit: p.Unit, RecordedAt: p.RecordedAt}
			if err = nr.Validate(c.validate); err != nil {
				return errors.Wrap(err, "invalid reading")
			}
			if _, _, err = c.telemetrySvc.Ingest(ctx, nr); err != nil {
				return errors.Wrap(err, "ingesting reading")
			}
		}
		return nil

	case heartbeatTopic:
		var hb heartbeatPayload
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &hb); err != nil {
				return errors.Wrap(err, "decoding heartbeat")
			}
		}
		if hb.At.IsZero() {
			hb.At = core.Now()
		}
		_, err := c.deviceSvc.RecordHeartbeat(ctx, deviceID, hb.At)
		return errors.Wrap(err, "recording heartbeat")

	case commandsTopic:
		return nil // our own publications
	}
	return errors.Errorf("unknown message kind %q", kind)
}

func decodeReadings(payload []byte) ([]readingPayload, error) {
	trimmed := strings.TrimSpace(string(payload))
	if strings.HasPrefix(trimmed, "[") {
		var readings []readingPayload
		if err := json.Unmarshal(payload, &readings); err != nil {
			return nil, errors.Wrap(err, "decoding readings")
		}
		return readings, nil
	}
	var r readingPayload
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, errors.Wrap(err, "decoding reading")
	}
	return []readingPayload{r}, nil
}

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Commander publishes automation commands on the device command topic.
type Commander struct {
	client publisher
	prefix string
}

var _ automation.Commander = (*Commander)(nil)

func NewCommander(client mqtt.Client, conf *core.Config) *Commander {
	return &Commander{client: client, prefix: conf.MQTT.TopicPrefix}
}

func (c *Commander) SendCommand(ctx context.Context, cmd automation.Command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return errors.Wrap(err, "encoding command")
	}
	topic := deviceTopic(c.prefix, cmd.DeviceID, commandsTopic)
	if err = waitToken(ctx, c.client.Publish(topic, qos, false, payload)); err != nil {
		return errors.Wrapf(err, "publishing to %s", topic)
	}
	return nil
}
