package sink

import (
	"encoding/json"
	"time"

	"landmark-stream/config"
	"landmark-stream/logger"
	"landmark-stream/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/mdobak/go-xerrors"
)

// publishTimeout bounds how long Publish waits for the broker.
const publishTimeout = 10 * time.Second

// Message is the MQTT payload: one batch plus where it came from.
type Message struct {
	Source    string `json:"source,omitempty"`
	Timestamp int64  `json:"timestamp"`
	models.Batch
}

// MQTT publishes every batch as a JSON message on one topic.
type MQTT struct {
	client mqtt.Client
	cfg    config.MQTTConfig
	source string
}

// NewMQTT connects to cfg.Broker. source tags every message, usually the
// input path or URL.
func NewMQTT(cfg config.MQTTConfig, source string) (*MQTT, error) {
	if cfg.Broker == "" {
		return nil, xerrors.New("sink: mqtt broker not configured")
	}
	log := logger.For("mqtt")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.WithField("broker", cfg.Broker).Info("connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.WithError(err).Warn("connection lost")
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, xerrors.New("sink: connect to "+cfg.Broker, token.Error())
	}
	return newMQTT(client, cfg, source), nil
}

func newMQTT(client mqtt.Client, cfg config.MQTTConfig, source string) *MQTT {
	return &MQTT{client: client, cfg: cfg, source: source}
}

func (s *MQTT) Publish(b models.Batch) error {
	data, err := json.Marshal(Message{
		Source:    s.source,
		Timestamp: time.Now().Unix(),
		Batch:     b,
	})
	if err != nil {
		return xerrors.New("sink: encode batch", err)
	}

	token := s.client.Publish(s.cfg.Topic, s.cfg.QoS, s.cfg.Retain, data)
	if !token.WaitTimeout(publishTimeout) {
		return xerrors.New("sink: publish to "+s.cfg.Topic+" timed out")
	}
	if err := token.Error(); err != nil {
		return xerrors.New("sink: publish to "+s.cfg.Topic, err)
	}
	return nil
}

func (s *MQTT) Close() error {
	s.client.Disconnect(250)
	return nil
}
