// Package mqtt provides the MQTT client used for the best-effort live
// status feed.
package mqtt

import (
	"context"
	"log/slog"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sentinel-vision/sentinel-agent/internal/conf"
	"github.com/sentinel-vision/sentinel-agent/internal/errors"
	"github.com/sentinel-vision/sentinel-agent/internal/logging"
)

// Client defines the interface for MQTT client operations.
type Client interface {
	// Connect attempts to connect to the MQTT broker.
	Connect(ctx context.Context) error

	// Publish sends a message to the specified topic.
	Publish(ctx context.Context, topic, payload string) error

	// IsConnected reports whether the client is currently connected.
	IsConnected() bool

	// Disconnect closes the connection to the broker.
	Disconnect()
}

const (
	connectTimeout    = 30 * time.Second
	publishTimeout    = 10 * time.Second
	disconnectQuiesce = 250 // milliseconds
)

type client struct {
	settings conf.MQTTSettings
	internal pahomqtt.Client
	log      *slog.Logger
}

// NewClient creates an MQTT client for the live feed.
func NewClient(settings conf.MQTTSettings, clientID string) Client {
	c := &client{
		settings: settings,
		log:      logging.ForService("mqtt"),
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(settings.Broker).
		SetClientID(clientID).
		SetUsername(settings.Username).
		SetPassword(settings.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(connectTimeout)
	opts.OnConnect = func(pahomqtt.Client) {
		c.log.Info("connected to broker", "broker", settings.Broker)
	}
	opts.OnConnectionLost = func(_ pahomqtt.Client, err error) {
		c.log.Warn("connection lost", "error", err)
	}

	c.internal = pahomqtt.NewClient(opts)
	return c
}

func (c *client) Connect(ctx context.Context) error {
	token := c.internal.Connect()
	if !waitToken(ctx, token) {
		return errors.Newf("connect timed out").
			Component("mqtt").
			Category(errors.CategoryMQTT).
			Build()
	}
	if err := token.Error(); err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTT).
			Context("broker", c.settings.Broker).
			Build()
	}
	return nil
}

func (c *client) Publish(ctx context.Context, topic, payload string) error {
	if !c.internal.IsConnected() {
		return errors.Newf("not connected").
			Component("mqtt").
			Category(errors.CategoryMQTT).
			Build()
	}
	token := c.internal.Publish(topic, 0, c.settings.Retain, payload)
	if !waitToken(ctx, token) {
		return errors.Newf("publish timed out").
			Component("mqtt").
			Category(errors.CategoryMQTT).
			Context("topic", topic).
			Build()
	}
	if err := token.Error(); err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTT).
			Context("topic", topic).
			Build()
	}
	return nil
}

func (c *client) IsConnected() bool {
	return c.internal.IsConnected()
}

func (c *client) Disconnect() {
	c.internal.Disconnect(disconnectQuiesce)
}

// waitToken waits for a paho token honoring context cancellation. Returns
// false on timeout or cancellation.
func waitToken(ctx context.Context, token pahomqtt.Token) bool {
	done := make(chan struct{})
	go func() {
		token.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
