// Package mqtt bridges thermostat state onto an MQTT broker and turns set
// commands from the broker into local writes.
package mqtt

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/joshp123/thermosync/internal/config"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 1000 // milliseconds
	defaultKeepAlive         = 60 * time.Second
	defaultQoS               = 1
)

var (
	ErrConnectionFailed = errors.New("mqtt connection failed")
	ErrNotConnected     = errors.New("mqtt not connected")
	ErrPublishTimeout   = errors.New("mqtt publish timed out")
)

// MessageHandler receives messages for a subscribed topic filter.
type MessageHandler func(topic string, payload []byte)

// Broker is the subset of an MQTT client the bridge needs.
type Broker interface {
	Publish(topic string, retained bool, payload []byte) error
	Subscribe(topic string, handler MessageHandler) error
	Close() error
}

// Client is a Broker backed by paho. Subscriptions are restored after a
// reconnect.
type Client struct {
	client pahomqtt.Client
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[string]MessageHandler
}

// Connect dials the broker described by cfg. The status topic is published
// as "online" and the broker is left a retained "offline" will.
func Connect(cfg config.MQTTConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{logger: logger, subs: make(map[string]MessageHandler)}

	opts := pahomqtt.NewClientOptions()
	scheme := "tcp"
	if cfg.TLS {
		scheme = "ssl"
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	status := StatusTopic(cfg.TopicPrefix)
	opts.SetWill(status, "offline", defaultQoS, true)
	opts.SetOnConnectHandler(func(client pahomqtt.Client) {
		c.restoreSubscriptions(client)
		client.Publish(status, defaultQoS, true, "online")
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "err", err)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return c, nil
}

// Publish sends payload at QoS 1 and waits for the broker to accept it.
func (c *Client) Publish(topic string, retained bool, payload []byte) error {
	if !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	token := c.client.Publish(topic, defaultQoS, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return ErrPublishTimeout
	}
	return token.Error()
}

// Subscribe registers handler for the topic filter.
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	c.mu.Lock()
	c.subs[topic] = handler
	c.mu.Unlock()

	token := c.client.Subscribe(topic, defaultQoS, c.wrap(handler))
	if !token.WaitTimeout(defaultConnectTimeout) {
		return fmt.Errorf("subscribe %s: timeout", topic)
	}
	return token.Error()
}

// Close disconnects after letting in-flight messages drain.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	return nil
}

func (c *Client) restoreSubscriptions(client pahomqtt.Client) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for topic, handler := range c.subs {
		client.Subscribe(topic, defaultQoS, c.wrap(handler))
	}
}

func (c *Client) wrap(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("mqtt handler panic", "topic", msg.Topic(), "panic", r)
			}
		}()
		handler(msg.Topic(), msg.Payload())
	}
}
