package notify

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"github.com/loreste/callwatch/pkg/call"
)

// AMQPConfig holds AMQP channel settings.
type AMQPConfig struct {
	URL       string
	QueueName string
	Enabled   bool
}

// AMQPChannel publishes flagged-call alerts to an AMQP queue for downstream
// consumers (ticketing, QA tooling).
type AMQPChannel struct {
	config AMQPConfig
	logger *logrus.Entry

	connMutex sync.RWMutex
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool
	stopChan  chan struct{}
}

// NewAMQPChannel creates an AMQP channel. Call Connect before use.
func NewAMQPChannel(logger *logrus.Logger, config AMQPConfig) *AMQPChannel {
	return &AMQPChannel{
		config: config,
		logger: logger.WithField("component", "amqp_channel"),
	}
}

// Connect establishes the AMQP connection, declares the queue, and starts
// the reconnect monitor.
func (c *AMQPChannel) Connect() error {
	if !c.config.Enabled || c.config.URL == "" {
		return fmt.Errorf("AMQP channel not properly configured")
	}

	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	conn, err := amqp.Dial(c.config.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to AMQP server: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	_, err = channel.QueueDeclare(
		c.config.QueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	c.conn = conn
	c.channel = channel
	c.connected = true

	c.logger.WithFields(logrus.Fields{
		"url":   c.config.URL,
		"queue": c.config.QueueName,
	}).Info("Connected to AMQP server")

	// Create a new stop channel (in case this is a reconnect)
	c.stopChan = make(chan struct{})

	go c.monitorConnection()

	return nil
}

// Disconnect closes the AMQP connection and stops the monitor.
func (c *AMQPChannel) Disconnect() {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if !c.connected {
		return
	}

	close(c.stopChan)
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
	c.connected = false
}

// Send publishes one flagged call.
func (c *AMQPChannel) Send(fc *call.FlaggedCall) error {
	return c.publish(map[string]interface{}{
		"type":         "flagged_call",
		"flagged_call": fc,
		"timestamp":    time.Now().Unix(),
	})
}

// SendDigest publishes a batch of low-severity flagged calls.
func (c *AMQPChannel) SendDigest(fcs []*call.FlaggedCall) error {
	return c.publish(map[string]interface{}{
		"type":          "flagged_call_digest",
		"flagged_calls": fcs,
		"count":         len(fcs),
		"timestamp":     time.Now().Unix(),
	})
}

func (c *AMQPChannel) publish(payload map[string]interface{}) error {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()

	if !c.connected || c.channel == nil {
		return fmt.Errorf("not connected to AMQP server")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	return c.channel.Publish(
		"",                 // exchange
		c.config.QueueName, // routing key
		false,              // mandatory
		false,              // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
}

// monitorConnection watches for the connection closing and reconnects with
// exponential backoff.
func (c *AMQPChannel) monitorConnection() {
	closeChan := make(chan *amqp.Error)

	c.connMutex.RLock()
	if c.conn != nil {
		c.conn.NotifyClose(closeChan)
	}
	c.connMutex.RUnlock()

	select {
	case <-c.stopChan:
		return
	case closeErr := <-closeChan:
		c.connMutex.Lock()
		c.connected = false
		c.connMutex.Unlock()

		c.logger.WithError(closeErr).Warn("AMQP connection closed, attempting to reconnect")

		for attempt := 1; attempt <= 10; attempt++ {
			if err := c.Connect(); err == nil {
				c.logger.Info("Successfully reconnected to AMQP server")
				return
			} else {
				c.logger.WithError(err).WithField("attempt", attempt).Error("Failed to reconnect to AMQP server")
			}

			// Exponential backoff with max delay of 30 seconds
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			time.Sleep(backoff)
		}
	}
}

// GetName implements Channel.
func (c *AMQPChannel) GetName() string {
	return "amqp"
}

// IsEnabled implements Channel.
func (c *AMQPChannel) IsEnabled() bool {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.config.Enabled && c.connected
}
