// Package nats provides a thin publish-only NATS client for pushing bot
// events to external UIs. Events are fire-and-forget; nothing in the bot
// depends on a consumer being present.
package nats

import (
	"fmt"

	"github.com/nats-io/nats.go"
)

// Client wraps a core NATS connection.
type Client struct {
	Conn *nats.Conn
}

// New connects to the NATS server at natsURL.
func New(natsURL string) (*Client, error) {
	conn, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Client{Conn: conn}, nil
}

// Publish publishes raw bytes to a subject.
func (c *Client) Publish(subject string, data []byte) error {
	if err := c.Conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// Close closes the nats connection.
func (c *Client) Close() {
	c.Conn.Close()
}

// IsConnected returns true if connected to nats.
func (c *Client) IsConnected() bool {
	return c.Conn.IsConnected()
}
