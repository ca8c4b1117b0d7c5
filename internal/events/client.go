package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Publisher emits change events. The reconciler and API depend on this
// rather than on a NATS connection so that they run without a broker.
type Publisher interface {
	Publish(subject string, data any) error
}

type Nop struct{}

func (Nop) Publish(string, any) error { return nil }

// Client is the NATS side of the change feed. Instances of debchat publish
// chat and login events and consume each other's chat deletions.
type Client struct {
	conn   *nats.Conn
	logger *slog.Logger
}

func NewClient(url, token string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []nats.Option{
		nats.Name("debchat"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("change feed disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("change feed reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("change feed error", "subject", subject, "error", err)
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &Client{conn: nc, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

// OnChatEvent delivers decoded chat events published on subject. Payloads
// that do not decode are logged and dropped.
func (c *Client) OnChatEvent(subject string, handle func(ChatEvent)) error {
	_, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		evt, err := DecodeChatEvent(msg.Data)
		if err != nil {
			c.logger.Warn("dropping malformed chat event", "subject", msg.Subject, "error", err)
			return
		}
		handle(evt)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

// Close drains subscriptions and pending publishes before disconnecting.
func (c *Client) Close() {
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
	}
}
