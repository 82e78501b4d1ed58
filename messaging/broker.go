// Package messaging carries cross-ledger envelopes between chains over NATS.
package messaging

import (
	"fmt"
	"time"

	"github.com/cometbft/cometbft/libs/log"
	"github.com/nats-io/nats.go"
)

// InboxSubject is the subject a chain's relays listen on.
func InboxSubject(chainID string) string {
	return fmt.Sprintf("agentchain.%s.inbox", chainID)
}

// Broker encapsulates a NATS connection.
type Broker struct {
	conn   *nats.Conn
	logger log.Logger
}

// NewBroker connects to the NATS server at url. The connection reconnects
// for as long as the broker is open.
func NewBroker(url string, logger log.Logger) (*Broker, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	logger = logger.With("module", "nats")
	nc, err := nats.Connect(url,
		nats.Name("agentchain"),
		nats.Timeout(10*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Error("Disconnected from NATS", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("Reconnected to NATS", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	logger.Info("Connected to NATS", "url", url)
	return &Broker{conn: nc, logger: logger}, nil
}

// Publish sends data on the provided subject.
func (b *Broker) Publish(subject string, data []byte) error {
	b.logger.Debug("Publishing", "subject", subject, "bytes", len(data))
	return b.conn.Publish(subject, data)
}

// Subscribe registers a callback for a specific subject.
func (b *Broker) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	return b.conn.Subscribe(subject, cb)
}

// QueueSubscribe delivers each message on subject to one member of group.
func (b *Broker) QueueSubscribe(subject, group string, cb nats.MsgHandler) (*nats.Subscription, error) {
	return b.conn.QueueSubscribe(subject, group, cb)
}

// Flush waits until the server has processed everything published so far.
func (b *Broker) Flush() error {
	return b.conn.Flush()
}

// Close gracefully closes the connection.
func (b *Broker) Close() {
	b.conn.Close()
}
