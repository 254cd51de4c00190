// Package events carries interaction events over NATS JetStream so that
// producers other than the HTTP API can feed the recorder.
package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/onnwee/tripfeed/internal/interaction"
)

// DefaultTopic is the subject interaction events are published on.
const DefaultTopic = "tripfeed.interactions"

// ErrMalformed is returned for payloads that are not interaction events.
var ErrMalformed = errors.New("malformed interaction message")

// Config configures the NATS publisher and subscriber.
type Config struct {
	URL   string
	Topic string
	// QueueGroup load-balances messages across API instances.
	QueueGroup       string
	DurableName      string
	SubscribersCount int
	AckWait          time.Duration
	MaxDeliver       int
	MaxReconnects    int
	ReconnectWait    time.Duration
	CloseTimeout     time.Duration
}

// withDefaults fills unset fields.
func (c Config) withDefaults() Config {
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	if c.QueueGroup == "" {
		c.QueueGroup = "tripfeed"
	}
	if c.DurableName == "" {
		c.DurableName = "tripfeed-recorder"
	}
	if c.SubscribersCount <= 0 {
		c.SubscribersCount = 1
	}
	if c.AckWait <= 0 {
		c.AckWait = 30 * time.Second
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = 5
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = -1
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = 30 * time.Second
	}
	return c
}

// Encode serializes e for the wire.
func Encode(e interaction.Event) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode interaction: %w", err)
	}
	return b, nil
}

// Decode parses a wire payload.
func Decode(payload []byte) (interaction.Event, error) {
	var e interaction.Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return interaction.Event{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return e, nil
}
