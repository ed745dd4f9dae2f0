// Package bus carries envelopes between relay instances so a room can span
// processes. Each hub delivers to its own sockets directly and publishes a
// copy here; subscribers skip messages from their own instance.
package bus

import (
	"context"

	"github.com/monocle-dev/relay/internal/protocol"
)

// Message targets either a project room or a single user's sockets.
type Message struct {
	Origin string `json:"origin"`
	// ExcludeClient is the sending socket, which never receives its own event.
	ExcludeClient string            `json:"exclude_client,omitempty"`
	Room          uint              `json:"room,omitempty"`
	UserID        uint              `json:"user_id,omitempty"`
	Envelope      protocol.Envelope `json:"envelope"`
}

type Handler func(Message)

type Bus interface {
	Publish(ctx context.Context, msg Message) error
	// Subscribe registers h until ctx is done. It returns once the
	// subscription is live.
	Subscribe(ctx context.Context, h Handler) error
	Close() error
}
