package notification

import "context"

// Sender delivers a message to a channel-specific target
// (chat id, webhook url, email address)
type Sender interface {
	Channel() Channel
	Send(ctx context.Context, target string, msg Message) error
}
