package notify

import "context"

// Channel delivers progress messages to an external chat surface.
// Send posts a new message and returns its identifier so later updates
// can edit it in place instead of flooding the chat.
type Channel interface {
	Send(ctx context.Context, chatID int64, text string) (int, error)
	Edit(ctx context.Context, chatID int64, messageID int, text string) error
}

// NopChannel discards every message. Used when no chat target is configured.
type NopChannel struct{}

func (NopChannel) Send(_ context.Context, _ int64, _ string) (int, error) {
	return 0, nil
}

func (NopChannel) Edit(_ context.Context, _ int64, _ int, _ string) error {
	return nil
}
