package notify

import (
	"context"
	"fmt"
	"io"
	"os"
)

// TerminalNotifier prints notifications to a writer, normally stdout.
// It serves as the default channel when no webhook is configured.
type TerminalNotifier struct {
	out     io.Writer
	enabled bool
}

// NewTerminalNotifier creates a terminal notifier writing to stdout.
func NewTerminalNotifier() *TerminalNotifier {
	return &TerminalNotifier{out: os.Stdout, enabled: true}
}

// Name returns the channel name.
func (t *TerminalNotifier) Name() string {
	return "terminal"
}

// IsEnabled returns whether the channel is enabled.
func (t *TerminalNotifier) IsEnabled() bool {
	return t.enabled
}

// Send prints the notification.
func (t *TerminalNotifier) Send(ctx context.Context, n Notification) error {
	_, err := fmt.Fprintf(t.out, "\n[%s] %s\n%s\n",
		n.Timestamp.Format("2006-01-02 15:04:05"), n.Title, n.Message)
	return err
}
