// Package notify provides notification functionality for the market
// monitor.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"canslim-monitor/internal/config"
	"canslim-monitor/internal/regime"
)

// Notifier defines the interface for sending notifications.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
	SendRegimeAlert(ctx context.Context, score *regime.Score) error
	SendPhaseChange(ctx context.Context, date time.Time, tr regime.PhaseTransition) error
	SendFTDAlert(ctx context.Context, status regime.RallyStatus) error
	SendError(ctx context.Context, err error, context string) error
}

// NotificationChannel defines the interface for a notification channel.
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	IsEnabled() bool
}

// Notification represents a notification message.
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Timestamp time.Time
}

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationRegime NotificationType = "regime"
	NotificationPhase  NotificationType = "phase"
	NotificationFTD    NotificationType = "ftd"
	NotificationError  NotificationType = "error"
	NotificationInfo   NotificationType = "info"
)

// MultiNotifier sends notifications to multiple channels.
type MultiNotifier struct {
	channels []NotificationChannel
	mu       sync.RWMutex
}

// NewMultiNotifier creates a new MultiNotifier with the given configuration.
func NewMultiNotifier(cfg config.NotificationConfig) *MultiNotifier {
	mn := &MultiNotifier{
		channels: make([]NotificationChannel, 0),
	}

	if cfg.Discord.Enabled {
		mn.channels = append(mn.channels, NewDiscordNotifier(cfg.Discord))
	}

	return mn
}

// AddChannel adds a notification channel.
func (mn *MultiNotifier) AddChannel(ch NotificationChannel) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.channels = append(mn.channels, ch)
}

// Send sends a notification to all enabled channels.
func (mn *MultiNotifier) Send(ctx context.Context, n Notification) error {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	mn.mu.RLock()
	channels := mn.channels
	mn.mu.RUnlock()

	var errs []string
	for _, ch := range channels {
		if ch.IsEnabled() {
			if err := ch.Send(ctx, n); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", ch.Name(), err))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// SendRegimeAlert sends the daily regime score alert.
func (mn *MultiNotifier) SendRegimeAlert(ctx context.Context, score *regime.Score) error {
	return mn.Send(ctx, Notification{
		Type:    NotificationRegime,
		Title:   "Morning Market Regime",
		Message: FormatRegimeAlert(score),
	})
}

// SendPhaseChange sends a market phase transition alert.
func (mn *MultiNotifier) SendPhaseChange(ctx context.Context, date time.Time, tr regime.PhaseTransition) error {
	if !tr.Changed {
		return nil
	}
	return mn.Send(ctx, Notification{
		Type:    NotificationPhase,
		Title:   "Market Phase Change",
		Message: FormatPhaseChange(date, tr),
	})
}

// SendFTDAlert sends a follow-through day alert.
func (mn *MultiNotifier) SendFTDAlert(ctx context.Context, status regime.RallyStatus) error {
	return mn.Send(ctx, Notification{
		Type:    NotificationFTD,
		Title:   "Follow-Through Day",
		Message: FormatFTDAlert(status),
	})
}

// SendError sends an error notification.
func (mn *MultiNotifier) SendError(ctx context.Context, err error, errContext string) error {
	message := fmt.Sprintf("Context: %s\nError: %v\nTime: %s",
		errContext, err, time.Now().Format("15:04:05"))

	return mn.Send(ctx, Notification{
		Type:    NotificationError,
		Title:   "Monitor Error",
		Message: message,
	})
}

// NoOpNotifier is a notifier that does nothing (for testing or disabled notifications).
type NoOpNotifier struct{}

// NewNoOpNotifier creates a new NoOpNotifier.
func NewNoOpNotifier() *NoOpNotifier {
	return &NoOpNotifier{}
}

// Send does nothing.
func (n *NoOpNotifier) Send(ctx context.Context, notif Notification) error {
	return nil
}

// SendRegimeAlert does nothing.
func (n *NoOpNotifier) SendRegimeAlert(ctx context.Context, score *regime.Score) error {
	return nil
}

// SendPhaseChange does nothing.
func (n *NoOpNotifier) SendPhaseChange(ctx context.Context, date time.Time, tr regime.PhaseTransition) error {
	return nil
}

// SendFTDAlert does nothing.
func (n *NoOpNotifier) SendFTDAlert(ctx context.Context, status regime.RallyStatus) error {
	return nil
}

// SendError does nothing.
func (n *NoOpNotifier) SendError(ctx context.Context, err error, context string) error {
	return nil
}
