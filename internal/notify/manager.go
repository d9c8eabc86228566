package notify

import (
	"context"
	"log/slog"
	"os"

	"github.com/slack-go/slack"
	"github.com/spf13/viper"
)

// slackAPI is the subset of the Slack client we use, extracted for testing.
type slackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Manager routes engine events to Slack, honoring per-event toggles from config.
// A Manager with no configured client silently drops events.
type Manager struct {
	client    slackAPI
	channelID string
	logger    *slog.Logger
}

// NewManager creates a notification Manager from viper configuration.
func NewManager(logger *slog.Logger) *Manager {
	m := &Manager{logger: logger}

	if !viper.GetBool("notifications.slack.enabled") {
		return m
	}

	token := os.Getenv("SLACK_BOT_USER_TOKEN")
	if token == "" {
		logger.Warn("slack notifications enabled but SLACK_BOT_USER_TOKEN is not set")
		return m
	}

	m.client = slack.New(token)
	m.channelID = viper.GetString("notifications.slack.channel")
	return m
}

// Notify posts a message for the event if the event is enabled in config.
func (m *Manager) Notify(ctx context.Context, eventType string, message string) error {
	if m.client == nil {
		return nil
	}
	if !viper.GetBool("notifications.slack.events." + eventType) {
		return nil
	}

	_, _, err := m.client.PostMessageContext(ctx, m.channelID,
		slack.MsgOptionText(message, false))
	if err != nil {
		m.logger.Error("failed to post slack notification", "event", eventType, "error", err)
		return err
	}
	return nil
}
