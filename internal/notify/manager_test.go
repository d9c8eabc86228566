package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/slack-go/slack"
	"github.com/spf13/viper"
)

type fakeSlack struct {
	calls    int
	channels []string
	err      error
}

func (f *fakeSlack) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	f.calls++
	f.channels = append(f.channels, channelID)
	return channelID, "ts", f.err
}

func testManager(client slackAPI) *Manager {
	return &Manager{
		client:    client,
		channelID: "#security",
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestNotifyPostsEnabledEvents(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	viper.Set("notifications.slack.events."+EventScanCompleted, true)

	fake := &fakeSlack{}
	m := testManager(fake)

	if err := m.Notify(context.Background(), EventScanCompleted, "scan done"); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if fake.calls != 1 {
		t.Errorf("Expected 1 post, got %d", fake.calls)
	}
	if fake.channels[0] != "#security" {
		t.Errorf("Expected channel #security, got %s", fake.channels[0])
	}
}

func TestNotifySkipsDisabledEvents(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	viper.Set("notifications.slack.events."+EventScanFailed, false)

	fake := &fakeSlack{}
	m := testManager(fake)

	if err := m.Notify(context.Background(), EventScanFailed, "scan failed"); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if fake.calls != 0 {
		t.Errorf("Expected no posts for disabled event, got %d", fake.calls)
	}
}

func TestNotifyWithoutClientIsNoop(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	viper.Set("notifications.slack.events."+EventScanCompleted, true)

	m := testManager(nil)
	if err := m.Notify(context.Background(), EventScanCompleted, "scan done"); err != nil {
		t.Errorf("Expected nil error without a client, got %v", err)
	}
}

func TestNotifyPropagatesPostError(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	viper.Set("notifications.slack.events."+EventRefreshFailed, true)

	fake := &fakeSlack{err: errors.New("rate limited")}
	m := testManager(fake)

	if err := m.Notify(context.Background(), EventRefreshFailed, "refresh failed"); err == nil {
		t.Error("Expected post error to propagate")
	}
}

func TestNewManagerDisabledByDefault(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	t.Setenv("SLACK_BOT_USER_TOKEN", "")

	m := NewManager(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if m.client != nil {
		t.Error("Expected no client when notifications are disabled")
	}
}
