package notify

import "context"

// Event types
const (
	EventScanCompleted = "on_scan_completed"
	EventScanFailed    = "on_scan_failed"
	EventRefreshFailed = "on_refresh_failed"
)

// Notifier defines the interface for sending notifications.
type Notifier interface {
	Notify(ctx context.Context, eventType string, message string) error
}
