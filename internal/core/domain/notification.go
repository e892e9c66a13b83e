package domain

import "time"

// NotificationVariant selects the visual treatment of a notification.
type NotificationVariant string

const (
	NotificationInfo        NotificationVariant = "default"
	NotificationDestructive NotificationVariant = "destructive"
)

// NotificationAction is an optional user-invokable action attached to a
// notification, like the host's "start sharing" prompt.
type NotificationAction struct {
	Label  string
	Invoke func()
}

// Notification is a local, synchronous UI side effect. Sticky notifications
// do not auto-dismiss; Duration bounds the display time of the rest when set.
type Notification struct {
	Title    string
	Message  string
	Variant  NotificationVariant
	Sticky   bool
	Duration time.Duration
	Action   *NotificationAction
}
