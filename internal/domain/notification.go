package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// NotificationType is the kind of activity that produced a notification.
type NotificationType string

const (
	TypeReaction          NotificationType = "REACTION"
	TypeComment           NotificationType = "COMMENT"
	TypePointsEarned      NotificationType = "POINTS_EARNED"
	TypeScoreIncrease     NotificationType = "SCORE_INCREASE"
	TypeScoreDecrease     NotificationType = "SCORE_DECREASE"
	TypeSubscriptionStart NotificationType = "SUBSCRIPTION_START"
	TypeSubscriptionEnd   NotificationType = "SUBSCRIPTION_END"
	TypeOther             NotificationType = "OTHER"
)

// ParseType normalizes a wire value into one of the known types.
// Matching ignores case and treats '-' and '_' alike; anything unknown is TypeOther.
func ParseType(s string) NotificationType {
	t := NotificationType(strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "-", "_"))
	switch t {
	case TypeReaction, TypeComment, TypePointsEarned, TypeScoreIncrease,
		TypeScoreDecrease, TypeSubscriptionStart, TypeSubscriptionEnd:
		return t
	default:
		return TypeOther
	}
}

// UnmarshalJSON accepts any string and normalizes it through ParseType.
func (t *NotificationType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		*t = TypeOther
		return nil
	}
	*t = ParseType(s)
	return nil
}

// Notification is a single in-app notification owned by the server.
// The client only ever flips IsRead from false to true.
type Notification struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	Message   string           `json:"message"`
	IsRead    bool             `json:"isRead"`
	CreatedAt time.Time        `json:"createdAt"`
}

// Page is one page of the user's notifications, newest first.
type Page struct {
	Items   []Notification
	HasMore bool
	// LastID is the cursor for the next page; empty when the server sent none.
	LastID string
	// UnreadCount is nil when the server omitted it.
	UnreadCount *int
}

// Push is an OS-level notification shown for a newly observed item.
type Push struct {
	Tag       string           `json:"tag"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	Type      NotificationType `json:"type"`
	CreatedAt time.Time        `json:"createdAt"`
}

// Permission mirrors the platform notification permission states.
type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
	PermissionDefault Permission = "default"
)

// ParsePermission maps unknown values to PermissionDefault.
func ParsePermission(s string) Permission {
	switch p := Permission(strings.ToLower(strings.TrimSpace(s))); p {
	case PermissionGranted, PermissionDenied:
		return p
	default:
		return PermissionDefault
	}
}
