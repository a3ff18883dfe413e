package application

import "io.eduverse/notifysync/internal/domain"

// Snapshot is a copy of the client state handed to observers and the bridge.
type Snapshot struct {
	Active        bool                  `json:"active"`
	Notifications []domain.Notification `json:"notifications"`
	UnreadCount   int                   `json:"unreadCount"`
	IsLoading     bool                  `json:"isLoading"`
	HasMore       bool                  `json:"hasMore"`
}
