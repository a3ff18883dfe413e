package messages

import "io.eduverse/notifysync/internal/domain"

// ─── Push titles ─────────────────────────────────────────────────────────────

const (
	ReactionTitle          = "New reaction"
	CommentTitle           = "New comment"
	PointsEarnedTitle      = "You earned points"
	ScoreIncreaseTitle     = "Your score went up"
	ScoreDecreaseTitle     = "Your score went down"
	SubscriptionStartTitle = "Subscription activated"
	SubscriptionEndTitle   = "Subscription ended"
	DefaultTitle           = "eduVerse"
)

var titles = map[domain.NotificationType]string{
	domain.TypeReaction:          ReactionTitle,
	domain.TypeComment:           CommentTitle,
	domain.TypePointsEarned:      PointsEarnedTitle,
	domain.TypeScoreIncrease:     ScoreIncreaseTitle,
	domain.TypeScoreDecrease:     ScoreDecreaseTitle,
	domain.TypeSubscriptionStart: SubscriptionStartTitle,
	domain.TypeSubscriptionEnd:   SubscriptionEndTitle,
}

// Title returns the push title for a notification type.
func Title(t domain.NotificationType) string {
	if s, ok := titles[t]; ok {
		return s
	}
	return DefaultTitle
}

// ─── Push builder ────────────────────────────────────────────────────────────

// PushFor builds the OS push for a notification. The tag is the notification id
// so the platform can coalesce duplicates.
func PushFor(n domain.Notification) domain.Push {
	return domain.Push{
		Tag:       n.ID,
		Title:     Title(n.Type),
		Body:      n.Message,
		Type:      n.Type,
		CreatedAt: n.CreatedAt,
	}
}
