package messages_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"io.eduverse/notifysync/internal/domain"
	"io.eduverse/notifysync/internal/messages"
)

func TestTitle(t *testing.T) {
	assert.Equal(t, messages.CommentTitle, messages.Title(domain.TypeComment))
	assert.Equal(t, messages.ScoreDecreaseTitle, messages.Title(domain.TypeScoreDecrease))
	assert.Equal(t, messages.DefaultTitle, messages.Title(domain.TypeOther))
	assert.Equal(t, messages.DefaultTitle, messages.Title("UNKNOWN"))
}

func TestPushFor(t *testing.T) {
	created := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	p := messages.PushFor(domain.Notification{
		ID:        "n-42",
		Type:      domain.TypePointsEarned,
		Message:   "You earned 15 points for the daily quiz",
		CreatedAt: created,
	})

	assert.Equal(t, "n-42", p.Tag)
	assert.Equal(t, messages.PointsEarnedTitle, p.Title)
	assert.Equal(t, "You earned 15 points for the daily quiz", p.Body)
	assert.Equal(t, domain.TypePointsEarned, p.Type)
	assert.Equal(t, created, p.CreatedAt)
}
