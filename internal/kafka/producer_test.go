package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"io.eduverse/notifysync/internal/domain"
)

func TestNewRecord_Push(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	push := domain.Push{Tag: "n-42", Title: "New reaction", Body: "Mai liked your post", Type: domain.TypeReaction}

	rec, err := NewRecord("eduverse-pushes", PushEvent{Event: EventPush, Tag: push.Tag, Push: &push, OccurredAt: at})
	require.NoError(t, err)

	assert.Equal(t, "eduverse-pushes", rec.Topic)
	assert.Equal(t, []byte("n-42"), rec.Key)
	require.Len(t, rec.Headers, 1)
	assert.Equal(t, "event", rec.Headers[0].Key)
	assert.Equal(t, []byte(EventPush), rec.Headers[0].Value)

	var ev PushEvent
	require.NoError(t, json.Unmarshal(rec.Value, &ev))
	assert.Equal(t, EventPush, ev.Event)
	require.NotNil(t, ev.Push)
	assert.Equal(t, "Mai liked your post", ev.Push.Body)
	assert.True(t, at.Equal(ev.OccurredAt))
}

func TestNewRecord_DismissOmitsPush(t *testing.T) {
	rec, err := NewRecord("t", PushEvent{Event: EventDismiss, Tag: "n-1"})
	require.NoError(t, err)

	assert.NotContains(t, string(rec.Value), `"push"`)
	assert.Contains(t, string(rec.Value), `"event":"dismiss"`)
}
