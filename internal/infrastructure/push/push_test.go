package push_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"io.eduverse/notifysync/internal/domain"
	"io.eduverse/notifysync/internal/infrastructure/push"
	"io.eduverse/notifysync/internal/testutil"
)

func TestMulti_DeliversToEverySink(t *testing.T) {
	a, b := &testutil.RecordingPusher{}, &testutil.RecordingPusher{}
	m := push.Multi{{Name: "a", Pusher: a}, {Name: "log", Pusher: push.Log{}}, {Name: "b", Pusher: b}}

	p := domain.Push{Tag: "n-1", Title: "New comment", Body: "hi", Type: domain.TypeComment}
	require.NoError(t, m.Push(context.Background(), p))
	require.NoError(t, m.Dismiss(context.Background(), "n-1"))

	assert.Equal(t, []domain.Push{p}, a.Pushes())
	assert.Equal(t, []domain.Push{p}, b.Pushes())
	assert.Equal(t, []string{"n-1"}, b.Dismissed())
	assert.Equal(t, []string{"a", "log", "b"}, m.Names())
}

func TestMulti_FailingSinkDoesNotStopOthers(t *testing.T) {
	boom := errors.New("broker unreachable")
	bad := &testutil.RecordingPusher{Err: boom}
	good := &testutil.RecordingPusher{}
	m := push.Multi{{Name: "kafka", Pusher: bad}, {Name: "bridge", Pusher: good}}

	err := m.Push(context.Background(), domain.Push{Tag: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "kafka")
	assert.Len(t, good.Pushes(), 1)
}

func TestMulti_Empty(t *testing.T) {
	assert.NoError(t, push.Multi{}.Push(context.Background(), domain.Push{}))
	assert.NoError(t, push.Multi{}.Dismiss(context.Background(), "x"))
}
