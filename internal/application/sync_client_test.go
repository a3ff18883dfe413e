package application_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"io.eduverse/notifysync/internal/application"
	"io.eduverse/notifysync/internal/domain"
	"io.eduverse/notifysync/internal/messages"
	"io.eduverse/notifysync/internal/metrics"
	fake "io.eduverse/notifysync/internal/testutil"
)

var ctx = context.Background()

func newClient(t *testing.T, src domain.Source, p application.Pusher, opts application.Options) *application.SyncClient {
	t.Helper()
	if opts.PollInterval == 0 {
		// ticks are driven by calling Poll directly
		opts.PollInterval = time.Hour
	}
	c := application.NewSyncClient(src, p, opts)
	t.Cleanup(c.Deactivate)
	return c
}

func ids(items []domain.Notification) []string {
	out := make([]string, len(items))
	for i, n := range items {
		out[i] = n.ID
	}
	return out
}

func TestInactiveClientIsNoOp(t *testing.T) {
	src := fake.NewFakeSource()
	src.Seed(3)
	c := newClient(t, src, &fake.RecordingPusher{}, application.Options{})

	assert.ErrorIs(t, c.LoadNotifications(ctx, true), application.ErrNotActive)
	assert.ErrorIs(t, c.LoadMore(ctx), application.ErrNotActive)
	assert.ErrorIs(t, c.MarkAsRead(ctx, "x"), application.ErrNotActive)
	assert.ErrorIs(t, c.MarkAllAsRead(ctx), application.ErrNotActive)
	assert.ErrorIs(t, c.DeleteNotification(ctx, "x"), application.ErrNotActive)
	assert.ErrorIs(t, c.RefreshUnreadCount(ctx), application.ErrNotActive)
	assert.ErrorIs(t, c.Poll(ctx), application.ErrNotActive)

	assert.Zero(t, src.TotalCalls())
	snap := c.Snapshot()
	assert.False(t, snap.Active)
	assert.True(t, snap.HasMore)
	assert.Empty(t, snap.Notifications)
}

func TestActivate_LoadsFirstPage(t *testing.T) {
	src := fake.NewFakeSource()
	all := src.Seed(15)
	c := newClient(t, src, &fake.RecordingPusher{}, application.Options{PageSize: 10})

	require.NoError(t, c.Activate(ctx))

	snap := c.Snapshot()
	assert.True(t, snap.Active)
	assert.Equal(t, ids(all[:10]), ids(snap.Notifications))
	assert.True(t, snap.HasMore)
	assert.Equal(t, 15, snap.UnreadCount)
	assert.False(t, snap.IsLoading)
}

func TestLoadMore_AppendsAfterExistingItems(t *testing.T) {
	src := fake.NewFakeSource()
	all := src.Seed(25)
	c := newClient(t, src, &fake.RecordingPusher{}, application.Options{PageSize: 10})
	require.NoError(t, c.Activate(ctx))

	require.NoError(t, c.LoadMore(ctx))
	assert.Equal(t, ids(all[:20]), ids(c.Snapshot().Notifications))

	require.NoError(t, c.LoadMore(ctx))
	snap := c.Snapshot()
	assert.Equal(t, ids(all), ids(snap.Notifications))
	assert.False(t, snap.HasMore)

	// no further pages: LoadMore does not hit the server
	listCalls := src.Calls("list")
	require.NoError(t, c.LoadMore(ctx))
	assert.Equal(t, listCalls, src.Calls("list"))
}

func TestLoadNotifications_AppendNeverDuplicates(t *testing.T) {
	src := fake.NewFakeSource()
	src.Seed(12)
	c := newClient(t, src, &fake.RecordingPusher{}, application.Options{PageSize: 5})
	require.NoError(t, c.Activate(ctx))

	// a new item arriving between pages must not disturb the cursor, and
	// loads past the last page must not re-append what is already held
	src.Publish(fake.Notification(domain.TypeReaction, "new reaction"))

	for i := 0; i < 4; i++ {
		require.NoError(t, c.LoadNotifications(ctx, false))
	}

	seen := map[string]bool{}
	for _, n := range c.Snapshot().Notifications {
		assert.False(t, seen[n.ID], "duplicate id %s", n.ID)
		seen[n.ID] = true
	}
}

func TestLoadNotifications_ResetReplacesList(t *testing.T) {
	src := fake.NewFakeSource()
	src.Seed(20)
	c := newClient(t, src, &fake.RecordingPusher{}, application.Options{PageSize: 10})
	require.NoError(t, c.Activate(ctx))
	require.NoError(t, c.LoadMore(ctx))
	require.Len(t, c.Snapshot().Notifications, 20)

	src.Publish(fake.Notification(domain.TypePointsEarned, "+10 points"))
	require.NoError(t, c.LoadNotifications(ctx, true))

	snap := c.Snapshot()
	assert.Equal(t, ids(src.Items()[:10]), ids(snap.Notifications))
	assert.True(t, snap.HasMore)
	assert.Equal(t, 21, snap.UnreadCount)
}

func TestLoadNotifications_FailedResetEmptiesList(t *testing.T) {
	src := fake.NewFakeSource()
	src.Seed(5)
	c := newClient(t, src, &fake.RecordingPusher{}, application.Options{})
	require.NoError(t, c.Activate(ctx))
	require.Len(t, c.Snapshot().Notifications, 5)

	src.SetErrors(func(f *fake.FakeSource) { f.ListErr = errors.New("connection refused") })
	require.Error(t, c.LoadNotifications(ctx, true))

	snap := c.Snapshot()
	assert.Empty(t, snap.Notifications)
	assert.False(t, snap.HasMore)
	assert.True(t, snap.Active)
}

func TestLoadNotifications_FailedAppendKeepsList(t *testing.T) {
	src := fake.NewFakeSource()
	src.Seed(15)
	c := newClient(t, src, &fake.RecordingPusher{}, application.Options{PageSize: 10})
	require.NoError(t, c.Activate(ctx))

	src.SetErrors(func(f *fake.FakeSource) { f.ListErr = errors.New("timeout") })
	require.Error(t, c.LoadMore(ctx))

	snap := c.Snapshot()
	assert.Len(t, snap.Notifications, 10)
	assert.True(t, snap.HasMore)
	assert.False(t, snap.IsLoading)
}

func TestLoadNotifications_MissingMetaDefaults(t *testing.T) {
	src := fake.NewFakeSource()
	src.Seed(15)
	src.OmitMeta = true
	c := newClient(t, src, &fake.RecordingPusher{}, application.Options{PageSize: 10})
	require.NoError(t, c.Activate(ctx))

	snap := c.Snapshot()
	assert.Len(t, snap.Notifications, 10)
	assert.False(t, snap.HasMore)
}

func TestMarkAsRead_IsOptimistic(t *testing.T) {
	src := fake.NewFakeSource()
	items := src.Seed(3)
	gate := make(chan struct{})
	src.MarkReadGate = gate
	c := newClient(t, src, &fake.RecordingPusher{}, application.Options{})
	require.NoError(t, c.Activate(ctx))

	done := make(chan error, 1)
	go func() { done <- c.MarkAsRead(ctx, items[1].ID) }()

	// the server call is parked on the gate; the local flip is already visible
	require.Eventually(t, func() bool { return src.Calls("mark_read") == 1 }, time.Second, 5*time.Millisecond)
	snap := c.Snapshot()
	assert.False(t, snap.Notifications[0].IsRead)
	assert.True(t, snap.Notifications[1].IsRead)
	assert.Equal(t, 3, snap.UnreadCount)

	close(gate)
	require.NoError(t, <-done)
	assert.Equal(t, 2, c.Snapshot().UnreadCount)
}

func TestMarkAsRead_FailureKeepsLocalStateAndRefreshesCount(t *testing.T) {
	src := fake.NewFakeSource()
	items := src.Seed(3)
	src.MarkReadErr = errors.New("500")
	c := newClient(t, src, &fake.RecordingPusher{}, application.Options{})
	require.NoError(t, c.Activate(ctx))

	err := c.MarkAsRead(ctx, items[0].ID)
	require.Error(t, err)

	snap := c.Snapshot()
	assert.True(t, snap.Notifications[0].IsRead, "optimistic change is not rolled back")
	// the count is the server's, not a local derivation
	assert.Equal(t, 3, snap.UnreadCount)
	assert.Equal(t, 1, src.Calls("unread_count"))
}

func TestMarkAsRead_WithoutIDsMarksEverything(t *testing.T) {
	src := fake.NewFakeSource()
	src.Seed(4)
	c := newClient(t, src, &fake.RecordingPusher{}, application.Options{})
	require.NoError(t, c.Activate(ctx))

	require.NoError(t, c.MarkAsRead(ctx))

	snap := c.Snapshot()
	for _, n := range snap.Notifications {
		assert.True(t, n.IsRead)
	}
	assert.Equal(t, 0, snap.UnreadCount)
}

func TestMarkAllAsRead_ZeroesCountWithoutServer(t *testing.T) {
	src := fake.NewFakeSource()
	src.Seed(4)
	src.MarkAllErr = errors.New("503")
	c := newClient(t, src, &fake.RecordingPusher{}, application.Options{})
	require.NoError(t, c.Activate(ctx))
	countCalls := src.Calls("unread_count")

	require.Error(t, c.MarkAllAsRead(ctx))

	snap := c.Snapshot()
	assert.Equal(t, 0, snap.UnreadCount)
	for _, n := range snap.Notifications {
		assert.True(t, n.IsRead)
	}
	assert.Equal(t, countCalls, src.Calls("unread_count"))
}

func TestDeleteNotification(t *testing.T) {
	src := fake.NewFakeSource()
	items := src.Seed(3)
	c := newClient(t, src, &fake.RecordingPusher{}, application.Options{})
	require.NoError(t, c.Activate(ctx))

	require.NoError(t, c.DeleteNotification(ctx, items[0].ID))

	snap := c.Snapshot()
	assert.Equal(t, ids(items[1:]), ids(snap.Notifications))
	assert.Equal(t, 2, snap.UnreadCount)
}

func TestDeleteNotification_ReadItemKeepsCount(t *testing.T) {
	src := fake.NewFakeSource()
	items := src.Seed(3)
	src.SetRead(items[2].ID)
	c := newClient(t, src, &fake.RecordingPusher{}, application.Options{})
	require.NoError(t, c.Activate(ctx))
	require.Equal(t, 2, c.Snapshot().UnreadCount)

	require.NoError(t, c.DeleteNotification(ctx, items[2].ID))

	snap := c.Snapshot()
	assert.Len(t, snap.Notifications, 2)
	assert.Equal(t, 2, snap.UnreadCount)
}

func TestDeleteNotification_FailureStillRemovesLocally(t *testing.T) {
	src := fake.NewFakeSource()
	items := src.Seed(2)
	src.DeleteErr = errors.New("404")
	c := newClient(t, src, &fake.RecordingPusher{}, application.Options{})
	require.NoError(t, c.Activate(ctx))

	require.Error(t, c.DeleteNotification(ctx, items[0].ID))

	snap := c.Snapshot()
	assert.Equal(t, []string{items[1].ID}, ids(snap.Notifications))
	assert.Equal(t, 2, snap.UnreadCount)
}

func TestPoll_NewNotificationIsPushedOnce(t *testing.T) {
	src := fake.NewFakeSource()
	pusher := &fake.RecordingPusher{}
	c := newClient(t, src, pusher, application.Options{})
	require.NoError(t, c.Activate(ctx))
	require.Equal(t, 0, c.Snapshot().UnreadCount)

	pushesBefore := testutil.ToFloat64(metrics.PushesTotal)

	// three new items arrive between ticks
	src.Publish(fake.Notification(domain.TypeComment, "Lina commented on your post"))
	src.Publish(fake.Notification(domain.TypeReaction, "Omar reacted to your answer"))
	newest := fake.Notification(domain.TypePointsEarned, "You earned 30 points")
	src.Publish(newest)

	require.NoError(t, c.Poll(ctx))

	snap := c.Snapshot()
	assert.Equal(t, 3, snap.UnreadCount)
	assert.Len(t, snap.Notifications, 3)
	assert.Equal(t, newest.ID, snap.Notifications[0].ID)

	pushes := pusher.Pushes()
	require.Len(t, pushes, 1)
	assert.Equal(t, newest.ID, pushes[0].Tag)
	assert.Equal(t, "You earned 30 points", pushes[0].Body)
	assert.Equal(t, messages.PointsEarnedTitle, pushes[0].Title)
	assert.Equal(t, pushesBefore+1, testutil.ToFloat64(metrics.PushesTotal))

	// an unchanged count triggers nothing
	listCalls := src.Calls("list")
	require.NoError(t, c.Poll(ctx))
	assert.Equal(t, listCalls, src.Calls("list"))
	assert.Len(t, pusher.Pushes(), 1)
}

func TestPoll_SameNewestNotificationIsNotPushedTwice(t *testing.T) {
	src := fake.NewFakeSource()
	pusher := &fake.RecordingPusher{}
	c := newClient(t, src, pusher, application.Options{})
	require.NoError(t, c.Activate(ctx))

	src.Publish(fake.Notification(domain.TypeComment, "hello"))
	require.NoError(t, c.Poll(ctx))
	require.Len(t, pusher.Pushes(), 1)

	// local mark-all zeroes the baseline but the server keeps the item unread,
	// so every following tick sees a "growing" count with the same newest item
	src.SetErrors(func(f *fake.FakeSource) { f.MarkAllErr = errors.New("503") })
	for i := 0; i < 3; i++ {
		_ = c.MarkAllAsRead(ctx)
		require.NoError(t, c.Poll(ctx))
	}

	assert.Len(t, pusher.Pushes(), 1)
	assert.Equal(t, 1, c.Snapshot().UnreadCount)
}

func TestPoll_DecreasedCountOnlyUpdatesCount(t *testing.T) {
	src := fake.NewFakeSource()
	items := src.Seed(3)
	pusher := &fake.RecordingPusher{}
	c := newClient(t, src, pusher, application.Options{})
	require.NoError(t, c.Activate(ctx))
	listCalls := src.Calls("list")

	// read on another device
	src.SetRead(items[0].ID)
	require.NoError(t, c.Poll(ctx))

	assert.Equal(t, 2, c.Snapshot().UnreadCount)
	assert.Equal(t, listCalls, src.Calls("list"))
	assert.Empty(t, pusher.Pushes())
}

func TestPoll_PermissionNotGranted(t *testing.T) {
	src := fake.NewFakeSource()
	pusher := &fake.RecordingPusher{}
	c := newClient(t, src, pusher, application.Options{Permission: domain.PermissionDenied})
	require.NoError(t, c.Activate(ctx))

	src.Publish(fake.Notification(domain.TypeScoreDecrease, "-5 score"))
	require.NoError(t, c.Poll(ctx))

	assert.Empty(t, pusher.Pushes())
	assert.Equal(t, 1, c.Snapshot().UnreadCount)
	assert.Len(t, c.Snapshot().Notifications, 1)
}

func TestPoll_CountFailureKeepsState(t *testing.T) {
	src := fake.NewFakeSource()
	src.Seed(2)
	c := newClient(t, src, &fake.RecordingPusher{}, application.Options{})
	require.NoError(t, c.Activate(ctx))

	src.SetErrors(func(f *fake.FakeSource) { f.CountErr = errors.New("network down") })
	require.Error(t, c.Poll(ctx))

	snap := c.Snapshot()
	assert.Equal(t, 2, snap.UnreadCount)
	assert.Len(t, snap.Notifications, 2)
}

func TestPush_AutoDismiss(t *testing.T) {
	src := fake.NewFakeSource()
	pusher := &fake.RecordingPusher{}
	c := newClient(t, src, pusher, application.Options{PushDismissAfter: 20 * time.Millisecond})
	require.NoError(t, c.Activate(ctx))

	n := fake.Notification(domain.TypeSubscriptionStart, "Premium is active")
	src.Publish(n)
	require.NoError(t, c.Poll(ctx))

	require.Eventually(t, func() bool {
		d := pusher.Dismissed()
		return len(d) == 1 && d[0] == n.ID
	}, time.Second, 5*time.Millisecond)
}

func TestDeactivate_ResetsStateAndStopsTraffic(t *testing.T) {
	src := fake.NewFakeSource()
	src.Seed(15)
	pusher := &fake.RecordingPusher{}
	c := application.NewSyncClient(src, pusher, application.Options{
		PageSize:         10,
		PollInterval:     10 * time.Millisecond,
		PushDismissAfter: time.Hour,
	})
	t.Cleanup(c.Deactivate)
	require.NoError(t, c.Activate(ctx))
	require.NoError(t, c.LoadMore(ctx))

	src.Publish(fake.Notification(domain.TypeComment, "tick"))
	require.Eventually(t, func() bool { return len(pusher.Pushes()) == 1 }, time.Second, 5*time.Millisecond)

	c.Deactivate()

	snap := c.Snapshot()
	assert.False(t, snap.Active)
	assert.Empty(t, snap.Notifications)
	assert.Equal(t, 0, snap.UnreadCount)
	assert.True(t, snap.HasMore)
	assert.Empty(t, pusher.Dismissed(), "pending dismiss timers are cancelled")

	calls := src.TotalCalls()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, src.TotalCalls())

	// a new session starts from the first page and pushes again
	require.NoError(t, c.Activate(ctx))
	assert.Equal(t, ids(src.Items()[:10]), ids(c.Snapshot().Notifications))
}

func TestDeactivate_DiscardsLateResults(t *testing.T) {
	src := fake.NewFakeSource()
	items := src.Seed(2)
	gate := make(chan struct{})
	src.MarkReadGate = gate
	c := newClient(t, src, &fake.RecordingPusher{}, application.Options{})
	require.NoError(t, c.Activate(ctx))

	done := make(chan error, 1)
	go func() { done <- c.MarkAsRead(ctx, items[0].ID) }()
	require.Eventually(t, func() bool { return src.Calls("mark_read") == 1 }, time.Second, 5*time.Millisecond)

	c.Deactivate()
	close(gate)
	<-done

	snap := c.Snapshot()
	assert.Empty(t, snap.Notifications)
	assert.Equal(t, 0, snap.UnreadCount)
	assert.Zero(t, src.Calls("unread_count"), "no count refresh after logout")
}

func TestUnauthorizedHookFiresOncePerSession(t *testing.T) {
	src := fake.NewFakeSource()
	c := newClient(t, src, &fake.RecordingPusher{}, application.Options{})

	var fired atomic.Int32
	c.OnUnauthorized(func() { fired.Add(1) })
	require.NoError(t, c.Activate(ctx))

	src.SetErrors(func(f *fake.FakeSource) { f.CountErr = fmt.Errorf("status 401: %w", domain.ErrUnauthorized) })
	for i := 0; i < 3; i++ {
		require.Error(t, c.Poll(ctx))
	}

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestSubscribe(t *testing.T) {
	src := fake.NewFakeSource()
	src.Seed(2)
	c := newClient(t, src, &fake.RecordingPusher{}, application.Options{})

	var mu sync.Mutex
	var seen []application.Snapshot
	unsubscribe := c.Subscribe(func(s application.Snapshot) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	require.NoError(t, c.Activate(ctx))

	mu.Lock()
	require.NotEmpty(t, seen)
	last := seen[len(seen)-1]
	count := len(seen)
	mu.Unlock()
	assert.Len(t, last.Notifications, 2)
	assert.Equal(t, 2, last.UnreadCount)

	unsubscribe()
	require.NoError(t, c.RefreshUnreadCount(ctx))
	mu.Lock()
	assert.Equal(t, count, len(seen))
	mu.Unlock()
}

func TestLoadMore_StaleAppendDiscardedAfterReset(t *testing.T) {
	src := fake.NewFakeSource()
	src.Seed(25)
	gate := make(chan struct{})
	src.ListGate = gate
	c := newClient(t, src, &fake.RecordingPusher{}, application.Options{PageSize: 10})
	require.NoError(t, c.Activate(ctx))

	done := make(chan error, 1)
	go func() { done <- c.LoadMore(ctx) }()
	require.Eventually(t, func() bool { return src.Calls("list") == 2 }, time.Second, 5*time.Millisecond)

	// a reset overtakes the parked append
	src.Publish(fake.Notification(domain.TypeComment, "arrived while paging"))
	require.NoError(t, c.LoadNotifications(ctx, true))

	close(gate)
	require.NoError(t, <-done)

	snap := c.Snapshot()
	assert.Equal(t, ids(src.Items()[:10]), ids(snap.Notifications))
	assert.True(t, snap.HasMore)
	assert.False(t, snap.IsLoading)

	// paging continues from the reset's cursor
	require.NoError(t, c.LoadMore(ctx))
	assert.Equal(t, ids(src.Items()[:20]), ids(c.Snapshot().Notifications))
}

func TestLoadMore_SkippedWhileLoading(t *testing.T) {
	src := fake.NewFakeSource()
	src.Seed(25)
	gate := make(chan struct{})
	src.ListGate = gate
	c := newClient(t, src, &fake.RecordingPusher{}, application.Options{PageSize: 10})
	require.NoError(t, c.Activate(ctx))

	done := make(chan error, 1)
	go func() { done <- c.LoadMore(ctx) }()
	require.Eventually(t, func() bool { return src.Calls("list") == 2 }, time.Second, 5*time.Millisecond)
	assert.True(t, c.Snapshot().IsLoading)

	require.NoError(t, c.LoadMore(ctx))
	assert.Equal(t, 2, src.Calls("list"))

	close(gate)
	require.NoError(t, <-done)

	snap := c.Snapshot()
	assert.Len(t, snap.Notifications, 20)
	assert.False(t, snap.IsLoading)
}

func TestPoll_BackgroundReloadDoesNotSetLoading(t *testing.T) {
	src := fake.NewFakeSource()
	src.Seed(3)
	c := newClient(t, src, &fake.RecordingPusher{}, application.Options{})
	require.NoError(t, c.Activate(ctx))

	var sawLoading atomic.Bool
	c.Subscribe(func(s application.Snapshot) {
		if s.IsLoading {
			sawLoading.Store(true)
		}
	})

	src.Publish(fake.Notification(domain.TypeScoreIncrease, "+3 score"))
	require.NoError(t, c.Poll(ctx))

	assert.Len(t, c.Snapshot().Notifications, 4)
	assert.False(t, sawLoading.Load())

	// a manual reset does
	require.NoError(t, c.LoadNotifications(ctx, true))
	assert.True(t, sawLoading.Load())
	assert.False(t, c.Snapshot().IsLoading)
}
