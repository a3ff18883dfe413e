package application

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"io.eduverse/notifysync/internal/domain"
	"io.eduverse/notifysync/internal/messages"
	"io.eduverse/notifysync/internal/metrics"
)

// ErrNotActive is returned while no user is signed in, and for results that
// arrive after the session they belong to has ended.
var ErrNotActive = errors.New("notification sync is not active")

// Options tunes the SyncClient. Zero values fall back to the defaults.
type Options struct {
	PageSize         int
	PollInterval     time.Duration
	PushDismissAfter time.Duration
	Permission       domain.Permission
}

func (o *Options) applyDefaults() {
	if o.PageSize <= 0 {
		o.PageSize = 10
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.PushDismissAfter <= 0 {
		o.PushDismissAfter = 5 * time.Second
	}
	if o.Permission == "" {
		o.Permission = domain.PermissionGranted
	}
}

// SyncClient keeps the signed-in user's notification list and unread count in
// step with the server: an initial page load, a fixed-interval unread-count
// poll, cursor pagination on demand, and optimistic read/delete mutations.
// Newly observed notifications are pushed once each through the Pusher.
//
// Remote failures are logged and never roll back optimistic changes.
type SyncClient struct {
	source domain.Source
	pusher Pusher
	opts   Options

	mu            sync.Mutex
	active        bool
	epoch         uint64 // bumped on every activate/deactivate
	listGen       uint64 // bumped on every reset load
	cancel        context.CancelFunc
	done          chan struct{}
	notifications []domain.Notification
	unreadCount   int
	inflight      int // manual loads in flight
	hasMore       bool
	cursor        string
	lastNotified  string
	dismiss       map[string]*time.Timer
	unauthEpoch   uint64
	observers     map[int]Observer
	nextObserver  int

	// prevCount mirrors unreadCount so the poll loop compares against the
	// latest written value, not whatever a slower goroutine last observed.
	prevCount atomic.Int64

	onUnauthorized func()
}

// NewSyncClient creates an inactive client.
func NewSyncClient(source domain.Source, pusher Pusher, opts Options) *SyncClient {
	opts.applyDefaults()
	return &SyncClient{
		source:    source,
		pusher:    pusher,
		opts:      opts,
		hasMore:   true,
		dismiss:   make(map[string]*time.Timer),
		observers: make(map[int]Observer),
	}
}

// OnUnauthorized registers fn to run (in its own goroutine) the first time
// the server rejects the session token during an active session.
func (c *SyncClient) OnUnauthorized(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnauthorized = fn
}

// Subscribe registers an observer and returns a function that removes it.
func (c *SyncClient) Subscribe(o Observer) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextObserver
	c.nextObserver++
	c.observers[id] = o
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

// Snapshot returns a copy of the current state.
func (c *SyncClient) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Active reports whether a session is being synced.
func (c *SyncClient) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// ─── Session lifecycle ──────────────────────────────────────────────────────

// Activate starts syncing for a freshly authenticated session: one reset load,
// then the poll loop. It returns the result of the initial load; the client
// stays active even when that load fails. Activating an active client is a no-op.
func (c *SyncClient) Activate(parent context.Context) error {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(parent)
	c.active = true
	c.epoch++
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	log.Info().Dur("poll_interval", c.opts.PollInterval).Msg("notification sync activated")

	loaded := make(chan error, 1)
	go c.run(ctx, done, loaded)

	select {
	case err := <-loaded:
		return err
	case <-ctx.Done():
		return ErrNotActive
	}
}

// Deactivate ends the session: the poll loop and pending dismiss timers stop
// and local state is reset. It waits for the poll loop to exit, so it must not
// be called from an Observer.
func (c *SyncClient) Deactivate() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.active = false
	c.epoch++
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil

	for tag, t := range c.dismiss {
		t.Stop()
		delete(c.dismiss, tag)
	}
	c.notifications = nil
	c.setUnreadLocked(0)
	c.inflight = 0
	c.hasMore = true
	c.cursor = ""
	c.lastNotified = ""
	c.listGen++
	metrics.LoadedNotifications.Set(0)
	c.mu.Unlock()

	cancel()
	<-done

	log.Info().Msg("notification sync deactivated")
	c.changed()
}

func (c *SyncClient) run(ctx context.Context, done chan struct{}, loaded chan<- error) {
	defer close(done)

	loaded <- c.load(ctx, true, false, false)

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.Poll(ctx)
		}
	}
}

// ─── Loading ────────────────────────────────────────────────────────────────

// LoadNotifications fetches one page. With reset it requests the first page
// and replaces the list; otherwise it continues from the cursor and appends.
// On a failed reset the list is emptied and HasMore cleared.
func (c *SyncClient) LoadNotifications(ctx context.Context, reset bool) error {
	return c.load(ctx, reset, true, false)
}

// LoadMore appends the next page unless a manual load is already in flight
// or the server reported no further pages.
func (c *SyncClient) LoadMore(ctx context.Context) error {
	return c.load(ctx, false, true, true)
}

func (c *SyncClient) load(ctx context.Context, reset, manual, onlyIfIdle bool) error {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return ErrNotActive
	}
	if onlyIfIdle && (c.inflight > 0 || !c.hasMore) {
		c.mu.Unlock()
		return nil
	}
	epoch := c.epoch
	cursor := c.cursor
	if reset {
		c.listGen++
		cursor = ""
	}
	gen := c.listGen
	if manual {
		c.inflight++
	}
	c.mu.Unlock()
	if manual {
		c.changed()
	}

	page, err := c.source.List(ctx, cursor, c.opts.PageSize)

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return ErrNotActive
	}
	if manual {
		c.inflight--
	}

	if err != nil {
		if reset && gen == c.listGen {
			c.notifications = nil
			c.hasMore = false
			c.cursor = ""
			metrics.LoadedNotifications.Set(0)
		}
		c.mu.Unlock()
		c.failed("load", err, epoch)
		c.changed()
		return err
	}

	// A newer reset started while this request was out; its result wins.
	if gen != c.listGen {
		c.mu.Unlock()
		c.changed()
		return nil
	}

	if reset {
		c.notifications = appendNew(nil, page.Items)
	} else {
		c.notifications = appendNew(c.notifications, page.Items)
	}
	c.hasMore = page.HasMore
	if reset || page.LastID != "" {
		c.cursor = page.LastID
	}
	if page.UnreadCount != nil {
		c.setUnreadLocked(*page.UnreadCount)
	}
	metrics.LoadedNotifications.Set(float64(len(c.notifications)))
	c.mu.Unlock()

	log.Debug().
		Bool("reset", reset).
		Int("received", len(page.Items)).
		Bool("has_more", page.HasMore).
		Msg("notifications page loaded")

	c.changed()
	return nil
}

// appendNew appends the items whose ids are not already in list.
func appendNew(list, items []domain.Notification) []domain.Notification {
	seen := make(map[string]struct{}, len(list)+len(items))
	for _, n := range list {
		seen[n.ID] = struct{}{}
	}
	for _, n := range items {
		if _, dup := seen[n.ID]; dup {
			continue
		}
		seen[n.ID] = struct{}{}
		list = append(list, n)
	}
	return list
}

// ─── Unread count ───────────────────────────────────────────────────────────

// RefreshUnreadCount overwrites the local count with the server's.
func (c *SyncClient) RefreshUnreadCount(ctx context.Context) error {
	epoch, err := c.begin()
	if err != nil {
		return err
	}

	n, err := c.source.UnreadCount(ctx)
	if err != nil {
		c.failed("unread_count", err, epoch)
		return err
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return ErrNotActive
	}
	c.setUnreadLocked(n)
	c.mu.Unlock()

	c.changed()
	return nil
}

func (c *SyncClient) setUnreadLocked(n int) {
	if n < 0 {
		n = 0
	}
	c.unreadCount = n
	c.prevCount.Store(int64(n))
	metrics.UnreadCount.Set(float64(n))
}

// ─── Mutations ──────────────────────────────────────────────────────────────

// MarkAsRead flips the given notifications (all loaded ones when ids is
// empty) to read immediately, tells the server, then refreshes the count
// whatever the server answered.
func (c *SyncClient) MarkAsRead(ctx context.Context, ids ...string) error {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return ErrNotActive
	}
	epoch := c.epoch
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	for i := range c.notifications {
		if _, ok := want[c.notifications[i].ID]; ok || len(ids) == 0 {
			c.notifications[i].IsRead = true
		}
	}
	c.mu.Unlock()
	c.changed()

	err := c.source.MarkRead(ctx, ids)
	if err != nil {
		c.failed("mark_read", err, epoch)
	}
	return errors.Join(err, c.refreshAfterMutation(ctx))
}

// MarkAllAsRead flips every loaded notification to read and zeroes the count
// without waiting for the server.
func (c *SyncClient) MarkAllAsRead(ctx context.Context) error {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return ErrNotActive
	}
	epoch := c.epoch
	for i := range c.notifications {
		c.notifications[i].IsRead = true
	}
	c.setUnreadLocked(0)
	c.mu.Unlock()
	c.changed()

	if err := c.source.MarkAllRead(ctx); err != nil {
		c.failed("mark_all_read", err, epoch)
		return err
	}
	return nil
}

// DeleteNotification drops the item locally, deletes it remotely, then
// refreshes the count from the server.
func (c *SyncClient) DeleteNotification(ctx context.Context, id string) error {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return ErrNotActive
	}
	epoch := c.epoch
	kept := c.notifications[:0]
	for _, n := range c.notifications {
		if n.ID != id {
			kept = append(kept, n)
		}
	}
	c.notifications = kept
	metrics.LoadedNotifications.Set(float64(len(c.notifications)))
	c.mu.Unlock()
	c.changed()

	err := c.source.Delete(ctx, id)
	if err != nil {
		c.failed("delete", err, epoch)
	}
	return errors.Join(err, c.refreshAfterMutation(ctx))
}

// refreshAfterMutation ignores ErrNotActive: a logout mid-call already reset the count.
func (c *SyncClient) refreshAfterMutation(ctx context.Context) error {
	if err := c.RefreshUnreadCount(ctx); err != nil && !errors.Is(err, ErrNotActive) {
		return err
	}
	return nil
}

// ─── Polling ────────────────────────────────────────────────────────────────

// Poll runs one poll tick: fetch the unread count and, when it grew past the
// last known value, reload the first page and push the newest notification
// unless it was already pushed. The count is then stored whether it grew or
// shrank. Ticks never toggle IsLoading.
func (c *SyncClient) Poll(ctx context.Context) error {
	metrics.PollTicksTotal.Inc()

	epoch, err := c.begin()
	if err != nil {
		return err
	}

	newCount, err := c.source.UnreadCount(ctx)
	if err != nil {
		c.failed("poll", err, epoch)
		return err
	}

	if prev := c.prevCount.Load(); int64(newCount) > prev {
		log.Debug().Int64("previous", prev).Int("current", newCount).Msg("unread count increased")
		_ = c.load(ctx, true, false, false)
		c.pushLatest(ctx, epoch)
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return ErrNotActive
	}
	c.setUnreadLocked(newCount)
	c.mu.Unlock()

	c.changed()
	return nil
}

func (c *SyncClient) pushLatest(ctx context.Context, epoch uint64) {
	page, err := c.source.List(ctx, "", 1)
	if err != nil {
		c.failed("latest", err, epoch)
		return
	}
	if len(page.Items) == 0 {
		return
	}
	latest := page.Items[0]

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	if latest.ID == c.lastNotified {
		c.mu.Unlock()
		metrics.PushesSuppressed.WithLabelValues("duplicate").Inc()
		return
	}
	if c.opts.Permission != domain.PermissionGranted {
		c.mu.Unlock()
		metrics.PushesSuppressed.WithLabelValues("permission").Inc()
		return
	}
	c.lastNotified = latest.ID
	c.mu.Unlock()

	p := messages.PushFor(latest)
	if err := c.pusher.Push(ctx, p); err != nil {
		log.Error().Err(err).Str("tag", p.Tag).Msg("failed to show push notification")
	}
	metrics.PushesTotal.Inc()
	c.scheduleDismiss(epoch, p.Tag)
}

func (c *SyncClient) scheduleDismiss(epoch uint64, tag string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return
	}
	if t, ok := c.dismiss[tag]; ok {
		t.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(c.opts.PushDismissAfter, func() {
		c.mu.Lock()
		if c.dismiss[tag] != t {
			c.mu.Unlock()
			return
		}
		delete(c.dismiss, tag)
		c.mu.Unlock()

		if err := c.pusher.Dismiss(context.Background(), tag); err != nil {
			log.Warn().Err(err).Str("tag", tag).Msg("failed to dismiss push notification")
		}
	})
	c.dismiss[tag] = t
}

// ─── helpers ────────────────────────────────────────────────────────────────

func (c *SyncClient) begin() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return 0, ErrNotActive
	}
	return c.epoch, nil
}

// failed logs a remote failure and fires the unauthorized hook once per session.
func (c *SyncClient) failed(op string, err error, epoch uint64) {
	metrics.SyncErrorsTotal.WithLabelValues(op).Inc()
	log.Error().Err(err).Str("op", op).Msg("notification sync failed")

	if !errors.Is(err, domain.ErrUnauthorized) {
		return
	}
	c.mu.Lock()
	fn := c.onUnauthorized
	fire := fn != nil && c.epoch == epoch && c.unauthEpoch != epoch
	if fire {
		c.unauthEpoch = epoch
	}
	c.mu.Unlock()
	if fire {
		go fn()
	}
}

func (c *SyncClient) snapshotLocked() Snapshot {
	items := make([]domain.Notification, len(c.notifications))
	copy(items, c.notifications)
	return Snapshot{
		Active:        c.active,
		Notifications: items,
		UnreadCount:   c.unreadCount,
		IsLoading:     c.inflight > 0,
		HasMore:       c.hasMore,
	}
}

func (c *SyncClient) changed() {
	c.mu.Lock()
	snap := c.snapshotLocked()
	observers := make([]Observer, 0, len(c.observers))
	for _, o := range c.observers {
		observers = append(observers, o)
	}
	c.mu.Unlock()

	for _, o := range observers {
		o(snap)
	}
}
