package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/ericfisherdev/mastobridge/internal/domain/model"
	"github.com/ericfisherdev/mastobridge/internal/domain/port/driven"
)

// Phase is the state of the sync loop.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseListing
	PhaseDraining
	PhaseSleeping
)

func (p Phase) String() string {
	switch p {
	case PhaseListing:
		return "listing"
	case PhaseDraining:
		return "draining"
	case PhaseSleeping:
		return "sleeping"
	default:
		return "idle"
	}
}

// Sync results reported to metrics.
const (
	ResultOK           = "ok"
	ResultUnauthorized = "unauthorized"
	ResultUnreachable  = "unreachable"
	ResultError        = "error"
)

// Delivery kinds reported to metrics.
const (
	DeliveryHome          = "home"
	DeliveryNotifications = "notifications"
	DeliveryDirect        = "direct"
)

const (
	defaultPageLimit      = 40
	defaultMaxPages       = 10
	defaultAccountTimeout = 2 * time.Minute
)

// SyncConfig tunes the sync loop.
type SyncConfig struct {
	Delay          time.Duration // Target time between the start of two cycles.
	MinSleep       time.Duration // Floor of the sleeping phase.
	AccountTimeout time.Duration // Deadline for syncing one account.
	PageLimit      int           // Items requested per page.
	MaxPages       int           // Pages fetched per stream and pass.
}

// syncRequest asks the loop to sync one account out of turn.
type syncRequest struct {
	addr string
	done chan error
}

// SyncService polls every linked account and relays new remote activity
// into its conversations. Accounts are synced one at a time; instances take
// turns so one slow instance does not starve the others.
type SyncService struct {
	accounts   driven.AccountStore
	sessions   *SessionFactory
	classifier *Classifier
	renderer   *Renderer
	mapper     *ContactMapper
	chat       driven.ChatTransport
	metrics    driven.Metrics
	cfg        SyncConfig

	phase     atomic.Int32
	lastCycle atomic.Int64
	syncCh    chan syncRequest
	now       func() time.Time
}

// NewSyncService creates a SyncService with all required dependencies.
func NewSyncService(
	accounts driven.AccountStore,
	sessions *SessionFactory,
	classifier *Classifier,
	renderer *Renderer,
	mapper *ContactMapper,
	chat driven.ChatTransport,
	metrics driven.Metrics,
	cfg SyncConfig,
) *SyncService {
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = defaultPageLimit
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if cfg.AccountTimeout <= 0 {
		cfg.AccountTimeout = defaultAccountTimeout
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &SyncService{
		accounts:   accounts,
		sessions:   sessions,
		classifier: classifier,
		renderer:   renderer,
		mapper:     mapper,
		chat:       chat,
		metrics:    metrics,
		cfg:        cfg,
		syncCh:     make(chan syncRequest),
		now:        time.Now,
	}
}

// Phase returns the current state of the loop.
func (s *SyncService) Phase() Phase {
	return Phase(s.phase.Load())
}

// LastCycle returns when the last completed cycle ended, or the zero time.
func (s *SyncService) LastCycle() time.Time {
	n := s.lastCycle.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Start runs cycles until ctx is canceled. Between cycles it sleeps for the
// configured delay minus the time the cycle took, but at least MinSleep,
// and serves SyncNow requests meanwhile.
func (s *SyncService) Start(ctx context.Context) {
	slog.Info("sync service started", "delay", s.cfg.Delay, "min_sleep", s.cfg.MinSleep)

	for {
		elapsed := s.RunCycle(ctx)
		if ctx.Err() != nil {
			break
		}

		wait := max(s.cfg.Delay-elapsed, s.cfg.MinSleep)
		if !s.sleep(ctx, wait) {
			break
		}
	}

	s.setPhase(PhaseIdle)
	slog.Info("sync service stopped")
}

// SyncNow syncs the account of addr without waiting for the next cycle. The
// request is served while the loop sleeps; it blocks until the account was
// synced or ctx is canceled.
func (s *SyncService) SyncNow(ctx context.Context, addr string) error {
	done := make(chan error, 1)
	req := syncRequest{addr: addr, done: done}

	select {
	case s.syncCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunCycle performs one listing and draining pass over all accounts and
// returns how long it took.
func (s *SyncService) RunCycle(ctx context.Context) time.Duration {
	start := s.now()
	defer s.setPhase(PhaseIdle)

	s.setPhase(PhaseListing)
	accounts, err := s.accounts.ListAll(ctx)
	if err != nil {
		slog.Error("list accounts failed", "error", err)
		return s.now().Sub(start)
	}

	queues := newInstanceQueues()
	for _, acc := range accounts {
		queues.push(acc.Instance, acc.Addr)
	}

	s.setPhase(PhaseDraining)
	var synced, failed int
	for {
		if ctx.Err() != nil {
			break
		}
		addr, ok := queues.pop()
		if !ok {
			break
		}

		// A started account finishes even when shutdown begins, so its
		// deliveries are not cut off after the cursor moved.
		switch err := s.syncAddr(context.WithoutCancel(ctx), addr); {
		case errors.Is(err, driven.ErrAccountNotFound):
		case err != nil:
			failed++
		default:
			synced++
		}
	}

	elapsed := s.now().Sub(start)
	s.metrics.CycleCompleted(elapsed, len(accounts))
	s.lastCycle.Store(s.now().UnixNano())

	slog.Info("sync cycle complete",
		"accounts", len(accounts),
		"synced", synced,
		"failed", failed,
		"duration", elapsed.Round(time.Millisecond),
	)
	return elapsed
}

// sleep waits for d, serving SyncNow requests. It returns false when ctx
// was canceled.
func (s *SyncService) sleep(ctx context.Context, d time.Duration) bool {
	s.setPhase(PhaseSleeping)

	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case req := <-s.syncCh:
			err := s.syncAddr(context.WithoutCancel(ctx), req.addr)
			if errors.Is(err, driven.ErrAccountNotFound) {
				err = ErrNotLoggedIn
			}
			req.done <- err
		}
	}
}

// syncAddr reloads the account so one removed earlier in the pass is
// skipped, syncs it and routes the outcome. An account that does not finish
// within AccountTimeout is treated as unreachable.
func (s *SyncService) syncAddr(ctx context.Context, addr string) error {
	acc, err := s.accounts.Get(ctx, addr)
	if err != nil {
		if !errors.Is(err, driven.ErrAccountNotFound) {
			slog.Error("load account failed", "addr", addr, "error", err)
		}
		return err
	}

	accountCtx, cancel := context.WithTimeout(ctx, s.cfg.AccountTimeout)
	err = s.syncAccount(accountCtx, *acc)
	timedOut := errors.Is(accountCtx.Err(), context.DeadlineExceeded)
	cancel()
	if err != nil && timedOut && !errors.Is(err, driven.ErrUnauthorized) && !errors.Is(err, driven.ErrUnreachable) {
		err = fmt.Errorf("%w: sync exceeded %s: %v", driven.ErrUnreachable, s.cfg.AccountTimeout, err)
	}

	switch {
	case err == nil:
		s.metrics.AccountSynced(ResultOK)
	case errors.Is(err, driven.ErrUnauthorized):
		s.metrics.AccountSynced(ResultUnauthorized)
		s.dropRejected(ctx, *acc, err)
	case errors.Is(err, driven.ErrUnreachable):
		s.metrics.AccountSynced(ResultUnreachable)
		slog.Warn("instance unreachable", "addr", acc.Addr, "instance", acc.Instance, "error", err)
	default:
		s.metrics.AccountSynced(ResultError)
		slog.Error("account sync failed", "addr", acc.Addr, "instance", acc.Instance, "error", err)
		notice := model.OutgoingMessage{Text: "❌ ERROR while checking your account: " + err.Error()}
		if sendErr := s.chat.SendDirect(ctx, acc.Addr, notice); sendErr != nil {
			slog.Warn("error notice failed", "addr", acc.Addr, "error", sendErr)
		}
	}
	return err
}

// dropRejected logs out an account whose token the instance rejected.
func (s *SyncService) dropRejected(ctx context.Context, acc model.Account, cause error) {
	slog.Warn("credentials rejected, logging out", "addr", acc.Addr, "instance", acc.Instance, "error", cause)

	if err := removeAccount(ctx, s.accounts, s.chat, acc); err != nil {
		if !errors.Is(err, driven.ErrAccountNotFound) {
			slog.Error("remove rejected account failed", "addr", acc.Addr, "error", err)
		}
		return
	}

	notice := model.OutgoingMessage{Text: fmt.Sprintf(
		"❌ You were logged out from %s because your access was revoked. Use %s to log in again.",
		acc.Instance, s.renderer.Command("login", ""),
	)}
	if err := s.chat.SendDirect(ctx, acc.Addr, notice); err != nil {
		slog.Warn("logout notice failed", "addr", acc.Addr, "error", err)
	}
}

// syncAccount runs the per-account procedure: notifications first, then the
// home timeline. Cursors are stored before anything is delivered. Panics are
// returned as errors.
func (s *SyncService) syncAccount(ctx context.Context, acc model.Account) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during sync: %v", r)
		}
	}()

	sess := s.sessions.ForAccount(acc)
	me, err := sess.VerifyCredentials(ctx)
	if err != nil {
		return fmt.Errorf("verify credentials: %w", err)
	}

	notifs, err := pull(ctx, s, acc, model.StreamNotifications, sess.Notifications, func(n model.Notification) string { return n.ID })
	if err != nil {
		return fmt.Errorf("fetch notifications: %w", err)
	}
	classified := s.classifier.ClassifyNotifications(notifs)
	if classified.Blocked > 0 {
		slog.Info("direct messages blocked", "addr", acc.Addr, "count", classified.Blocked)
	}
	deliverErr := s.deliverNotifications(ctx, acc, classified)

	if acc.MutedHome {
		return deliverErr
	}

	posts, err := pull(ctx, s, acc, model.StreamHome, sess.HomeTimeline, func(st model.Status) string { return st.ID })
	if err != nil {
		return errors.Join(deliverErr, fmt.Errorf("fetch home timeline: %w", err))
	}
	home := s.classifier.ClassifyHome(posts, me.ID)

	return errors.Join(deliverErr, s.deliverHome(ctx, acc, home))
}

// pull fetches the items of one stream newer than the account's cursor and
// advances the stored cursor to the newest id seen. A stream without a
// cursor is only primed; nothing is returned for it.
func pull[T any](
	ctx context.Context,
	s *SyncService,
	acc model.Account,
	stream model.Stream,
	fetch func(context.Context, model.Page) ([]T, error),
	idOf func(T) string,
) ([]T, error) {
	cursor := acc.Cursor(stream)

	if cursor == "" {
		first, err := fetch(ctx, model.Page{Limit: 1})
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(first))
		for _, it := range first {
			ids = append(ids, idOf(it))
		}
		if newest := model.MaxID(ids...); newest != "" {
			if err := s.accounts.SetCursor(ctx, acc.Addr, stream, newest); err != nil {
				return nil, fmt.Errorf("prime %s cursor: %w", stream, err)
			}
			slog.Debug("cursor primed", "addr", acc.Addr, "stream", stream, "cursor", newest)
		}
		return nil, nil
	}

	var (
		items    []T
		ids      []string
		maxID    string
		complete bool
	)
	for range s.cfg.MaxPages {
		page, err := fetch(ctx, model.Page{MaxID: maxID, SinceID: cursor, Limit: s.cfg.PageLimit})
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			complete = true
			break
		}

		oldest := ""
		for _, it := range page {
			id := idOf(it)
			if oldest == "" || model.CompareIDs(id, oldest) < 0 {
				oldest = id
			}
			if model.NewerThan(id, cursor) {
				items = append(items, it)
				ids = append(ids, id)
			}
		}

		// Stop once the page reaches the cursor or the remote ignores max_id.
		if !model.NewerThan(oldest, cursor) || (maxID != "" && model.CompareIDs(oldest, maxID) >= 0) {
			complete = true
			break
		}
		maxID = oldest
	}

	// The cursor still moves to the newest id, so anything between the old
	// cursor and the oldest fetched item is skipped.
	if !complete && len(ids) > 0 {
		slog.Warn("stream backlog exceeds page cap, older items skipped",
			"addr", acc.Addr,
			"stream", stream,
			"fetched", len(items),
			"max_pages", s.cfg.MaxPages,
			"skipped_after", cursor,
			"skipped_before", maxID,
		)
	}

	if newest := model.MaxID(ids...); newest != "" {
		if err := s.accounts.SetCursor(ctx, acc.Addr, stream, newest); err != nil {
			return nil, fmt.Errorf("advance %s cursor: %w", stream, err)
		}
	}
	return items, nil
}

// deliverNotifications sends direct messages to their contact conversations
// and mentions plus aggregated groups, merged in id order, to the
// notifications conversation. Muting drops only the groups.
func (s *SyncService) deliverNotifications(ctx context.Context, acc model.Account, c Classified) error {
	var errs []error

	direct := 0
	for _, n := range c.Direct {
		chatID, _, err := s.mapper.Resolve(ctx, acc, n.Account)
		if err != nil {
			errs = append(errs, fmt.Errorf("resolve contact %s: %w", n.Account.Acct, err))
			continue
		}
		if err := s.chat.SendMessage(ctx, chatID, s.renderer.Direct(n).Message()); err != nil {
			errs = append(errs, fmt.Errorf("deliver direct message %s: %w", n.ID, err))
			continue
		}
		direct++
	}
	s.metrics.MessagesDelivered(DeliveryDirect, direct)

	type item struct {
		id  string
		msg model.OutgoingMessage
	}
	items := make([]item, 0, len(c.Mentions)+len(c.Aggregated))
	for _, n := range c.Mentions {
		items = append(items, item{id: n.ID, msg: s.renderer.Mention(n).Message()})
	}
	if !acc.MutedNotif {
		for _, g := range c.Aggregated {
			items = append(items, item{id: g.FirstID, msg: s.renderer.Group(g).Message()})
		}
	}
	slices.SortStableFunc(items, func(a, b item) int {
		return model.CompareIDs(a.id, b.id)
	})

	sent := 0
	for _, it := range items {
		if err := s.chat.SendMessage(ctx, acc.NotifChat, it.msg); err != nil {
			errs = append(errs, fmt.Errorf("deliver notification %s: %w", it.id, err))
			continue
		}
		sent++
	}
	s.metrics.MessagesDelivered(DeliveryNotifications, sent)

	if direct+sent > 0 {
		slog.Debug("notifications delivered", "addr", acc.Addr, "direct", direct, "notifications", sent)
	}
	return errors.Join(errs...)
}

func (s *SyncService) deliverHome(ctx context.Context, acc model.Account, posts []model.Status) error {
	var errs []error
	sent := 0
	for _, st := range posts {
		if err := s.chat.SendMessage(ctx, acc.HomeChat, s.renderer.Post(st).Message()); err != nil {
			errs = append(errs, fmt.Errorf("deliver post %s: %w", st.ID, err))
			continue
		}
		sent++
	}
	s.metrics.MessagesDelivered(DeliveryHome, sent)

	if sent > 0 {
		slog.Debug("home posts delivered", "addr", acc.Addr, "count", sent)
	}
	return errors.Join(errs...)
}

func (s *SyncService) setPhase(p Phase) {
	s.phase.Store(int32(p))
}

// instanceQueues holds the pending accounts of a cycle per instance and
// hands them out round-robin across instances.
type instanceQueues struct {
	order []string
	jobs  map[string][]string
	next  int
}

func newInstanceQueues() *instanceQueues {
	return &instanceQueues{jobs: make(map[string][]string)}
}

func (q *instanceQueues) push(instance, addr string) {
	if _, ok := q.jobs[instance]; !ok {
		q.order = append(q.order, instance)
	}
	q.jobs[instance] = append(q.jobs[instance], addr)
}

// pop returns the next account, taking one from each instance in turn.
func (q *instanceQueues) pop() (string, bool) {
	for len(q.order) > 0 {
		if q.next >= len(q.order) {
			q.next = 0
		}
		instance := q.order[q.next]
		jobs := q.jobs[instance]
		if len(jobs) == 0 {
			q.order = slices.Delete(q.order, q.next, q.next+1)
			delete(q.jobs, instance)
			continue
		}

		addr := jobs[0]
		q.jobs[instance] = jobs[1:]
		q.next++
		return addr, true
	}
	return "", false
}
