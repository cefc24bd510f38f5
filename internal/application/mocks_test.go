package application_test

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ericfisherdev/mastobridge/internal/application"
	"github.com/ericfisherdev/mastobridge/internal/domain/model"
	"github.com/ericfisherdev/mastobridge/internal/domain/port/driven"
)

// --- Shared event log, used to check ordering across fakes ---

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(format string, args ...any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.events)
}

// --- Stores ---

type fakeAccounts struct {
	mu       sync.Mutex
	byAddr   map[string]model.Account
	contacts *fakeContacts
	log      *eventLog
	listErr  error
	// onList runs after ListAll took its snapshot.
	onList func()
}

func newFakeAccounts(contacts *fakeContacts, log *eventLog) *fakeAccounts {
	return &fakeAccounts{byAddr: map[string]model.Account{}, contacts: contacts, log: log}
}

func (f *fakeAccounts) Create(_ context.Context, acc model.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byAddr[acc.Addr]; ok {
		return driven.ErrAccountAlreadyExists
	}
	f.byAddr[acc.Addr] = acc
	return nil
}

func (f *fakeAccounts) Get(_ context.Context, addr string) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc, ok := f.byAddr[addr]
	if !ok {
		return nil, driven.ErrAccountNotFound
	}
	return &acc, nil
}

func (f *fakeAccounts) GetByChat(_ context.Context, chatID string) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, acc := range f.byAddr {
		if acc.OwnsChat(chatID) {
			return &acc, nil
		}
	}
	return nil, driven.ErrAccountNotFound
}

func (f *fakeAccounts) ListAll(_ context.Context) ([]model.Account, error) {
	f.mu.Lock()
	if f.listErr != nil {
		f.mu.Unlock()
		return nil, f.listErr
	}
	out := make([]model.Account, 0, len(f.byAddr))
	for _, acc := range f.byAddr {
		out = append(out, acc)
	}
	f.mu.Unlock()

	slices.SortFunc(out, func(a, b model.Account) int {
		if c := strings.Compare(a.Instance, b.Instance); c != 0 {
			return c
		}
		return strings.Compare(a.Addr, b.Addr)
	})
	if f.onList != nil {
		f.onList()
	}
	return out, nil
}

func (f *fakeAccounts) Count(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byAddr), nil
}

func (f *fakeAccounts) CountByInstance(_ context.Context, instance string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, acc := range f.byAddr {
		if acc.Instance == instance {
			n++
		}
	}
	return n, nil
}

func (f *fakeAccounts) UpdateCredentials(_ context.Context, addr, user, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc, ok := f.byAddr[addr]
	if !ok {
		return driven.ErrAccountNotFound
	}
	acc.User, acc.Token = user, token
	f.byAddr[addr] = acc
	return nil
}

func (f *fakeAccounts) SetCursor(_ context.Context, addr string, stream model.Stream, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc, ok := f.byAddr[addr]
	if !ok {
		return driven.ErrAccountNotFound
	}
	if stream == model.StreamHome {
		acc.LastHomeID = id
	} else {
		acc.LastNotifID = id
	}
	f.byAddr[addr] = acc
	f.log.add("cursor %s %s=%s", addr, stream, id)
	return nil
}

func (f *fakeAccounts) SetMuted(_ context.Context, addr string, stream model.Stream, muted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc, ok := f.byAddr[addr]
	if !ok {
		return driven.ErrAccountNotFound
	}
	if stream == model.StreamHome {
		acc.MutedHome = muted
		if !muted {
			acc.LastHomeID = ""
		}
	} else {
		acc.MutedNotif = muted
		if !muted {
			acc.LastNotifID = ""
		}
	}
	f.byAddr[addr] = acc
	return nil
}

func (f *fakeAccounts) Delete(_ context.Context, addr string) ([]model.ContactChat, error) {
	f.mu.Lock()
	if _, ok := f.byAddr[addr]; !ok {
		f.mu.Unlock()
		return nil, driven.ErrAccountNotFound
	}
	delete(f.byAddr, addr)
	f.mu.Unlock()

	if f.contacts == nil {
		return nil, nil
	}
	return f.contacts.deleteAccount(addr), nil
}

func (f *fakeAccounts) put(acc model.Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byAddr[acc.Addr] = acc
}

func (f *fakeAccounts) get(addr string) (model.Account, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc, ok := f.byAddr[addr]
	return acc, ok
}

type fakeContacts struct {
	mu     sync.Mutex
	byChat map[string]model.ContactChat
}

func newFakeContacts() *fakeContacts {
	return &fakeContacts{byChat: map[string]model.ContactChat{}}
}

func (f *fakeContacts) Create(_ context.Context, cc model.ContactChat) (model.ContactChat, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cc.Contact = model.NormalizeHandle(cc.Contact)
	for _, existing := range f.byChat {
		if existing.AccountAddr == cc.AccountAddr && existing.Contact == cc.Contact {
			return existing, false, nil
		}
	}
	f.byChat[cc.ChatID] = cc
	return cc, true, nil
}

func (f *fakeContacts) Get(_ context.Context, addr, contact string) (*model.ContactChat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	contact = model.NormalizeHandle(contact)
	for _, cc := range f.byChat {
		if cc.AccountAddr == addr && cc.Contact == contact {
			return &cc, nil
		}
	}
	return nil, driven.ErrContactChatNotFound
}

func (f *fakeContacts) GetByChat(_ context.Context, chatID string) (*model.ContactChat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cc, ok := f.byChat[chatID]
	if !ok {
		return nil, driven.ErrContactChatNotFound
	}
	return &cc, nil
}

func (f *fakeContacts) ListByAccount(_ context.Context, addr string) ([]model.ContactChat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ContactChat
	for _, cc := range f.byChat {
		if cc.AccountAddr == addr {
			out = append(out, cc)
		}
	}
	return out, nil
}

func (f *fakeContacts) Delete(_ context.Context, chatID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byChat[chatID]; !ok {
		return driven.ErrContactChatNotFound
	}
	delete(f.byChat, chatID)
	return nil
}

func (f *fakeContacts) deleteAccount(addr string) []model.ContactChat {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed []model.ContactChat
	for id, cc := range f.byChat {
		if cc.AccountAddr == addr {
			removed = append(removed, cc)
			delete(f.byChat, id)
		}
	}
	return removed
}

func (f *fakeContacts) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byChat)
}

type fakeInstances struct {
	mu    sync.Mutex
	creds map[string]model.InstanceCredential
}

func newFakeInstances() *fakeInstances {
	return &fakeInstances{creds: map[string]model.InstanceCredential{}}
}

func (f *fakeInstances) Get(_ context.Context, instance string) (*model.InstanceCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.creds[instance]
	if !ok {
		return nil, driven.ErrInstanceNotFound
	}
	return &c, nil
}

func (f *fakeInstances) Save(_ context.Context, cred model.InstanceCredential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.creds[cred.Instance]; !ok {
		f.creds[cred.Instance] = cred
	}
	return nil
}

type fakePending struct {
	mu      sync.Mutex
	pending map[string]model.PendingLogin
}

func newFakePending() *fakePending {
	return &fakePending{pending: map[string]model.PendingLogin{}}
}

func (f *fakePending) Put(_ context.Context, p model.PendingLogin) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending[p.Addr] = p
	return nil
}

func (f *fakePending) Get(_ context.Context, addr string) (*model.PendingLogin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pending[addr]
	if !ok {
		return nil, driven.ErrPendingLoginNotFound
	}
	return &p, nil
}

func (f *fakePending) Delete(_ context.Context, addr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pending, addr)
	return nil
}

// --- Remote ---

type fakeRemote struct {
	mu          sync.Mutex
	sessions    map[string]*fakeSession // By token.
	registerErr error
	registered  int
	login       *fakeSession // Returned by PasswordLogin and ExchangeCode.
	loginErr    error
	loginCreds  []model.InstanceCredential
	exchanged   []string
	media       map[string]*model.MediaFile
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{sessions: map[string]*fakeSession{}, media: map[string]*model.MediaFile{}}
}

func (f *fakeRemote) RegisterApp(_ context.Context, instance string) (model.InstanceCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered++
	if f.registerErr != nil {
		return model.InstanceCredential{}, f.registerErr
	}
	return model.InstanceCredential{Instance: instance, ClientID: "cid", ClientSecret: "secret", RegisteredAt: time.Now()}, nil
}

func (f *fakeRemote) Session(instance, token string) driven.RemoteSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[token]; ok {
		return s
	}
	return &fakeSession{instance: instance, token: token, meErr: driven.ErrUnauthorized}
}

func (f *fakeRemote) PasswordLogin(_ context.Context, cred model.InstanceCredential, _, _ string) (driven.RemoteSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginCreds = append(f.loginCreds, cred)
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return f.login, nil
}

func (f *fakeRemote) AuthorizationURL(cred model.InstanceCredential, state string) (string, error) {
	return cred.Instance + "/oauth/authorize?client_id=" + cred.ClientID + "&state=" + state, nil
}

func (f *fakeRemote) ExchangeCode(_ context.Context, cred model.InstanceCredential, code string) (driven.RemoteSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchanged = append(f.exchanged, cred.ClientID+":"+code)
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return f.login, nil
}

func (f *fakeRemote) FetchMedia(_ context.Context, url string) (*model.MediaFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.media[url]
	if !ok {
		return nil, driven.ErrRemoteNotFound
	}
	return m, nil
}

func (f *fakeRemote) add(s *fakeSession) *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.token] = s
	return s
}

type fakeSession struct {
	mu       sync.Mutex
	instance string
	token    string
	me       model.RemoteAccount
	meErr    error

	notifs   []model.Notification
	home     []model.Status
	notifErr error
	homeErr  error
	panicMsg string // Panics in HomeTimeline when set.
	stall    bool   // VerifyCredentials blocks until the context ends.
	pages    []model.Page

	statuses  map[string]model.Status
	ancestors map[string][]model.Status
	accounts  map[string]model.RemoteAccount
	rels      map[string]model.Relationship
	search    model.SearchResults
	timeline  []model.Status

	posts    []model.NewPost
	uploads  []model.MediaFile
	favs     []string
	boosts   []string
	actions  []string
	profiles []model.ProfileUpdate
	postErr  error
}

func (s *fakeSession) Instance() string    { return s.instance }
func (s *fakeSession) AccessToken() string { return s.token }

func (s *fakeSession) VerifyCredentials(ctx context.Context) (*model.RemoteAccount, error) {
	if s.stall {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.meErr != nil {
		return nil, s.meErr
	}
	me := s.me
	return &me, nil
}

func (s *fakeSession) Notifications(_ context.Context, page model.Page) ([]model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages = append(s.pages, page)
	if s.notifErr != nil {
		return nil, s.notifErr
	}
	return pageOf(s.notifs, page, func(n model.Notification) string { return n.ID }), nil
}

func (s *fakeSession) HomeTimeline(_ context.Context, page model.Page) ([]model.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	s.pages = append(s.pages, page)
	if s.homeErr != nil {
		return nil, s.homeErr
	}
	return pageOf(s.home, page, func(st model.Status) string { return st.ID }), nil
}

// pageOf returns items between page.SinceID and page.MaxID, newest first,
// like the remote API does.
func pageOf[T any](items []T, page model.Page, idOf func(T) string) []T {
	sorted := slices.Clone(items)
	slices.SortFunc(sorted, func(a, b T) int { return model.CompareIDs(idOf(b), idOf(a)) })

	var out []T
	for _, it := range sorted {
		id := idOf(it)
		if page.SinceID != "" && model.CompareIDs(id, page.SinceID) <= 0 {
			continue
		}
		if page.MaxID != "" && model.CompareIDs(id, page.MaxID) >= 0 {
			continue
		}
		out = append(out, it)
		if page.Limit > 0 && len(out) == page.Limit {
			break
		}
	}
	return out
}

func (s *fakeSession) PublicTimeline(_ context.Context, _ bool, _ int) ([]model.Status, error) {
	return s.timeline, nil
}

func (s *fakeSession) TagTimeline(_ context.Context, _ string, _ int) ([]model.Status, error) {
	return s.timeline, nil
}

func (s *fakeSession) AccountStatuses(_ context.Context, _ string, _ int) ([]model.Status, error) {
	return s.timeline, nil
}

func (s *fakeSession) Status(_ context.Context, id string) (*model.Status, error) {
	st, ok := s.statuses[id]
	if !ok {
		return nil, driven.ErrRemoteNotFound
	}
	return &st, nil
}

func (s *fakeSession) Ancestors(_ context.Context, id string) ([]model.Status, error) {
	return s.ancestors[id], nil
}

func (s *fakeSession) Account(_ context.Context, id string) (*model.RemoteAccount, error) {
	a, ok := s.accounts[id]
	if !ok {
		return nil, driven.ErrRemoteNotFound
	}
	return &a, nil
}

func (s *fakeSession) Relationship(_ context.Context, id string) (*model.Relationship, error) {
	rel := s.rels[id]
	rel.ID = id
	return &rel, nil
}

func (s *fakeSession) Search(_ context.Context, _ string) (*model.SearchResults, error) {
	res := s.search
	return &res, nil
}

func (s *fakeSession) Post(_ context.Context, post model.NewPost) (*model.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.postErr != nil {
		return nil, s.postErr
	}
	s.posts = append(s.posts, post)
	return &model.Status{ID: fmt.Sprintf("p%d", len(s.posts)), Content: post.Text, Visibility: post.Visibility}, nil
}

func (s *fakeSession) UploadMedia(_ context.Context, media model.MediaFile) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads = append(s.uploads, media)
	return fmt.Sprintf("m%d", len(s.uploads)), nil
}

func (s *fakeSession) Favourite(_ context.Context, id string) error {
	s.favs = append(s.favs, id)
	return nil
}

func (s *fakeSession) Boost(_ context.Context, id string) error {
	s.boosts = append(s.boosts, id)
	return nil
}

func (s *fakeSession) ApplyAction(_ context.Context, action model.AccountAction, id string) error {
	s.actions = append(s.actions, string(action)+":"+id)
	return nil
}

func (s *fakeSession) UpdateProfile(_ context.Context, update model.ProfileUpdate) error {
	s.profiles = append(s.profiles, update)
	return nil
}

// --- Chat ---

type sentMessage struct {
	To   string
	Text string
}

type fakeChat struct {
	mu       sync.Mutex
	next     int
	created  []string // Conversation names.
	members  map[string][]string
	sent     []sentMessage
	direct   []sentMessage
	avatars  map[string]model.MediaFile
	left     []string
	sendErr  error
	createFn func(name string) error
	log      *eventLog
}

func newFakeChat(log *eventLog) *fakeChat {
	return &fakeChat{members: map[string][]string{}, avatars: map[string]model.MediaFile{}, log: log}
}

func (f *fakeChat) CreateConversation(_ context.Context, name string, members []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createFn != nil {
		if err := f.createFn(name); err != nil {
			return "", err
		}
	}
	f.next++
	id := fmt.Sprintf("!room%d", f.next)
	f.created = append(f.created, name)
	f.members[id] = append([]string{"@bridge"}, members...)
	return id, nil
}

func (f *fakeChat) SendMessage(_ context.Context, chatID string, msg model.OutgoingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentMessage{To: chatID, Text: msg.Text})
	f.log.add("send %s", chatID)
	return nil
}

func (f *fakeChat) SendDirect(_ context.Context, addr string, msg model.OutgoingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.direct = append(f.direct, sentMessage{To: addr, Text: msg.Text})
	return nil
}

func (f *fakeChat) Members(_ context.Context, chatID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.members[chatID]), nil
}

func (f *fakeChat) SetAvatar(_ context.Context, chatID string, image model.MediaFile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.avatars[chatID] = image
	return nil
}

func (f *fakeChat) Leave(_ context.Context, chatID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = append(f.left, chatID)
	return nil
}

func (f *fakeChat) sentTo(chatID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.sent {
		if m.To == chatID {
			out = append(out, m.Text)
		}
	}
	return out
}

// --- Metrics and transcoder ---

type fakeMetrics struct {
	mu        sync.Mutex
	cycles    int
	results   map[string]int
	delivered map[string]int
	published int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{results: map[string]int{}, delivered: map[string]int{}}
}

func (m *fakeMetrics) CycleCompleted(time.Duration, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles++
}

func (m *fakeMetrics) AccountSynced(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[result]++
}

func (m *fakeMetrics) MessagesDelivered(kind string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delivered[kind] += n
}

func (m *fakeMetrics) PostPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published++
}

type fakeTranscoder struct {
	calls int
}

func (t *fakeTranscoder) NeedsTranscode(media model.MediaFile) bool {
	return media.Ext() == "aac"
}

func (t *fakeTranscoder) Transcode(_ context.Context, media model.MediaFile) (model.MediaFile, error) {
	t.calls++
	return model.MediaFile{
		Name:        strings.TrimSuffix(media.Name, ".aac") + ".mp3",
		ContentType: "audio/mpeg",
		Data:        media.Data,
	}, nil
}

// --- Fixture ---

const testInstance = "https://mastodon.example"

type fixture struct {
	log       *eventLog
	accounts  *fakeAccounts
	contacts  *fakeContacts
	instances *fakeInstances
	pending   *fakePending
	remote    *fakeRemote
	chat      *fakeChat
	metrics   *fakeMetrics
	transcode *fakeTranscoder

	sessions  *application.SessionFactory
	renderer  *application.Renderer
	mapper    *application.ContactMapper
	lifecycle *application.AccountService
	syncer    *application.SyncService
	relay     *application.Relay
	handler   *application.CommandHandler
}

func newFixture(limits application.Limits) *fixture {
	f := &fixture{log: &eventLog{}}
	f.contacts = newFakeContacts()
	f.accounts = newFakeAccounts(f.contacts, f.log)
	f.instances = newFakeInstances()
	f.pending = newFakePending()
	f.remote = newFakeRemote()
	f.chat = newFakeChat(f.log)
	f.metrics = newFakeMetrics()
	f.transcode = &fakeTranscoder{}

	f.sessions = application.NewSessionFactory(f.remote, f.instances)
	f.renderer = application.NewRenderer("")
	f.mapper = application.NewContactMapper(f.contacts, f.chat, f.sessions)
	f.lifecycle = application.NewAccountService(f.accounts, f.contacts, f.pending, f.sessions, f.chat, limits, nil)
	f.syncer = application.NewSyncService(
		f.accounts, f.sessions, application.NewClassifier(nil), f.renderer, f.mapper, f.chat, f.metrics,
		application.SyncConfig{Delay: time.Hour, MinSleep: time.Millisecond, PageLimit: 2},
	)
	f.relay = application.NewRelay(f.sessions, f.transcode, f.metrics)
	f.handler = application.NewCommandHandler(
		f.accounts, f.contacts, f.lifecycle, f.sessions, f.relay, f.mapper, f.renderer, f.chat, f.syncer, "",
	)
	return f
}

var unlimited = application.Limits{MaxAccounts: -1, MaxPerInstance: -1}

// linkAccount stores an account with a working session and returns both.
func (f *fixture) linkAccount(addr, instance, token string) (model.Account, *fakeSession) {
	acc := model.Account{
		Addr:        addr,
		Instance:    instance,
		User:        strings.TrimPrefix(addr, "@"),
		Token:       token,
		HomeChat:    "!home-" + token,
		NotifChat:   "!notif-" + token,
		LastHomeID:  "100",
		LastNotifID: "100",
	}
	f.accounts.put(acc)
	sess := f.remote.add(&fakeSession{
		instance: instance,
		token:    token,
		me:       model.RemoteAccount{ID: "me-" + token, Acct: acc.User},
	})
	return acc, sess
}

func status(id, text string) model.Status {
	return model.Status{
		ID:         id,
		Content:    "<p>" + text + "</p>",
		Visibility: model.VisibilityPublic,
		CreatedAt:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Account:    model.RemoteAccount{ID: "a-" + id, Acct: "author", DisplayName: "Author"},
	}
}

func (s *fakeSession) addHome(sts ...model.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.home = append(s.home, sts...)
}
