package matrix

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/ericfisherdev/mastobridge/internal/domain/model"
)

func messageEvent(sender string, content *event.MessageEventContent) *event.Event {
	return &event.Event{
		Sender:  id.UserID(sender),
		RoomID:  id.RoomID("!room1:test"),
		Type:    event.EventMessage,
		Content: event.Content{Parsed: content},
	}
}

func memberEvent(sender, target string, content *event.MemberEventContent) *event.Event {
	return &event.Event{
		Sender:   id.UserID(sender),
		RoomID:   id.RoomID("!room1:test"),
		Type:     event.StateMember,
		StateKey: &target,
		Content:  event.Content{Parsed: content},
	}
}

type listenerFixture struct {
	hs       *fakeHomeserver
	messages *fakeMessageHandler
	members  *fakeMembershipHandler
	direct   *fakeDirectChats
	listener *Listener
}

func newListenerFixture(t *testing.T) *listenerFixture {
	hs, srv := newFakeHomeserver(t)
	f := &listenerFixture{
		hs:       hs,
		messages: &fakeMessageHandler{},
		members:  &fakeMembershipHandler{},
		direct:   newFakeDirectChats(),
	}
	f.listener = NewListener(newTestClient(t, srv), f.messages, f.members, f.direct, ListenerConfig{})
	return f
}

func TestListener_TextMessage(t *testing.T) {
	f := newListenerFixture(t)

	f.listener.onMessage(context.Background(), messageEvent("@alice:test", &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    "/login mastodon.example",
	}))

	require.Len(t, f.messages.msgs, 1)
	assert.Equal(t, model.InboundMessage{ChatID: "!room1:test", Sender: "@alice:test", Text: "/login mastodon.example"}, f.messages.msgs[0])
}

func TestListener_SkipsOwnMessagesAndEdits(t *testing.T) {
	f := newListenerFixture(t)
	ctx := context.Background()

	f.listener.onMessage(ctx, messageEvent("@bridge:test", &event.MessageEventContent{MsgType: event.MsgText, Body: "echo"}))
	f.listener.onMessage(ctx, messageEvent("@alice:test", &event.MessageEventContent{
		MsgType:   event.MsgText,
		Body:      "* fixed",
		RelatesTo: &event.RelatesTo{Type: event.RelReplace, EventID: "$orig"},
	}))
	f.listener.onMessage(ctx, messageEvent("@alice:test", &event.MessageEventContent{MsgType: event.MsgLocation, Body: "geo"}))

	assert.Empty(t, f.messages.msgs)
}

func TestListener_AttachmentWithCaption(t *testing.T) {
	f := newListenerFixture(t)

	f.listener.onMessage(context.Background(), messageEvent("@alice:test", &event.MessageEventContent{
		MsgType:  event.MsgImage,
		Body:     "my cat",
		FileName: "cat.png",
		URL:      "mxc://test/media1",
		Info:     &event.FileInfo{MimeType: "image/png"},
	}))

	require.Len(t, f.messages.msgs, 1)
	msg := f.messages.msgs[0]
	assert.Equal(t, "my cat", msg.Text)
	require.NotNil(t, msg.Media)
	assert.Equal(t, "cat.png", msg.Media.Name)
	assert.Equal(t, "image/png", msg.Media.ContentType)
	assert.Equal(t, []byte("filedata"), msg.Media.Data)
	assert.Len(t, f.hs.matching("/download/"), 1)
}

func TestListener_AttachmentWithoutCaption(t *testing.T) {
	f := newListenerFixture(t)

	f.listener.onMessage(context.Background(), messageEvent("@alice:test", &event.MessageEventContent{
		MsgType: event.MsgAudio,
		Body:    "voice.ogg",
		URL:     "mxc://test/media1",
	}))

	require.Len(t, f.messages.msgs, 1)
	assert.Empty(t, f.messages.msgs[0].Text)
	assert.Equal(t, "voice.ogg", f.messages.msgs[0].Media.Name)
}

func TestListener_JoinsWhenInvited(t *testing.T) {
	f := newListenerFixture(t)

	f.listener.onMember(context.Background(), memberEvent("@alice:test", "@bridge:test", &event.MemberEventContent{
		Membership: event.MembershipInvite,
		IsDirect:   true,
	}))

	assert.Len(t, f.hs.matching("/join"), 1)
	assert.Equal(t, "!room1:test", f.direct.chats["@alice:test"])
}

func TestListener_IgnoresInvitesForOthers(t *testing.T) {
	f := newListenerFixture(t)

	f.listener.onMember(context.Background(), memberEvent("@alice:test", "@bob:test", &event.MemberEventContent{
		Membership: event.MembershipInvite,
	}))

	assert.Empty(t, f.hs.all())
}

func TestListener_Departures(t *testing.T) {
	f := newListenerFixture(t)
	ctx := context.Background()

	f.listener.onMember(ctx, memberEvent("@alice:test", "@alice:test", &event.MemberEventContent{Membership: event.MembershipLeave}))
	f.listener.onMember(ctx, memberEvent("@alice:test", "@bridge:test", &event.MemberEventContent{Membership: event.MembershipBan}))
	f.listener.onMember(ctx, memberEvent("@alice:test", "@alice:test", &event.MemberEventContent{Membership: event.MembershipJoin}))

	assert.Equal(t, []model.MembershipChange{
		{ChatID: "!room1:test", Member: "@alice:test"},
		{ChatID: "!room1:test", Member: "@bridge:test", IsSelf: true},
	}, f.members.changes)
}
