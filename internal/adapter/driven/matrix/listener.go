package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/ericfisherdev/mastobridge/internal/domain/model"
	"github.com/ericfisherdev/mastobridge/internal/domain/port/driven"
)

// MessageHandler receives messages local users send to the bridge.
type MessageHandler interface {
	Handle(ctx context.Context, msg model.InboundMessage) error
}

// MembershipHandler receives departures from rooms the bridge is in.
type MembershipHandler interface {
	HandleMembership(ctx context.Context, change model.MembershipChange) error
}

// ListenerConfig controls reconnection after a failed sync.
type ListenerConfig struct {
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

// Listener runs the homeserver sync loop and turns room events into
// bridge calls. Events are handled one at a time in arrival order.
type Listener struct {
	client   *mautrix.Client
	messages MessageHandler
	members  MembershipHandler
	direct   driven.DirectChatStore
	cfg      ListenerConfig
}

// NewListener creates a Listener. Zero config values default to one second
// and two minutes.
func NewListener(client *mautrix.Client, messages MessageHandler, members MembershipHandler, direct driven.DirectChatStore, cfg ListenerConfig) *Listener {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = 2 * time.Minute
	}
	return &Listener{client: client, messages: messages, members: members, direct: direct, cfg: cfg}
}

// Run syncs until ctx is canceled, reconnecting with backoff. Events that
// happened before the first sync are skipped. It returns nil on
// cancellation and an error only when the homeserver rejects the token.
func (l *Listener) Run(ctx context.Context) error {
	syncer, ok := l.client.Syncer.(mautrix.ExtensibleSyncer)
	if !ok {
		return errors.New("matrix client syncer does not accept handlers")
	}
	syncer.OnSync(l.client.DontProcessOldEvents)
	syncer.OnEventType(event.EventMessage, l.onMessage)
	syncer.OnEventType(event.StateMember, l.onMember)

	slog.Info("matrix listener started", "user", l.client.UserID)

	err := retry.Do(func() error {
		err := l.client.SyncWithContext(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	},
		retry.Attempts(0),
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(l.cfg.RetryDelay),
		retry.MaxDelay(l.cfg.MaxRetryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, mautrix.MUnknownToken)
		}),
		retry.OnRetry(func(n uint, err error) {
			slog.Warn("matrix sync failed, reconnecting", "attempt", n+1, "error", err)
		}),
		retry.Context(ctx),
	)
	if ctx.Err() != nil {
		slog.Info("matrix listener stopped")
		return nil
	}
	if err != nil {
		return fmt.Errorf("matrix sync: %w", err)
	}
	return nil
}

func (l *Listener) onMessage(ctx context.Context, evt *event.Event) {
	if evt.Sender == l.client.UserID {
		return
	}

	msg, ok, err := l.inbound(ctx, evt)
	if err != nil {
		slog.Warn("read inbound message failed", "chat", evt.RoomID, "sender", evt.Sender, "error", err)
		return
	}
	if !ok {
		return
	}

	if err := l.messages.Handle(ctx, msg); err != nil {
		slog.Error("handle message failed", "chat", evt.RoomID, "sender", evt.Sender, "error", err)
	}
}

// inbound converts a room message. Edits and unsupported message types are
// skipped.
func (l *Listener) inbound(ctx context.Context, evt *event.Event) (model.InboundMessage, bool, error) {
	content := evt.Content.AsMessage()
	if content.RelatesTo != nil && content.RelatesTo.Type == event.RelReplace {
		return model.InboundMessage{}, false, nil
	}

	msg := model.InboundMessage{ChatID: evt.RoomID.String(), Sender: evt.Sender.String()}

	switch content.MsgType {
	case event.MsgText, event.MsgNotice, event.MsgEmote:
		msg.Text = content.Body
	case event.MsgImage, event.MsgAudio, event.MsgVideo, event.MsgFile:
		media, caption, err := l.download(ctx, content)
		if err != nil {
			return model.InboundMessage{}, false, err
		}
		msg.Text = caption
		msg.Media = media
	default:
		return model.InboundMessage{}, false, nil
	}
	return msg, true, nil
}

// download fetches an attachment. Body is the caption when a separate file
// name is set.
func (l *Listener) download(ctx context.Context, content *event.MessageEventContent) (*model.MediaFile, string, error) {
	uri, err := content.URL.Parse()
	if err != nil {
		return nil, "", fmt.Errorf("parse media url: %w", err)
	}
	data, err := l.client.DownloadBytes(ctx, uri)
	if err != nil {
		return nil, "", fmt.Errorf("download %s: %w", uri, err)
	}

	name, caption := content.FileName, ""
	if name == "" {
		name = content.Body
	} else if content.Body != name {
		caption = content.Body
	}

	media := &model.MediaFile{Name: name, Data: data}
	if content.Info != nil {
		media.ContentType = content.Info.MimeType
	}
	return media, caption, nil
}

func (l *Listener) onMember(ctx context.Context, evt *event.Event) {
	content := evt.Content.AsMember()
	target := id.UserID(evt.GetStateKey())
	self := l.client.UserID

	switch content.Membership {
	case event.MembershipInvite:
		if target != self {
			return
		}
		if _, err := l.client.JoinRoomByID(ctx, evt.RoomID); err != nil {
			slog.Warn("join room failed", "chat", evt.RoomID, "inviter", evt.Sender, "error", err)
			return
		}
		if content.IsDirect && l.direct != nil {
			if err := l.direct.SetDirectChat(ctx, evt.Sender.String(), evt.RoomID.String()); err != nil {
				slog.Warn("save private chat failed", "addr", evt.Sender, "chat", evt.RoomID, "error", err)
			}
		}

	case event.MembershipLeave, event.MembershipBan:
		change := model.MembershipChange{
			ChatID: evt.RoomID.String(),
			Member: target.String(),
			IsSelf: target == self,
		}
		if err := l.members.HandleMembership(ctx, change); err != nil {
			slog.Error("handle membership change failed", "chat", evt.RoomID, "member", target, "error", err)
		}
	}
}
