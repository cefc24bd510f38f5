// Package matrix connects the bridge to a Matrix homeserver: outbound
// delivery through Transport and inbound events through Listener.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/ericfisherdev/mastobridge/internal/domain/model"
	"github.com/ericfisherdev/mastobridge/internal/domain/port/driven"
)

// MediaFetcher downloads remote media so it can be re-uploaded to the
// homeserver.
type MediaFetcher interface {
	FetchMedia(ctx context.Context, url string) (*model.MediaFile, error)
}

// Transport implements driven.ChatTransport on a mautrix client.
type Transport struct {
	client *mautrix.Client
	direct driven.DirectChatStore
	media  MediaFetcher

	// directMu serializes private conversation creation so one user never
	// gets two.
	directMu sync.Mutex
}

var _ driven.ChatTransport = (*Transport)(nil)

// NewClient creates a mautrix client logging through logger.
func NewClient(homeserver, userID, accessToken string, logger zerolog.Logger) (*mautrix.Client, error) {
	cli, err := mautrix.NewClient(homeserver, id.UserID(userID), accessToken)
	if err != nil {
		return nil, fmt.Errorf("create matrix client: %w", err)
	}
	cli.Log = logger
	return cli, nil
}

// NewTransport creates a Transport. media may be nil, in which case
// attachments are only linked in the message text.
func NewTransport(client *mautrix.Client, direct driven.DirectChatStore, media MediaFetcher) *Transport {
	return &Transport{client: client, direct: direct, media: media}
}

// CreateConversation creates a private room named name and invites members.
func (t *Transport) CreateConversation(ctx context.Context, name string, members []string) (string, error) {
	invite := make([]id.UserID, 0, len(members))
	for _, m := range members {
		invite = append(invite, id.UserID(m))
	}

	resp, err := t.client.CreateRoom(ctx, &mautrix.ReqCreateRoom{
		Name:   name,
		Invite: invite,
		Preset: "private_chat",
	})
	if err != nil {
		return "", fmt.Errorf("create room %q: %w", name, err)
	}
	return resp.RoomID.String(), nil
}

// SendMessage posts msg to chatID. When msg carries a media URL and a
// fetcher is configured, the media is uploaded and sent first;
// failures there fall back to the text alone.
func (t *Transport) SendMessage(ctx context.Context, chatID string, msg model.OutgoingMessage) error {
	roomID := id.RoomID(chatID)

	if msg.MediaURL != "" && t.media != nil {
		if err := t.sendMedia(ctx, roomID, msg.MediaURL); err != nil {
			slog.Warn("attach media failed", "chat", chatID, "url", msg.MediaURL, "error", err)
		}
	}

	content := &event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          msg.Text,
		Format:        event.FormatHTML,
		FormattedBody: RenderHTML(msg.Text),
	}
	if _, err := t.client.SendMessageEvent(ctx, roomID, event.EventMessage, content); err != nil {
		return fmt.Errorf("send message to %s: %w", chatID, err)
	}
	return nil
}

func (t *Transport) sendMedia(ctx context.Context, roomID id.RoomID, url string) error {
	file, err := t.media.FetchMedia(ctx, url)
	if err != nil {
		return err
	}
	uri, err := t.upload(ctx, *file)
	if err != nil {
		return err
	}

	content := &event.MessageEventContent{
		MsgType: msgTypeFor(file.ContentType),
		Body:    file.Name,
		URL:     uri.CUString(),
		Info: &event.FileInfo{
			MimeType: file.ContentType,
			Size:     len(file.Data),
		},
	}
	_, err = t.client.SendMessageEvent(ctx, roomID, event.EventMessage, content)
	return err
}

// SendDirect messages addr in its private room with the bridge, creating
// the room on first use or when the old one is no longer usable.
func (t *Transport) SendDirect(ctx context.Context, addr string, msg model.OutgoingMessage) error {
	t.directMu.Lock()
	defer t.directMu.Unlock()

	chatID, err := t.direct.GetDirectChat(ctx, addr)
	if err != nil {
		return fmt.Errorf("look up private chat of %s: %w", addr, err)
	}

	if chatID != "" {
		err := t.SendMessage(ctx, chatID, msg)
		if err == nil || !errors.Is(err, mautrix.MForbidden) {
			return err
		}
		slog.Info("private chat unusable, creating a new one", "addr", addr, "chat", chatID)
	}

	resp, err := t.client.CreateRoom(ctx, &mautrix.ReqCreateRoom{
		Invite:   []id.UserID{id.UserID(addr)},
		Preset:   "trusted_private_chat",
		IsDirect: true,
	})
	if err != nil {
		return fmt.Errorf("create private chat with %s: %w", addr, err)
	}
	chatID = resp.RoomID.String()
	if err := t.direct.SetDirectChat(ctx, addr, chatID); err != nil {
		return fmt.Errorf("save private chat of %s: %w", addr, err)
	}
	return t.SendMessage(ctx, chatID, msg)
}

// Members lists the joined members of chatID, the bridge included.
func (t *Transport) Members(ctx context.Context, chatID string) ([]string, error) {
	resp, err := t.client.JoinedMembers(ctx, id.RoomID(chatID))
	if err != nil {
		return nil, fmt.Errorf("list members of %s: %w", chatID, err)
	}
	members := make([]string, 0, len(resp.Joined))
	for userID := range resp.Joined {
		members = append(members, userID.String())
	}
	return members, nil
}

// SetAvatar uploads image and makes it the room avatar.
func (t *Transport) SetAvatar(ctx context.Context, chatID string, image model.MediaFile) error {
	uri, err := t.upload(ctx, image)
	if err != nil {
		return err
	}
	_, err = t.client.SendStateEvent(ctx, id.RoomID(chatID), event.StateRoomAvatar, "", &event.RoomAvatarEventContent{
		URL: uri.CUString(),
	})
	if err != nil {
		return fmt.Errorf("set avatar of %s: %w", chatID, err)
	}
	return nil
}

// Leave leaves chatID.
func (t *Transport) Leave(ctx context.Context, chatID string) error {
	if _, err := t.client.LeaveRoom(ctx, id.RoomID(chatID)); err != nil {
		return fmt.Errorf("leave %s: %w", chatID, err)
	}
	return nil
}

func (t *Transport) upload(ctx context.Context, file model.MediaFile) (id.ContentURI, error) {
	resp, err := t.client.UploadBytes(ctx, file.Data, file.ContentType)
	if err != nil {
		return id.ContentURI{}, fmt.Errorf("upload %s: %w", file.Name, err)
	}
	return resp.ContentURI, nil
}

func msgTypeFor(contentType string) event.MessageType {
	kind, _, _ := strings.Cut(contentType, "/")
	switch kind {
	case "image":
		return event.MsgImage
	case "audio":
		return event.MsgAudio
	case "video":
		return event.MsgVideo
	default:
		return event.MsgFile
	}
}
