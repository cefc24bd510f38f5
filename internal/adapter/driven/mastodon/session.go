package mastodon

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	gomasto "github.com/mattn/go-mastodon"

	"github.com/ericfisherdev/mastobridge/internal/domain/model"
	"github.com/ericfisherdev/mastobridge/internal/domain/port/driven"
)

// Session implements driven.RemoteSession for one access token.
type Session struct {
	client   *gomasto.Client
	instance string
}

// Instance returns the instance base URL.
func (s *Session) Instance() string { return s.instance }

// AccessToken returns the token the session authenticates with.
func (s *Session) AccessToken() string { return s.client.Config.AccessToken }

// VerifyCredentials fetches the token's own account. A 403 here means the
// account itself is disabled or suspended, so it counts as rejected
// credentials.
func (s *Session) VerifyCredentials(ctx context.Context) (*model.RemoteAccount, error) {
	acc, err := s.client.GetAccountCurrentUser(ctx)
	if err != nil {
		mapped := mapError(err)
		if errors.Is(mapped, driven.ErrForbidden) {
			mapped = fmt.Errorf("%w: %v", driven.ErrUnauthorized, mapped)
		}
		return nil, fmt.Errorf("verify credentials: %w", mapped)
	}
	out := mapAccount(acc)
	return &out, nil
}

func (s *Session) Notifications(ctx context.Context, page model.Page) ([]model.Notification, error) {
	ns, err := s.client.GetNotifications(ctx, pagination(page))
	if err != nil {
		return nil, fmt.Errorf("fetch notifications: %w", mapError(err))
	}

	out := make([]model.Notification, 0, len(ns))
	for _, n := range ns {
		out = append(out, mapNotification(n))
	}
	return out, nil
}

func (s *Session) HomeTimeline(ctx context.Context, page model.Page) ([]model.Status, error) {
	sts, err := s.client.GetTimelineHome(ctx, pagination(page))
	if err != nil {
		return nil, fmt.Errorf("fetch home timeline: %w", mapError(err))
	}
	return mapStatuses(sts), nil
}

func (s *Session) PublicTimeline(ctx context.Context, local bool, limit int) ([]model.Status, error) {
	sts, err := s.client.GetTimelinePublic(ctx, local, pagination(model.Page{Limit: limit}))
	if err != nil {
		return nil, fmt.Errorf("fetch public timeline: %w", mapError(err))
	}
	return mapStatuses(sts), nil
}

func (s *Session) TagTimeline(ctx context.Context, tag string, limit int) ([]model.Status, error) {
	tag = strings.TrimPrefix(tag, "#")
	sts, err := s.client.GetTimelineHashtag(ctx, tag, false, pagination(model.Page{Limit: limit}))
	if err != nil {
		return nil, fmt.Errorf("fetch tag timeline #%s: %w", tag, mapError(err))
	}
	return mapStatuses(sts), nil
}

func (s *Session) AccountStatuses(ctx context.Context, accountID string, limit int) ([]model.Status, error) {
	sts, err := s.client.GetAccountStatuses(ctx, gomasto.ID(accountID), pagination(model.Page{Limit: limit}))
	if err != nil {
		return nil, fmt.Errorf("fetch statuses of %s: %w", accountID, mapError(err))
	}
	return mapStatuses(sts), nil
}

func (s *Session) Status(ctx context.Context, id string) (*model.Status, error) {
	st, err := s.client.GetStatus(ctx, gomasto.ID(id))
	if err != nil {
		return nil, fmt.Errorf("fetch status %s: %w", id, mapError(err))
	}
	out := mapStatus(st)
	return &out, nil
}

// Ancestors returns the posts a status replies to, oldest first.
func (s *Session) Ancestors(ctx context.Context, id string) ([]model.Status, error) {
	c, err := s.client.GetStatusContext(ctx, gomasto.ID(id))
	if err != nil {
		return nil, fmt.Errorf("fetch context of %s: %w", id, mapError(err))
	}
	return mapStatuses(c.Ancestors), nil
}

func (s *Session) Account(ctx context.Context, id string) (*model.RemoteAccount, error) {
	acc, err := s.client.GetAccount(ctx, gomasto.ID(id))
	if err != nil {
		return nil, fmt.Errorf("fetch account %s: %w", id, mapError(err))
	}
	out := mapAccount(acc)
	return &out, nil
}

func (s *Session) Relationship(ctx context.Context, accountID string) (*model.Relationship, error) {
	rels, err := s.client.GetAccountRelationships(ctx, []string{accountID})
	if err != nil {
		return nil, fmt.Errorf("fetch relationship with %s: %w", accountID, mapError(err))
	}
	if len(rels) == 0 {
		return nil, fmt.Errorf("fetch relationship with %s: %w", accountID, driven.ErrRemoteNotFound)
	}
	out := mapRelationship(rels[0])
	return &out, nil
}

// Search resolves remote accounts too, so handles on other instances can be
// found.
func (s *Session) Search(ctx context.Context, query string) (*model.SearchResults, error) {
	res, err := s.client.Search(ctx, query, true)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, mapError(err))
	}

	out := &model.SearchResults{}
	for _, a := range res.Accounts {
		out.Accounts = append(out.Accounts, mapAccount(a))
	}
	for _, tag := range res.Hashtags {
		if tag != nil {
			out.Hashtags = append(out.Hashtags, tag.Name)
		}
	}
	return out, nil
}

func (s *Session) Post(ctx context.Context, post model.NewPost) (*model.Status, error) {
	toot := &gomasto.Toot{
		Status:      post.Text,
		InReplyToID: gomasto.ID(post.InReplyToID),
		Sensitive:   post.Sensitive,
		SpoilerText: post.SpoilerText,
		Visibility:  string(post.Visibility),
	}
	for _, id := range post.MediaIDs {
		toot.MediaIDs = append(toot.MediaIDs, gomasto.ID(id))
	}

	st, err := s.client.PostStatus(ctx, toot)
	if err != nil {
		return nil, fmt.Errorf("post status: %w", mapError(err))
	}
	out := mapStatus(st)
	return &out, nil
}

func (s *Session) UploadMedia(ctx context.Context, media model.MediaFile) (string, error) {
	att, err := s.client.UploadMediaFromReader(ctx, bytes.NewReader(media.Data))
	if err != nil {
		return "", fmt.Errorf("upload media %s: %w", media.Name, mapError(err))
	}
	return string(att.ID), nil
}

func (s *Session) Favourite(ctx context.Context, statusID string) error {
	if _, err := s.client.Favourite(ctx, gomasto.ID(statusID)); err != nil {
		return fmt.Errorf("favourite %s: %w", statusID, mapError(err))
	}
	return nil
}

func (s *Session) Boost(ctx context.Context, statusID string) error {
	if _, err := s.client.Reblog(ctx, gomasto.ID(statusID)); err != nil {
		return fmt.Errorf("boost %s: %w", statusID, mapError(err))
	}
	return nil
}

func (s *Session) ApplyAction(ctx context.Context, action model.AccountAction, accountID string) error {
	id := gomasto.ID(accountID)

	var err error
	switch action {
	case model.ActionFollow:
		_, err = s.client.AccountFollow(ctx, id)
	case model.ActionUnfollow:
		_, err = s.client.AccountUnfollow(ctx, id)
	case model.ActionMute:
		_, err = s.client.AccountMute(ctx, id)
	case model.ActionUnmute:
		_, err = s.client.AccountUnmute(ctx, id)
	case model.ActionBlock:
		_, err = s.client.AccountBlock(ctx, id)
	case model.ActionUnblock:
		_, err = s.client.AccountUnblock(ctx, id)
	default:
		return fmt.Errorf("unknown account action %q", action)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", action, accountID, mapError(err))
	}
	return nil
}

// UpdateProfile sends the avatar as a data URI, which the credentials
// endpoint accepts in place of a multipart file.
func (s *Session) UpdateProfile(ctx context.Context, update model.ProfileUpdate) error {
	profile := &gomasto.Profile{Note: update.Note}
	if update.Avatar != nil {
		profile.Avatar = "data:" + update.Avatar.ContentType + ";base64," +
			base64.StdEncoding.EncodeToString(update.Avatar.Data)
	}

	if _, err := s.client.AccountUpdate(ctx, profile); err != nil {
		return fmt.Errorf("update profile: %w", mapError(err))
	}
	return nil
}

func pagination(p model.Page) *gomasto.Pagination {
	return &gomasto.Pagination{
		MaxID:   gomasto.ID(p.MaxID),
		SinceID: gomasto.ID(p.SinceID),
		Limit:   int64(p.Limit),
	}
}
