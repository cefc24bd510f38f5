package mastodon

import (
	gomasto "github.com/mattn/go-mastodon"

	"github.com/ericfisherdev/mastobridge/internal/domain/model"
)

func mapAccount(a *gomasto.Account) model.RemoteAccount {
	if a == nil {
		return model.RemoteAccount{}
	}

	out := model.RemoteAccount{
		ID:             string(a.ID),
		Username:       a.Username,
		Acct:           a.Acct,
		DisplayName:    a.DisplayName,
		URL:            a.URL,
		Avatar:         a.Avatar,
		AvatarStatic:   a.AvatarStatic,
		Note:           a.Note,
		Bot:            a.Bot,
		StatusesCount:  a.StatusesCount,
		FollowingCount: a.FollowingCount,
		FollowersCount: a.FollowersCount,
	}
	for _, f := range a.Fields {
		out.Fields = append(out.Fields, model.ProfileField{Name: f.Name, Value: f.Value})
	}
	return out
}

func mapStatus(s *gomasto.Status) model.Status {
	if s == nil {
		return model.Status{}
	}

	out := model.Status{
		ID:          string(s.ID),
		URL:         s.URL,
		Account:     mapAccount(&s.Account),
		Content:     s.Content,
		CreatedAt:   s.CreatedAt,
		Visibility:  model.Visibility(s.Visibility),
		Sensitive:   s.Sensitive,
		SpoilerText: s.SpoilerText,
	}
	if id, ok := s.InReplyToID.(string); ok {
		out.InReplyToID = id
	}
	for _, m := range s.Mentions {
		out.Mentions = append(out.Mentions, model.Mention{
			ID:       string(m.ID),
			Username: m.Username,
			Acct:     m.Acct,
			URL:      m.URL,
		})
	}
	for _, a := range s.MediaAttachments {
		out.Media = append(out.Media, model.Attachment{
			ID:          string(a.ID),
			Type:        a.Type,
			URL:         a.URL,
			Description: a.Description,
		})
	}
	if s.Reblog != nil {
		reblog := mapStatus(s.Reblog)
		out.Reblog = &reblog
	}
	return out
}

func mapStatuses(sts []*gomasto.Status) []model.Status {
	out := make([]model.Status, 0, len(sts))
	for _, s := range sts {
		if s != nil {
			out = append(out, mapStatus(s))
		}
	}
	return out
}

func mapNotification(n *gomasto.Notification) model.Notification {
	out := model.Notification{
		ID:        string(n.ID),
		Type:      n.Type,
		CreatedAt: n.CreatedAt,
		Account:   mapAccount(&n.Account),
	}
	if n.Status != nil {
		st := mapStatus(n.Status)
		out.Status = &st
	}
	return out
}

func mapRelationship(r *gomasto.Relationship) model.Relationship {
	return model.Relationship{
		ID:         string(r.ID),
		Following:  r.Following,
		FollowedBy: r.FollowedBy,
		Blocking:   r.Blocking,
		Muting:     r.Muting,
		Requested:  r.Requested,
	}
}
