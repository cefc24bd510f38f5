package model

import (
	"strings"
	"time"
)

// Visibility is the audience of a remote post.
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityUnlisted Visibility = "unlisted"
	VisibilityPrivate  Visibility = "private"
	VisibilityDirect   Visibility = "direct"
)

// ParseVisibility maps user input to a Visibility, accepting a few aliases.
func ParseVisibility(s string) (Visibility, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "public":
		return VisibilityPublic, true
	case "unlisted":
		return VisibilityUnlisted, true
	case "private", "followers":
		return VisibilityPrivate, true
	case "direct", "dm":
		return VisibilityDirect, true
	}
	return "", false
}

// Emoji returns the marker shown in rendered post footers.
func (v Visibility) Emoji() string {
	switch v {
	case VisibilityDirect:
		return "✉"
	case VisibilityPrivate:
		return "🔒"
	case VisibilityUnlisted:
		return "🔓"
	default:
		return "🌎"
	}
}

// Boostable reports whether posts with this visibility can be boosted.
func (v Visibility) Boostable() bool {
	return v == VisibilityPublic || v == VisibilityUnlisted
}

// NotificationKind is the normalized type of a remote notification.
type NotificationKind string

const (
	KindMention   NotificationKind = "mention"
	KindReblog    NotificationKind = "reblog"
	KindFavourite NotificationKind = "favourite"
	KindFollow    NotificationKind = "follow"
)

// ParseNotificationKind normalizes a remote notification type. Unknown
// types report false.
func ParseNotificationKind(s string) (NotificationKind, bool) {
	switch strings.ToLower(s) {
	case "mention":
		return KindMention, true
	case "reblog", "boost":
		return KindReblog, true
	case "favourite", "favorite":
		return KindFavourite, true
	case "follow":
		return KindFollow, true
	}
	return "", false
}

// ProfileField is a name/value pair shown on a remote profile.
type ProfileField struct {
	Name  string
	Value string
}

// RemoteAccount is a remote user as returned by the instance API.
type RemoteAccount struct {
	ID             string
	Username       string
	Acct           string
	DisplayName    string
	URL            string
	Avatar         string
	AvatarStatic   string
	Note           string
	Bot            bool
	Fields         []ProfileField
	StatusesCount  int64
	FollowingCount int64
	FollowersCount int64
}

// Mention is an account addressed by a post.
type Mention struct {
	ID       string
	Username string
	Acct     string
	URL      string
}

// Attachment is a media file attached to a post.
type Attachment struct {
	ID          string
	Type        string
	URL         string
	Description string
}

// Status is a remote post.
type Status struct {
	ID          string
	URL         string
	Account     RemoteAccount
	Content     string // HTML
	CreatedAt   time.Time
	Visibility  Visibility
	Sensitive   bool
	SpoilerText string
	InReplyToID string
	Mentions    []Mention
	Media       []Attachment
	Reblog      *Status
}

// MentionsAccount reports whether the post addresses the account with the given id.
func (s Status) MentionsAccount(accountID string) bool {
	for _, m := range s.Mentions {
		if m.ID == accountID {
			return true
		}
	}
	return false
}

// IsDirectMessage reports whether the post is a private message to exactly
// one recipient.
func (s Status) IsDirectMessage() bool {
	return s.Visibility == VisibilityDirect && len(s.Mentions) == 1
}

// Notification is a remote notification event.
type Notification struct {
	ID        string
	Type      string
	CreatedAt time.Time
	Account   RemoteAccount
	Status    *Status
}

// Relationship describes how the current user relates to another account.
type Relationship struct {
	ID         string
	Following  bool
	FollowedBy bool
	Blocking   bool
	Muting     bool
	Requested  bool
}

// SearchResults holds the account and hashtag hits of a search.
type SearchResults struct {
	Accounts []RemoteAccount
	Hashtags []string
}

// Page bounds a paginated fetch. Empty ids are omitted.
type Page struct {
	MaxID   string
	SinceID string
	Limit   int
}

// NewPost is a post about to be published.
type NewPost struct {
	Text        string
	InReplyToID string
	MediaIDs    []string
	Visibility  Visibility
	Sensitive   bool
	SpoilerText string
}

// AccountAction is a relationship change applied to a remote account.
type AccountAction string

const (
	ActionFollow   AccountAction = "follow"
	ActionUnfollow AccountAction = "unfollow"
	ActionMute     AccountAction = "mute"
	ActionUnmute   AccountAction = "unmute"
	ActionBlock    AccountAction = "block"
	ActionUnblock  AccountAction = "unblock"
)

// ProfileUpdate changes the current user's profile. Nil fields are left
// untouched.
type ProfileUpdate struct {
	Note   *string
	Avatar *MediaFile
}
