package application

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ericfisherdev/mastobridge/internal/domain/model"
)

// TimestampFormat renders post times to minute precision.
const TimestampFormat = "2006-01-02 15:04"

// PostSeparator joins several rendered posts in one message.
const PostSeparator = "\n\n―――――――――――――――\n\n"

// Action is a command affordance attached to a rendered post.
type Action struct {
	Emoji   string
	Command string // Full command, prefix included, e.g. "/reply_123".
}

// Rendered is the display payload of one classified item.
type Rendered struct {
	Header     string // Sender label, boost line or notification summary.
	Body       string
	MediaURLs  []string
	Visibility model.Visibility
	Timestamp  time.Time
	Actions    []Action
}

// Text lays the payload out as a chat message.
func (r Rendered) Text() string {
	var b strings.Builder

	if r.Header != "" {
		b.WriteString(r.Header)
	}
	if len(r.MediaURLs) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(strings.Join(r.MediaURLs, "\n"))
	}
	if r.Body != "" {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(r.Body)
	}
	if !r.Timestamp.IsZero() && r.Visibility != "" {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%s %s]", r.Visibility.Emoji(), r.Timestamp.UTC().Format(TimestampFormat))
	}
	for _, a := range r.Actions {
		fmt.Fprintf(&b, "\n%s %s", a.Emoji, a.Command)
	}

	return b.String()
}

// Message converts the payload to an outgoing chat message. The first media
// URL becomes the primary attachment.
func (r Rendered) Message() model.OutgoingMessage {
	msg := model.OutgoingMessage{Text: r.Text()}
	if len(r.MediaURLs) > 0 {
		msg.MediaURL = r.MediaURLs[0]
	}
	return msg
}

// Renderer turns classified items into display payloads. It is pure apart
// from the configured command prefix.
type Renderer struct {
	prefix string
}

// NewRenderer creates a Renderer whose action commands use prefix.
func NewRenderer(prefix string) *Renderer {
	return &Renderer{prefix: prefix}
}

// Command formats a command with the configured prefix.
func (r *Renderer) Command(name, arg string) string {
	if arg == "" {
		return "/" + r.prefix + name
	}
	return "/" + r.prefix + name + "_" + arg
}

// DisplayName labels a remote account: "[BOT] " for automated accounts, then
// "Name (@acct)", or just the acct when no display name is set.
func DisplayName(a model.RemoteAccount) string {
	label := a.Acct
	if name := strings.TrimSpace(a.DisplayName); name != "" {
		label = fmt.Sprintf("%s (@%s)", name, a.Acct)
	}
	if a.Bot {
		label = "[BOT] " + label
	}
	return label
}

// Post renders a home timeline post. A boost is shown with the original
// author first and the booster below.
func (r *Renderer) Post(st model.Status) Rendered {
	header := DisplayName(st.Account) + ":"
	if st.Reblog != nil {
		header = DisplayName(st.Reblog.Account) + ":\n🔁 " + DisplayName(st.Account)
		st = *st.Reblog
	}

	out := r.body(st)
	out.Header = header
	out.Actions = r.postActions(st)
	return out
}

// Mention renders a mention notification.
func (r *Renderer) Mention(n model.Notification) Rendered {
	if n.Status == nil {
		return Rendered{Header: DisplayName(n.Account) + " mentioned you."}
	}

	out := r.body(*n.Status)
	out.Header = DisplayName(n.Account) + ":"
	out.Actions = r.postActions(*n.Status)
	return out
}

// Direct renders a private message for a contact conversation. The sender is
// implied by the conversation so no header is added.
func (r *Renderer) Direct(n model.Notification) Rendered {
	if n.Status == nil {
		return Rendered{}
	}

	out := r.body(*n.Status)
	out.Actions = []Action{{Emoji: "⭐", Command: r.Command("star", n.Status.ID)}}
	return out
}

// Group renders aggregated notifications as one summary naming every actor.
func (r *Renderer) Group(g NotificationGroup) Rendered {
	names := make([]string, 0, len(g.Actors))
	for _, a := range g.Actors {
		names = append(names, DisplayName(a))
	}
	actors := joinNames(names)
	stamp := ""
	if !g.LastAt.IsZero() {
		stamp = " (" + g.LastAt.UTC().Format(TimestampFormat) + ")"
	}

	var out Rendered
	switch g.Kind {
	case model.KindReblog:
		out.Header = fmt.Sprintf("🔁 %s boosted your toot.%s", actors, stamp)
	case model.KindFavourite:
		out.Header = fmt.Sprintf("⭐ %s favorited your toot.%s", actors, stamp)
	case model.KindFollow:
		out.Header = fmt.Sprintf("👤 %s followed you.%s", actors, stamp)
		return out
	default:
		out.Header = fmt.Sprintf("%s: %s%s", g.Kind, actors, stamp)
		return out
	}

	if g.Status != nil {
		body := r.body(*g.Status)
		out.Body = body.Body
		out.MediaURLs = body.MediaURLs
		out.Visibility = body.Visibility
		out.Timestamp = body.Timestamp
	}
	return out
}

// Thread renders a post preceded by up to the last three posts it replies to.
func (r *Renderer) Thread(ancestors []model.Status, st model.Status) string {
	if len(ancestors) > 3 {
		ancestors = ancestors[len(ancestors)-3:]
	}
	parts := make([]string, 0, len(ancestors)+1)
	for _, a := range ancestors {
		parts = append(parts, r.Post(a).Text())
	}
	parts = append(parts, r.Post(st).Text())
	return strings.Join(parts, PostSeparator)
}

// Posts renders a list of posts, oldest first, joined by PostSeparator.
// The remote returns newest first.
func (r *Renderer) Posts(sts []model.Status) string {
	parts := make([]string, 0, len(sts))
	for i := len(sts) - 1; i >= 0; i-- {
		parts = append(parts, r.Post(sts[i]).Text())
	}
	return strings.Join(parts, PostSeparator)
}

// Profile renders an account profile. rel is nil for the user's own
// profile; recent posts are newest first.
func (r *Renderer) Profile(a model.RemoteAccount, rel *model.Relationship, recent []model.Status) string {
	var b strings.Builder

	b.WriteString(DisplayName(a) + ":")

	var fields []string
	for _, f := range a.Fields {
		fields = append(fields, HTMLToText(f.Name, nil)+": "+HTMLToText(f.Value, nil))
	}
	if len(fields) > 0 {
		b.WriteString("\n\n" + strings.Join(fields, "\n"))
	}
	if note := HTMLToText(a.Note, nil); note != "" {
		b.WriteString("\n\n" + note)
	}

	fmt.Fprintf(&b, "\n\nToots: %s\nFollowing: %s\nFollowers: %s",
		humanize.Comma(a.StatusesCount),
		humanize.Comma(a.FollowingCount),
		humanize.Comma(a.FollowersCount),
	)

	if rel != nil {
		if rel.FollowedBy {
			b.WriteString("\n[follows you]")
		}
		b.WriteString("\n")

		follow := "follow"
		if rel.Following || rel.Requested {
			follow = "unfollow"
		}
		mute := "mute"
		if rel.Muting {
			mute = "unmute"
		}
		block := "block"
		if rel.Blocking {
			block = "unblock"
		}
		for _, name := range []string{follow, mute, block, "dm"} {
			b.WriteString("\n" + r.Command(name, a.ID))
		}
	}

	if len(recent) > 0 {
		b.WriteString(PostSeparator)
		b.WriteString(r.Posts(recent))
	}

	return b.String()
}

func (r *Renderer) body(st model.Status) Rendered {
	out := Rendered{
		Body:       HTMLToText(st.Content, st.Mentions),
		Visibility: st.Visibility,
		Timestamp:  st.CreatedAt,
	}
	if st.SpoilerText != "" {
		out.Body = "⚠️ " + st.SpoilerText + "\n\n" + out.Body
	}
	for _, m := range st.Media {
		if m.URL != "" {
			out.MediaURLs = append(out.MediaURLs, m.URL)
		}
	}
	return out
}

func (r *Renderer) postActions(st model.Status) []Action {
	actions := []Action{
		{Emoji: "↩️", Command: r.Command("reply", st.ID)},
		{Emoji: "⭐", Command: r.Command("star", st.ID)},
	}
	if st.Visibility.Boostable() {
		actions = append(actions, Action{Emoji: "🔁", Command: r.Command("boost", st.ID)})
	}
	return append(actions, Action{Emoji: "⏫", Command: r.Command("open", st.ID)})
}

func joinNames(names []string) string {
	switch len(names) {
	case 0:
		return "Someone"
	case 1:
		return names[0]
	default:
		return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
	}
}
