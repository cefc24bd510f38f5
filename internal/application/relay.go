package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ericfisherdev/mastobridge/internal/domain/model"
	"github.com/ericfisherdev/mastobridge/internal/domain/port/driven"
)

// PublishRequest is a post a local user sends to the remote network.
// Nil or empty overrides inherit from the reply target.
type PublishRequest struct {
	Text        string
	Media       *model.MediaFile
	ReplyTo     string
	Visibility  model.Visibility
	Sensitive   *bool
	SpoilerText *string
}

// Relay publishes local messages as remote posts.
type Relay struct {
	sessions   *SessionFactory
	transcoder driven.Transcoder
	metrics    driven.Metrics
}

// NewRelay creates a Relay. transcoder may be nil when no conversion is
// available; metrics may be nil.
func NewRelay(sessions *SessionFactory, transcoder driven.Transcoder, metrics driven.Metrics) *Relay {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Relay{sessions: sessions, transcoder: transcoder, metrics: metrics}
}

// Publish posts req from acc. A reply inherits the visibility, sensitivity
// and content warning of its target unless req overrides them, and
// mentions the target's author and the thread's other participants.
func (r *Relay) Publish(ctx context.Context, acc model.Account, req PublishRequest) (*model.Status, error) {
	return r.publish(ctx, acc, req, "")
}

// PublishToContact posts req as a direct message to the contact bound to
// cc. The contact is mentioned explicitly since visibility alone does not
// address a post.
func (r *Relay) PublishToContact(ctx context.Context, acc model.Account, cc model.ContactChat, req PublishRequest) (*model.Status, error) {
	return r.publish(ctx, acc, req, cc.Contact)
}

func (r *Relay) publish(ctx context.Context, acc model.Account, req PublishRequest, contact string) (*model.Status, error) {
	if strings.TrimSpace(req.Text) == "" && req.Media == nil {
		return nil, ErrWrongUsage
	}

	sess := r.sessions.ForAccount(acc)
	post := model.NewPost{Text: req.Text, Visibility: req.Visibility}

	if req.ReplyTo != "" {
		target, err := sess.Status(ctx, req.ReplyTo)
		if err != nil {
			return nil, fmt.Errorf("load reply target %s: %w", req.ReplyTo, err)
		}
		me, err := sess.VerifyCredentials(ctx)
		if err != nil {
			return nil, fmt.Errorf("load own account: %w", err)
		}
		post.Text = withMentions(post.Text, replyAddressees(*target, me.ID))
		post.InReplyToID = target.ID
		if post.Visibility == "" {
			post.Visibility = target.Visibility
		}
		post.Sensitive = target.Sensitive
		post.SpoilerText = target.SpoilerText
	}
	if req.Sensitive != nil {
		post.Sensitive = *req.Sensitive
	}
	if req.SpoilerText != nil {
		post.SpoilerText = *req.SpoilerText
	}

	if contact != "" {
		post.Visibility = model.VisibilityDirect
		post.Text = "@" + contact + " " + post.Text
	}

	if req.Media != nil {
		mediaID, err := r.upload(ctx, sess, *req.Media)
		if err != nil {
			return nil, err
		}
		post.MediaIDs = []string{mediaID}
	}

	st, err := sess.Post(ctx, post)
	if err != nil {
		return nil, fmt.Errorf("publish post: %w", err)
	}

	r.metrics.PostPublished()
	slog.Info("post published", "addr", acc.Addr, "status", st.ID, "visibility", post.Visibility, "reply_to", post.InReplyToID)
	return st, nil
}

// replyAddressees lists the handles a reply to target must mention: its
// author first, then the accounts it mentions, without selfID.
func replyAddressees(target model.Status, selfID string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(id, acct string) {
		key := model.NormalizeHandle(acct)
		if id == selfID || key == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, acct)
	}

	add(target.Account.ID, target.Account.Acct)
	for _, m := range target.Mentions {
		add(m.ID, m.Acct)
	}
	return out
}

// withMentions prefixes text with the handles it does not mention yet.
func withMentions(text string, handles []string) string {
	lower := strings.ToLower(text)
	var prefix []string
	for _, h := range handles {
		if !mentions(lower, "@"+model.NormalizeHandle(h)) {
			prefix = append(prefix, "@"+h)
		}
	}
	if len(prefix) == 0 {
		return text
	}
	return strings.Join(prefix, " ") + " " + text
}

// mentions reports whether lower contains handle as a whole word. A
// trailing dot ends the handle when no domain label follows it.
func mentions(lower, handle string) bool {
	for i := 0; ; {
		j := strings.Index(lower[i:], handle)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(handle)
		if (start == 0 || !isHandleByte(lower[start-1])) && !continuesHandle(lower, end) {
			return true
		}
		i = start + 1
	}
}

func continuesHandle(s string, at int) bool {
	if at >= len(s) {
		return false
	}
	if s[at] == '.' {
		return at+1 < len(s) && isHandleByte(s[at+1]) && s[at+1] != '@' && s[at+1] != '.'
	}
	return isHandleByte(s[at])
}

func isHandleByte(c byte) bool {
	return c == '@' || c == '.' || c == '_' || c == '-' ||
		(c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}

// upload sends media to the remote, converting encodings it rejects first.
func (r *Relay) upload(ctx context.Context, sess driven.RemoteSession, media model.MediaFile) (string, error) {
	if r.transcoder != nil && r.transcoder.NeedsTranscode(media) {
		converted, err := r.transcoder.Transcode(ctx, media)
		if err != nil {
			return "", fmt.Errorf("transcode %s: %w", media.Name, err)
		}
		media = converted
	}

	id, err := sess.UploadMedia(ctx, media)
	if err != nil {
		return "", fmt.Errorf("upload media: %w", err)
	}
	return id, nil
}
