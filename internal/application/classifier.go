package application

import (
	"slices"
	"time"

	"github.com/ericfisherdev/mastobridge/internal/domain/model"
)

// NotificationGroup collapses same-kind notifications about one post, or all
// follows of a batch, into a single item.
type NotificationGroup struct {
	Kind     model.NotificationKind
	StatusID string        // Empty for follows.
	Status   *model.Status // Target post, nil for follows.
	Actors   []model.RemoteAccount
	FirstID  string // Oldest member notification; orders groups.
	LastAt   time.Time
}

// Classified is the partition of one batch. Every slice is ordered oldest
// first.
type Classified struct {
	Direct     []model.Notification
	Mentions   []model.Notification
	Aggregated []NotificationGroup
	Home       []model.Status

	Dropped int // Unknown kinds, malformed events and duplicates.
	Blocked int // Direct messages rejected by the spam filter.
}

// Classifier partitions remote events into the four delivery categories.
type Classifier struct {
	filter SpamFilter
}

// NewClassifier creates a Classifier. filter may be nil.
func NewClassifier(filter SpamFilter) *Classifier {
	return &Classifier{filter: filter}
}

// Classify partitions a notification batch and a home timeline batch, as
// returned newest first by the remote. Home posts mentioning selfID are
// excluded since they arrive through the mention path.
func (c *Classifier) Classify(notifs []model.Notification, posts []model.Status, selfID string) Classified {
	out := c.ClassifyNotifications(notifs)
	out.Home = c.ClassifyHome(posts, selfID)
	return out
}

// ClassifyNotifications partitions notifications into direct messages,
// mentions and aggregated groups.
func (c *Classifier) ClassifyNotifications(notifs []model.Notification) Classified {
	var out Classified

	ordered := slices.Clone(notifs)
	slices.SortStableFunc(ordered, func(a, b model.Notification) int {
		return model.CompareIDs(a.ID, b.ID)
	})

	type groupKey struct {
		kind     model.NotificationKind
		statusID string
	}
	groupIdx := make(map[groupKey]int)
	seen := make(map[string]struct{}, len(ordered))

	for _, n := range ordered {
		if _, dup := seen[n.ID]; dup {
			out.Dropped++
			continue
		}
		seen[n.ID] = struct{}{}

		kind, ok := model.ParseNotificationKind(n.Type)
		if !ok {
			out.Dropped++
			continue
		}

		switch kind {
		case model.KindMention:
			if n.Status == nil {
				out.Dropped++
				continue
			}
			if n.Status.IsDirectMessage() {
				if c.filter != nil && c.filter.Blocked(*n.Status) {
					out.Blocked++
					continue
				}
				out.Direct = append(out.Direct, n)
				continue
			}
			out.Mentions = append(out.Mentions, n)

		default:
			key := groupKey{kind: kind}
			if kind != model.KindFollow && n.Status != nil {
				key.statusID = n.Status.ID
			}

			idx, ok := groupIdx[key]
			if !ok {
				idx = len(out.Aggregated)
				groupIdx[key] = idx
				out.Aggregated = append(out.Aggregated, NotificationGroup{
					Kind:     kind,
					StatusID: key.statusID,
					FirstID:  n.ID,
				})
				if key.statusID != "" {
					out.Aggregated[idx].Status = n.Status
				}
			}

			g := &out.Aggregated[idx]
			g.Actors = append(g.Actors, n.Account)
			if n.CreatedAt.After(g.LastAt) {
				g.LastAt = n.CreatedAt
			}
		}
	}

	return out
}

// ClassifyHome orders timeline posts oldest first and removes posts that
// mention selfID.
func (c *Classifier) ClassifyHome(posts []model.Status, selfID string) []model.Status {
	ordered := slices.Clone(posts)
	slices.SortStableFunc(ordered, func(a, b model.Status) int {
		return model.CompareIDs(a.ID, b.ID)
	})

	out := make([]model.Status, 0, len(ordered))
	seen := make(map[string]struct{}, len(ordered))
	for _, st := range ordered {
		if _, dup := seen[st.ID]; dup {
			continue
		}
		seen[st.ID] = struct{}{}

		if selfID != "" && mentionsSelf(st, selfID) {
			continue
		}
		out = append(out, st)
	}
	return out
}

func mentionsSelf(st model.Status, selfID string) bool {
	if st.MentionsAccount(selfID) {
		return true
	}
	return st.Reblog != nil && st.Reblog.MentionsAccount(selfID)
}
