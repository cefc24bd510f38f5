package application

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/ericfisherdev/mastobridge/internal/domain/model"
)

func commandTable() map[string]command {
	cmds := map[string]command{
		"help":    {help: "Show this help", run: helpCmd},
		"login":   {usage: "INSTANCE [USER PASSWORD]", help: "Log in to a Mastodon instance", run: loginCmd},
		"auth":    {usage: "CODE", help: "Finish a login with the code shown by the instance", run: authCmd},
		"logout":  {help: "Log out from Mastodon", run: logoutCmd},
		"bio":     {usage: "TEXT", help: "Update your biography", run: bioCmd},
		"avatar":  {help: "Update your avatar from the attached image", run: avatarCmd},
		"dm":      {usage: "USER", help: "Start a private chat with a user", run: dmCmd},
		"reply":   {usage: "ID TEXT", help: "Reply to a toot", run: replyCmd},
		"star":    {usage: "ID", help: "Favourite a toot", run: starCmd},
		"boost":   {usage: "ID", help: "Boost a toot", run: boostCmd},
		"open":    {usage: "ID", help: "Show a toot with the toots it replies to", run: openCmd},
		"profile": {usage: "[USER]", help: "Show a profile, yours by default", run: profileCmd},
		"local":   {help: "Latest toots of the local timeline", run: timelineCmd(true)},
		"public":  {help: "Latest toots of the federated timeline", run: timelineCmd(false)},
		"tag":     {usage: "TAG", help: "Latest toots with a hashtag", run: tagCmd},
		"search":  {usage: "TEXT", help: "Search accounts and hashtags", run: searchCmd},
		"sync":    {help: "Check your account now", run: syncCmd},

		"mute_home":    {help: "Stop receiving your Home timeline", run: muteCmd(model.StreamHome, true)},
		"unmute_home":  {help: "Receive your Home timeline again", run: muteCmd(model.StreamHome, false)},
		"mute_notif":   {help: "Stop receiving boosts, favourites and follows", run: muteCmd(model.StreamNotifications, true)},
		"unmute_notif": {help: "Receive boosts, favourites and follows again", run: muteCmd(model.StreamNotifications, false)},
	}

	for _, a := range []struct {
		action model.AccountAction
		done   string
	}{
		{model.ActionFollow, "✔️ User followed"},
		{model.ActionUnfollow, "✔️ User unfollowed"},
		{model.ActionMute, "✔️ User muted"},
		{model.ActionUnmute, "✔️ User unmuted"},
		{model.ActionBlock, "✔️ User blocked"},
		{model.ActionUnblock, "✔️ User unblocked"},
	} {
		cmds[string(a.action)] = command{
			usage: "USER",
			help:  strings.ToUpper(string(a.action[:1])) + string(a.action[1:]) + " a user",
			run:   actionCmd(a.action, a.done),
		}
	}
	return cmds
}

func helpCmd(_ context.Context, h *CommandHandler, _ model.InboundMessage, _ string) (reply, error) {
	names := make([]string, 0, len(h.commands))
	for name := range h.commands {
		names = append(names, name)
	}
	slices.Sort(names)

	var b strings.Builder
	b.WriteString("Once you log in, two chats are created for you. Messages you send in the Home chat are published on Mastodon; the Notifications chat receives your notifications. Private messages get a chat per contact.\n")
	for _, name := range names {
		cmd := h.commands[name]
		line := h.renderer.Command(name, "")
		if cmd.usage != "" {
			line += " " + cmd.usage
		}
		fmt.Fprintf(&b, "\n%s\n  %s", line, cmd.help)
	}
	return say(b.String())
}

func loginCmd(ctx context.Context, h *CommandHandler, msg model.InboundMessage, payload string) (reply, error) {
	args := strings.Fields(payload)
	switch len(args) {
	case 1:
		authURL, err := h.lifecycle.BeginAuthorization(ctx, msg.Sender, args[0])
		if err != nil {
			return reply{}, err
		}
		return say(fmt.Sprintf("🔑 Open this link, authorize the bridge and send the code you get with %s CODE\n\n%s",
			h.renderer.Command("auth", ""), authURL))
	case 3:
		res, err := h.lifecycle.Login(ctx, msg.Sender, args[0], args[1], args[2])
		return loginReply(res, err)
	default:
		return reply{}, ErrWrongUsage
	}
}

func authCmd(ctx context.Context, h *CommandHandler, msg model.InboundMessage, payload string) (reply, error) {
	res, err := h.lifecycle.CompleteAuthorization(ctx, msg.Sender, payload)
	return loginReply(res, err)
}

func loginReply(res LoginResult, err error) (reply, error) {
	if err != nil {
		return reply{}, err
	}
	if res.Refreshed {
		return say("✔️ You refreshed your credentials.")
	}
	return say(fmt.Sprintf("✔️ Logged in as @%s on %s", res.Account.User, res.Account.Instance))
}

func logoutCmd(ctx context.Context, h *CommandHandler, msg model.InboundMessage, _ string) (reply, error) {
	acc, err := h.lifecycle.Logout(ctx, msg.Sender)
	if err != nil {
		return reply{}, err
	}
	return reply{direct: true, text: "✔️ You logged out from: " + acc.Instance}, nil
}

func bioCmd(ctx context.Context, h *CommandHandler, msg model.InboundMessage, payload string) (reply, error) {
	if payload == "" {
		return reply{}, ErrWrongUsage
	}
	_, sess, err := h.session(ctx, msg.Sender)
	if err != nil {
		return reply{}, err
	}
	if err := sess.UpdateProfile(ctx, model.ProfileUpdate{Note: &payload}); err != nil {
		return reply{}, fmt.Errorf("update biography: %w", err)
	}
	return say("✔️ Biography updated")
}

func avatarCmd(ctx context.Context, h *CommandHandler, msg model.InboundMessage, _ string) (reply, error) {
	if msg.Media == nil {
		return say("❌ You must send an avatar attached to your message")
	}
	_, sess, err := h.session(ctx, msg.Sender)
	if err != nil {
		return reply{}, err
	}
	if err := sess.UpdateProfile(ctx, model.ProfileUpdate{Avatar: msg.Media}); err != nil {
		return reply{}, fmt.Errorf("update avatar: %w", err)
	}
	return say("✔️ Avatar updated")
}

func dmCmd(ctx context.Context, h *CommandHandler, msg model.InboundMessage, payload string) (reply, error) {
	if payload == "" {
		return reply{}, ErrWrongUsage
	}
	acc, sess, err := h.session(ctx, msg.Sender)
	if err != nil {
		return reply{}, err
	}
	user, err := resolveUser(ctx, sess, payload)
	if err != nil {
		return reply{}, err
	}

	chatID, created, err := h.mapper.Resolve(ctx, *acc, *user)
	if err != nil {
		return reply{}, err
	}
	if !created {
		return reply{chatID: chatID, text: "❌ Chat already exists, send messages here"}, nil
	}
	return reply{chatID: chatID, text: "ℹ️ Private chat with: " + user.Acct}, nil
}

func replyCmd(ctx context.Context, h *CommandHandler, msg model.InboundMessage, payload string) (reply, error) {
	id, text, _ := strings.Cut(payload, " ")
	text = strings.TrimSpace(text)
	if id == "" || (text == "" && msg.Media == nil) {
		return reply{}, ErrWrongUsage
	}
	acc, err := h.account(ctx, msg.Sender)
	if err != nil {
		return reply{}, err
	}
	_, err = h.relay.Publish(ctx, *acc, PublishRequest{Text: text, Media: msg.Media, ReplyTo: id})
	return reply{}, err
}

func starCmd(ctx context.Context, h *CommandHandler, msg model.InboundMessage, payload string) (reply, error) {
	if payload == "" {
		return reply{}, ErrWrongUsage
	}
	_, sess, err := h.session(ctx, msg.Sender)
	if err != nil {
		return reply{}, err
	}
	return reply{}, sess.Favourite(ctx, payload)
}

func boostCmd(ctx context.Context, h *CommandHandler, msg model.InboundMessage, payload string) (reply, error) {
	if payload == "" {
		return reply{}, ErrWrongUsage
	}
	_, sess, err := h.session(ctx, msg.Sender)
	if err != nil {
		return reply{}, err
	}
	return reply{}, sess.Boost(ctx, payload)
}

func openCmd(ctx context.Context, h *CommandHandler, msg model.InboundMessage, payload string) (reply, error) {
	if payload == "" {
		return reply{}, ErrWrongUsage
	}
	_, sess, err := h.session(ctx, msg.Sender)
	if err != nil {
		return reply{}, err
	}

	st, err := sess.Status(ctx, payload)
	if err != nil {
		return reply{}, err
	}
	ancestors, err := sess.Ancestors(ctx, payload)
	if err != nil {
		return reply{}, err
	}
	return say(h.renderer.Thread(ancestors, *st))
}

func actionCmd(action model.AccountAction, done string) func(context.Context, *CommandHandler, model.InboundMessage, string) (reply, error) {
	return func(ctx context.Context, h *CommandHandler, msg model.InboundMessage, payload string) (reply, error) {
		if payload == "" {
			return reply{}, ErrWrongUsage
		}
		_, sess, err := h.session(ctx, msg.Sender)
		if err != nil {
			return reply{}, err
		}

		id := payload
		if !isNumeric(payload) {
			user, err := resolveUser(ctx, sess, payload)
			if err != nil {
				return reply{}, err
			}
			id = user.ID
		}
		if err := sess.ApplyAction(ctx, action, id); err != nil {
			return reply{}, fmt.Errorf("%s %s: %w", action, payload, err)
		}
		return say(done)
	}
}

func profileCmd(ctx context.Context, h *CommandHandler, msg model.InboundMessage, payload string) (reply, error) {
	_, sess, err := h.session(ctx, msg.Sender)
	if err != nil {
		return reply{}, err
	}

	var (
		user *model.RemoteAccount
		rel  *model.Relationship
	)
	if payload == "" {
		if user, err = sess.VerifyCredentials(ctx); err != nil {
			return reply{}, err
		}
	} else {
		if user, err = resolveUser(ctx, sess, payload); err != nil {
			return reply{}, err
		}
		me, err := sess.VerifyCredentials(ctx)
		if err != nil {
			return reply{}, err
		}
		if me.ID != user.ID {
			if rel, err = sess.Relationship(ctx, user.ID); err != nil {
				return reply{}, err
			}
		}
	}

	recent, err := sess.AccountStatuses(ctx, user.ID, profilePosts)
	if err != nil {
		return reply{}, err
	}
	return say(h.renderer.Profile(*user, rel, recent))
}

func timelineCmd(local bool) func(context.Context, *CommandHandler, model.InboundMessage, string) (reply, error) {
	return func(ctx context.Context, h *CommandHandler, msg model.InboundMessage, _ string) (reply, error) {
		_, sess, err := h.session(ctx, msg.Sender)
		if err != nil {
			return reply{}, err
		}
		posts, err := sess.PublicTimeline(ctx, local, timelineLimit)
		if err != nil {
			return reply{}, err
		}
		return postsReply(h, posts)
	}
}

func tagCmd(ctx context.Context, h *CommandHandler, msg model.InboundMessage, payload string) (reply, error) {
	tag := strings.TrimLeft(payload, "#")
	if tag == "" {
		return reply{}, ErrWrongUsage
	}
	_, sess, err := h.session(ctx, msg.Sender)
	if err != nil {
		return reply{}, err
	}
	posts, err := sess.TagTimeline(ctx, tag, timelineLimit)
	if err != nil {
		return reply{}, err
	}
	return postsReply(h, posts)
}

func postsReply(h *CommandHandler, posts []model.Status) (reply, error) {
	if len(posts) == 0 {
		return say("❌ Nothing found")
	}
	return say(h.renderer.Posts(posts))
}

func searchCmd(ctx context.Context, h *CommandHandler, msg model.InboundMessage, payload string) (reply, error) {
	if payload == "" {
		return reply{}, ErrWrongUsage
	}
	_, sess, err := h.session(ctx, msg.Sender)
	if err != nil {
		return reply{}, err
	}
	res, err := sess.Search(ctx, payload)
	if err != nil {
		return reply{}, err
	}

	var b strings.Builder
	if len(res.Accounts) > 0 {
		b.WriteString("👤 Accounts:")
		for _, a := range res.Accounts {
			fmt.Fprintf(&b, "\n@%s %s", a.Acct, h.renderer.Command("profile", a.ID))
		}
	}
	if len(res.Hashtags) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("#️⃣ Hashtags:")
		for _, tag := range res.Hashtags {
			fmt.Fprintf(&b, "\n#%s %s", tag, h.renderer.Command("tag", tag))
		}
	}
	if b.Len() == 0 {
		return say("❌ Nothing found")
	}
	return say(b.String())
}

func syncCmd(ctx context.Context, h *CommandHandler, msg model.InboundMessage, _ string) (reply, error) {
	if _, err := h.account(ctx, msg.Sender); err != nil {
		return reply{}, err
	}
	if err := h.syncer.SyncNow(ctx, msg.Sender); err != nil {
		return reply{}, err
	}
	return say("✔️ Account checked")
}

func muteCmd(stream model.Stream, muted bool) func(context.Context, *CommandHandler, model.InboundMessage, string) (reply, error) {
	label := "Home timeline"
	if stream == model.StreamNotifications {
		label = "Notifications"
	}
	state := "unmuted"
	if muted {
		state = "muted"
	}
	return func(ctx context.Context, h *CommandHandler, msg model.InboundMessage, _ string) (reply, error) {
		if err := h.lifecycle.SetMuted(ctx, msg.Sender, stream, muted); err != nil {
			return reply{}, err
		}
		return say(fmt.Sprintf("✔️ %s %s", label, state))
	}
}
