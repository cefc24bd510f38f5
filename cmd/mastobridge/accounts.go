package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	sqliteadapter "github.com/ericfisherdev/mastobridge/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/mastobridge/internal/domain/model"
)

func accountsCommand() *cli.Command {
	return &cli.Command{
		Name:  "accounts",
		Usage: "list linked accounts",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "output format (table, json)",
				Value:   "table",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx, cfg, err := setup(ctx, cmd)
			if err != nil {
				return err
			}

			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer closeDB(db)

			accounts, err := sqliteadapter.NewAccountRepo(db).ListAll(ctx)
			if err != nil {
				return err
			}

			switch cmd.String("output") {
			case "json":
				return writeAccountsJSON(os.Stdout, accounts)
			case "table":
				return writeAccountsTable(os.Stdout, accounts, time.Now())
			default:
				return fmt.Errorf("unknown output format %q", cmd.String("output"))
			}
		},
	}
}

// accountView is an account without its access token.
type accountView struct {
	Addr       string    `json:"addr"`
	Instance   string    `json:"instance"`
	User       string    `json:"user"`
	HomeChat   string    `json:"home_chat"`
	NotifChat  string    `json:"notif_chat"`
	MutedHome  bool      `json:"muted_home"`
	MutedNotif bool      `json:"muted_notif"`
	CreatedAt  time.Time `json:"created_at"`
}

func writeAccountsJSON(w io.Writer, accounts []model.Account) error {
	views := make([]accountView, 0, len(accounts))
	for _, acc := range accounts {
		views = append(views, accountView{
			Addr:       acc.Addr,
			Instance:   acc.Instance,
			User:       acc.User,
			HomeChat:   acc.HomeChat,
			NotifChat:  acc.NotifChat,
			MutedHome:  acc.MutedHome,
			MutedNotif: acc.MutedNotif,
			CreatedAt:  acc.CreatedAt,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(views)
}

func writeAccountsTable(w io.Writer, accounts []model.Account, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDRESS\tINSTANCE\tUSER\tMUTED\tLINKED")
	for _, acc := range accounts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			acc.Addr,
			acc.Instance,
			acc.User,
			mutedStreams(acc),
			humanize.RelTime(acc.CreatedAt, now, "ago", "from now"),
		)
	}
	fmt.Fprintf(tw, "\n%s linked\n", humanize.Comma(int64(len(accounts))))
	return tw.Flush()
}

func mutedStreams(acc model.Account) string {
	switch {
	case acc.MutedHome && acc.MutedNotif:
		return "home,notifications"
	case acc.MutedHome:
		return "home"
	case acc.MutedNotif:
		return "notifications"
	default:
		return "-"
	}
}
