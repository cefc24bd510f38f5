package application

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ericfisherdev/mastobridge/internal/domain/model"
)

// SpamFilter decides whether an inbound direct message is dropped.
type SpamFilter interface {
	Blocked(st model.Status) bool
}

// Blocklist drops direct messages from listed domains or containing listed
// keywords. Entries of the form "domain:example.com" or "@example.com" match
// the sender's instance; anything else is a case-insensitive keyword.
type Blocklist struct {
	domains  map[string]struct{}
	keywords []string
}

// LoadBlocklist reads a blocklist file. An empty path yields an empty list.
func LoadBlocklist(path string) (*Blocklist, error) {
	if path == "" {
		return &Blocklist{domains: map[string]struct{}{}}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open blocklist: %w", err)
	}
	defer f.Close()

	return ParseBlocklist(f)
}

// ParseBlocklist reads one entry per line; blank lines and lines starting
// with "#" are ignored.
func ParseBlocklist(r io.Reader) (*Blocklist, error) {
	b := &Blocklist{domains: map[string]struct{}{}}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.ToLower(strings.TrimSpace(sc.Text()))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		switch {
		case strings.HasPrefix(line, "domain:"):
			b.domains[strings.TrimSpace(strings.TrimPrefix(line, "domain:"))] = struct{}{}
		case strings.HasPrefix(line, "@") && !strings.ContainsAny(line, " \t"):
			b.domains[strings.TrimPrefix(line, "@")] = struct{}{}
		default:
			b.keywords = append(b.keywords, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read blocklist: %w", err)
	}

	return b, nil
}

// Len returns the number of entries.
func (b *Blocklist) Len() int {
	if b == nil {
		return 0
	}
	return len(b.domains) + len(b.keywords)
}

// Blocked reports whether the post's sender domain or text matches an entry.
func (b *Blocklist) Blocked(st model.Status) bool {
	if b.Len() == 0 {
		return false
	}

	acct := strings.ToLower(st.Account.Acct)
	if i := strings.LastIndex(acct, "@"); i >= 0 {
		if _, ok := b.domains[acct[i+1:]]; ok {
			return true
		}
	}

	text := strings.ToLower(st.SpoilerText + " " + st.Content)
	for _, kw := range b.keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
