package application

import (
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"github.com/ericfisherdev/mastobridge/internal/domain/model"
)

// contentPolicy keeps only the markup the text conversion understands.
// Script and style bodies are dropped rather than leaking into the text.
var contentPolicy = func() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "br", "span")
	p.AllowAttrs("href").OnElements("a")
	return p
}()

// HTMLToText converts post HTML to plain text. Links to mentioned accounts
// become "@acct", <br> becomes a newline and each paragraph is followed by a
// blank line.
func HTMLToText(content string, mentions []model.Mention) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}

	clean := contentPolicy.Sanitize(content)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(clean))
	if err != nil {
		return strings.TrimSpace(html.UnescapeString(bluemonday.StrictPolicy().Sanitize(content)))
	}

	if len(mentions) > 0 {
		byURL := make(map[string]string, len(mentions))
		for _, m := range mentions {
			if m.URL != "" {
				byURL[m.URL] = "@" + m.Acct
			}
		}
		doc.Find("a").Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			if name, ok := byURL[href]; ok {
				a.ReplaceWithHtml(html.EscapeString(name))
			}
		})
	}

	doc.Find("br").Each(func(_ int, br *goquery.Selection) {
		br.ReplaceWithHtml("\n")
	})
	doc.Find("p").Each(func(_ int, p *goquery.Selection) {
		p.AppendHtml("\n\n")
	})

	return strings.TrimSpace(doc.Text())
}
