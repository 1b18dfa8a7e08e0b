package notification

import (
	"regexp"
	"strings"
)

var (
	anchorTag = regexp.MustCompile(`(?i)<a([^>]+)>(.+?)</a>`)
	hrefAttr  = regexp.MustCompile(`(?i)\s*href\s*=\s*("([^"]*")|'[^']*'|([^'">\s]+))`)

	markupEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
)

// Escape prepares free text for Slack mrkdwn. HTML anchors with an href are
// rewritten to <url|text> links first; everything outside those links then
// has &, < and > entity-escaped, as does the link text. Only double quotes
// are stripped from the href value.
func Escape(s string) string {
	matches := anchorTag.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return markupEscaper.Replace(s)
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		href := hrefAttr.FindStringSubmatch(s[m[2]:m[3]])
		if href == nil {
			continue
		}
		b.WriteString(markupEscaper.Replace(s[last:m[0]]))
		b.WriteByte('<')
		b.WriteString(strings.ReplaceAll(href[1], `"`, ""))
		b.WriteByte('|')
		b.WriteString(markupEscaper.Replace(s[m[4]:m[5]]))
		b.WriteByte('>')
		last = m[1]
	}
	b.WriteString(markupEscaper.Replace(s[last:]))
	return b.String()
}
