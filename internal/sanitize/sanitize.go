// Package sanitize turns generated markdown into the plain text the bot
// replies with.
package sanitize

import (
	"bytes"
	"html"
	"regexp"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

var (
	blockTags  = regexp.MustCompile(`<br\s*/?>|</?p>|</?div>|</?pre>|</?h[1-6]>|</?ul>|</?ol>`)
	listItem   = regexp.MustCompile(`<li>`)
	blankLines = regexp.MustCompile(`\n\s*\n+`)
)

var (
	once     sync.Once
	policy   *bluemonday.Policy
	markdown goldmark.Markdown
)

func setup() {
	policy = bluemonday.StrictPolicy()
	markdown = goldmark.New()
}

// PlainText renders text as markdown and strips every tag, keeping line
// structure. List items become "- " lines. On a rendering failure the
// input is returned trimmed.
func PlainText(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	once.Do(setup)

	var buf bytes.Buffer
	if err := markdown.Convert([]byte(text), &buf); err != nil {
		return text
	}

	out := listItem.ReplaceAllString(buf.String(), "- ")
	out = blockTags.ReplaceAllString(out, "\n")
	out = policy.Sanitize(out)
	out = blankLines.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(html.UnescapeString(out))
}

var markdownEscaper = strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)

// EscapeMarkdown escapes the characters that open an entity in Telegram's
// legacy Markdown, so user-provided text such as a name can be formatted
// into a Markdown message.
func EscapeMarkdown(text string) string {
	return markdownEscaper.Replace(text)
}
