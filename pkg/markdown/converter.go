package markdown

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/russross/blackfriday/v2"
)

var (
	paragraphRe = regexp.MustCompile(`(?s)<p>(.*?)</p>`)
	headingRe   = regexp.MustCompile(`(?s)<h[1-6][^>]*>(.*?)</h[1-6]>`)
	codeBlockRe = regexp.MustCompile(`(?s)<pre><code(?: class="[^"]*")?>(.*?)</code></pre>`)
	breakRe     = regexp.MustCompile(`<br\s*/?>`)
	orderedRe   = regexp.MustCompile(`(?s)<ol(?:\s+start="(\d+)")?>(.*?)</ol>`)
	itemRe      = regexp.MustCompile(`<li>`)
	quoteRe     = regexp.MustCompile(`(?s)<blockquote>\s*(.*?)\s*</blockquote>`)
	tagRe       = regexp.MustCompile(`</?([a-zA-Z][a-zA-Z0-9]*)(?:\s[^>]*)?/?>`)
	blankRe     = regexp.MustCompile(`\n{3,}`)
)

// Tags Telegram accepts in HTML parse mode
var supportedTags = map[string]bool{
	"b":    true,
	"i":    true,
	"u":    true,
	"s":    true,
	"code": true,
	"pre":  true,
	"a":    true,

	"blockquote": true,
}

// Smartypants is left off: Telegram only knows the &lt; &gt; &amp; &quot; entities.
var rendererFlags = blackfriday.UseXHTML

// ToTelegramHTML converts markdown to Telegram-compatible HTML
func ToTelegramHTML(markdown string) string {
	if strings.TrimSpace(markdown) == "" {
		return ""
	}

	renderer := blackfriday.NewHTMLRenderer(blackfriday.HTMLRendererParameters{Flags: rendererFlags})
	html := string(blackfriday.Run([]byte(markdown),
		blackfriday.WithExtensions(blackfriday.CommonExtensions),
		blackfriday.WithRenderer(renderer),
	))

	return cleanHTMLForTelegram(html)
}

// cleanHTMLForTelegram cleans HTML to be compatible with Telegram
func cleanHTMLForTelegram(html string) string {
	html = paragraphRe.ReplaceAllString(html, "$1\n")
	html = headingRe.ReplaceAllString(html, "<b>$1</b>\n")
	html = codeBlockRe.ReplaceAllString(html, "<pre>$1</pre>")
	html = breakRe.ReplaceAllString(html, "\n")
	html = orderedRe.ReplaceAllStringFunc(html, numberItems)
	html = quoteRe.ReplaceAllString(html, "<blockquote>$1</blockquote>")

	html = strings.NewReplacer(
		"<strong>", "<b>", "</strong>", "</b>",
		"<em>", "<i>", "</em>", "</i>",
		"<del>", "<s>", "</del>", "</s>",
		"<li>", "• ", "</li>\n", "\n", "</li>", "\n",
	).Replace(html)

	html = tagRe.ReplaceAllStringFunc(html, func(match string) string {
		if m := tagRe.FindStringSubmatch(match); len(m) > 1 && supportedTags[strings.ToLower(m[1])] {
			return match
		}
		return ""
	})

	html = blankRe.ReplaceAllString(html, "\n\n")
	return strings.TrimSpace(html)
}

// numberItems replaces the bullets of an <ol> with "1. ", "2. "...
func numberItems(list string) string {
	m := orderedRe.FindStringSubmatch(list)
	n := 1
	if m[1] != "" {
		if start, err := strconv.Atoi(m[1]); err == nil {
			n = start
		}
	}
	return itemRe.ReplaceAllStringFunc(m[2], func(string) string {
		item := strconv.Itoa(n) + ". "
		n++
		return item
	})
}
