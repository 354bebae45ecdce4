// Package markup restricts model output to the small HTML subset chat
// surfaces can render: <b>, <i>, <code>, <pre> and hyperlinks.
//
// Sanitize is total and idempotent; its output is always balanced for the four
// formatting tags.
package markup

import (
	"html"
	"regexp"
	"strings"
)

// Bullet is the glyph that replaces "- " list markers.
const Bullet = "• "

// BalancedTags are the formatting tags whose open and close counts Sanitize keeps equal.
var BalancedTags = []string{"b", "i", "code", "pre"}

var (
	blockOpenRe  = regexp.MustCompile(`(?i)<(?:h[1-6]|div|span|p)(?:[ \t][^<>\n]*)?>`)
	blockCloseRe = regexp.MustCompile(`(?i)</(?:h[1-6]|div|span|p)[ \t]*>`)
	boldRe       = regexp.MustCompile(`\*\*(.*?)\*\*`)
	italicRe     = regexp.MustCompile(`\*(.*?)\*`)
	fenceRe      = regexp.MustCompile("(?s)```(.*?)```")
	inlineCodeRe = regexp.MustCompile("`(.*?)`")
	listItemRe   = regexp.MustCompile(`(?m)^[ \t]*-[ \t]+`)
	anyTagRe     = regexp.MustCompile(`<[^<>\n]*>`)
	formatTagRe  = regexp.MustCompile(`(?i)^</?(?:b|i|code|pre)>$`)
	linkOpenRe   = regexp.MustCompile(`(?i)^<a(?:\s[^>]*)?>$`)
	linkCloseRe  = regexp.MustCompile(`(?i)^</a\s*>$`)
	linkRe       = regexp.MustCompile(`(?is)<a\s[^>]*href\s*=\s*["']([^"']*)["'][^>]*>(.*?)</a>`)
)

// Sanitize converts arbitrary text into the restricted markup subset.
//
// Block-level tags become bold, lightweight markdown (**bold**, *italic*,
// ```code```, `code`, "- " bullets) is converted, every other tag is removed,
// and unbalanced formatting tags are repaired.
func Sanitize(text string) string {
	text = blockOpenRe.ReplaceAllString(text, "<b>")
	text = blockCloseRe.ReplaceAllString(text, "</b>")
	text = boldRe.ReplaceAllString(text, "<b>$1</b>")
	text = italicRe.ReplaceAllString(text, "<i>$1</i>")
	text = fenceRe.ReplaceAllString(text, "<code>$1</code>")
	text = inlineCodeRe.ReplaceAllString(text, "<code>$1</code>")
	text = listItemRe.ReplaceAllString(text, Bullet)
	text = rebuild(text)
	// Stripping can expose a list marker that sat behind a removed tag.
	return listItemRe.ReplaceAllString(text, Bullet)
}

var bracketEscaper = strings.NewReplacer("<", "&lt;", ">", "&gt;")

// rebuild walks the tag tokens once. Formatting tags are lower-cased and
// kept unless they close nothing, hyperlinks are kept, every other tag is
// dropped and angle brackets between tags are escaped. Closers still missing
// at the end are appended in BalancedTags order.
func rebuild(text string) string {
	var sb strings.Builder
	depth := make(map[string]int, len(BalancedTags))
	last := 0
	for _, loc := range anyTagRe.FindAllStringIndex(text, -1) {
		sb.WriteString(bracketEscaper.Replace(text[last:loc[0]]))
		last = loc[1]
		tag := text[loc[0]:loc[1]]
		switch {
		case formatTagRe.MatchString(tag):
			tag = strings.ToLower(tag)
			name := strings.Trim(tag, "</>")
			if tag[1] != '/' {
				depth[name]++
			} else if depth[name] == 0 {
				continue
			} else {
				depth[name]--
			}
			sb.WriteString(tag)
		case linkOpenRe.MatchString(tag), linkCloseRe.MatchString(tag):
			sb.WriteString(tag)
		}
	}
	sb.WriteString(bracketEscaper.Replace(text[last:]))
	for _, name := range BalancedTags {
		for ; depth[name] > 0; depth[name]-- {
			sb.WriteString("</" + name + ">")
		}
	}
	return sb.String()
}

// Counts returns the number of opening and closing tags of the given kind.
func Counts(text, tag string) (open, close int) {
	return strings.Count(text, "<"+tag+">"), strings.Count(text, "</"+tag+">")
}

// StripTags removes every markup tag and unescapes entities, leaving unadorned text.
func StripTags(text string) string {
	return html.UnescapeString(anyTagRe.ReplaceAllString(text, ""))
}

var whatsAppReplacer = strings.NewReplacer(
	"<b>", "*", "</b>", "*",
	"<i>", "_", "</i>", "_",
	"<code>", "```", "</code>", "```",
	"<pre>", "```", "</pre>", "```",
)

// ToWhatsApp renders sanitized markup with WhatsApp's lightweight formatting.
// Hyperlinks become "text (url)".
func ToWhatsApp(text string) string {
	text = linkRe.ReplaceAllString(text, "$2 ($1)")
	text = whatsAppReplacer.Replace(text)
	return StripTags(text)
}
