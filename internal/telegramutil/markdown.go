package telegramutil

import (
	"regexp"
	"strconv"
	"strings"
)

var markdownV2Escapes = map[byte]bool{
	'\\': true,
	'_':  true,
	'*':  true,
	'[':  true,
	']':  true,
	'(':  true,
	')':  true,
	'~':  true,
	'`':  true,
	'>':  true,
	'#':  true,
	'+':  true,
	'-':  true,
	'=':  true,
	'|':  true,
	'{':  true,
	'}':  true,
	'.':  true,
	'!':  true,
}

// EscapeMarkdownV2 escapes every character MarkdownV2 treats as markup.
func EscapeMarkdownV2(text string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	var b strings.Builder
	b.Grow(len(text) + 8)
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if markdownV2Escapes[ch] {
			b.WriteByte('\\')
		}
		b.WriteByte(ch)
	}
	return b.String()
}

// escapeCode escapes text placed inside pre and code entities, where only
// the backtick and the backslash are reserved.
func escapeCode(text string) string {
	r := strings.NewReplacer("\\", "\\\\", "`", "\\`")
	return r.Replace(text)
}

// escapeLinkURL escapes the URL part of an inline link.
func escapeLinkURL(url string) string {
	r := strings.NewReplacer("\\", "\\\\", ")", "\\)")
	return r.Replace(url)
}

var (
	codeBlockRe  = regexp.MustCompile("```(\\w+)?\\n([\\s\\S]*?)```")
	inlineCodeRe = regexp.MustCompile("`([^`\\n]+)`")
	linkRe       = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	boldRe       = regexp.MustCompile(`\*\*([^*\n]+)\*\*`)
	underlineRe  = regexp.MustCompile(`__([^_\n]+)__`)
	italicStarRe = regexp.MustCompile(`\*([^*\n]+)\*`)
	italicUndRe  = regexp.MustCompile(`_([^_\n]+)_`)
	strikeRe     = regexp.MustCompile(`~~([^~\n]+)~~`)
	spoilerRe    = regexp.MustCompile(`\|\|([^|\n]+)\|\|`)
)

// spans keeps already converted MarkdownV2 fragments out of the final
// escaping pass. Keys are built from private-use runes so they cannot
// collide with model output or be touched by EscapeMarkdownV2.
type spans struct {
	values []string
}

func spanKey(i int) string {
	return "\uE000" + strconv.Itoa(i) + "\uE001"
}

func (s *spans) add(v string) string {
	key := spanKey(len(s.values))
	s.values = append(s.values, v)
	return key
}

// restore expands keys newest first, so a span that wraps an older span
// (bold around inline code) is expanded before its inner key.
func (s *spans) restore(text string) string {
	for i := len(s.values) - 1; i >= 0; i-- {
		key := spanKey(i)
		text = strings.Replace(text, key, s.values[i], 1)
	}
	return text
}

func replaceGroups(re *regexp.Regexp, text string, fn func(groups []string) string) string {
	return re.ReplaceAllStringFunc(text, func(match string) string {
		return fn(re.FindStringSubmatch(match))
	})
}

// ToMarkdownV2 converts common Markdown into Telegram MarkdownV2. Recognised
// spans are bold, underline, italic, strikethrough, spoiler, inline code,
// fenced code and links; everything else is escaped.
func ToMarkdownV2(text string) string {
	if text == "" {
		return ""
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var s spans

	text = replaceGroups(codeBlockRe, text, func(g []string) string {
		return s.add("```" + g[1] + "\n" + escapeCode(g[2]) + "```")
	})
	text = replaceGroups(inlineCodeRe, text, func(g []string) string {
		return s.add("`" + escapeCode(g[1]) + "`")
	})
	text = replaceGroups(linkRe, text, func(g []string) string {
		return s.add("[" + EscapeMarkdownV2(g[1]) + "](" + escapeLinkURL(g[2]) + ")")
	})

	wrap := func(re *regexp.Regexp, start, end string) {
		text = replaceGroups(re, text, func(g []string) string {
			return s.add(start + EscapeMarkdownV2(g[1]) + end)
		})
	}
	wrap(boldRe, "*", "*")
	wrap(underlineRe, "__", "__")
	wrap(italicStarRe, "_", "_")
	wrap(italicUndRe, "_", "_")
	wrap(strikeRe, "~", "~")
	wrap(spoilerRe, "||", "||")

	return s.restore(EscapeMarkdownV2(text))
}

var fenceRe = regexp.MustCompile("```\\w*\\n?")

// StripMarkdown removes paired Markdown markers so the text reads well when
// sent without a parse mode.
func StripMarkdown(text string) string {
	text = fenceRe.ReplaceAllString(text, "")
	text = linkRe.ReplaceAllString(text, "$1 ($2)")
	r := strings.NewReplacer("**", "", "__", "", "~~", "", "||", "", "`", "")
	return r.Replace(text)
}
