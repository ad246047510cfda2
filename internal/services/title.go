package services

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// default titles we consider “placeholder” and eligible for auto-generation
const (
	defaultTitleNew      = "New chat"
	defaultTitleUntitled = "Untitled"
	defaultTitleMaxLen   = 60
	titleMaxWords        = 8
)

// titler derives compact chat titles from the first user message.
type titler struct {
	Locale language.Tag
	MaxLen int
}

func isPlaceholderTitle(current string) bool {
	t := strings.TrimSpace(strings.ToLower(current))
	return t == "" || t == strings.ToLower(defaultTitleNew) || t == strings.ToLower(defaultTitleUntitled)
}

// fromPrompt returns up to titleMaxWords title-cased content words of
// prompt, clipped to MaxLen runes. Empty when nothing is left.
func (t titler) fromPrompt(prompt string) string {
	toks := titleWordRE.FindAllString(strings.ToLower(strings.TrimSpace(prompt)), -1)
	if len(toks) == 0 {
		return ""
	}

	locale := t.Locale
	if locale == language.Und {
		locale = language.English
	}
	caser := cases.Title(locale)

	out := make([]string, 0, titleMaxWords)
	for _, w := range toks {
		if _, skip := titleStopWords[w]; skip {
			continue
		}
		out = append(out, caser.String(w))
		if len(out) >= titleMaxWords {
			break
		}
	}
	if len(out) == 0 {
		return ""
	}
	return t.clip(strings.Join(out, " "))
}

// clip truncates a title to the configured maximum rune length.
func (t titler) clip(title string) string {
	limit := t.MaxLen
	if limit <= 0 {
		limit = defaultTitleMaxLen
	}
	if utf8.RuneCountInString(title) > limit {
		return strings.TrimSpace(string([]rune(title)[:limit]))
	}
	return title
}

// normalizeTitle trims whitespace and collapses multiple spaces to one.
func normalizeTitle(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
}

var (
	// whitespaceRE collapses consecutive whitespace to a single space.
	whitespaceRE = regexp.MustCompile(`\s+`)

	// Unicode letters with optional trailing numbers (e.g., "madrid2025").
	titleWordRE = regexp.MustCompile(`[\p{L}]+[\p{N}]*`)
)

// English and Spanish stop words dropped from generated titles.
var titleStopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "of": {}, "to": {}, "in": {},
	"is": {}, "are": {}, "for": {}, "on": {}, "with": {}, "by": {}, "from": {},
	"at": {}, "as": {}, "that": {}, "this": {}, "it": {}, "be": {}, "was": {}, "were": {},
	"what": {}, "s": {}, "how": {}, "will": {},
	"el": {}, "la": {}, "los": {}, "las": {}, "un": {}, "una": {}, "de": {}, "del": {},
	"en": {}, "y": {}, "o": {}, "que": {}, "qué": {}, "por": {}, "para": {}, "con": {},
	"es": {}, "cómo": {}, "cuál": {}, "hace": {}, "va": {}, "hará": {},
}
