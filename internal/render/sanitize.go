package render

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	leadingLabel  = regexp.MustCompile(`(?i)^\s*what\s+this\s+means\s*:\s*`)
	dashes        = regexp.MustCompile(`\s*[–—]\s*|\s+-\s+`)
	whitespace    = regexp.MustCompile(`\s+`)
	mdSpecials    = regexp.MustCompile("([\\\\`*_{}\\[\\]()#+\\-.!|>])")
	commaNoSpace  = regexp.MustCompile(`,([^0-9\s])`)
	wordUnderline = regexp.MustCompile(`(\w)_(\w)`)
	wordStar      = regexp.MustCompile(`(\w)\*(\w)`)
	digitLetter   = regexp.MustCompile(`(\d)([A-Za-z])`)
	letterDigit   = regexp.MustCompile(`([A-Za-z])(\d)`)

	emailPattern  = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phonePattern  = regexp.MustCompile(`\(?\b\d{3}\)?[\s.\-]\d{3}[\s.\-]\d{4}\b`)
	secretPattern = regexp.MustCompile(`\b(sk-[A-Za-z0-9_\-]{16,}|AKIA[0-9A-Z]{16})\b`)
)

func normalize(text string) string {
	t := norm.NFKC.String(text)
	return strings.NewReplacer("\u00a0", " ", "\u202f", " ").Replace(t)
}

// CleanInterpretation normalizes chart interpretation text: it drops a
// leading "What this means:" label, spaces out dashes and collapses
// whitespace. With forMarkdown, Markdown control characters are escaped.
func CleanInterpretation(text string, forMarkdown bool) string {
	t := normalize(text)
	t = leadingLabel.ReplaceAllString(t, "")
	t = dashes.ReplaceAllString(t, " — ")
	t = strings.TrimSpace(whitespace.ReplaceAllString(t, " "))
	if forMarkdown {
		t = mdSpecials.ReplaceAllString(t, `\$1`)
	}
	return t
}

// CleanNarrative tidies model-written Markdown for display. Underscores
// and asterisks inside words are escaped, glued digits and letters are
// split, and a space follows commas that precede text.
func CleanNarrative(text string) string {
	t := normalize(text)
	t = commaNoSpace.ReplaceAllString(t, ", $1")
	t = wordUnderline.ReplaceAllString(t, `$1\_$2`)
	t = wordStar.ReplaceAllString(t, `$1\*$2`)
	t = digitLetter.ReplaceAllString(t, "$1 $2")
	t = letterDigit.ReplaceAllString(t, "$1 $2")
	lines := strings.Split(t, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(whitespace.ReplaceAllString(l, " "), " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// Redact masks e-mail addresses, phone numbers and API-key-shaped tokens.
func Redact(text string) string {
	t := secretPattern.ReplaceAllString(text, "[redacted-key]")
	t = emailPattern.ReplaceAllString(t, "[redacted-email]")
	return phonePattern.ReplaceAllString(t, "[redacted-phone]")
}
