package normalize

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// cleanText repairs encoding and whitespace: invalid UTF-8 is replaced,
// byte order marks and zero-width characters are dropped, control
// characters and non-breaking spaces become spaces, the result is NFC
// normalized and runs of whitespace collapse to one space. repaired is
// true when the input was not valid UTF-8.
func cleanText(s string) (out string, repaired bool) {
	if s == "" {
		return "", false
	}
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\ufffd")
		repaired = true
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\ufeff', '\u200b', '\u200c', '\u200d', '\u2060':
			return -1
		case '\u00a0', '\u2007', '\u202f':
			return ' '
		}
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
	s = norm.NFC.String(s)
	return strings.Join(strings.Fields(s), " "), repaired
}

// applyCase applies a casing rule. Casers are stateful, so one is built
// per call.
func applyCase(s string, c Case) string {
	switch c {
	case CaseLower:
		return cases.Lower(language.Und).String(s)
	case CaseUpper:
		return cases.Upper(language.Und).String(s)
	case CaseTitle:
		return cases.Title(language.English).String(s)
	}
	return s
}
