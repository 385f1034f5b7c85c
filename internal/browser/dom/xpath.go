// browser/dom/xpath.go
package dom

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Every expression here is plain XPath 1.0 so that it evaluates the same in
// a browser (document.evaluate) and in htmlquery.

const (
	upperAlpha = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerAlpha = "abcdefghijklmnopqrstuvwxyz"
)

// Interactive matches form controls a value can be written into.
const Interactive = `(self::input and not(` +
	`translate(@type,'` + upperAlpha + `','` + lowerAlpha + `')='hidden' or ` +
	`translate(@type,'` + upperAlpha + `','` + lowerAlpha + `')='submit' or ` +
	`translate(@type,'` + upperAlpha + `','` + lowerAlpha + `')='button' or ` +
	`translate(@type,'` + upperAlpha + `','` + lowerAlpha + `')='reset' or ` +
	`translate(@type,'` + upperAlpha + `','` + lowerAlpha + `')='image' or ` +
	`translate(@type,'` + upperAlpha + `','` + lowerAlpha + `')='file')) or self::select or self::textarea`

// InteractiveXPath selects every interactive element in the document.
const InteractiveXPath = `//*[` + Interactive + `]`

// Literal quotes s as an XPath string literal. XPath 1.0 has no escape
// sequence, so strings holding both quote kinds are built with concat().
func Literal(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	args := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			args = append(args, `"'"`)
		}
		if p != "" {
			args = append(args, "'"+p+"'")
		}
	}
	return "concat(" + strings.Join(args, ",") + ")"
}

// Lower wraps expr so that ASCII letters compare case-insensitively.
func Lower(expr string) string {
	return fmt.Sprintf("translate(%s,'%s','%s')", expr, upperAlpha, lowerAlpha)
}

// ContainsFold is a case-insensitive contains(expr, needle).
func ContainsFold(expr, needle string) string {
	return fmt.Sprintf("contains(%s,%s)", Lower(expr), Literal(strings.ToLower(needle)))
}

// EqualsFold is a case-insensitive equality test against a trimmed needle.
func EqualsFold(expr, needle string) string {
	return fmt.Sprintf("%s=%s", Lower("normalize-space("+expr+")"), Literal(strings.ToLower(strings.TrimSpace(needle))))
}

// EndsWith is the XPath 1.0 spelling of ends-with(expr, suffix). expr is
// left-padded so the substring start never drops below 1, which htmlquery
// rejects for values shorter than the suffix.
func EndsWith(expr, suffix string) string {
	pad := strings.Repeat(" ", utf8.RuneCountInString(suffix))
	return fmt.Sprintf("substring(concat('%s',%s),string-length(%s)+1)=%s", pad, expr, expr, Literal(suffix))
}

// HasClass matches a whole class token.
func HasClass(class string) string {
	return fmt.Sprintf("contains(concat(' ',normalize-space(@class),' '),%s)", Literal(" "+class+" "))
}
