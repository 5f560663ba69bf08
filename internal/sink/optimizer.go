package sink

import (
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// caseFolder returns the identifier optimizer for c, or nil for CaseNone.
// A new Caser is built per call because cases.Caser keeps internal state.
func caseFolder(c CaseConversion) func(string) string {
	switch c {
	case CaseUpper:
		return func(s string) string { return cases.Upper(language.Und).String(s) }
	case CaseLower:
		return func(s string) string { return cases.Lower(language.Und).String(s) }
	}
	return nil
}
