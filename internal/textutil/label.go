package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// StageLabel turns an internal stage name such as "edge" or "sink_writer"
// into the title-cased label used in tables and progress output.
func StageLabel(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	words := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-' || unicode.IsSpace(r)
	})
	return cases.Title(language.Und).String(strings.Join(words, " "))
}
