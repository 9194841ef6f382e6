package logging

import "strings"

// FormatSubject builds the "component · stage#worker · Item #id" prefix used
// in console output. Empty parts are omitted.
func FormatSubject(component, stage, worker, itemID string) string {
	component = strings.TrimSpace(component)
	stage = strings.TrimSpace(stage)
	worker = strings.TrimSpace(worker)
	itemID = strings.TrimSpace(itemID)

	parts := make([]string, 0, 3)
	if component != "" {
		parts = append(parts, component)
	}
	switch {
	case stage != "" && worker != "":
		parts = append(parts, stage+"#"+worker)
	case stage != "":
		parts = append(parts, stage)
	}
	if itemID != "" {
		parts = append(parts, "Item #"+itemID)
	}
	return strings.Join(parts, " · ")
}
