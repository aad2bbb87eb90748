// Package sidebar renders a plan snapshot as status cards, either as an HTML
// fragment or as styled terminal text.
package sidebar

import "github.com/rahul/conductor/internal/plan"

const (
	colorSuccessful = "#28B463"
	colorRunning    = "#FFC107"
	colorFailed     = "#C0392B"
	colorIdle       = "#F5F5DC"
	colorAgent      = "#1E90FF"
)

// BannerColor colours a task banner from the authoritative task status.
func BannerColor(s plan.Status) string {
	switch s {
	case plan.StatusSuccessful:
		return colorSuccessful
	case plan.StatusInProgress:
		return colorRunning
	default:
		return colorIdle
	}
}

// DotColor colours a status dot. Pending and running share yellow.
func DotColor(s plan.Status) string {
	switch s {
	case plan.StatusSuccessful:
		return colorSuccessful
	case plan.StatusUnsuccessful:
		return colorFailed
	default:
		return colorRunning
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
