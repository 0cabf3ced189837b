package app

import (
	"fmt"
	"strings"
	"time"

	"cryptoLedger/internal/domain"
	"cryptoLedger/internal/ports"
)

// WindowMode selects how far back a refresh reaches.
type WindowMode string

const (
	ModeFull      WindowMode = "Full"      // 730 days
	ModeWeekly    WindowMode = "Weekly"    // 7 days
	ModeMonthly   WindowMode = "Monthly"   // 28 days
	ModeTwoMonths WindowMode = "2 Months"  // 56 days
	ModeSince2023 WindowMode = "Since2023" // from 2023-01-01
)

var modeAliases = map[string]WindowMode{
	"full":      ModeFull,
	"weekly":    ModeWeekly,
	"monthly":   ModeMonthly,
	"2 months":  ModeTwoMonths,
	"2months":   ModeTwoMonths,
	"twomonths": ModeTwoMonths,
	"since2023": ModeSince2023,
}

// ParseWindowMode accepts a mode name in any case.
func ParseWindowMode(s string) (WindowMode, error) {
	if mode, ok := modeAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return mode, nil
	}
	return "", fmt.Errorf("%w: invalid mode %q, choose Full, Weekly, Monthly, 2 Months or Since2023", ports.ErrInvalidRequest, s)
}

// Window returns [start, end) for the mode. The window ends at the start of
// the current UTC day.
func (m WindowMode) Window(now time.Time) (time.Time, time.Time, error) {
	end := domain.DateOf(now)
	switch m {
	case ModeFull:
		return end.AddDate(0, 0, -730), end, nil
	case ModeWeekly:
		return end.AddDate(0, 0, -7), end, nil
	case ModeMonthly:
		return end.AddDate(0, 0, -28), end, nil
	case ModeTwoMonths:
		return end.AddDate(0, 0, -56), end, nil
	case ModeSince2023:
		return time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), end, nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("%w: invalid mode %q", ports.ErrInvalidRequest, string(m))
	}
}
