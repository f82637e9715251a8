package sheets

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/scorebridge-network/scorebridge/internal/domain"
)

// ─── Cell Parsing ───────────────────────────────────────────────────────────
// Humans type into these cells. Parsing is deliberately forgiving on read;
// the engine itself always writes canonical forms.

// stampLayouts are the timestamp shapes accepted in the last-updated column,
// most specific first. The engine writes only domain.SheetStamp.
var stampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	domain.SheetStamp,          // 2006-01-02 15:04:05
	"2006-01-02 15:04",
	"2006-01-02",
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
	"02.01.2006",
	"01/02/2006 15:04:05",
	"01/02/2006",
}

// ParseStamp interprets a human-edited timestamp cell. The zero time and
// false mean the cell was empty or in no recognized layout; callers treat
// that as "unknown", never as an error.
func ParseStamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range stampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parsePoints reads a points cell. Accepts integers, float renderings the
// API produces ("95.0"), and stray whitespace or thousands separators.
func parsePoints(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	s = strings.ReplaceAll(s, ",", "")
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("unreadable points cell %q", s)
	}
	return int64(f), nil
}

// cellString renders one raw API cell value as a trimmed string.
func cellString(cells []any, i int) string {
	if i >= len(cells) {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(cells[i]))
}

// parseRow converts one raw row into a MirrorRow. ok is false when the row
// carries no user id or an unreadable points cell; such rows are skipped.
func parseRow(cells []any) (domain.MirrorRow, bool) {
	userID := cellString(cells, 0)
	if userID == "" {
		return domain.MirrorRow{}, false
	}
	points, err := parsePoints(cellString(cells, 4))
	if err != nil {
		return domain.MirrorRow{}, false
	}
	return domain.MirrorRow{
		UserID:    userID,
		FullName:  cellString(cells, 1),
		Phone:     cellString(cells, 2),
		Username:  cellString(cells, 3),
		Points:    points,
		UpdatedAt: cellString(cells, 5),
	}, true
}
