package sheet

import (
	"strings"
	"time"
)

// TimestampLayout is the canonical form written to the sheet.
const TimestampLayout = "2006-01-02 15:04:05"

// readLayouts are the accepted cell forms, canonical first. Humans
// edit stamps in European and dotted shapes, so reads tolerate all of
// these while writes always use TimestampLayout.
var readLayouts = []string{
	TimestampLayout,
	"2006-01-02 15:04:05.999999",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006",
	"02.01.2006 15:04:05",
	"02.01.2006",
	"02.01.2006 15:04",
}

// ParseTimestamp interprets a cell value in the sheet's timezone and
// normalizes it to UTC. Returns false when the value is empty or
// matches none of the accepted layouts.
func ParseTimestamp(value string, loc *time.Location) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range readLayouts {
		if parsed, err := time.ParseInLocation(layout, value, loc); err == nil {
			return parsed.UTC(), true
		}
	}
	return time.Time{}, false
}

// FormatTimestamp renders a timestamp in the canonical layout, shifted
// into the sheet's timezone.
func FormatTimestamp(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(TimestampLayout)
}
