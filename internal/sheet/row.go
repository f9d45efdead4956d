package sheet

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Header is the first row of every partition tab. Data rows start at
// row 2, columns A through F.
var Header = []any{"UserID", "FullName", "Phone", "Username", "Points", "LastUpdated"}

// Row is one account as represented on a sheet. A zero LastUpdated
// means the stamp cell was empty or unparseable.
type Row struct {
	UserID      string
	FullName    string
	Phone       string
	Username    string
	Points      int64
	LastUpdated time.Time
}

// ParseRow decodes one raw spreadsheet row. Returns nil when the row
// carries no user ID. Malformed cells never fail the row: a bad
// balance becomes 0 and a bad timestamp becomes absent, each noted in
// the returned warnings.
func ParseRow(cells []any, loc *time.Location) (*Row, []string) {
	row := &Row{
		UserID:   cellString(cells, 0),
		FullName: cellString(cells, 1),
		Phone:    cellString(cells, 2),
		Username: cellString(cells, 3),
	}
	if row.UserID == "" {
		return nil, nil
	}

	var warnings []string
	points, ok := parsePoints(cellAt(cells, 4))
	if !ok {
		warnings = append(warnings, fmt.Sprintf("malformed balance %v for %s, using 0", cellAt(cells, 4), row.UserID))
	}
	row.Points = points

	if raw := cellString(cells, 5); raw != "" {
		stamp, ok := ParseTimestamp(raw, loc)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("unparseable timestamp %q for %s, treating as absent", raw, row.UserID))
		}
		row.LastUpdated = stamp
	}
	return row, warnings
}

// Cells renders the row for an append. The stamp is written in the
// canonical layout; an absent stamp becomes an empty cell.
func (r *Row) Cells(loc *time.Location) []any {
	stamp := ""
	if !r.LastUpdated.IsZero() {
		stamp = FormatTimestamp(r.LastUpdated, loc)
	}
	return []any{r.UserID, r.FullName, r.Phone, r.Username, r.Points, stamp}
}

func cellAt(cells []any, index int) any {
	if index >= len(cells) {
		return nil
	}
	return cells[index]
}

func cellString(cells []any, index int) string {
	value := cellAt(cells, index)
	if value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

func parsePoints(value any) (int64, bool) {
	switch v := value.(type) {
	case nil:
		return 0, true
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, true
		}
		points, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, false
		}
		return points, true
	default:
		return 0, false
	}
}
