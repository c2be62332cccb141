package store

import (
	"strconv"
	"strings"
	"time"
)

// Dialect is the SQL flavour of the open database. Queries are written with
// ? markers and CURRENT_TIMESTAMP, which both drivers accept once rebound.
type Dialect struct {
	Name     string
	Numbered bool // $1, $2 markers
}

var (
	sqliteDialect   = Dialect{Name: "sqlite"}
	postgresDialect = Dialect{Name: "postgres", Numbered: true}
)

// Placeholder returns the n-th bind marker, counting from 1.
func (d Dialect) Placeholder(n int) string {
	if d.Numbered {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Rebind rewrites ? markers for d.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			b.WriteByte(query[i])
			continue
		}
		n++
		b.WriteString(d.Placeholder(n))
	}
	return b.String()
}

// Rebind rewrites ? markers to PostgreSQL's $n form.
func Rebind(query string) string { return postgresDialect.Rebind(query) }

// sqliteTimeLayouts are the text forms SQLite hands back for timestamps.
var sqliteTimeLayouts = []string{
	time.DateTime,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
}

// scanTime converts a scanned timestamp column. SQLite yields text, pgx a
// time.Time; CURRENT_TIMESTAMP is UTC in both.
func scanTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case string:
		for _, layout := range sqliteTimeLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC()
			}
		}
	case []byte:
		return scanTime(string(t))
	}
	return time.Time{}
}

// scanTimePtr is scanTime with NULL mapped to nil.
func scanTimePtr(v any) *time.Time {
	if t := scanTime(v); !t.IsZero() {
		return &t
	}
	return nil
}
