package store

import "strings"

type scanner interface {
	Scan(dest ...any) error
}

// prefixScanner scans leading columns into head before handing the rest to
// an entity scan helper.
type prefixScanner struct {
	row  scanner
	head []any
}

func (p prefixScanner) Scan(dest ...any) error {
	return p.row.Scan(append(p.head, dest...)...)
}

// prefixed qualifies every column in a column list with alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, col := range parts {
		parts[i] = alias + "." + strings.TrimSpace(col)
	}
	return strings.Join(parts, ", ")
}
