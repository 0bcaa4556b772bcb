package caspio

import (
	"fmt"
	"strings"
)

// Where builds an equality/AND-combined filter expression for record queries.
// Values are escaped before interpolation; Caspio has no parameter binding on
// its REST surface.
type Where struct {
	clauses []string
}

// Eq appends an equality clause for a string field.
func (where Where) Eq(field string, value string) Where {
	where.clauses = append(where.clauses, fmt.Sprintf("%s='%s'", field, EscapeValue(value)))
	return Where{clauses: where.clauses}
}

// String renders the combined filter expression.
func (where Where) String() string {
	return strings.Join(where.clauses, " AND ")
}

// EscapeValue doubles embedded single quotes so an interpolated value cannot
// terminate the filter expression early.
func EscapeValue(value string) string {
	return strings.ReplaceAll(value, "'", "''")
}
