// Package sqlxrepos implements the core repositories over PostgreSQL with
// sqlx. Nested blocks (details, data, items, timelines) live in JSONB
// columns; filterable scalars get their own columns.
package sqlxrepos

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/relieflab/dms/core"
)

// orNil flattens a typed nil pointer into a plain nil so jsonColumn stores
// NULL instead of the JSON literal null.
func orNil[T any](p *T) interface{} {
	if p == nil {
		return nil
	}
	return p
}

// sliceOrNil does the same for empty slices.
func sliceOrNil[T any](s []T) interface{} {
	if len(s) == 0 {
		return nil
	}
	return s
}

// jsonColumn marshals any value into a JSONB column; nil values store NULL.
func jsonColumn(v interface{}) (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	buf, err := json.Marshal(v)
	return buf, errors.Wrap(err, "encoding json column")
}

// fromJSONColumn unmarshals a JSONB column into out; NULL leaves out untouched.
func fromJSONColumn(raw []byte, out interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return errors.Wrap(json.Unmarshal(raw, out), "decoding json column")
}

// orderClause renders an ORDER BY from the requested ordering, keeping only
// fields the caller allows. Returns the fallback when nothing survives.
func orderClause(ordering []core.DBOrdering, allowed map[string]bool, fallback string) string {
	var parts []string
	for _, ord := range ordering {
		if allowed[ord.Field] {
			parts = append(parts, ord.String())
		}
	}
	if len(parts) == 0 {
		return " ORDER BY " + fallback
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

// whereBuilder accumulates positional conditions for a dynamic filter.
type whereBuilder struct {
	conds []string
	args  []interface{}
}

// add appends a condition, rewriting each ? to the next $N placeholder.
func (wb *whereBuilder) add(cond string, args ...interface{}) {
	for _, arg := range args {
		wb.args = append(wb.args, arg)
		cond = strings.Replace(cond, "?", fmt.Sprintf("$%d", len(wb.args)), 1)
	}
	wb.conds = append(wb.conds, cond)
}

// joinConds renders accumulated assignments as a SET list; the builder's
// placeholder numbering works the same for UPDATE statements.
func joinConds(conds []string) string {
	return strings.Join(conds, ", ")
}

func (wb *whereBuilder) clause() string {
	if len(wb.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(wb.conds, " AND ")
}

