// Package query builds parameterized partial-update statements. An UpdateSpec says what to
// set and a MatchSpec says which rows; both keep the order the caller supplied.
package query

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

var (
	// ErrInvalidColumn is returned when a key is not a plain identifier or not an allowed column.
	ErrInvalidColumn = errors.New("query: invalid column")
	// ErrEmptyUpdate is returned when there is nothing to set.
	ErrEmptyUpdate = errors.New("query: empty update")
	// ErrEmptyMatch is returned when an update would have no WHERE clause.
	ErrEmptyMatch = errors.New("query: empty match")
)

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Assignment is one column/value pair. A nil Value means SQL NULL.
type Assignment struct {
	Key   string
	Value any
}

// UpdateSpec is the ordered SET list of an update.
type UpdateSpec []Assignment

// MatchSpec is the ordered conjunction of equality predicates of an update.
type MatchSpec []Assignment

// Options controls how Build treats null candidates.
type Options struct {
	// RemainFieldIfNull drops null candidates so the column keeps its stored value.
	// When false, null candidates are kept and clear the column.
	RemainFieldIfNull bool
}

// Build turns candidate fields into an UpdateSpec. It never mutates fields.
func Build(fields []Assignment, opts Options) UpdateSpec {
	out := make(UpdateSpec, 0, len(fields))
	for _, f := range fields {
		if IsNull(f.Value) {
			if opts.RemainFieldIfNull {
				continue
			}
			out = append(out, Assignment{Key: f.Key})
			continue
		}
		out = append(out, f)
	}
	return out
}

// Match builds an equality predicate from pairs.
func Match(pairs ...Assignment) MatchSpec {
	return MatchSpec(pairs)
}

// Keys returns the column names of u in order.
func (u UpdateSpec) Keys() []string {
	keys := make([]string, len(u))
	for i, a := range u {
		keys[i] = a.Key
	}
	return keys
}

// Columns is the set of column names a statement may reference.
type Columns map[string]struct{}

// NewColumns returns a Columns set of names.
func NewColumns(names ...string) Columns {
	c := make(Columns, len(names))
	for _, n := range names {
		c[n] = struct{}{}
	}
	return c
}

func (c Columns) check(key string) error {
	if !identRe.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidColumn, key)
	}
	if c != nil {
		if _, ok := c[key]; !ok {
			return fmt.Errorf("%w: %q", ErrInvalidColumn, key)
		}
	}
	return nil
}

// Statement compiles updates against one table. A nil Columns allows any plain identifier.
type Statement struct {
	Table     string
	Columns   Columns
	Returning []string
}

// Compile renders UPDATE ... SET ... WHERE ... RETURNING ... with $n placeholders.
// Values only ever travel as arguments.
func (s Statement) Compile(update UpdateSpec, match MatchSpec) (string, []any, error) {
	if len(update) == 0 {
		return "", nil, ErrEmptyUpdate
	}
	if len(match) == 0 {
		return "", nil, ErrEmptyMatch
	}
	if !identRe.MatchString(s.Table) {
		return "", nil, fmt.Errorf("query: invalid table %q", s.Table)
	}

	var b strings.Builder
	args := make([]any, 0, len(update)+len(match))
	fmt.Fprintf(&b, "UPDATE %q SET ", s.Table)
	for i, a := range update {
		if err := s.Columns.check(a.Key); err != nil {
			return "", nil, err
		}
		if i > 0 {
			b.WriteString(", ")
		}
		if expr, ok := a.Value.(Raw); ok {
			fmt.Fprintf(&b, "%q = %s", a.Key, string(expr))
			continue
		}
		args = append(args, a.Value)
		fmt.Fprintf(&b, "%q = $%d", a.Key, len(args))
	}
	b.WriteString(" WHERE ")
	for i, a := range match {
		if err := s.Columns.check(a.Key); err != nil {
			return "", nil, err
		}
		if i > 0 {
			b.WriteString(" AND ")
		}
		if IsNull(a.Value) {
			fmt.Fprintf(&b, "%q IS NULL", a.Key)
			continue
		}
		args = append(args, a.Value)
		fmt.Fprintf(&b, "%q = $%d", a.Key, len(args))
	}
	if len(s.Returning) > 0 {
		b.WriteString(" RETURNING ")
		for i, col := range s.Returning {
			if err := s.Columns.check(col); err != nil {
				return "", nil, err
			}
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%q", col)
		}
	}
	return b.String(), args, nil
}

// Raw is a SQL expression assigned verbatim instead of bound. Only use constants.
type Raw string

// Now assigns the statement timestamp.
const Now Raw = "now()"

// IsNull reports whether v counts as absent: untyped nil, a nil pointer, map, slice or
// interface, an empty or null json.RawMessage, or a driver.Valuer that yields nil.
// The empty string is a value.
func IsNull(v any) bool {
	if v == nil {
		return true
	}
	switch t := v.(type) {
	case json.RawMessage:
		return len(t) == 0 || string(t) == "null"
	case driver.Valuer:
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Pointer && rv.IsNil() {
			return true
		}
		dv, err := t.Value()
		return err == nil && dv == nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
