package query

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/harun/tradegate/pkg/apperr"
)

// Op is the comparison applied by a filter
type Op string

const (
	OpEq     Op = "eq"
	OpIsNull Op = "isnull"
	OpIn     Op = "in"
	OpGt     Op = "gt"
	OpGte    Op = "gte"
	OpLt     Op = "lt"
	OpLte    Op = "lte"
	OpNeq    Op = "neq"
	OpLike   Op = "like"
	OpILike  Op = "ilike"
)

// taggedOps are the operators accepted in the {op, value} wire form
var taggedOps = map[string]Op{
	"gt":    OpGt,
	"gte":   OpGte,
	"lt":    OpLt,
	"lte":   OpLte,
	"neq":   OpNeq,
	"like":  OpLike,
	"ilike": OpILike,
	"in":    OpIn,
}

// Filter is one conjunct of a WHERE clause.
// Value is set for scalar operators, Values for OpIn, neither for OpIsNull.
type Filter struct {
	Column string
	Op     Op
	Value  interface{}
	Values []interface{}
}

// Eq builds an equality filter
func Eq(column string, value interface{}) Filter {
	return Filter{Column: column, Op: OpEq, Value: value}
}

// In builds a membership filter
func In(column string, values ...interface{}) Filter {
	return Filter{Column: column, Op: OpIn, Values: values}
}

// IsNull builds an IS NULL filter
func IsNull(column string) Filter {
	return Filter{Column: column, Op: OpIsNull}
}

// Compare builds a tagged comparison filter
func Compare(column string, op Op, value interface{}) Filter {
	return Filter{Column: column, Op: op, Value: value}
}

// ParseFilters converts the loosely typed wire form (column -> scalar | null |
// list | {op, value}) into filters sorted by column name.
func ParseFilters(raw map[string]interface{}) ([]Filter, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	columns := make([]string, 0, len(raw))
	for col := range raw {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	filters := make([]Filter, 0, len(raw))
	for _, col := range columns {
		f, err := parseFilter(col, raw[col])
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return filters, nil
}

func parseFilter(col string, raw interface{}) (Filter, error) {
	switch v := raw.(type) {
	case nil:
		return IsNull(col), nil
	case []interface{}:
		values, err := scalarList(col, v)
		if err != nil {
			return Filter{}, err
		}
		return In(col, values...), nil
	case []string:
		values := make([]interface{}, len(v))
		for i := range v {
			values[i] = v[i]
		}
		return In(col, values...), nil
	case map[string]interface{}:
		return parseTagged(col, v)
	default:
		if !isScalar(v) {
			return Filter{}, apperr.InvalidRequest("invalid filter value for %s", col)
		}
		return Eq(col, v), nil
	}
}

func parseTagged(col string, m map[string]interface{}) (Filter, error) {
	rawOp, ok := m["op"].(string)
	if !ok {
		return Filter{}, apperr.InvalidRequest("invalid operator for %s", col)
	}
	op, ok := taggedOps[rawOp]
	if !ok {
		return Filter{}, apperr.InvalidRequest("invalid operator for %s", col)
	}
	value, ok := m["value"]
	if !ok {
		return Filter{}, apperr.InvalidRequest("missing value for %s", col)
	}

	switch op {
	case OpIn:
		list, ok := value.([]interface{})
		if !ok {
			return Filter{}, apperr.InvalidRequest("operator in requires a list for %s", col)
		}
		values, err := scalarList(col, list)
		if err != nil {
			return Filter{}, err
		}
		return In(col, values...), nil
	case OpLike, OpILike:
		if _, ok := value.(string); !ok {
			return Filter{}, apperr.InvalidRequest("operator %s requires a string for %s", rawOp, col)
		}
	default:
		if value == nil || !isScalar(value) {
			return Filter{}, apperr.InvalidRequest("operator %s requires a scalar for %s", rawOp, col)
		}
	}
	return Compare(col, op, value), nil
}

func scalarList(col string, list []interface{}) ([]interface{}, error) {
	values := make([]interface{}, 0, len(list))
	for _, item := range list {
		if item != nil && !isScalar(item) {
			return nil, apperr.InvalidRequest("invalid list element for %s", col)
		}
		values = append(values, item)
	}
	return values, nil
}

func isScalar(v interface{}) bool {
	switch v.(type) {
	case string, bool, float64, float32, int, int32, int64, uint, uint32, uint64, json.Number:
		return true
	}
	return false
}

// compileFilter renders one filter into a predicate, binding every value
func compileFilter(b *Builder, f Filter) (string, error) {
	col := f.Column
	switch f.Op {
	case OpIsNull:
		return col + " IS NULL", nil
	case OpEq:
		return fmt.Sprintf("%s = %s", col, b.Bind(f.Value)), nil
	case OpIn:
		return b.dialect.Membership(b, col, f.Values), nil
	case OpGt:
		return fmt.Sprintf("%s > %s", col, b.Bind(f.Value)), nil
	case OpGte:
		return fmt.Sprintf("%s >= %s", col, b.Bind(f.Value)), nil
	case OpLt:
		return fmt.Sprintf("%s < %s", col, b.Bind(f.Value)), nil
	case OpLte:
		return fmt.Sprintf("%s <= %s", col, b.Bind(f.Value)), nil
	case OpNeq:
		return fmt.Sprintf("%s != %s", col, b.Bind(f.Value)), nil
	case OpLike:
		return fmt.Sprintf("%s LIKE %s", col, b.Bind(f.Value)), nil
	case OpILike:
		return fmt.Sprintf("%s %s %s", col, b.dialect.CaseInsensitiveLike(), b.Bind(f.Value)), nil
	default:
		return "", apperr.InvalidRequest("invalid operator for %s", col)
	}
}
