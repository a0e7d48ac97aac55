package query

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect captures the SQL differences between the supported stores
type Dialect interface {
	Name() string
	Placeholder(n int) string
	// Membership renders "column IN values", binding through b
	Membership(b *Builder, column string, values []interface{}) string
	CaseInsensitiveLike() string
	// BucketExpr renders the start of the bucketSeconds-wide window containing column
	BucketExpr(b *Builder, column string, bucketSeconds int) string
	// VectorDistance renders the cosine distance between column and a bound vector literal
	VectorDistance(b *Builder, column string, vector string) string
	// Rebind rewrites '?' placeholders into the dialect's form
	Rebind(query string) string
}

// Builder accumulates bound arguments for one statement
type Builder struct {
	dialect Dialect
	args    []interface{}
}

// NewBuilder creates a builder for d
func NewBuilder(d Dialect) *Builder {
	return &Builder{dialect: d}
}

// Bind appends v and returns its placeholder
func (b *Builder) Bind(v interface{}) string {
	b.args = append(b.args, v)
	return b.dialect.Placeholder(len(b.args))
}

// Args returns the bound arguments in placeholder order
func (b *Builder) Args() []interface{} {
	return b.args
}

// Postgres is the production dialect
var Postgres Dialect = postgresDialect{}

// SQLite is the local/test dialect
var SQLite Dialect = sqliteDialect{}

// DialectFor returns the dialect for a database/sql driver name
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "postgres", "pgx":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return nil, fmt.Errorf("unsupported driver: %s", driver)
}

type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }

func (postgresDialect) Placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

func (postgresDialect) Membership(b *Builder, column string, values []interface{}) string {
	return fmt.Sprintf("%s = ANY(%s)", column, b.Bind(pgArray(values)))
}

func (postgresDialect) CaseInsensitiveLike() string { return "ILIKE" }

func (postgresDialect) BucketExpr(b *Builder, column string, bucketSeconds int) string {
	p := b.Bind(bucketSeconds)
	return fmt.Sprintf("to_timestamp(floor(extract(epoch from %s) / %s) * %s)", column, p, p)
}

func (postgresDialect) VectorDistance(b *Builder, column string, vector string) string {
	return fmt.Sprintf("(%s <=> %s::vector)", column, b.Bind(vector))
}

func (postgresDialect) Rebind(query string) string {
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c == '\'' {
			inQuote = !inQuote
		}
		if c == '?' && !inQuote {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite" }

func (sqliteDialect) Placeholder(int) string { return "?" }

func (sqliteDialect) Membership(b *Builder, column string, values []interface{}) string {
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = b.Bind(v)
	}
	return fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ", "))
}

func (sqliteDialect) CaseInsensitiveLike() string { return "LIKE" }

func (sqliteDialect) BucketExpr(b *Builder, column string, bucketSeconds int) string {
	// positional placeholders cannot be reused, so the width is bound twice
	return fmt.Sprintf("((CAST(strftime('%%s', %s) AS INTEGER) / %s) * %s)",
		column, b.Bind(bucketSeconds), b.Bind(bucketSeconds))
}

func (sqliteDialect) VectorDistance(b *Builder, column string, vector string) string {
	return fmt.Sprintf("vec_distance_cosine(%s, %s)", column, b.Bind(vector))
}

func (sqliteDialect) Rebind(query string) string { return query }

// pgArray narrows a mixed list into a typed slice the driver can encode as an array.
// NULL elements never match "= ANY" and are dropped.
func pgArray(values []interface{}) interface{} {
	var (
		strs   []string
		floats []float64
		bools  []bool
	)
	allStr, allNum, allBool := true, true, true
	for _, v := range values {
		switch x := v.(type) {
		case nil:
			continue
		case string:
			strs = append(strs, x)
			allNum, allBool = false, false
		case bool:
			bools = append(bools, x)
			allStr, allNum = false, false
		default:
			f, ok := toFloat(x)
			if !ok {
				allNum = false
			} else {
				floats = append(floats, f)
			}
			allStr, allBool = false, false
		}
	}

	switch {
	case allNum && len(floats) > 0:
		return floats
	case allBool && len(bools) > 0:
		return bools
	case allStr:
		if strs == nil {
			strs = []string{}
		}
		return strs
	}

	mixed := make([]string, 0, len(values))
	for _, v := range values {
		if v != nil {
			mixed = append(mixed, fmt.Sprint(v))
		}
	}
	return mixed
}
