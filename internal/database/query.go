package database

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Querier is satisfied by *sql.DB, *sql.Tx and *sql.Conn.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Record is one untyped table row keyed by column name.
type Record map[string]any

// String returns the column rendered as text. Missing and NULL columns are "".
func (r Record) String(column string) string {
	switch v := r[column].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

// TableQuery builds a SELECT over a single table.
type TableQuery struct {
	table   string
	columns []string
	where   []string
	args    []any
	orderBy string
	err     error
}

// Select starts a query on table. No columns means every column.
func Select(table string, columns ...string) *TableQuery {
	q := &TableQuery{table: table, columns: columns}
	q.check(table)
	for _, c := range columns {
		q.check(c)
	}
	return q
}

func (q *TableQuery) check(identifier string) {
	if q.err == nil && !identifierPattern.MatchString(identifier) {
		q.err = fmt.Errorf("invalid identifier: %q", identifier)
	}
}

// Eq adds an exact match predicate.
func (q *TableQuery) Eq(column string, value any) *TableQuery {
	q.check(column)
	q.where = append(q.where, quote(column)+" = ?")
	q.args = append(q.args, value)
	return q
}

// ILikePrefix adds a case-insensitive "starts with" predicate.
// LIKE wildcards inside prefix are matched literally.
func (q *TableQuery) ILikePrefix(column, prefix string) *TableQuery {
	q.check(column)
	q.where = append(q.where, quote(column)+` LIKE ? ESCAPE '\'`)
	q.args = append(q.args, escapeLike(prefix)+"%")
	return q
}

// In adds a membership predicate. An empty value list matches nothing.
func (q *TableQuery) In(column string, values []string) *TableQuery {
	q.check(column)
	if len(values) == 0 {
		q.where = append(q.where, "0 = 1")
		return q
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
	q.where = append(q.where, quote(column)+" IN ("+placeholders+")")
	for _, v := range values {
		q.args = append(q.args, v)
	}
	return q
}

// OrderBy sets the sort column.
func (q *TableQuery) OrderBy(column string, descending bool) *TableQuery {
	q.check(column)
	q.orderBy = quote(column)
	if descending {
		q.orderBy += " DESC"
	}
	return q
}

// Build renders the SQL text and its arguments.
func (q *TableQuery) Build() (string, []any, error) {
	if q.err != nil {
		return "", nil, q.err
	}

	cols := "*"
	if len(q.columns) > 0 {
		quoted := make([]string, len(q.columns))
		for i, c := range q.columns {
			quoted[i] = quote(c)
		}
		cols = strings.Join(quoted, ", ")
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(cols)
	b.WriteString(" FROM ")
	b.WriteString(quote(q.table))
	if len(q.where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(q.where, " AND "))
	}
	if q.orderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(q.orderBy)
	}

	return b.String(), q.args, nil
}

// Run executes the query and returns every row as a Record.
func (q *TableQuery) Run(ctx context.Context, db Querier) ([]Record, error) {
	query, args, err := q.Build()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", q.table, err)
	}
	defer rows.Close()

	return ScanRecords(rows)
}

// ScanRecords drains rows into Records. []byte values become strings.
func ScanRecords(rows *sql.Rows) ([]Record, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	records := []Record{}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		rec := make(Record, len(columns))
		for i, c := range columns {
			if b, ok := values[i].([]byte); ok {
				rec[c] = string(b)
			} else {
				rec[c] = values[i]
			}
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}

func quote(identifier string) string {
	return `"` + identifier + `"`
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
