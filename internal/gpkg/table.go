package gpkg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jobrunner/geopack/internal/domain"
)

// Column describes one column of a user table.
type Column struct {
	Name       string
	Type       string // SQLite declared type, e.g. INTEGER, TEXT, BLOB
	PrimaryKey bool
	NotNull    bool
	Default    string // SQL literal, empty for none
}

func (c Column) definition() string {
	var b strings.Builder
	b.WriteString(Quote(c.Name))
	b.WriteByte(' ')
	b.WriteString(c.Type)
	if c.PrimaryKey {
		b.WriteString(" PRIMARY KEY AUTOINCREMENT")
	}
	if c.NotNull {
		b.WriteString(" NOT NULL")
	}
	if c.Default != "" {
		b.WriteString(" DEFAULT ")
		b.WriteString(c.Default)
	}
	return b.String()
}

// Schema is the descriptor a Table is driven by.
type Schema struct {
	Table   string
	Columns []Column
	// Unique lists column groups that carry a UNIQUE constraint.
	Unique [][]string
}

// PrimaryKey returns the primary key column name, "id" when none is flagged.
func (s Schema) PrimaryKey() string {
	for _, c := range s.Columns {
		if c.PrimaryKey {
			return c.Name
		}
	}
	return "id"
}

// HasColumn reports whether name is part of the schema.
func (s Schema) HasColumn(name string) bool {
	for _, c := range s.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

// CreateSQL returns the CREATE TABLE statement for the schema.
func (s Schema) CreateSQL() string {
	defs := make([]string, 0, len(s.Columns)+len(s.Unique))
	for _, c := range s.Columns {
		defs = append(defs, c.definition())
	}
	for _, group := range s.Unique {
		quoted := make([]string, len(group))
		for i, name := range group {
			quoted[i] = Quote(name)
		}
		defs = append(defs, "UNIQUE ("+strings.Join(quoted, ", ")+")")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", Quote(s.Table), strings.Join(defs, ", "))
}

// ReadSchema reconstructs a schema from PRAGMA table_info.
func ReadSchema(ctx context.Context, q Querier, table string) (Schema, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", Quote(table)))
	if err != nil {
		return Schema{}, &domain.StoreError{Op: "table info", Table: table, Err: err}
	}
	defer func() { _ = rows.Close() }()

	s := Schema{Table: table}
	for rows.Next() {
		var cid, notNull, pk int
		var name, typ string
		var def sql.NullString
		if err := rows.Scan(&cid, &name, &typ, &notNull, &def, &pk); err != nil {
			return Schema{}, &domain.StoreError{Op: "table info", Table: table, Err: err}
		}
		s.Columns = append(s.Columns, Column{
			Name:       name,
			Type:       typ,
			PrimaryKey: pk > 0,
			NotNull:    notNull != 0,
			Default:    def.String,
		})
	}
	if err := rows.Err(); err != nil {
		return Schema{}, &domain.StoreError{Op: "table info", Table: table, Err: err}
	}
	if len(s.Columns) == 0 {
		return Schema{}, &domain.StoreError{Op: "table info", Table: table, Err: domain.ErrTableNotFound}
	}
	return s, nil
}

// Query selects rows of a table. The zero value selects every column of
// every row.
type Query struct {
	Columns  []string // projection; nil means all columns
	Distinct bool
	Where    string // SQL predicate with ? placeholders
	Args     []any
	OrderBy  string
	Limit    int // 0 means no limit
	Offset   int
}

// And returns a copy of q with an additional predicate.
func (q Query) And(where string, args ...any) Query {
	if where == "" {
		return q
	}
	if q.Where == "" {
		q.Where = where
	} else {
		q.Where = "(" + q.Where + ") AND (" + where + ")"
	}
	q.Args = append(append([]any(nil), q.Args...), args...)
	return q
}

// FieldValues builds an equality predicate over the given columns, sorted
// by name so the generated SQL is stable. Nil values match NULL.
func FieldValues(values map[string]any) (string, []any) {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	args := make([]any, 0, len(names))
	for _, name := range names {
		if values[name] == nil {
			parts = append(parts, Quote(name)+" IS NULL")
			continue
		}
		parts = append(parts, Quote(name)+" = ?")
		args = append(args, values[name])
	}
	return strings.Join(parts, " AND "), args
}

// SelectSQL renders q against table.
func SelectSQL(table string, q Query) (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT ")
	if q.Distinct {
		b.WriteString("DISTINCT ")
	}
	if len(q.Columns) == 0 {
		b.WriteString("*")
	} else {
		for i, c := range q.Columns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(Quote(c))
		}
	}
	b.WriteString(" FROM ")
	b.WriteString(Quote(table))
	if q.Where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(q.Where)
	}
	if q.OrderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(q.OrderBy)
	}
	args := append([]any(nil), q.Args...)
	if q.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
		if q.Offset > 0 {
			b.WriteString(" OFFSET ?")
			args = append(args, q.Offset)
		}
	} else if q.Offset > 0 {
		b.WriteString(" LIMIT -1 OFFSET ?")
		args = append(args, q.Offset)
	}
	return b.String(), args
}

// CountSQL renders a count of the rows q selects. Distinct projections are
// counted as distinct tuples.
func CountSQL(table string, q Query) (string, []any) {
	if q.Distinct && len(q.Columns) > 0 {
		inner, args := SelectSQL(table, Query{Columns: q.Columns, Distinct: true, Where: q.Where, Args: q.Args})
		return "SELECT COUNT(*) FROM (" + inner + ")", args
	}
	s := "SELECT COUNT(*) FROM " + Quote(table)
	if q.Where != "" {
		s += " WHERE " + q.Where
	}
	return s, append([]any(nil), q.Args...)
}

// Row is one result row with column-name lookup.
type Row struct {
	Columns []string
	Values  []any
}

// Get returns the value of a column.
func (r Row) Get(name string) (any, bool) {
	for i, c := range r.Columns {
		if c == name {
			return r.Values[i], true
		}
	}
	return nil, false
}

// Int64 returns an integer column, false when missing or not an integer.
func (r Row) Int64(name string) (int64, bool) {
	v, ok := r.Get(name)
	if !ok {
		return 0, false
	}
	i, ok := v.(int64)
	return i, ok
}

// Bytes returns a blob column.
func (r Row) Bytes(name string) []byte {
	v, _ := r.Get(name)
	switch b := v.(type) {
	case []byte:
		return b
	case string:
		return []byte(b)
	}
	return nil
}

// Map returns the row as a column-name map, skipping the named columns.
func (r Row) Map(skip ...string) map[string]any {
	m := make(map[string]any, len(r.Columns))
outer:
	for i, c := range r.Columns {
		for _, s := range skip {
			if c == s {
				continue outer
			}
		}
		m[c] = r.Values[i]
	}
	return m
}

// ScanRows reads all rows of a result set.
func ScanRows(rows *sql.Rows) ([]Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []Row
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		out = append(out, Row{Columns: columns, Values: values})
	}
	return out, rows.Err()
}

// Table is a generic schema-driven accessor for one user table.
type Table struct {
	db     *DB
	schema Schema
}

// NewTable binds a schema to a container.
func NewTable(db *DB, schema Schema) *Table {
	return &Table{db: db, schema: schema}
}

// OpenTable reads the schema of an existing table.
func OpenTable(ctx context.Context, db *DB, name string) (*Table, error) {
	s, err := ReadSchema(ctx, db.db, name)
	if err != nil {
		return nil, err
	}
	return NewTable(db, s), nil
}

// Name returns the table name.
func (t *Table) Name() string { return t.schema.Table }

// Schema returns the descriptor.
func (t *Table) Schema() Schema { return t.schema }

// DB returns the container.
func (t *Table) DB() *DB { return t.db }

// Create creates the table if it does not exist.
func (t *Table) Create(ctx context.Context, q Querier) error {
	_, err := q.ExecContext(ctx, t.schema.CreateSQL())
	return storeErr("create table", t.schema.Table, err)
}

func (t *Table) checkColumns(values map[string]any) ([]string, error) {
	names := make([]string, 0, len(values))
	for name := range values {
		if !t.schema.HasColumn(name) {
			return nil, &domain.StoreError{
				Op:    "write",
				Table: t.schema.Table,
				Err:   fmt.Errorf("unknown column %q: %w", name, domain.ErrInvalidInput),
			}
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Insert adds a row and returns its rowid.
func (t *Table) Insert(ctx context.Context, q Querier, values map[string]any) (int64, error) {
	names, err := t.checkColumns(values)
	if err != nil {
		return 0, err
	}
	var stmt string
	args := make([]any, len(names))
	if len(names) == 0 {
		stmt = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", Quote(t.schema.Table))
	} else {
		quoted := make([]string, len(names))
		marks := make([]string, len(names))
		for i, name := range names {
			quoted[i] = Quote(name)
			marks[i] = "?"
			args[i] = values[name]
		}
		stmt = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", //#nosec G201 -- identifiers are quoted
			Quote(t.schema.Table), strings.Join(quoted, ", "), strings.Join(marks, ", "))
	}
	res, err := q.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, &domain.StoreError{Op: "insert", Table: t.schema.Table, Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, &domain.StoreError{Op: "insert", Table: t.schema.Table, Err: err}
	}
	return id, nil
}

// Update changes the given columns of the row with primary key id and
// returns the number of rows affected.
func (t *Table) Update(ctx context.Context, q Querier, id int64, values map[string]any) (int64, error) {
	names, err := t.checkColumns(values)
	if err != nil || len(names) == 0 {
		return 0, err
	}
	sets := make([]string, len(names))
	args := make([]any, 0, len(names)+1)
	for i, name := range names {
		sets[i] = Quote(name) + " = ?"
		args = append(args, values[name])
	}
	args = append(args, id)
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", //#nosec G201 -- identifiers are quoted
		Quote(t.schema.Table), strings.Join(sets, ", "), Quote(t.schema.PrimaryKey()))
	return t.exec(ctx, q, "update", stmt, args...)
}

// Delete removes the row with primary key id.
func (t *Table) Delete(ctx context.Context, q Querier, id int64) (int64, error) {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", Quote(t.schema.Table), Quote(t.schema.PrimaryKey()))
	return t.exec(ctx, q, "delete", stmt, id)
}

// DeleteWhere removes all rows matching a predicate.
func (t *Table) DeleteWhere(ctx context.Context, q Querier, where string, args ...any) (int64, error) {
	stmt := "DELETE FROM " + Quote(t.schema.Table)
	if where != "" {
		stmt += " WHERE " + where
	}
	return t.exec(ctx, q, "delete", stmt, args...)
}

func (t *Table) exec(ctx context.Context, q Querier, op, stmt string, args ...any) (int64, error) {
	res, err := q.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, &domain.StoreError{Op: op, Table: t.schema.Table, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &domain.StoreError{Op: op, Table: t.schema.Table, Err: err}
	}
	return n, nil
}

// Get returns the row with primary key id.
func (t *Table) Get(ctx context.Context, q Querier, id int64) (Row, error) {
	rows, err := t.Query(ctx, q, Query{Where: Quote(t.schema.PrimaryKey()) + " = ?", Args: []any{id}})
	if err != nil {
		return Row{}, err
	}
	if len(rows) == 0 {
		return Row{}, &domain.StoreError{
			Op:    "get",
			Table: t.schema.Table,
			Err:   fmt.Errorf("row %d: %w", id, domain.ErrNotFound),
		}
	}
	return rows[0], nil
}

// Query runs a select and reads all rows.
func (t *Table) Query(ctx context.Context, q Querier, query Query) ([]Row, error) {
	stmt, args := SelectSQL(t.schema.Table, query)
	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, &domain.StoreError{Op: "query", Table: t.schema.Table, Err: err}
	}
	defer func() { _ = rows.Close() }()
	out, err := ScanRows(rows)
	if err != nil {
		return nil, &domain.StoreError{Op: "query", Table: t.schema.Table, Err: err}
	}
	return out, nil
}

// Count returns the number of rows a query selects.
func (t *Table) Count(ctx context.Context, q Querier, query Query) (int64, error) {
	stmt, args := CountSQL(t.schema.Table, query)
	var n int64
	if err := q.QueryRowContext(ctx, stmt, args...).Scan(&n); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, &domain.StoreError{Op: "count", Table: t.schema.Table, Err: err}
	}
	return n, nil
}
