package querybuilder

import (
	"fmt"
	"sort"
	"strings"
)

// QueryBuilder provides a fluent interface for building PostgreSQL queries.
// Conditions are kept as data so they can be rendered to SQL or interpreted
// directly by an in-memory source.
type QueryBuilder struct {
	queryType  QueryType
	table      string
	columns    []string
	conditions []Condition
	orderBy    []OrderBy
	groupBy    []string
	limit      *int
	offset     *int
	setValues  map[string]interface{}
	onConflict *ConflictClause
}

// QueryType represents the type of SQL query
type QueryType int

const (
	SelectQuery QueryType = iota
	InsertQuery
)

// Condition represents a WHERE condition. A condition with a non-empty Group
// is a parenthesized disjunction of its members; Column, Operator and Value
// are then unused.
type Condition struct {
	Column   string
	Operator Operator
	Value    interface{}
	Logical  LogicalOperator
	Group    []Condition
}

// OrderBy represents an ORDER BY clause
type OrderBy struct {
	Column    string
	Direction Direction
	Collate   string
}

// ConflictClause represents an ON CONFLICT clause for INSERT
type ConflictClause struct {
	Columns []string
	Action  ConflictAction
}

// Operator represents SQL comparison operators
type Operator int

const (
	Equal Operator = iota
	NotEqual
	GreaterThan
	GreaterThanOrEqual
	LessThan
	LessThanOrEqual
	ILike
	In
	IsNull
	IsNotNull
)

// LogicalOperator represents logical operators (AND, OR)
type LogicalOperator int

const (
	And LogicalOperator = iota
	Or
)

// Direction represents sort direction
type Direction int

const (
	Asc Direction = iota
	Desc
)

// ConflictAction represents ON CONFLICT actions
type ConflictAction int

const (
	DoNothing ConflictAction = iota
)

// New creates a new QueryBuilder instance
func New() *QueryBuilder {
	return &QueryBuilder{
		setValues: make(map[string]interface{}),
	}
}

// Select starts a SELECT query
func (qb *QueryBuilder) Select(columns ...string) *QueryBuilder {
	qb.queryType = SelectQuery
	qb.columns = columns
	return qb
}

// Insert starts an INSERT query
func (qb *QueryBuilder) Insert(table string) *QueryBuilder {
	qb.queryType = InsertQuery
	qb.table = table
	return qb
}

// From sets the table for SELECT queries
func (qb *QueryBuilder) From(table string) *QueryBuilder {
	qb.table = table
	return qb
}

// Set adds a column=value pair for INSERT queries
func (qb *QueryBuilder) Set(column string, value interface{}) *QueryBuilder {
	qb.setValues[column] = value
	return qb
}

// Where adds a WHERE condition with AND logic
func (qb *QueryBuilder) Where(column string, operator Operator, value interface{}) *QueryBuilder {
	qb.conditions = append(qb.conditions, Condition{
		Column:   column,
		Operator: operator,
		Value:    value,
		Logical:  And,
	})
	return qb
}

// WhereIn adds an IN condition. An empty list matches nothing, as in SQL.
func (qb *QueryBuilder) WhereIn(column string, values []interface{}) *QueryBuilder {
	return qb.Where(column, In, values)
}

// WhereAny adds a parenthesized OR of members, joined to the rest with AND
func (qb *QueryBuilder) WhereAny(members ...Condition) *QueryBuilder {
	if len(members) == 0 {
		return qb
	}
	group := make([]Condition, len(members))
	copy(group, members)
	qb.conditions = append(qb.conditions, Condition{Logical: And, Group: group})
	return qb
}

// OrderBy adds an ORDER BY clause
func (qb *QueryBuilder) OrderBy(column string, direction Direction) *QueryBuilder {
	qb.orderBy = append(qb.orderBy, OrderBy{Column: column, Direction: direction})
	return qb
}

// OrderByCollate adds an ORDER BY clause with an explicit collation
func (qb *QueryBuilder) OrderByCollate(column string, direction Direction, collation string) *QueryBuilder {
	qb.orderBy = append(qb.orderBy, OrderBy{Column: column, Direction: direction, Collate: collation})
	return qb
}

// OrderByAsc adds an ORDER BY ASC clause
func (qb *QueryBuilder) OrderByAsc(column string) *QueryBuilder {
	return qb.OrderBy(column, Asc)
}

// GroupBy adds a GROUP BY clause
func (qb *QueryBuilder) GroupBy(columns ...string) *QueryBuilder {
	qb.groupBy = append(qb.groupBy, columns...)
	return qb
}

// Limit sets the LIMIT clause
func (qb *QueryBuilder) Limit(limit int) *QueryBuilder {
	qb.limit = &limit
	return qb
}

// Offset sets the OFFSET clause
func (qb *QueryBuilder) Offset(offset int) *QueryBuilder {
	qb.offset = &offset
	return qb
}

// OnConflict sets the ON CONFLICT clause for INSERT
func (qb *QueryBuilder) OnConflict(columns []string, action ConflictAction) *QueryBuilder {
	qb.onConflict = &ConflictClause{
		Columns: columns,
		Action:  action,
	}
	return qb
}

// Conditions returns a copy of the WHERE conditions
func (qb *QueryBuilder) Conditions() []Condition {
	out := make([]Condition, len(qb.conditions))
	copy(out, qb.conditions)
	return out
}

// Ordering returns a copy of the ORDER BY clauses
func (qb *QueryBuilder) Ordering() []OrderBy {
	out := make([]OrderBy, len(qb.orderBy))
	copy(out, qb.orderBy)
	return out
}

// Window returns the LIMIT and OFFSET values, with ok flags for each
func (qb *QueryBuilder) Window() (limit int, hasLimit bool, offset int, hasOffset bool) {
	if qb.limit != nil {
		limit, hasLimit = *qb.limit, true
	}
	if qb.offset != nil {
		offset, hasOffset = *qb.offset, true
	}
	return
}

// ToSQL generates the SQL query and parameter list
func (qb *QueryBuilder) ToSQL() (string, []interface{}, error) {
	switch qb.queryType {
	case SelectQuery:
		return qb.buildSelect()
	case InsertQuery:
		return qb.buildInsert()
	default:
		return "", nil, fmt.Errorf("unknown query type")
	}
}

// EscapeLike escapes LIKE wildcards so s matches literally
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// ContainsPattern builds an ILIKE pattern matching s anywhere
func ContainsPattern(s string) string {
	return "%" + EscapeLike(s) + "%"
}

func (qb *QueryBuilder) buildSelect() (string, []interface{}, error) {
	if qb.table == "" {
		return "", nil, fmt.Errorf("table name is required for SELECT query")
	}

	var query strings.Builder
	var params []interface{}
	paramIndex := 1

	query.WriteString("SELECT ")
	if len(qb.columns) == 0 {
		query.WriteString("*")
	} else {
		query.WriteString(strings.Join(qb.columns, ", "))
	}

	query.WriteString(" FROM ")
	query.WriteString(qb.table)

	whereClause, whereParams, newIndex, err := buildConditions(qb.conditions, paramIndex)
	if err != nil {
		return "", nil, err
	}
	if whereClause != "" {
		query.WriteString(" WHERE ")
		query.WriteString(whereClause)
		params = append(params, whereParams...)
		paramIndex = newIndex
	}

	if len(qb.groupBy) > 0 {
		query.WriteString(" GROUP BY ")
		query.WriteString(strings.Join(qb.groupBy, ", "))
	}

	if len(qb.orderBy) > 0 {
		query.WriteString(" ORDER BY ")
		orderClauses := make([]string, len(qb.orderBy))
		for i, order := range qb.orderBy {
			direction := "ASC"
			if order.Direction == Desc {
				direction = "DESC"
			}
			column := order.Column
			if order.Collate != "" {
				column = fmt.Sprintf(`%s COLLATE "%s"`, column, order.Collate)
			}
			orderClauses[i] = fmt.Sprintf("%s %s", column, direction)
		}
		query.WriteString(strings.Join(orderClauses, ", "))
	}

	if qb.limit != nil {
		query.WriteString(fmt.Sprintf(" LIMIT $%d", paramIndex))
		params = append(params, *qb.limit)
		paramIndex++
	}

	if qb.offset != nil {
		query.WriteString(fmt.Sprintf(" OFFSET $%d", paramIndex))
		params = append(params, *qb.offset)
	}

	return query.String(), params, nil
}

func (qb *QueryBuilder) buildInsert() (string, []interface{}, error) {
	if qb.table == "" {
		return "", nil, fmt.Errorf("table name is required for INSERT query")
	}
	if len(qb.setValues) == 0 {
		return "", nil, fmt.Errorf("no values specified for INSERT query")
	}

	var query strings.Builder
	params := make([]interface{}, 0, len(qb.setValues))

	query.WriteString("INSERT INTO ")
	query.WriteString(qb.table)

	// Sorted so the statement text is stable across calls
	columns := make([]string, 0, len(qb.setValues))
	for column := range qb.setValues {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	placeholders := make([]string, len(columns))
	for i, column := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		params = append(params, qb.setValues[column])
	}

	query.WriteString(" (")
	query.WriteString(strings.Join(columns, ", "))
	query.WriteString(") VALUES (")
	query.WriteString(strings.Join(placeholders, ", "))
	query.WriteString(")")

	if qb.onConflict != nil {
		query.WriteString(" ON CONFLICT (")
		query.WriteString(strings.Join(qb.onConflict.Columns, ", "))
		query.WriteString(") DO NOTHING")
	}

	return query.String(), params, nil
}

func buildConditions(conditions []Condition, startIndex int) (string, []interface{}, int, error) {
	if len(conditions) == 0 {
		return "", nil, startIndex, nil
	}

	var parts []string
	var params []interface{}
	paramIndex := startIndex

	for i, condition := range conditions {
		var part string

		if i > 0 {
			if condition.Logical == Or {
				part = "OR "
			} else {
				part = "AND "
			}
		}

		if len(condition.Group) > 0 {
			members := make([]Condition, len(condition.Group))
			for j, m := range condition.Group {
				m.Logical = Or
				members[j] = m
			}
			inner, innerParams, next, err := buildConditions(members, paramIndex)
			if err != nil {
				return "", nil, 0, err
			}
			parts = append(parts, part+"("+inner+")")
			params = append(params, innerParams...)
			paramIndex = next
			continue
		}

		switch condition.Operator {
		case Equal, NotEqual, GreaterThan, GreaterThanOrEqual, LessThan, LessThanOrEqual:
			part += fmt.Sprintf("%s %s $%d", condition.Column, comparisonSymbol(condition.Operator), paramIndex)
			params = append(params, condition.Value)
			paramIndex++
		case ILike:
			part += fmt.Sprintf(`%s ILIKE $%d ESCAPE '\'`, condition.Column, paramIndex)
			params = append(params, condition.Value)
			paramIndex++
		case In:
			values, ok := condition.Value.([]interface{})
			if !ok {
				return "", nil, 0, fmt.Errorf("IN condition on %s requires a value list", condition.Column)
			}
			if len(values) == 0 {
				part += "FALSE"
				break
			}
			placeholders := make([]string, len(values))
			for j, value := range values {
				placeholders[j] = fmt.Sprintf("$%d", paramIndex)
				params = append(params, value)
				paramIndex++
			}
			part += fmt.Sprintf("%s IN (%s)", condition.Column, strings.Join(placeholders, ", "))
		case IsNull:
			part += fmt.Sprintf("%s IS NULL", condition.Column)
		case IsNotNull:
			part += fmt.Sprintf("%s IS NOT NULL", condition.Column)
		default:
			return "", nil, 0, fmt.Errorf("unsupported operator %d on %s", condition.Operator, condition.Column)
		}

		parts = append(parts, part)
	}

	return strings.Join(parts, " "), params, paramIndex, nil
}

func comparisonSymbol(op Operator) string {
	switch op {
	case NotEqual:
		return "!="
	case GreaterThan:
		return ">"
	case GreaterThanOrEqual:
		return ">="
	case LessThan:
		return "<"
	case LessThanOrEqual:
		return "<="
	default:
		return "="
	}
}
