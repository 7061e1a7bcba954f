// Package query implements the typed filter/sort/limit engine of the record
// store API.
//
// A query is parsed from URL parameters into a closed set of typed clauses,
// so that every (field, operator) pair is validated before execution and all
// values are bound as typed struct fields. Nothing from the request is ever
// concatenated into the filter logic.
package query

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ALU-Schumacher/AUDITOR-sub000/records"
)

// Operator is a comparison operator of a query clause.
type Operator int

const (
	OpGT Operator = iota
	OpGTE
	OpLT
	OpLTE
	OpEquals
)

var opNames = map[Operator]string{
	OpGT:     "gt",
	OpGTE:    "gte",
	OpLT:     "lt",
	OpLTE:    "lte",
	OpEquals: "equals",
}

func (op Operator) String() string { return opNames[op] }

func parseRangeOp(s string) (Operator, bool) {
	switch s {
	case "gt":
		return OpGT, true
	case "gte":
		return OpGTE, true
	case "lt":
		return OpLT, true
	case "lte":
		return OpLTE, true
	}
	return 0, false
}

// SortField is one of the fixed allow-list of sortable columns.
type SortField string

const (
	SortStartTime SortField = "start_time"
	SortStopTime  SortField = "stop_time"
	SortRuntime   SortField = "runtime"
	SortRecordID  SortField = "record_id"
)

type SortDir string

const (
	Asc  SortDir = "asc"
	Desc SortDir = "desc"
)

// clause is the closed set of filter variants. All implementations live in
// this package; there is no dynamic dispatch on request data at execution
// time.
type clause interface {
	matches(rec records.Record) bool
	encode(v url.Values)
}

type recordIDClause struct {
	ID string
}

type timeClause struct {
	Field SortField // SortStartTime or SortStopTime
	Op    Operator
	Value time.Time
}

type runtimeClause struct {
	Op      Operator
	Seconds int64
}

type metaClause struct {
	Key    string
	Values []string
	Negate bool // does-not-contain
}

type componentClause struct {
	Name   string
	Op     Operator
	Amount int64
}

// Query is a parsed, validated filter/sort/limit expression. The zero value
// matches all records in store order without a limit.
type Query struct {
	clauses []clause
	sortBy  SortField
	sortDir SortDir
	limit   int
}

// New returns an empty query for use with the builder methods.
func New() *Query { return &Query{} }

func (q *Query) RecordID(id string) *Query {
	q.clauses = append(q.clauses, recordIDClause{ID: id})
	return q
}

func (q *Query) StartTime(op Operator, t time.Time) *Query {
	q.clauses = append(q.clauses, timeClause{Field: SortStartTime, Op: op, Value: t.UTC()})
	return q
}

func (q *Query) StopTime(op Operator, t time.Time) *Query {
	q.clauses = append(q.clauses, timeClause{Field: SortStopTime, Op: op, Value: t.UTC()})
	return q
}

func (q *Query) Runtime(op Operator, seconds int64) *Query {
	q.clauses = append(q.clauses, runtimeClause{Op: op, Seconds: seconds})
	return q
}

func (q *Query) MetaContains(key string, values ...string) *Query {
	q.clauses = append(q.clauses, metaClause{Key: key, Values: values})
	return q
}

func (q *Query) MetaNotContains(key string, values ...string) *Query {
	q.clauses = append(q.clauses, metaClause{Key: key, Values: values, Negate: true})
	return q
}

func (q *Query) Component(name string, op Operator, amount int64) *Query {
	q.clauses = append(q.clauses, componentClause{Name: name, Op: op, Amount: amount})
	return q
}

func (q *Query) SortBy(field SortField, dir SortDir) *Query {
	q.sortBy = field
	q.sortDir = dir
	return q
}

func (q *Query) Limit(n int) *Query {
	q.limit = n
	return q
}

// Parse builds a Query from URL parameters, e.g.:
//
//	start_time[gt]=2024-05-01T10:00:00Z&meta[site][c]=[site_a]&sort_by[desc]=stop_time&limit=500
//
// Any unsupported field or operator, and any malformed value, fails the whole
// query with a single InvalidQuery error.
func Parse(values url.Values) (*Query, error) {
	q := &Query{}
	for key, vals := range values {
		name, args, err := splitKey(key)
		if err != nil {
			return nil, err
		}
		for _, val := range vals {
			if err := q.parseClause(name, args, val); err != nil {
				return nil, err
			}
		}
	}
	return q, nil
}

func (q *Query) parseClause(name string, args []string, val string) error {
	switch name {
	case "record_id":
		if len(args) != 0 {
			return invalidf("record_id takes no operator")
		}
		q.clauses = append(q.clauses, recordIDClause{ID: val})

	case "start_time", "stop_time":
		if len(args) != 1 {
			return invalidf("%s requires exactly one operator", name)
		}
		op, ok := parseRangeOp(args[0])
		if !ok {
			return invalidf("%s: unsupported operator %q", name, args[0])
		}
		t, err := parseTime(val)
		if err != nil {
			return invalidf("%s: unparsable timestamp %q", name, val)
		}
		field := SortStartTime
		if name == "stop_time" {
			field = SortStopTime
		}
		q.clauses = append(q.clauses, timeClause{Field: field, Op: op, Value: t})

	case "runtime":
		if len(args) != 1 {
			return invalidf("runtime requires exactly one operator")
		}
		op, ok := parseRangeOp(args[0])
		if !ok {
			return invalidf("runtime: unsupported operator %q", args[0])
		}
		secs, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return invalidf("runtime: unparsable number %q", val)
		}
		q.clauses = append(q.clauses, runtimeClause{Op: op, Seconds: secs})

	case "meta":
		if len(args) != 2 {
			return invalidf("meta requires a key and an operator, like meta[site][c]")
		}
		var negate bool
		switch args[1] {
		case "c", "contains":
			negate = false
		case "dnc", "does-not-contain":
			negate = true
		default:
			return invalidf("meta[%s]: unsupported operator %q", args[0], args[1])
		}
		list, err := parseList(val)
		if err != nil {
			return invalidf("meta[%s]: %v", args[0], err)
		}
		q.clauses = append(q.clauses, metaClause{Key: args[0], Values: list, Negate: negate})

	case "component":
		if len(args) != 2 {
			return invalidf("component requires a name and an operator, like component[CPU][gte]")
		}
		op, ok := parseRangeOp(args[1])
		if !ok {
			if args[1] != "equals" {
				return invalidf("component[%s]: unsupported operator %q", args[0], args[1])
			}
			op = OpEquals
		}
		amount, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return invalidf("component[%s]: unparsable number %q", args[0], val)
		}
		q.clauses = append(q.clauses, componentClause{Name: args[0], Op: op, Amount: amount})

	case "sort_by":
		if len(args) != 1 {
			return invalidf("sort_by requires a direction, like sort_by[desc]")
		}
		if q.sortBy != "" {
			return invalidf("sort_by given more than once")
		}
		var dir SortDir
		switch args[0] {
		case "asc":
			dir = Asc
		case "desc":
			dir = Desc
		default:
			return invalidf("sort_by: unsupported direction %q", args[0])
		}
		switch SortField(val) {
		case SortStartTime, SortStopTime, SortRuntime, SortRecordID:
		default:
			return invalidf("sort_by: unsupported column %q", val)
		}
		q.sortBy = SortField(val)
		q.sortDir = dir

	case "limit":
		if len(args) != 0 {
			return invalidf("limit takes no operator")
		}
		n, err := strconv.Atoi(val)
		if err != nil || n <= 0 {
			return invalidf("limit: must be a positive integer, got %q", val)
		}
		q.limit = n

	default:
		return invalidf("unsupported field %q", name)
	}
	return nil
}

// Encode renders the query in the wire grammar understood by Parse.
func (q *Query) Encode() url.Values {
	v := url.Values{}
	for _, c := range q.clauses {
		c.encode(v)
	}
	if q.sortBy != "" {
		v.Set(fmt.Sprintf("sort_by[%s]", q.sortDir), string(q.sortBy))
	}
	if q.limit > 0 {
		v.Set("limit", strconv.Itoa(q.limit))
	}
	return v
}

func (c recordIDClause) encode(v url.Values) {
	v.Set("record_id", c.ID)
}

func (c timeClause) encode(v url.Values) {
	v.Add(fmt.Sprintf("%s[%s]", c.Field, c.Op), c.Value.UTC().Format(time.RFC3339))
}

func (c runtimeClause) encode(v url.Values) {
	v.Add(fmt.Sprintf("runtime[%s]", c.Op), strconv.FormatInt(c.Seconds, 10))
}

func (c metaClause) encode(v url.Values) {
	op := "c"
	if c.Negate {
		op = "dnc"
	}
	v.Add(fmt.Sprintf("meta[%s][%s]", c.Key, op), "["+strings.Join(c.Values, ",")+"]")
}

func (c componentClause) encode(v url.Values) {
	v.Add(fmt.Sprintf("component[%s][%s]", c.Name, c.Op), strconv.FormatInt(c.Amount, 10))
}

// splitKey splits "meta[site][c]" into "meta" and ["site", "c"].
func splitKey(key string) (name string, args []string, err error) {
	i := strings.IndexByte(key, '[')
	if i < 0 {
		return key, nil, nil
	}
	name = key[:i]
	rest := key[i:]
	for rest != "" {
		if rest[0] != '[' {
			return "", nil, invalidf("malformed parameter %q", key)
		}
		j := strings.IndexByte(rest, ']')
		if j < 0 {
			return "", nil, invalidf("malformed parameter %q", key)
		}
		args = append(args, rest[1:j])
		rest = rest[j+1:]
	}
	return name, args, nil
}

// parseTime accepts RFC3339 and a bare "2006-01-02T15:04:05", which is
// interpreted as UTC.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02T15:04:05", s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// parseList parses a "[a,b,c]" value list.
func parseList(s string) ([]string, error) {
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("expected a [a,b,...] list, got %q", s)
	}
	inner := s[1 : len(s)-1]
	if inner == "" {
		return nil, fmt.Errorf("empty value list")
	}
	return strings.Split(inner, ","), nil
}

func invalidf(format string, args ...interface{}) error {
	return &records.InvalidQueryError{Reason: fmt.Sprintf(format, args...)}
}
