// Package persistence defines the contract between the graph layer and the
// wide-column backing store, plus decorators that add resilience and metrics
// to any backend.
//
// A backend stores rows addressed by (table, partition, clustering). Rows of
// one partition are kept in clustering order and a single row write is
// atomic. Nothing is atomic across partitions.
package persistence

import (
	"context"
	"fmt"
	"strings"

	appErrors "github.com/brianhks/asterion/pkg/errors"
)

// Consistency is the replica agreement requested for a statement. Backends
// without tunable consistency may map every level to the strongest they
// offer.
type Consistency int

const (
	ConsistencyDefault Consistency = iota
	ConsistencyOne
	ConsistencyLocalQuorum
	ConsistencyQuorum
	ConsistencyAll
)

func (c Consistency) String() string {
	switch c {
	case ConsistencyOne:
		return "ONE"
	case ConsistencyLocalQuorum:
		return "LOCAL_QUORUM"
	case ConsistencyQuorum:
		return "QUORUM"
	case ConsistencyAll:
		return "ALL"
	default:
		return "DEFAULT"
	}
}

// Strong reports whether reads at this level must observe every
// acknowledged write.
func (c Consistency) Strong() bool {
	return c == ConsistencyQuorum || c == ConsistencyAll || c == ConsistencyLocalQuorum
}

// ParseConsistency converts a configuration value into a Consistency.
func ParseConsistency(s string) (Consistency, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "DEFAULT":
		return ConsistencyDefault, nil
	case "ONE":
		return ConsistencyOne, nil
	case "LOCAL_QUORUM":
		return ConsistencyLocalQuorum, nil
	case "QUORUM":
		return ConsistencyQuorum, nil
	case "ALL":
		return ConsistencyAll, nil
	default:
		return ConsistencyDefault, fmt.Errorf("unknown consistency level %q", s)
	}
}

// Op is the kind of a Statement.
type Op int

const (
	OpPut Op = iota + 1
	OpDelete
	OpGet
	OpQuery
)

func (o Op) String() string {
	switch o {
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	case OpGet:
		return "get"
	case OpQuery:
		return "query"
	default:
		return "unknown"
	}
}

// Statement is one row operation.
//
// OpPut and OpDelete address a single row and are idempotent. OpGet returns
// at most one row. OpQuery returns every row of a partition whose clustering
// key starts with ClusteringPrefix, in clustering order.
type Statement struct {
	Op               Op
	Table            string
	Partition        string
	Clustering       string
	ClusteringPrefix string
	Value            []byte
	Consistency      Consistency
}

// Validate checks that the statement is addressable.
func (s Statement) Validate() error {
	if s.Table == "" {
		return appErrors.NewValidationError("statement table is required")
	}
	if s.Partition == "" {
		return appErrors.NewValidationError("statement partition is required")
	}
	switch s.Op {
	case OpPut, OpDelete, OpGet:
		if s.Clustering == "" {
			return appErrors.NewValidationError(fmt.Sprintf("%s statement requires a clustering key", s.Op))
		}
	case OpQuery:
	default:
		return appErrors.NewValidationError(fmt.Sprintf("unknown statement op %d", int(s.Op)))
	}
	return nil
}

// Row is one stored row.
type Row struct {
	Partition  string
	Clustering string
	Value      []byte
}

// ResultSet holds the rows returned by OpGet or OpQuery. Writes return an
// empty set.
type ResultSet struct {
	Rows []Row
}

// One returns the first row, if any.
func (r *ResultSet) One() (Row, bool) {
	if r == nil || len(r.Rows) == 0 {
		return Row{}, false
	}
	return r.Rows[0], true
}

// Len returns the number of rows.
func (r *ResultSet) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// Column describes one key or value column of a table.
type Column struct {
	Name string
	Type string
}

// TableSpec declares a table layout. The partition key columns are stored
// as Row.Partition, the clustering columns as Row.Clustering and the value
// column, if any, as Row.Value.
type TableSpec struct {
	Name          string
	PartitionKey  []Column
	ClusteringKey []Column
	Value         *Column
}

// KeyspaceSpec declares a keyspace and its replication policy.
type KeyspaceSpec struct {
	Name              string
	Strategy          string
	ReplicationFactor int
}

// Session is a connection to the backing store. Implementations must be
// safe for concurrent use.
type Session interface {
	// Keyspace returns the keyspace the session operates in.
	Keyspace() string

	// CreateKeyspace and CreateTable are create-if-absent.
	CreateKeyspace(ctx context.Context, spec KeyspaceSpec) error
	CreateTable(ctx context.Context, spec TableSpec) error

	Execute(ctx context.Context, stmt Statement) (*ResultSet, error)

	// Partitions calls fn once for every partition key of table. Returning
	// an error from fn stops the enumeration with that error.
	Partitions(ctx context.Context, table string, fn func(partition string) error) error

	Close() error
}

// Result is the outcome of an asynchronous statement.
type Result struct {
	Rows *ResultSet
	Err  error
}

// ExecuteAsync runs stmt on its own goroutine. The returned channel receives
// exactly one Result and is then closed.
func ExecuteAsync(ctx context.Context, s Session, stmt Statement) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		rows, err := s.Execute(ctx, stmt)
		ch <- Result{Rows: rows, Err: err}
	}()
	return ch
}

// Prepared is a statement template whose table, op and consistency are
// fixed; only the key and value vary per execution.
type Prepared struct {
	template Statement
}

// Prepare creates a reusable statement template.
func Prepare(template Statement) *Prepared {
	return &Prepared{template: template}
}

// Table returns the table the template targets.
func (p *Prepared) Table() string {
	return p.template.Table
}

// Bind returns a statement addressing one row.
func (p *Prepared) Bind(partition, clustering string, value []byte) Statement {
	stmt := p.template
	stmt.Partition = partition
	stmt.Clustering = clustering
	stmt.Value = value
	return stmt
}

// BindPrefix returns a query statement over the rows of partition whose
// clustering key starts with prefix.
func (p *Prepared) BindPrefix(partition, prefix string) Statement {
	stmt := p.template
	stmt.Partition = partition
	stmt.ClusteringPrefix = prefix
	return stmt
}

// WithConsistency returns a copy of the template at another level.
func (p *Prepared) WithConsistency(c Consistency) *Prepared {
	stmt := p.template
	stmt.Consistency = c
	return &Prepared{template: stmt}
}
