// Package memory provides an in-process implementation of
// persistence.Session with ordered partitions. It backs tests and ephemeral
// runs, and can be told to fail selected statements.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/brianhks/asterion/internal/persistence"
	appErrors "github.com/brianhks/asterion/pkg/errors"
)

// Matcher selects statements for failure injection.
type Matcher func(stmt persistence.Statement) bool

type failure struct {
	id    int
	match Matcher
	err   error
	// remaining is the number of matches left to fail; negative is forever.
	remaining int
}

type partition struct {
	keys   []string
	values map[string][]byte
}

type table struct {
	spec       persistence.TableSpec
	partitions map[string]*partition
}

// Session is an in-memory persistence.Session.
type Session struct {
	mu         sync.RWMutex
	keyspace   string
	keyspaces  map[string]persistence.KeyspaceSpec
	tables     map[string]*table
	ddlFailure map[string]error
	closed     bool

	failMu   sync.Mutex
	failures []*failure
	nextID   int
}

var _ persistence.Session = (*Session)(nil)

// New creates an empty session bound to keyspace.
func New(keyspace string) *Session {
	return &Session{
		keyspace:   keyspace,
		keyspaces:  make(map[string]persistence.KeyspaceSpec),
		tables:     make(map[string]*table),
		ddlFailure: make(map[string]error),
	}
}

// Keyspace implements persistence.Session.
func (s *Session) Keyspace() string {
	return s.keyspace
}

// CreateKeyspace implements persistence.Session.
func (s *Session) CreateKeyspace(ctx context.Context, spec persistence.KeyspaceSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkDDL(ctx, spec.Name); err != nil {
		return err
	}
	if _, exists := s.keyspaces[spec.Name]; !exists {
		s.keyspaces[spec.Name] = spec
	}
	return nil
}

// CreateTable implements persistence.Session.
func (s *Session) CreateTable(ctx context.Context, spec persistence.TableSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkDDL(ctx, spec.Name); err != nil {
		return err
	}
	if _, exists := s.tables[spec.Name]; !exists {
		s.tables[spec.Name] = &table{spec: spec, partitions: make(map[string]*partition)}
	}
	return nil
}

func (s *Session) checkDDL(ctx context.Context, name string) error {
	if s.closed {
		return appErrors.NewConnectivityError("ddl", fmt.Errorf("session closed"))
	}
	if err := ctx.Err(); err != nil {
		return appErrors.NewConnectivityError("ddl", err)
	}
	if err, ok := s.ddlFailure[name]; ok {
		return err
	}
	return nil
}

// Execute implements persistence.Session.
func (s *Session) Execute(ctx context.Context, stmt persistence.Statement) (*persistence.ResultSet, error) {
	if err := stmt.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, appErrors.NewConnectivityError(stmt.Op.String(), err)
	}

	switch stmt.Op {
	case persistence.OpPut, persistence.OpDelete:
		s.mu.Lock()
		defer s.mu.Unlock()
	default:
		s.mu.RLock()
		defer s.mu.RUnlock()
	}

	if s.closed {
		return nil, appErrors.NewConnectivityError(stmt.Op.String(), fmt.Errorf("session closed"))
	}
	if err := s.injected(stmt); err != nil {
		return nil, err
	}
	t, ok := s.tables[stmt.Table]
	if !ok {
		return nil, appErrors.NewSchemaError(stmt.Table, fmt.Errorf("unconfigured table %s", stmt.Table))
	}

	switch stmt.Op {
	case persistence.OpPut:
		t.put(stmt.Partition, stmt.Clustering, stmt.Value)
		return &persistence.ResultSet{}, nil
	case persistence.OpDelete:
		t.delete(stmt.Partition, stmt.Clustering)
		return &persistence.ResultSet{}, nil
	case persistence.OpGet:
		return t.get(stmt.Partition, stmt.Clustering), nil
	default:
		return t.query(stmt.Partition, stmt.ClusteringPrefix), nil
	}
}

// Partitions implements persistence.Session. The partition keys are
// snapshotted before fn is called, so fn may write to the session.
func (s *Session) Partitions(ctx context.Context, tableName string, fn func(partition string) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return appErrors.NewConnectivityError("partitions", fmt.Errorf("session closed"))
	}
	if err := s.injected(persistence.Statement{Op: persistence.OpQuery, Table: tableName}); err != nil {
		s.mu.RUnlock()
		return err
	}
	t, ok := s.tables[tableName]
	if !ok {
		s.mu.RUnlock()
		return appErrors.NewSchemaError(tableName, fmt.Errorf("unconfigured table %s", tableName))
	}
	keys := make([]string, 0, len(t.partitions))
	for k := range t.partitions {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return appErrors.NewConnectivityError("partitions", err)
		}
		if err := fn(k); err != nil {
			return err
		}
	}
	return nil
}

// Close implements persistence.Session. Later calls fail with a
// connectivity error.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// FailOn makes every statement selected by match fail with err until the
// returned function is called.
func (s *Session) FailOn(match Matcher, err error) (remove func()) {
	return s.addFailure(match, err, -1)
}

// FailTimes makes the next n statements selected by match fail with err.
func (s *Session) FailTimes(match Matcher, err error, n int) {
	s.addFailure(match, err, n)
}

// FailDDL makes creation of the named keyspace or table fail with err.
func (s *Session) FailDDL(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ddlFailure[name] = err
}

// ClearFailures removes every injected failure.
func (s *Session) ClearFailures() {
	s.mu.Lock()
	s.ddlFailure = make(map[string]error)
	s.mu.Unlock()

	s.failMu.Lock()
	s.failures = nil
	s.failMu.Unlock()
}

func (s *Session) addFailure(match Matcher, err error, n int) func() {
	s.failMu.Lock()
	defer s.failMu.Unlock()

	s.nextID++
	id := s.nextID
	s.failures = append(s.failures, &failure{id: id, match: match, err: err, remaining: n})
	return func() {
		s.failMu.Lock()
		defer s.failMu.Unlock()
		for i, f := range s.failures {
			if f.id == id {
				s.failures = append(s.failures[:i], s.failures[i+1:]...)
				return
			}
		}
	}
}

func (s *Session) injected(stmt persistence.Statement) error {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	for _, f := range s.failures {
		if f.remaining == 0 || !f.match(stmt) {
			continue
		}
		if f.remaining > 0 {
			f.remaining--
		}
		return f.err
	}
	return nil
}

// TableSpec returns the declared layout of a table.
func (s *Session) TableSpec(name string) (persistence.TableSpec, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[name]
	if !ok {
		return persistence.TableSpec{}, false
	}
	return t.spec, true
}

// KeyspaceSpec returns the declared replication of a keyspace.
func (s *Session) KeyspaceSpec(name string) (persistence.KeyspaceSpec, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	spec, ok := s.keyspaces[name]
	return spec, ok
}

// RowCount returns the number of rows stored in a table.
func (s *Session) RowCount(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[name]
	if !ok {
		return 0
	}
	n := 0
	for _, p := range t.partitions {
		n += len(p.keys)
	}
	return n
}

func (t *table) put(partitionKey, clustering string, value []byte) {
	p, ok := t.partitions[partitionKey]
	if !ok {
		p = &partition{values: make(map[string][]byte)}
		t.partitions[partitionKey] = p
	}
	if _, exists := p.values[clustering]; !exists {
		i := sort.SearchStrings(p.keys, clustering)
		p.keys = append(p.keys, "")
		copy(p.keys[i+1:], p.keys[i:])
		p.keys[i] = clustering
	}
	p.values[clustering] = append([]byte(nil), value...)
}

func (t *table) delete(partitionKey, clustering string) {
	p, ok := t.partitions[partitionKey]
	if !ok {
		return
	}
	if _, exists := p.values[clustering]; !exists {
		return
	}
	delete(p.values, clustering)
	i := sort.SearchStrings(p.keys, clustering)
	p.keys = append(p.keys[:i], p.keys[i+1:]...)
	if len(p.keys) == 0 {
		delete(t.partitions, partitionKey)
	}
}

func (t *table) get(partitionKey, clustering string) *persistence.ResultSet {
	rs := &persistence.ResultSet{}
	p, ok := t.partitions[partitionKey]
	if !ok {
		return rs
	}
	if v, exists := p.values[clustering]; exists {
		rs.Rows = append(rs.Rows, persistence.Row{
			Partition:  partitionKey,
			Clustering: clustering,
			Value:      append([]byte(nil), v...),
		})
	}
	return rs
}

func (t *table) query(partitionKey, prefix string) *persistence.ResultSet {
	rs := &persistence.ResultSet{}
	p, ok := t.partitions[partitionKey]
	if !ok {
		return rs
	}
	for i := sort.SearchStrings(p.keys, prefix); i < len(p.keys); i++ {
		k := p.keys[i]
		if !strings.HasPrefix(k, prefix) {
			break
		}
		rs.Rows = append(rs.Rows, persistence.Row{
			Partition:  partitionKey,
			Clustering: k,
			Value:      append([]byte(nil), p.values[k]...),
		})
	}
	return rs
}
