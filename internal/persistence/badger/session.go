// Package badger implements persistence.Session on an embedded BadgerDB.
//
// Rows of table T in keyspace K are stored under
//
//	K/T/<uint16 partition length><partition><clustering>
//
// so a partition is a contiguous, byte-ordered key range and clustering
// order is badger's key order. Table declarations are persisted under
// K/_schema/<table>.
package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/brianhks/asterion/internal/persistence"
	appErrors "github.com/brianhks/asterion/pkg/errors"
)

const schemaTable = "_schema"

// Options configures the embedded database.
type Options struct {
	// Path is the data directory. Ignored when InMemory is set.
	Path       string
	InMemory   bool
	SyncWrites bool
	Logger     *zap.Logger
}

// Session is a persistence.Session backed by BadgerDB.
type Session struct {
	db       *badger.DB
	keyspace string
	logger   *zap.Logger

	mu     sync.RWMutex
	tables map[string]persistence.TableSpec

	closeOnce sync.Once
}

var _ persistence.Session = (*Session)(nil)

// Open opens (or creates) the database and loads the declared tables of
// keyspace.
func Open(keyspace string, opts Options) (*Session, error) {
	if strings.Contains(keyspace, "/") || keyspace == "" {
		return nil, appErrors.NewValidationError(fmt.Sprintf("invalid keyspace name %q", keyspace))
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	badgerOpts := badger.DefaultOptions(opts.Path)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	badgerOpts = badgerOpts.WithLogger(&zapAdapter{logger.Named("badger").Sugar()})

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, appErrors.NewConnectivityError("open badger", err)
	}

	s := &Session{
		db:       db,
		keyspace: keyspace,
		logger:   logger,
		tables:   make(map[string]persistence.TableSpec),
	}
	if err := s.loadSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Keyspace implements persistence.Session.
func (s *Session) Keyspace() string {
	return s.keyspace
}

// CreateKeyspace implements persistence.Session. The keyspace is implied by
// the key prefix; only its declaration is recorded.
func (s *Session) CreateKeyspace(ctx context.Context, spec persistence.KeyspaceSpec) error {
	if err := ctx.Err(); err != nil {
		return appErrors.NewConnectivityError("create keyspace", err)
	}
	data, err := json.Marshal(spec)
	if err != nil {
		return appErrors.NewSchemaError(spec.Name, err)
	}
	key := []byte(spec.Name + "/" + schemaTable + "/")
	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return appErrors.NewSchemaError(spec.Name, classify("create keyspace", err))
	}
	return nil
}

// CreateTable implements persistence.Session.
func (s *Session) CreateTable(ctx context.Context, spec persistence.TableSpec) error {
	if err := ctx.Err(); err != nil {
		return appErrors.NewConnectivityError("create table", err)
	}
	if spec.Name == "" || strings.Contains(spec.Name, "/") || spec.Name == schemaTable {
		return appErrors.NewSchemaError(spec.Name, fmt.Errorf("invalid table name"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tables[spec.Name]; exists {
		return nil
	}

	data, err := json.Marshal(spec)
	if err != nil {
		return appErrors.NewSchemaError(spec.Name, err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.schemaKey(spec.Name), data)
	}); err != nil {
		return appErrors.NewSchemaError(spec.Name, classify("create table", err))
	}
	s.tables[spec.Name] = spec
	s.logger.Debug("table created", zap.String("keyspace", s.keyspace), zap.String("table", spec.Name))
	return nil
}

// Execute implements persistence.Session. Consistency levels are ignored;
// a single embedded node is always consistent.
func (s *Session) Execute(ctx context.Context, stmt persistence.Statement) (*persistence.ResultSet, error) {
	if err := stmt.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, appErrors.NewConnectivityError(stmt.Op.String(), err)
	}
	if err := s.checkTable(stmt.Table); err != nil {
		return nil, err
	}
	if len(stmt.Partition) > 0xffff {
		return nil, appErrors.NewValidationError("partition key too long")
	}

	switch stmt.Op {
	case persistence.OpPut:
		err := s.db.Update(func(txn *badger.Txn) error {
			return txn.Set(s.rowKey(stmt.Table, stmt.Partition, stmt.Clustering), valueOrEmpty(stmt.Value))
		})
		return &persistence.ResultSet{}, classify("put", err)
	case persistence.OpDelete:
		err := s.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(s.rowKey(stmt.Table, stmt.Partition, stmt.Clustering))
		})
		return &persistence.ResultSet{}, classify("delete", err)
	case persistence.OpGet:
		return s.get(stmt)
	default:
		return s.query(ctx, stmt)
	}
}

func (s *Session) get(stmt persistence.Statement) (*persistence.ResultSet, error) {
	rs := &persistence.ResultSet{}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.rowKey(stmt.Table, stmt.Partition, stmt.Clustering))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		rs.Rows = append(rs.Rows, persistence.Row{
			Partition:  stmt.Partition,
			Clustering: stmt.Clustering,
			Value:      value,
		})
		return nil
	})
	if err != nil {
		return nil, classify("get", err)
	}
	return rs, nil
}

func (s *Session) query(ctx context.Context, stmt persistence.Statement) (*persistence.ResultSet, error) {
	rs := &persistence.ResultSet{}
	partitionPrefix := s.partitionPrefix(stmt.Table, stmt.Partition)
	prefix := append(append([]byte(nil), partitionPrefix...), stmt.ClusteringPrefix...)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			rs.Rows = append(rs.Rows, persistence.Row{
				Partition:  stmt.Partition,
				Clustering: string(item.Key()[len(partitionPrefix):]),
				Value:      value,
			})
		}
		return nil
	})
	if err != nil {
		return nil, classify("query", err)
	}
	return rs, nil
}

// Partitions implements persistence.Session. Partitions are visited in key
// order: by length, then bytewise.
func (s *Session) Partitions(ctx context.Context, table string, fn func(partition string) error) error {
	if err := s.checkTable(table); err != nil {
		return err
	}
	tablePrefix := s.tablePrefix(table)

	// Keys are collected first so fn may write to the store.
	var partitions []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = tablePrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		last := ""
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			p, ok := decodePartition(it.Item().Key()[len(tablePrefix):])
			if !ok {
				return fmt.Errorf("corrupt row key in table %s", table)
			}
			if len(partitions) == 0 || p != last {
				partitions = append(partitions, p)
				last = p
			}
		}
		return nil
	})
	if err != nil {
		return classify("partitions", err)
	}

	for _, p := range partitions {
		if err := ctx.Err(); err != nil {
			return appErrors.NewConnectivityError("partitions", err)
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}

// Close implements persistence.Session.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.db.Close()
	})
	return err
}

func (s *Session) loadSchema() error {
	prefix := []byte(s.keyspace + "/" + schemaTable + "/")
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			name := string(it.Item().Key()[len(prefix):])
			if name == "" {
				continue
			}
			var spec persistence.TableSpec
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &spec)
			}); err != nil {
				return appErrors.NewSchemaError(name, err)
			}
			s.tables[name] = spec
		}
		return nil
	})
}

func (s *Session) checkTable(table string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.tables[table]; !ok {
		return appErrors.NewSchemaError(table, fmt.Errorf("unconfigured table %s", table))
	}
	return nil
}

func (s *Session) schemaKey(table string) []byte {
	return []byte(s.keyspace + "/" + schemaTable + "/" + table)
}

func (s *Session) tablePrefix(table string) []byte {
	return []byte(s.keyspace + "/" + table + "/")
}

func (s *Session) partitionPrefix(table, partition string) []byte {
	key := s.tablePrefix(table)
	key = binary.BigEndian.AppendUint16(key, uint16(len(partition)))
	return append(key, partition...)
}

func (s *Session) rowKey(table, partition, clustering string) []byte {
	return append(s.partitionPrefix(table, partition), clustering...)
}

func decodePartition(rest []byte) (string, bool) {
	if len(rest) < 2 {
		return "", false
	}
	n := int(binary.BigEndian.Uint16(rest))
	if len(rest) < 2+n {
		return "", false
	}
	return string(rest[2 : 2+n]), true
}

func valueOrEmpty(v []byte) []byte {
	if v == nil {
		return []byte{}
	}
	return v
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var typed appErrors.Typed
	if errors.As(err, &typed) {
		return err
	}
	if errors.Is(err, badger.ErrDBClosed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return appErrors.NewConnectivityError(op, err)
	}
	return appErrors.Wrap(err, "badger "+op)
}

// zapAdapter satisfies badger.Logger.
type zapAdapter struct {
	s *zap.SugaredLogger
}

func (z *zapAdapter) Errorf(format string, args ...interface{})   { z.s.Errorf(format, args...) }
func (z *zapAdapter) Warningf(format string, args ...interface{}) { z.s.Warnf(format, args...) }
func (z *zapAdapter) Infof(format string, args ...interface{})    { z.s.Debugf(format, args...) }
func (z *zapAdapter) Debugf(format string, args ...interface{})   { z.s.Debugf(format, args...) }
