package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/brianhks/asterion/internal/persistence"
	appErrors "github.com/brianhks/asterion/pkg/errors"
)

func openTemp(t *testing.T, dir string) *Session {
	t.Helper()
	s, err := Open("ks", Options{Path: dir, Logger: zap.NewNop()})
	require.NoError(t, err)
	return s
}

func exec(t *testing.T, s *Session, stmt persistence.Statement) *persistence.ResultSet {
	t.Helper()
	rs, err := s.Execute(context.Background(), stmt)
	require.NoError(t, err)
	return rs
}

func TestRowsAndPrefixQueries(t *testing.T) {
	s, err := Open("ks", Options{InMemory: true})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.CreateTable(ctx, persistence.TableSpec{Name: "edges"}))

	for _, c := range []string{"d2#vb", "d1#va", "d2#va", "d3#va"} {
		exec(t, s, persistence.Statement{Op: persistence.OpPut, Table: "edges", Partition: "p", Clustering: c, Value: []byte(c)})
	}
	// A partition whose key is a prefix of another must not leak into it.
	exec(t, s, persistence.Statement{Op: persistence.OpPut, Table: "edges", Partition: "pp", Clustering: "d2#vz"})

	rs := exec(t, s, persistence.Statement{Op: persistence.OpQuery, Table: "edges", Partition: "p", ClusteringPrefix: "d2#"})
	require.Equal(t, 2, rs.Len())
	assert.Equal(t, "d2#va", rs.Rows[0].Clustering)
	assert.Equal(t, "d2#vb", rs.Rows[1].Clustering)
	assert.Equal(t, "d2#vb", string(rs.Rows[1].Value))

	rs = exec(t, s, persistence.Statement{Op: persistence.OpQuery, Table: "edges", Partition: "p"})
	assert.Equal(t, 4, rs.Len())

	exec(t, s, persistence.Statement{Op: persistence.OpDelete, Table: "edges", Partition: "p", Clustering: "d1#va"})
	rs = exec(t, s, persistence.Statement{Op: persistence.OpGet, Table: "edges", Partition: "p", Clustering: "d1#va"})
	assert.Equal(t, 0, rs.Len())
}

func TestEmptyValueIsStored(t *testing.T) {
	s, err := Open("ks", Options{InMemory: true})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.CreateTable(context.Background(), persistence.TableSpec{Name: "t"}))

	exec(t, s, persistence.Statement{Op: persistence.OpPut, Table: "t", Partition: "p", Clustering: "c"})
	rs := exec(t, s, persistence.Statement{Op: persistence.OpGet, Table: "t", Partition: "p", Clustering: "c"})
	row, ok := rs.One()
	require.True(t, ok)
	assert.Empty(t, row.Value)
}

func TestPartitionsAreDistinct(t *testing.T) {
	s, err := Open("ks", Options{InMemory: true})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.CreateTable(context.Background(), persistence.TableSpec{Name: "t"}))

	for _, p := range []string{"b", "a", "a", "ab"} {
		exec(t, s, persistence.Statement{Op: persistence.OpPut, Table: "t", Partition: p, Clustering: "c" + p})
	}
	exec(t, s, persistence.Statement{Op: persistence.OpPut, Table: "t", Partition: "a", Clustering: "other"})

	var seen []string
	require.NoError(t, s.Partitions(context.Background(), "t", func(p string) error {
		seen = append(seen, p)
		return nil
	}))
	assert.ElementsMatch(t, []string{"a", "b", "ab"}, seen)
}

func TestSchemaSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := openTemp(t, dir)
	require.NoError(t, s.CreateKeyspace(ctx, persistence.KeyspaceSpec{Name: "ks", Strategy: "SimpleStrategy", ReplicationFactor: 1}))
	require.NoError(t, s.CreateTable(ctx, persistence.TableSpec{Name: "t"}))
	exec(t, s, persistence.Statement{Op: persistence.OpPut, Table: "t", Partition: "p", Clustering: "c", Value: []byte("v")})
	require.NoError(t, s.Close())

	s = openTemp(t, dir)
	defer s.Close()
	require.NoError(t, s.CreateKeyspace(ctx, persistence.KeyspaceSpec{Name: "ks", Strategy: "SimpleStrategy", ReplicationFactor: 1}))
	require.NoError(t, s.CreateTable(ctx, persistence.TableSpec{Name: "t"}))

	rs := exec(t, s, persistence.Statement{Op: persistence.OpGet, Table: "t", Partition: "p", Clustering: "c"})
	row, ok := rs.One()
	require.True(t, ok)
	assert.Equal(t, "v", string(row.Value))
}

func TestUndeclaredTable(t *testing.T) {
	s, err := Open("ks", Options{InMemory: true})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Execute(context.Background(), persistence.Statement{Op: persistence.OpGet, Table: "missing", Partition: "p", Clustering: "c"})
	assert.True(t, appErrors.IsSchema(err))
}

func TestClosedDatabase(t *testing.T) {
	s, err := Open("ks", Options{InMemory: true})
	require.NoError(t, err)
	require.NoError(t, s.CreateTable(context.Background(), persistence.TableSpec{Name: "t"}))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Execute(context.Background(), persistence.Statement{Op: persistence.OpPut, Table: "t", Partition: "p", Clustering: "c"})
	assert.True(t, appErrors.IsConnectivity(err), "got %v", err)
}
