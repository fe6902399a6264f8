package export_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/brianhks/asterion/internal/codec"
	"github.com/brianhks/asterion/internal/domain"
	"github.com/brianhks/asterion/internal/export"
	"github.com/brianhks/asterion/internal/graph"
	"github.com/brianhks/asterion/internal/persistence"
	"github.com/brianhks/asterion/internal/persistence/memory"
	"github.com/brianhks/asterion/internal/schema"
	appErrors "github.com/brianhks/asterion/pkg/errors"
)

var (
	v1 = domain.MustVertexID([]byte{0x01})
	v2 = domain.MustVertexID([]byte{0x02})
	v3 = domain.MustVertexID([]byte{0x03})

	fixedTime = time.Date(2015, 3, 4, 12, 30, 0, 123456789, time.UTC)
)

func newStore(t *testing.T) (*graph.Store, *memory.Session) {
	t.Helper()
	session := memory.New("graph")
	require.NoError(t, schema.NewManager(session).EnsureSchema(context.Background(), ""))
	return graph.NewStore(session, graph.WithClock(func() time.Time { return fixedTime })), session
}

// seed builds v1 -follows-> v2 <-likes-> v3 with properties on v1 and v2.
func seed(t *testing.T) (*graph.Store, *memory.Session) {
	t.Helper()
	store, session := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.SetVertexProperties(ctx, v1, map[string]string{"name": "bob", "height": "6.2"}))
	require.NoError(t, store.SetVertexProperties(ctx, v2, map[string]string{"name": "alice"}))
	require.NoError(t, store.AddEdge(ctx, v1, v2, domain.DirectionOut, "follows"))
	require.NoError(t, store.AddEdge(ctx, v2, v3, domain.DirectionBoth, "likes"))
	return store, session
}

func exportAll(t *testing.T, cur *export.Cursor) (string, export.Summary) {
	t.Helper()
	var buf bytes.Buffer
	summary, err := export.Export(context.Background(), cur, export.NewWriter(&buf), nil)
	require.NoError(t, err)
	return buf.String(), summary
}

func ids(t *testing.T, out string) []string {
	t.Helper()
	var got []string
	r := export.NewReader(strings.NewReader(out))
	for r.Next() {
		got = append(got, r.Record().ID.String())
	}
	require.NoError(t, r.Err())
	return got
}

func TestExportAllVertices(t *testing.T) {
	store, _ := seed(t)
	out, summary := exportAll(t, export.NewCursor(store, export.AllVertices(), export.WithLogger(zap.NewNop())))

	g := goldie.New(t)
	g.Assert(t, "all_vertices", []byte(out))
	assert.Equal(t, 3, summary.Emitted)
	assert.Empty(t, summary.Errors)
}

func TestExportImportRoundTrip(t *testing.T) {
	store, _ := seed(t)
	out, _ := exportAll(t, export.NewCursor(store, export.AllVertices()))

	target, _ := newStore(t)
	result, err := export.Import(context.Background(), target, export.NewReader(strings.NewReader(out)), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Records)
	assert.Equal(t, 3, result.Properties)
	assert.Equal(t, 4, result.Edges)
	assert.Empty(t, result.Failed)

	again, _ := exportAll(t, export.NewCursor(target, export.AllVertices()))
	assert.Equal(t, out, again)
}

func TestImportRestoresBothHalvesFromOneRecord(t *testing.T) {
	store, _ := seed(t)
	out, _ := exportAll(t, export.NewCursor(store, export.Vertices(v2)))

	target, _ := newStore(t)
	_, err := export.Import(context.Background(), target, export.NewReader(strings.NewReader(out)), nil)
	require.NoError(t, err)

	edges, err := target.GetEdges(context.Background(), v1, "follows")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, domain.DirectionOut, edges[0].Direction)
	assert.True(t, edges[0].When.Equal(domain.TruncateTime(fixedTime)))
}

func TestImportMalformedFile(t *testing.T) {
	target, _ := newStore(t)
	in := `{"id":"01","properties":{"a":"b"},"edges":[]}` + "\n" + `{"id":` + "\n"

	result, err := export.Import(context.Background(), target, export.NewReader(strings.NewReader(in)), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
	assert.Equal(t, 1, result.Records)
}

func TestSelectedVertices(t *testing.T) {
	store, _ := seed(t)
	unknown := domain.MustVertexID([]byte{0x09})

	out, summary := exportAll(t, export.NewCursor(store, export.Vertices(v3, v1, v3, unknown)))
	assert.Equal(t, []string{"03", "01", "09"}, ids(t, out))
	assert.Equal(t, 3, summary.Emitted)
}

func TestPropertyFilter(t *testing.T) {
	store, _ := seed(t)

	out, summary := exportAll(t, export.NewCursor(store, export.AllVertices(),
		export.WithFilter(export.PropertyFilter{Name: "name"})))
	assert.Equal(t, []string{"01", "02"}, ids(t, out))
	assert.Equal(t, 1, summary.Filtered)

	alice := "alice"
	out, _ = exportAll(t, export.NewCursor(store, export.AllVertices(),
		export.WithFilter(export.PropertyFilter{Name: "name", Value: &alice})))
	assert.Equal(t, []string{"02"}, ids(t, out))

	out, _ = exportAll(t, export.NewCursor(store, export.Vertices(v1, v2),
		export.WithFilter(export.PropertyFilter{Name: "name", Value: &alice})))
	assert.Equal(t, []string{"02"}, ids(t, out))
}

func TestResumeFromRecoveryLog(t *testing.T) {
	store, _ := seed(t)
	path := filepath.Join(t.TempDir(), "recovery.txt")
	require.NoError(t, os.WriteFile(path, []byte(v1.String()+"\n\n"), 0o644))

	log, err := export.OpenRecoveryLog(path)
	require.NoError(t, err)
	assert.True(t, log.Contains(v1))

	var buf bytes.Buffer
	summary, err := export.Export(context.Background(),
		export.NewCursor(store, export.AllVertices(), export.WithSkip(log.Contains)),
		export.NewWriter(&buf), log)
	require.NoError(t, err)
	require.NoError(t, log.Close())

	assert.Equal(t, []string{"02", "03"}, ids(t, buf.String()))
	assert.Equal(t, 1, summary.Skipped)

	reopened, err := export.OpenRecoveryLog(path)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, 3, reopened.Len())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "01\n\n02\n03\n", string(data))
}

func TestRecoveryLogRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recovery.txt")
	require.NoError(t, os.WriteFile(path, []byte("01\nnot-hex\n"), 0o644))

	_, err := export.OpenRecoveryLog(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestUnitErrorDoesNotStopExport(t *testing.T) {
	store, session := seed(t)
	partition, err := codec.New(codec.Options{}).EdgePartition(v2, "likes")
	require.NoError(t, err)
	session.FailOn(func(stmt persistence.Statement) bool {
		return stmt.Op == persistence.OpQuery && stmt.Table == schema.VertexEdges && stmt.Partition == partition
	}, appErrors.NewInternalError("corrupt row"))

	out, summary := exportAll(t, export.NewCursor(store, export.AllVertices()))
	assert.Equal(t, []string{"01", "03"}, ids(t, out))
	require.Contains(t, summary.Errors, "02")

	var pe *appErrors.PartialExportError
	require.True(t, errors.As(summary.Errors["02"], &pe))
	assert.Equal(t, "02", pe.ID)
	assert.Equal(t, 1, summary.Failed)
}

func TestConnectivityFailureStopsExport(t *testing.T) {
	store, session := seed(t)
	session.FailOn(func(stmt persistence.Statement) bool {
		return stmt.Op == persistence.OpQuery && stmt.Table == schema.EdgeTypeCatalog && stmt.Partition != ""
	}, appErrors.NewConnectivityError("query", errors.New("no hosts")))

	cur := export.NewCursor(store, export.AllVertices())
	defer cur.Close()

	require.True(t, cur.Next(context.Background()))
	var pe *appErrors.PartialExportError
	require.True(t, errors.As(cur.UnitErr(), &pe))
	assert.False(t, cur.Next(context.Background()))
	assert.True(t, appErrors.IsConnectivity(cur.Err()))
}

func TestEnumerationFailure(t *testing.T) {
	store, session := seed(t)
	session.FailOn(func(stmt persistence.Statement) bool {
		return stmt.Table == schema.VertexProperties && stmt.Partition == ""
	}, appErrors.NewConnectivityError("scan", errors.New("no hosts")))

	var buf bytes.Buffer
	summary, err := export.Export(context.Background(), export.NewCursor(store, export.AllVertices()), export.NewWriter(&buf), nil)
	require.Error(t, err)
	assert.True(t, appErrors.IsConnectivity(err))
	assert.Equal(t, 0, summary.Emitted)
}
