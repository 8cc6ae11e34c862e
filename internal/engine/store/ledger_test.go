package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/ragcore/internal/model"
	"github.com/kart-io/ragcore/pkg/component/database"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()

	opts := database.NewOptions()
	opts.Driver = database.DriverSQLite
	opts.DSN = ":memory:"

	client, err := database.New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	ledger, err := NewLedger(client)
	require.NoError(t, err)
	return ledger
}

func TestLedgerDocumentLifecycle(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)

	doc := &model.Document{
		ID:       "doc-1",
		Title:    "AI Guide",
		TenantID: "acme",
		Content:  "AI is intelligence simulated by machines.",
		Hash:     "h1",
		Metadata: map[string]string{"lang": "en"},
		Status:   model.StatusPending,
	}
	require.NoError(t, ledger.CreateDocument(ctx, doc))

	got, err := ledger.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "AI Guide", got.Title)
	assert.Equal(t, "acme", got.TenantID)
	assert.Equal(t, "en", got.Metadata["lang"])

	require.NoError(t, ledger.SetStatus(ctx, "doc-1", model.StatusIndexed, 3))
	got, err = ledger.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusIndexed, got.Status)
	assert.Equal(t, 3, got.ChunkNum)

	require.NoError(t, ledger.DeleteDocument(ctx, "doc-1"))
	_, err = ledger.GetDocument(ctx, "doc-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLedgerGetDocumentNotFound(t *testing.T) {
	ledger := newTestLedger(t)
	_, err := ledger.GetDocument(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLedgerSnapshotSequence(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)

	doc := &model.Document{
		ID:       "doc-1",
		Title:    "Guide",
		TenantID: "acme",
		Hash:     "h1",
		Metadata: map[string]string{"rev": "a"},
	}
	require.NoError(t, ledger.CreateDocument(ctx, doc))

	label1, err := ledger.Snapshot(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "v1", label1)

	doc.Hash = "h2"
	require.NoError(t, ledger.UpdateDocument(ctx, doc))

	label2, err := ledger.Snapshot(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "v2", label2)

	v1, err := ledger.GetVersion(ctx, "doc-1", "v1")
	require.NoError(t, err)
	assert.Equal(t, "h1", v1.ContentHash)

	v2, err := ledger.GetVersion(ctx, "doc-1", "v2")
	require.NoError(t, err)
	assert.Equal(t, "h2", v2.ContentHash)

	versions, err := ledger.ListVersions(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "v1", versions[0].VersionLabel)
	assert.Equal(t, "v2", versions[1].VersionLabel)
}

func TestLedgerGetVersionNotFound(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)

	require.NoError(t, ledger.CreateDocument(ctx, &model.Document{ID: "doc-1", Title: "t", TenantID: "a"}))

	_, err := ledger.GetVersion(ctx, "doc-1", "v9")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLedgerCountDocuments(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)

	require.NoError(t, ledger.CreateDocument(ctx, &model.Document{ID: "d1", Title: "a", TenantID: "x"}))
	require.NoError(t, ledger.CreateDocument(ctx, &model.Document{ID: "d2", Title: "b", TenantID: "x"}))
	require.NoError(t, ledger.CreateDocument(ctx, &model.Document{ID: "d3", Title: "c", TenantID: "y"}))

	count, err := ledger.CountDocuments(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	all, err := ledger.CountDocuments(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), all)
}
