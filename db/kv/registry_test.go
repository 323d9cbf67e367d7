package kv

import (
	"context"
	"fmt"
	"testing"

	bolt "go.etcd.io/bbolt"

	"github.com/dhannusch/pincer/manifest"
	"github.com/dhannusch/pincer/testing/assert"
	"github.com/dhannusch/pincer/testing/require"
)

func testManifest(id string, revision int64) *manifest.Manifest {
	return &manifest.Manifest{
		ID:           id,
		Revision:     revision,
		BaseURL:      "https://youtube.googleapis.com",
		AllowedHosts: []string{"youtube.googleapis.com"},
	}
}

func TestRegistryIndexRoundTrip(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	idx, err := db.RegistryIndex(ctx)
	require.NoError(t, err)
	require.NotNil(t, idx)
	assert.Equal(t, 0, len(idx.Proposals))
	assert.Equal(t, 0, len(idx.Active))

	idx.Proposals = append(idx.Proposals, ProposalSummary{
		ProposalID:  "p1",
		AdapterID:   "youtube",
		Revision:    1,
		SubmittedAt: "2026-01-02T03:04:05.000Z",
		SubmittedBy: "runtime:rk_abc",
	})
	idx.Active["youtube"] = ActiveEntry{Revision: 1, Enabled: true, UpdatedAt: "2026-01-02T03:04:06.000Z"}
	require.NoError(t, db.SaveRegistryIndex(ctx, idx))

	got, err := db.RegistryIndex(ctx)
	require.NoError(t, err)
	assert.DeepEqual(t, idx, got)
}

func TestProposalRoundTrip(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	got, err := db.Proposal(ctx, "missing")
	require.NoError(t, err)
	require.Equal(t, (*ProposalRecord)(nil), got)

	rec := &ProposalRecord{
		ProposalID:  "p1",
		AdapterID:   "youtube",
		Revision:    2,
		SubmittedAt: "2026-01-02T03:04:05.000Z",
		SubmittedBy: "runtime:rk_abc",
		Manifest:    *testManifest("youtube", 2),
	}
	require.NoError(t, db.SaveProposal(ctx, rec))

	got, err = db.Proposal(ctx, "p1")
	require.NoError(t, err)
	assert.DeepEqual(t, rec, got)

	require.NoError(t, db.DeleteProposal(ctx, "p1"))
	got, err = db.Proposal(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, (*ProposalRecord)(nil), got)
}

func TestManifestSnapshotWriteOnce(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	m := testManifest("youtube", 1)
	require.NoError(t, db.SaveManifestSnapshot(ctx, m))

	// Rewriting identical content is a no-op.
	require.NoError(t, db.SaveManifestSnapshot(ctx, testManifest("youtube", 1)))

	altered := testManifest("youtube", 1)
	altered.BaseURL = "https://other.example"
	err := db.SaveManifestSnapshot(ctx, altered)
	require.ErrorContains(t, "snapshot youtube:1 already exists with different content", err)

	got, err := db.ManifestSnapshot(ctx, "youtube", 1)
	require.NoError(t, err)
	assert.DeepEqual(t, m, got)

	got, err = db.ManifestSnapshot(ctx, "youtube", 99)
	require.NoError(t, err)
	require.Equal(t, (*manifest.Manifest)(nil), got)
}

func TestAuditEventsNewestFirst(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, db.SaveAuditEvent(ctx, &AuditEvent{
			EventID:    fmt.Sprintf("e%d", i),
			EventType:  EventProposalSubmitted,
			OccurredAt: fmt.Sprintf("2026-01-02T03:04:0%d.000Z", i),
			ProposalID: fmt.Sprintf("p%d", i),
			AdapterID:  "youtube",
			Revision:   int64(i),
			Actor:      "runtime:rk_abc",
		}))
	}

	events, err := db.AuditEvents(ctx, "", 0)
	require.NoError(t, err)
	require.Equal(t, 5, len(events))
	for i, ev := range events {
		assert.Equal(t, fmt.Sprintf("e%d", 5-i), ev.EventID)
	}

	events, err = db.AuditEvents(ctx, "", 2)
	require.NoError(t, err)
	require.Equal(t, 2, len(events))
	assert.Equal(t, "e5", events[0].EventID)
	assert.Equal(t, "e4", events[1].EventID)

	events, err = db.AuditEvents(ctx, "2026-01-02T03:04:03.000Z", 0)
	require.NoError(t, err)
	require.Equal(t, 2, len(events))
	assert.Equal(t, "e5", events[0].EventID)
	assert.Equal(t, "e4", events[1].EventID)
}

func TestAuditEventsSkipsCorruptEntries(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveAuditEvent(ctx, &AuditEvent{
		EventID:    "e1",
		EventType:  EventProposalSubmitted,
		OccurredAt: "2026-01-02T03:04:01.000Z",
		ProposalID: "p1",
		AdapterID:  "youtube",
		Revision:   1,
	}))
	require.NoError(t, db.update(func(tx *bolt.Tx) error {
		return tx.Bucket(auditBucket).Put([]byte("2026-01-02T03:04:02.000Z:bad"), []byte("{not json"))
	}))

	events, err := db.AuditEvents(ctx, "", 0)
	require.NoError(t, err)
	require.Equal(t, 1, len(events))
	assert.Equal(t, "e1", events[0].EventID)
}
