package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearstone/dealkernel/pkg/contracts"
	"github.com/clearstone/dealkernel/pkg/store"
)

func newTestService(t *testing.T) (*Service, store.Store, *contracts.Deal) {
	t.Helper()
	st := store.NewMemoryStore()
	svc, err := New(st, t.TempDir())
	require.NoError(t, err)

	base := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	svc.WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})

	deal := &contracts.Deal{
		ID: uuid.NewString(), Name: "deal",
		State: contracts.StateDraft, StressMode: contracts.StressNormal,
		CreatedAt: base, UpdatedAt: base,
	}
	require.NoError(t, st.CreateDeal(context.Background(), deal))
	return svc, st, deal
}

func TestUpload_ContentAddressed(t *testing.T) {
	svc, _, deal := newTestService(t)
	ctx := context.Background()
	body := []byte("term sheet v3")
	wantSum := sha256.Sum256(body)

	a, err := svc.Upload(ctx, deal.ID, "term-sheet.pdf", "application/pdf", "", strings.NewReader(string(body)))
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(wantSum[:]), a.Sha256Hex)
	assert.Equal(t, int64(len(body)), a.SizeBytes)
	assert.Equal(t, filepath.Join("artifacts", deal.ID, a.ID, "term-sheet.pdf"), a.StorageKey)

	// Same bytes, same deal: idempotent, same row back.
	again, err := svc.Upload(ctx, deal.ID, "renamed.pdf", "application/pdf", "", strings.NewReader(string(body)))
	require.NoError(t, err)
	assert.Equal(t, a.ID, again.ID)

	got, rc, err := svc.Open(ctx, deal.ID, a.ID)
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, "application/pdf", got.MimeType)
	read, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, body, read)
}

func TestUpload_CrossDealHashConflict(t *testing.T) {
	svc, st, deal := newTestService(t)
	ctx := context.Background()

	other := &contracts.Deal{
		ID: uuid.NewString(), Name: "other",
		State: contracts.StateDraft, StressMode: contracts.StressNormal,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.CreateDeal(ctx, other))

	_, err := svc.Upload(ctx, deal.ID, "a.bin", "application/octet-stream", "", strings.NewReader("shared bytes"))
	require.NoError(t, err)

	_, err = svc.Upload(ctx, other.ID, "b.bin", "application/octet-stream", "", strings.NewReader("shared bytes"))
	assert.ErrorIs(t, err, store.ErrArtifactConflict)

	// The losing upload must not leave bytes behind.
	entries, err := os.ReadDir(filepath.Join(svc.root, "artifacts"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), "upload-"), "leftover temp file %s", e.Name())
	}
}

func TestUpload_UnknownDeal(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Upload(context.Background(), "missing", "a.bin", "", "", strings.NewReader("x"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestOpen_WrongDealHidesArtifact(t *testing.T) {
	svc, st, deal := newTestService(t)
	ctx := context.Background()

	a, err := svc.Upload(ctx, deal.ID, "a.bin", "", "", strings.NewReader("x"))
	require.NoError(t, err)

	other := &contracts.Deal{
		ID: uuid.NewString(), Name: "other",
		State: contracts.StateDraft, StressMode: contracts.StressNormal,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.CreateDeal(ctx, other))

	_, _, err = svc.Open(ctx, other.ID, a.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLink_ValidatesOwnership(t *testing.T) {
	svc, st, deal := newTestService(t)
	ctx := context.Background()

	a, err := svc.Upload(ctx, deal.ID, "a.bin", "", "", strings.NewReader("x"))
	require.NoError(t, err)

	now := time.Now().UTC()
	event := &contracts.Event{
		ID: uuid.NewString(), DealID: deal.ID, SequenceNumber: 1,
		Type: contracts.EventDealCreated, Payload: json.RawMessage(`{}`),
		EventHash: strings.Repeat("0", 64), CreatedAt: now,
	}
	require.NoError(t, st.InsertEvent(ctx, event))
	material := &contracts.MaterialObject{
		ID: uuid.NewString(), DealID: deal.ID, Type: "UnderwritingSummary",
		TruthClass: contracts.TruthHuman, Data: json.RawMessage(`{}`),
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, st.CreateMaterial(ctx, material))

	l, err := svc.Link(ctx, deal.ID, a.ID, event.ID, material.ID, "closing")
	require.NoError(t, err)
	assert.Equal(t, a.ID, l.ArtifactID)

	_, err = svc.Link(ctx, deal.ID, a.ID, "", "", "")
	assert.Error(t, err)

	_, err = svc.Link(ctx, deal.ID, a.ID, uuid.NewString(), "", "")
	assert.ErrorIs(t, err, store.ErrNotFound)

	otherDealMaterial := &contracts.MaterialObject{
		ID: uuid.NewString(), DealID: uuid.NewString(), Type: "SourcesAndUses",
		TruthClass: contracts.TruthDoc, Data: json.RawMessage(`{}`),
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, st.CreateMaterial(ctx, otherDealMaterial))
	_, err = svc.Link(ctx, deal.ID, a.ID, "", otherDealMaterial.ID, "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEvidenceIndex_AggregatesReferences(t *testing.T) {
	svc, st, deal := newTestService(t)
	ctx := context.Background()

	a, err := svc.Upload(ctx, deal.ID, "wire.pdf", "application/pdf", "", strings.NewReader("wire"))
	require.NoError(t, err)
	b, err := svc.Upload(ctx, deal.ID, "deed.pdf", "application/pdf", "", strings.NewReader("deed"))
	require.NoError(t, err)

	now := time.Date(2026, 7, 1, 13, 0, 0, 0, time.UTC)
	event := &contracts.Event{
		ID: uuid.NewString(), DealID: deal.ID, SequenceNumber: 1,
		Type: contracts.EventClosingFinalized, Payload: json.RawMessage(`{}`),
		EvidenceRefs: []string{a.ID},
		EventHash:    strings.Repeat("0", 64), CreatedAt: now,
	}
	require.NoError(t, st.InsertEvent(ctx, event))

	material := &contracts.MaterialObject{
		ID: uuid.NewString(), DealID: deal.ID, Type: "WireConfirmation",
		TruthClass: contracts.TruthDoc, Data: json.RawMessage(`{}`),
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, st.CreateMaterial(ctx, material))
	require.NoError(t, st.InsertMaterialRevision(ctx, &contracts.MaterialRevision{
		ID: uuid.NewString(), MaterialID: material.ID, DealID: deal.ID,
		Type: "WireConfirmation", TruthClass: contracts.TruthDoc,
		Data:      json.RawMessage(`{"evidenceRefs":["` + a.ID + `"]}`),
		CreatedAt: now,
	}))

	_, err = svc.Link(ctx, deal.ID, a.ID, "", "", "closing")
	require.NoError(t, err)

	index, err := svc.EvidenceIndex(ctx, deal.ID, now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, index, 2)

	byID := map[string]contracts.EvidenceEntry{}
	for _, e := range index {
		byID[e.ArtifactID] = e
	}
	assert.ElementsMatch(t, []string{
		"tag:closing",
		"event:" + event.ID,
		"material:" + material.ID,
	}, byID[a.ID].References)
	assert.Empty(t, byID[b.ID].References)

	// A cutoff before the uploads sees nothing.
	empty, err := svc.EvidenceIndex(ctx, deal.ID, now.Add(-2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSafeFilename(t *testing.T) {
	assert.Equal(t, "passwd", safeFilename("../../etc/passwd"))
	assert.Equal(t, "report.pdf", safeFilename(`C:\evil\report.pdf`))
	assert.Equal(t, "artifact.bin", safeFilename(""))
	assert.Equal(t, "artifact.bin", safeFilename(".."))
}
