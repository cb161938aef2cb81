// Package artifacts implements the content-addressed file store. An artifact's
// SHA-256 is its identity: re-uploading identical bytes to the same deal is
// idempotent, uploading them to a second deal is a conflict.
package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clearstone/dealkernel/pkg/contracts"
	"github.com/clearstone/dealkernel/pkg/store"
)

// MaxUploadBytes caps a single artifact upload.
const MaxUploadBytes = 64 * 1024 * 1024

// Service owns the artifact directory tree under root and the artifact rows
// in the store. Bytes on disk are immutable once committed.
type Service struct {
	store store.Store
	root  string
	now   func() time.Time
}

func New(st store.Store, root string) (*Service, error) {
	if err := os.MkdirAll(filepath.Join(root, "artifacts"), 0o755); err != nil {
		return nil, fmt.Errorf("artifacts: ensure root: %w", err)
	}
	return &Service{store: st, root: root, now: time.Now}, nil
}

// WithClock overrides the timestamp source. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Upload streams r to disk, hashing as it writes. On a hash hit for the same
// deal the existing row is returned and the temp file discarded; a hit owned
// by another deal fails with store.ErrArtifactConflict. The partial file is
// removed on every error path.
func (s *Service) Upload(ctx context.Context, dealID, filename, mimeType, uploaderID string, r io.Reader) (*contracts.Artifact, error) {
	if _, err := s.store.GetDeal(ctx, dealID); err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(filepath.Join(s.root, "artifacts"), "upload-*")
	if err != nil {
		return nil, fmt.Errorf("artifacts: create temp: %w", err)
	}
	tmpName := tmp.Name()
	discard := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), io.LimitReader(r, MaxUploadBytes+1))
	if err != nil {
		discard()
		return nil, fmt.Errorf("artifacts: write upload: %w", err)
	}
	if size > MaxUploadBytes {
		discard()
		return nil, fmt.Errorf("artifacts: upload exceeds %d bytes", MaxUploadBytes)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("artifacts: close temp: %w", err)
	}
	sum := hex.EncodeToString(h.Sum(nil))

	existing, err := s.store.GetArtifactByHash(ctx, sum)
	switch {
	case err == nil:
		os.Remove(tmpName)
		if existing.DealID == dealID {
			return existing, nil
		}
		return nil, store.ErrArtifactConflict
	case err != store.ErrNotFound:
		os.Remove(tmpName)
		return nil, err
	}

	a := &contracts.Artifact{
		ID:         uuid.NewString(),
		DealID:     dealID,
		Filename:   safeFilename(filename),
		MimeType:   mimeType,
		SizeBytes:  size,
		Sha256Hex:  sum,
		UploaderID: uploaderID,
		CreatedAt:  s.now().UTC(),
	}
	a.StorageKey = filepath.Join("artifacts", dealID, a.ID, a.Filename)

	final := filepath.Join(s.root, a.StorageKey)
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("artifacts: ensure dir: %w", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("artifacts: commit file: %w", err)
	}

	if err := s.store.InsertArtifact(ctx, a); err != nil {
		os.Remove(final)
		if err == store.ErrDuplicate {
			if existing, lookupErr := s.store.GetArtifactByHash(ctx, sum); lookupErr == nil {
				if existing.DealID == dealID {
					return existing, nil
				}
				return nil, store.ErrArtifactConflict
			}
		}
		return nil, err
	}
	return a, nil
}

// Open returns the artifact row and a reader over its bytes. The caller
// closes the reader.
func (s *Service) Open(ctx context.Context, dealID, artifactID string) (*contracts.Artifact, io.ReadCloser, error) {
	a, err := s.store.GetArtifact(ctx, artifactID)
	if err != nil {
		return nil, nil, err
	}
	if a.DealID != dealID {
		return nil, nil, store.ErrNotFound
	}
	f, err := os.Open(filepath.Join(s.root, a.StorageKey))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("artifacts: bytes missing for %s: %w", artifactID, store.ErrNotFound)
		}
		return nil, nil, fmt.Errorf("artifacts: open %s: %w", artifactID, err)
	}
	return a, f, nil
}

func (s *Service) List(ctx context.Context, dealID string) ([]contracts.Artifact, error) {
	if _, err := s.store.GetDeal(ctx, dealID); err != nil {
		return nil, err
	}
	return s.store.ListArtifacts(ctx, dealID)
}

// Link relates an artifact to an event, a material, or a bare tag. Exactly
// one target makes sense per link but combinations are allowed; each named
// target must belong to the artifact's deal.
func (s *Service) Link(ctx context.Context, dealID, artifactID, eventID, materialID, tag string) (*contracts.ArtifactLink, error) {
	a, err := s.store.GetArtifact(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	if a.DealID != dealID {
		return nil, store.ErrNotFound
	}
	if eventID == "" && materialID == "" && tag == "" {
		return nil, fmt.Errorf("artifacts: link needs an eventId, materialId or tag")
	}

	if eventID != "" {
		found := false
		events, err := s.store.ListEvents(ctx, dealID)
		if err != nil {
			return nil, err
		}
		for i := range events {
			if events[i].ID == eventID {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("artifacts: event %s not in deal: %w", eventID, store.ErrNotFound)
		}
	}
	if materialID != "" {
		m, err := s.store.GetMaterial(ctx, materialID)
		if err != nil {
			return nil, err
		}
		if m.DealID != dealID {
			return nil, fmt.Errorf("artifacts: material %s not in deal: %w", materialID, store.ErrNotFound)
		}
	}

	l := &contracts.ArtifactLink{
		ID:         uuid.NewString(),
		DealID:     dealID,
		ArtifactID: artifactID,
		EventID:    eventID,
		MaterialID: materialID,
		Tag:        tag,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.InsertArtifactLink(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// EvidenceIndex aggregates, per artifact created at or before at, every
// reference to it: explicit links plus evidenceRefs carried by events and
// material revisions.
func (s *Service) EvidenceIndex(ctx context.Context, dealID string, at time.Time) ([]contracts.EvidenceEntry, error) {
	arts, err := s.store.ListArtifactsUpTo(ctx, dealID, at.UTC())
	if err != nil {
		return nil, err
	}
	links, err := s.store.ListArtifactLinks(ctx, dealID)
	if err != nil {
		return nil, err
	}
	events, err := s.store.ListEventsUpTo(ctx, dealID, at.UTC())
	if err != nil {
		return nil, err
	}
	revisions, err := s.store.ListRevisionsUpTo(ctx, dealID, at.UTC())
	if err != nil {
		return nil, err
	}

	refs := map[string][]string{}
	seen := map[string]map[string]bool{}
	add := func(artifactID, ref string) {
		if seen[artifactID] == nil {
			seen[artifactID] = map[string]bool{}
		}
		if seen[artifactID][ref] {
			return
		}
		seen[artifactID][ref] = true
		refs[artifactID] = append(refs[artifactID], ref)
	}

	for _, l := range links {
		if !l.CreatedAt.After(at) {
			if l.EventID != "" {
				add(l.ArtifactID, "event:"+l.EventID)
			}
			if l.MaterialID != "" {
				add(l.ArtifactID, "material:"+l.MaterialID)
			}
			if l.Tag != "" {
				add(l.ArtifactID, "tag:"+l.Tag)
			}
		}
	}
	for i := range events {
		for _, ref := range events[i].EvidenceRefs {
			add(ref, "event:"+events[i].ID)
		}
	}
	for i := range revisions {
		for _, ref := range revisions[i].EvidenceRefs() {
			add(ref, "material:"+revisions[i].MaterialID)
		}
	}

	out := make([]contracts.EvidenceEntry, 0, len(arts))
	for _, a := range arts {
		references := refs[a.ID]
		if references == nil {
			references = []string{}
		}
		out = append(out, contracts.EvidenceEntry{
			ArtifactID: a.ID,
			Filename:   a.Filename,
			Sha256Hex:  a.Sha256Hex,
			SizeBytes:  a.SizeBytes,
			CreatedAt:  a.CreatedAt,
			References: references,
		})
	}
	return out, nil
}

// safeFilename keeps only the final path element and strips separators so a
// client-supplied name cannot escape the artifact directory.
func safeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', 0:
			return -1
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "artifact.bin"
	}
	return name
}
