// Package proofpack assembles the audit export: a ZIP of the point-in-time
// snapshot, explain replays, evidence index, a deterministic PDF cover sheet
// and a manifest fingerprinting every entry.
package proofpack

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/clearstone/dealkernel/pkg/artifacts"
	"github.com/clearstone/dealkernel/pkg/contracts"
	"github.com/clearstone/dealkernel/pkg/snapshot"
	"github.com/clearstone/dealkernel/pkg/store"
)

// DefaultActions is exported when the caller names none.
var DefaultActions = []contracts.Action{contracts.ActionFinalizeClosing}

// ManifestFile fingerprints one ZIP entry.
type ManifestFile struct {
	Path      string `json:"path"`
	Sha256Hex string `json:"sha256Hex"`
}

// Manifest is the pack's self-description. Every entry except the manifest
// itself is listed with its SHA-256.
type Manifest struct {
	GeneratedAt        time.Time      `json:"generatedAt"`
	DealID             string         `json:"dealId"`
	At                 time.Time      `json:"at"`
	DeterministicClaim bool           `json:"deterministicClaim"`
	ReplayInputs       []string       `json:"replayInputs"`
	Files              []ManifestFile `json:"files"`
}

// Exporter builds proof packs from the snapshot and artifact services.
type Exporter struct {
	store     store.Store
	snapshots *snapshot.Service
	artifacts *artifacts.Service
	now       func() time.Time
}

func New(st store.Store, snaps *snapshot.Service, arts *artifacts.Service) *Exporter {
	return &Exporter{store: st, snapshots: snaps, artifacts: arts, now: time.Now}
}

// WithClock overrides the manifest timestamp source. Tests only.
func (x *Exporter) WithClock(now func() time.Time) *Exporter {
	x.now = now
	return x
}

// Export streams the ZIP to w and returns the manifest it embedded. All
// content except manifest.generatedAt is a pure function of the deal history
// at `at`, so per-file hashes are reproducible across calls.
func (x *Exporter) Export(ctx context.Context, w io.Writer, dealID string, at time.Time, actions []contracts.Action) (*Manifest, error) {
	at = at.UTC()
	if len(actions) == 0 {
		actions = DefaultActions
	}
	actions = dedupeSorted(actions)

	snap, err := x.snapshots.Snapshot(ctx, dealID, at)
	if err != nil {
		return nil, err
	}

	type entry struct {
		path string
		data []byte
	}
	var entries []entry
	addJSON := func(path string, v any) error {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("proofpack: marshal %s: %w", path, err)
		}
		entries = append(entries, entry{path: path, data: append(data, '\n')})
		return nil
	}

	if err := addJSON("snapshot.json", snap); err != nil {
		return nil, err
	}

	explains := make(map[contracts.Action]*contracts.Explain, len(actions))
	for _, action := range actions {
		explain, err := x.snapshots.Explain(ctx, dealID, action, "", at)
		if err != nil {
			return nil, err
		}
		explains[action] = explain
		if err := addJSON("explains/"+string(action)+".json", explain); err != nil {
			return nil, err
		}
	}

	index, err := x.artifacts.EvidenceIndex(ctx, dealID, at)
	if err != nil {
		return nil, err
	}
	if err := addJSON("evidence-index.json", index); err != nil {
		return nil, err
	}

	cover, err := coverPDF(snap, explains, index, actions, at)
	if err != nil {
		return nil, err
	}
	entries = append(entries, entry{path: "compliance-snapshot.pdf", data: cover})

	manifest := &Manifest{
		GeneratedAt:        x.now().UTC(),
		DealID:             dealID,
		At:                 at,
		DeterministicClaim: true,
		ReplayInputs:       []string{"events", "materialRevisions", "artifacts"},
		Files:              make([]ManifestFile, 0, len(entries)),
	}
	for _, e := range entries {
		sum := sha256.Sum256(e.data)
		manifest.Files = append(manifest.Files, ManifestFile{
			Path:      e.path,
			Sha256Hex: hex.EncodeToString(sum[:]),
		})
	}
	if err := addJSON("manifest.json", manifest); err != nil {
		return nil, err
	}

	zw := zip.NewWriter(w)
	for _, e := range entries {
		f, err := zw.CreateHeader(&zip.FileHeader{
			Name:     e.path,
			Method:   zip.Deflate,
			Modified: at,
		})
		if err != nil {
			return nil, fmt.Errorf("proofpack: zip entry %s: %w", e.path, err)
		}
		if _, err := f.Write(e.data); err != nil {
			return nil, fmt.Errorf("proofpack: write %s: %w", e.path, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("proofpack: close zip: %w", err)
	}
	return manifest, nil
}

// coverPDF renders the compliance cover sheet. The creation date is pinned to
// `at` and the content ordering is fixed, so the bytes reproduce exactly.
func coverPDF(snap *contracts.Snapshot, explains map[contracts.Action]*contracts.Explain, index []contracts.EvidenceEntry, actions []contracts.Action, at time.Time) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCreationDate(at)
	pdf.SetTitle("Compliance Snapshot", false)
	pdf.AddPage()

	pdf.SetFont("Courier", "B", 14)
	pdf.Cell(0, 8, "Compliance Snapshot")
	pdf.Ln(10)

	pdf.SetFont("Courier", "", 10)
	line := func(s string) {
		pdf.Cell(0, 5, s)
		pdf.Ln(5)
	}
	line("Deal:       " + snap.DealID)
	line("As of:      " + at.Format(time.RFC3339))
	line("State:      " + string(snap.Projection.State))
	line("StressMode: " + string(snap.Projection.StressMode))
	pdf.Ln(4)

	pdf.SetFont("Courier", "B", 11)
	line("Gate evaluations")
	pdf.SetFont("Courier", "", 10)
	for _, action := range actions {
		status := "n/a"
		if e := explains[action]; e != nil {
			status = e.Status
		}
		line(fmt.Sprintf("  %-24s %s", action, status))
	}
	pdf.Ln(4)

	pdf.SetFont("Courier", "B", 11)
	line("Approvals")
	pdf.SetFont("Courier", "", 10)
	for _, a := range snap.Approvals {
		verdict := "FAIL"
		if a.Satisfied {
			verdict = "PASS"
		}
		line(fmt.Sprintf("  %-24s %d/%d %s", a.Action, a.CurrentCount, a.Threshold, verdict))
	}
	pdf.Ln(4)

	pdf.SetFont("Courier", "B", 11)
	line("Missing materials")
	pdf.SetFont("Courier", "", 10)
	for _, action := range sortedActions(snap.MaterialRequirements) {
		missing := 0
		for _, r := range snap.MaterialRequirements[action] {
			if r.Status != contracts.RequirementOK {
				missing++
			}
		}
		line(fmt.Sprintf("  %-24s %d missing", action, missing))
	}
	pdf.Ln(4)

	pdf.SetFont("Courier", "B", 11)
	line("Artifact fingerprints")
	pdf.SetFont("Courier", "", 8)
	for _, e := range index {
		line(fmt.Sprintf("  %s  %s", e.Sha256Hex, e.Filename))
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("proofpack: render cover: %w", err)
	}
	return buf.Bytes(), nil
}

func sortedActions(m map[contracts.Action][]contracts.RequirementStatus) []contracts.Action {
	out := make([]contracts.Action, 0, len(m))
	for a := range m {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func dedupeSorted(actions []contracts.Action) []contracts.Action {
	seen := map[contracts.Action]bool{}
	out := make([]contracts.Action, 0, len(actions))
	for _, a := range actions {
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
