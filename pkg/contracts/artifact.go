package contracts

import "time"

// Artifact is one content-addressed file. Sha256Hex is unique across the
// whole store: the same bytes cannot belong to two deals.
type Artifact struct {
	ID         string    `json:"id"`
	DealID     string    `json:"dealId"`
	Filename   string    `json:"filename"`
	MimeType   string    `json:"mimeType"`
	SizeBytes  int64     `json:"sizeBytes"`
	Sha256Hex  string    `json:"sha256Hex"`
	StorageKey string    `json:"storageKey"`
	UploaderID string    `json:"uploaderId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ArtifactLink relates an artifact to the event or material it evidences, or
// carries a tag-only association.
type ArtifactLink struct {
	ID         string    `json:"id"`
	DealID     string    `json:"dealId"`
	ArtifactID string    `json:"artifactId"`
	EventID    string    `json:"eventId,omitempty"`
	MaterialID string    `json:"materialId,omitempty"`
	Tag        string    `json:"tag,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// EvidenceEntry aggregates, for one artifact, every reference drawn from
// links, event evidenceRefs and material evidenceRefs. It is the row shape of
// the proof pack's evidence index.
type EvidenceEntry struct {
	ArtifactID string    `json:"artifactId"`
	Filename   string    `json:"filename"`
	Sha256Hex  string    `json:"sha256Hex"`
	SizeBytes  int64     `json:"sizeBytes"`
	CreatedAt  time.Time `json:"createdAt"`
	References []string  `json:"references"`
}
