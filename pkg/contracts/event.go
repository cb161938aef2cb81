package contracts

import (
	"encoding/json"
	"time"
)

// EventType categorizes ledger events.
type EventType string

// Ledger event types. DealCreated is the chain genesis written at deal
// creation; the rest are client-submitted.
const (
	EventDealCreated              EventType = "DealCreated"
	EventReviewOpened             EventType = "ReviewOpened"
	EventDealApproved             EventType = "DealApproved"
	EventClosingReadinessAttested EventType = "ClosingReadinessAttested"
	EventClosingFinalized         EventType = "ClosingFinalized"
	EventOperationsActivated      EventType = "OperationsActivated"
	EventMaterialChangeDetected   EventType = "MaterialChangeDetected"
	EventChangeReconciled         EventType = "ChangeReconciled"
	EventDistressDeclared         EventType = "DistressDeclared"
	EventDistressResolved         EventType = "DistressResolved"
	EventFreezeImposed            EventType = "FreezeImposed"
	EventFreezeLifted             EventType = "FreezeLifted"
	EventExitFinalized            EventType = "ExitFinalized"
	EventDealTerminated           EventType = "DealTerminated"
	EventDataDisputed             EventType = "DataDisputed"
	EventApprovalGranted          EventType = "ApprovalGranted"
	EventApprovalDenied           EventType = "ApprovalDenied"
	EventOverrideAttested         EventType = "OverrideAttested"
)

// SubmittableEventTypes is the set of types accepted from clients.
var SubmittableEventTypes = map[EventType]bool{
	EventReviewOpened:             true,
	EventDealApproved:             true,
	EventClosingReadinessAttested: true,
	EventClosingFinalized:         true,
	EventOperationsActivated:      true,
	EventMaterialChangeDetected:   true,
	EventChangeReconciled:         true,
	EventDistressDeclared:         true,
	EventDistressResolved:         true,
	EventFreezeImposed:            true,
	EventFreezeLifted:             true,
	EventExitFinalized:            true,
	EventDealTerminated:           true,
	EventDataDisputed:             true,
	EventApprovalGranted:          true,
	EventApprovalDenied:           true,
	EventOverrideAttested:         true,
}

// Event is a single immutable, hash-chained ledger entry.
//
// Invariants: SequenceNumber is dense and 1-based per deal;
// PreviousEventHash is nil exactly for sequence 1 and otherwise equals the
// preceding event's EventHash; rows are never updated or deleted.
type Event struct {
	ID                string          `json:"id"`
	DealID            string          `json:"dealId"`
	Type              EventType       `json:"type"`
	ActorID           string          `json:"actorId,omitempty"`
	Payload           json.RawMessage `json:"payload"`
	AuthorityContext  json.RawMessage `json:"authorityContext,omitempty"`
	EvidenceRefs      []string        `json:"evidenceRefs,omitempty"`
	SequenceNumber    int64           `json:"sequenceNumber"`
	PreviousEventHash *string         `json:"previousEventHash"`
	EventHash         string          `json:"eventHash"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// PayloadMap decodes the payload envelope into a generic map. A nil or empty
// payload decodes to an empty map.
func (e *Event) PayloadMap() map[string]any {
	m := map[string]any{}
	if len(e.Payload) > 0 {
		_ = json.Unmarshal(e.Payload, &m)
	}
	return m
}

// PayloadString returns the string value of a payload field, or "".
func (e *Event) PayloadString(key string) string {
	v, _ := e.PayloadMap()[key].(string)
	return v
}

// ChainIssue describes one defect found while verifying a deal's hash chain.
type ChainIssue struct {
	SequenceNumber int64  `json:"sequenceNumber"`
	Kind           string `json:"kind"` // GAP | LINK_MISMATCH | HASH_MISMATCH
	Detail         string `json:"detail"`
}

// ChainReport is the result of verifying a deal's hash chain.
type ChainReport struct {
	Valid       bool         `json:"valid"`
	TotalEvents int64        `json:"totalEvents"`
	Issues      []ChainIssue `json:"issues"`
}
