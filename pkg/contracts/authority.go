package contracts

// Action is a symbolic advance governed by exactly one AuthorityRule per deal.
type Action string

// Actions.
const (
	ActionOpenReview           Action = "OPEN_REVIEW"
	ActionApproveDeal          Action = "APPROVE_DEAL"
	ActionAttestReadyToClose   Action = "ATTEST_READY_TO_CLOSE"
	ActionFinalizeClosing      Action = "FINALIZE_CLOSING"
	ActionActivateOperations   Action = "ACTIVATE_OPERATIONS"
	ActionDetectMaterialChange Action = "DETECT_MATERIAL_CHANGE"
	ActionReconcileChange      Action = "RECONCILE_CHANGE"
	ActionDeclareDistress      Action = "DECLARE_DISTRESS"
	ActionResolveDistress      Action = "RESOLVE_DISTRESS"
	ActionImposeFreeze         Action = "IMPOSE_FREEZE"
	ActionLiftFreeze           Action = "LIFT_FREEZE"
	ActionFinalizeExit         Action = "FINALIZE_EXIT"
	ActionTerminateDeal        Action = "TERMINATE_DEAL"
	ActionDisputeData          Action = "DISPUTE_DATA"
	ActionOverride             Action = "OVERRIDE"
)

// AuthorityRule gates one action on one deal. Exactly one rule exists per
// (dealId, action); the set is seeded from the default profile at deal
// creation.
type AuthorityRule struct {
	DealID        string   `json:"dealId"`
	Action        Action   `json:"action"`
	Threshold     int      `json:"threshold"`
	RolesAllowed  []string `json:"rolesAllowed"`
	RolesRequired []string `json:"rolesRequired"`
}

// AllowsRole reports whether any of the given role names is in RolesAllowed.
func (r *AuthorityRule) AllowsRole(roles []string) bool {
	for _, have := range roles {
		for _, allowed := range r.RolesAllowed {
			if have == allowed {
				return true
			}
		}
	}
	return false
}

// fixedActionByEventType maps advance event types to their action. Approval
// and override events resolve their action from the payload instead.
var fixedActionByEventType = map[EventType]Action{
	EventReviewOpened:             ActionOpenReview,
	EventDealApproved:             ActionApproveDeal,
	EventClosingReadinessAttested: ActionAttestReadyToClose,
	EventClosingFinalized:         ActionFinalizeClosing,
	EventOperationsActivated:      ActionActivateOperations,
	EventMaterialChangeDetected:   ActionDetectMaterialChange,
	EventChangeReconciled:         ActionReconcileChange,
	EventDistressDeclared:         ActionDeclareDistress,
	EventDistressResolved:         ActionResolveDistress,
	EventFreezeImposed:            ActionImposeFreeze,
	EventFreezeLifted:             ActionLiftFreeze,
	EventExitFinalized:            ActionFinalizeExit,
	EventDealTerminated:           ActionTerminateDeal,
	EventDataDisputed:             ActionDisputeData,
}

// FixedActionFor returns the fixed action for an advance event type.
// The second return is false for ApprovalGranted/ApprovalDenied/
// OverrideAttested, whose action comes from the payload.
func FixedActionFor(t EventType) (Action, bool) {
	a, ok := fixedActionByEventType[t]
	return a, ok
}

// GateEventFor returns the advance event type that commits the given action.
// Override validity is judged against the most recent such event.
func GateEventFor(a Action) (EventType, bool) {
	for t, action := range fixedActionByEventType {
		if action == a {
			return t, true
		}
	}
	return "", false
}

// GateAdvancingActions are the actions whose advance events are subject to
// the approval-threshold check.
var GateAdvancingActions = map[Action]bool{
	ActionApproveDeal:        true,
	ActionAttestReadyToClose: true,
	ActionFinalizeClosing:    true,
	ActionActivateOperations: true,
	ActionResolveDistress:    true,
}

// MaterialGatedActions are the actions whose advance events are subject to
// the material-requirement check.
var MaterialGatedActions = map[Action]bool{
	ActionApproveDeal:        true,
	ActionAttestReadyToClose: true,
	ActionFinalizeClosing:    true,
	ActionActivateOperations: true,
}
