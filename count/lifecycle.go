/*
lifecycle.go - Session status machine and role permissions

STATE MACHINE:
  ┌────────┐  submit   ┌────────┐  approve  ┌──────────┐  complete  ┌───────────┐
  │ active │ ────────▶ │ review │ ────────▶ │ approved │ ─────────▶ │ completed │
  └────────┘           └────────┘           └──────────┘            └───────────┘
       │  cancel            │  cancel
       ▼                    ▼
  ┌───────────┐        ┌───────────┐
  │ cancelled │        │ cancelled │
  └───────────┘        └───────────┘

  Sessions are created active. There is no edge back to active and no edge
  that skips review, so active → approved is always refused.

ROLES:
  counter:  create sessions, count lines, submit
  approver: everything a counter does, plus approve, cancel, complete, sync
  admin:    same as approver

  Roles come in with every call as an explicit Actor. Authentication is the
  caller's job; this file only decides what an authenticated role may do.
*/
package count

// =============================================================================
// ACTIONS AND ROLES
// =============================================================================

type Action string

const (
	ActionCreate   Action = "create"
	ActionCount    Action = "count"
	ActionSubmit   Action = "submit"
	ActionApprove  Action = "approve"
	ActionCancel   Action = "cancel"
	ActionComplete Action = "complete"
	ActionSync     Action = "sync"
	ActionView     Action = "view"
)

type Role string

const (
	RoleCounter  Role = "counter"
	RoleApprover Role = "approver"
	RoleAdmin    Role = "admin"
)

// ParseRole maps a claim value to a Role.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleCounter, RoleApprover, RoleAdmin:
		return Role(s), true
	}
	return "", false
}

// Actor is the authenticated caller of an engine operation.
type Actor struct {
	ID   string
	Role Role
}

var (
	anyRole      = []Role{RoleCounter, RoleApprover, RoleAdmin}
	elevatedRole = []Role{RoleApprover, RoleAdmin}
)

var permissions = map[Action][]Role{
	ActionView:     anyRole,
	ActionCreate:   anyRole,
	ActionCount:    anyRole,
	ActionSubmit:   anyRole,
	ActionApprove:  elevatedRole,
	ActionCancel:   elevatedRole,
	ActionComplete: elevatedRole,
	ActionSync:     elevatedRole,
}

// Allowed reports whether the role may perform the action.
func (r Role) Allowed(action Action) bool {
	for _, allowed := range permissions[action] {
		if allowed == r {
			return true
		}
	}
	return false
}

func authorize(actor Actor, action Action) error {
	if !actor.Role.Allowed(action) {
		return &ForbiddenError{Role: actor.Role, Action: action}
	}
	return nil
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// Transition is one allowed edge of the session state machine.
type Transition struct {
	From   Status
	Action Action
	To     Status
}

var transitionsTable = []Transition{
	{From: StatusActive, Action: ActionSubmit, To: StatusReview},
	{From: StatusReview, Action: ActionApprove, To: StatusApproved},
	{From: StatusActive, Action: ActionCancel, To: StatusCancelled},
	{From: StatusReview, Action: ActionCancel, To: StatusCancelled},
	{From: StatusApproved, Action: ActionComplete, To: StatusCompleted},
}

// TransitionFor returns the allowed transition for a status and action.
func TransitionFor(from Status, action Action) (Transition, bool) {
	for _, tr := range transitionsTable {
		if tr.From == from && tr.Action == action {
			return tr, true
		}
	}
	return Transition{}, false
}

// IsTerminal reports whether no transition leaves the status.
func (s Status) IsTerminal() bool {
	for _, tr := range transitionsTable {
		if tr.From == s {
			return false
		}
	}
	return true
}
