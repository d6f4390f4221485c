package grant

import "time"

// Grant records that an operator may view an athlete's contacts until
// ExpiresAt. A nil ExpiresAt never expires.
type Grant struct {
	OperatorID string
	AthleteID  string
	UnlockedAt time.Time
	ExpiresAt  *time.Time

	// Source is the relation the grant was read from or written to.
	Source string
	// Derived marks a grant with no dedicated row; the ledger entry is the
	// only evidence of the purchase.
	Derived bool
}

// Active reports whether the grant is still in force at now.
func (g *Grant) Active(now time.Time) bool {
	return g.ExpiresAt == nil || g.ExpiresAt.After(now)
}

// Layout binds the logical grant fields to one physical relation.
// UnlockedAt is empty when the relation has no such column.
type Layout struct {
	Table      string
	Operator   string
	Athlete    string
	UnlockedAt string
	Expires    string
}

// TableOutcome is one line of a sweep summary.
type TableOutcome struct {
	Table     string `json:"table"`
	Removed   int64  `json:"removed"`
	Expired   int64  `json:"expired"`
	Attempted bool   `json:"attempted"`
	Skipped   bool   `json:"skipped"`
	Reason    string `json:"reason,omitempty"`
	Column    string `json:"column,omitempty"`
}

type VoidSummary struct {
	OperatorID string
	Tables     []TableOutcome
}

// Cleared is the number of rows removed or expired across all tables.
func (s *VoidSummary) Cleared() int64 {
	var n int64
	for _, t := range s.Tables {
		n += t.Removed + t.Expired
	}
	return n
}
