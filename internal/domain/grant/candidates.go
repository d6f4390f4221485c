package grant

// Candidates lists the physical names a grant may live under, in priority
// order. Tables are tried for writes and sweeps; ReadViews are preferred for
// reads and are swept as well.
type Candidates struct {
	Tables     []string
	ActiveView string
	Views      []string

	OperatorColumns   []string
	AthleteColumns    []string
	UnlockedAtColumns []string
	ExpiresColumns    []string
}

const (
	ActiveView  = "v_op_unlocks_active"
	HistoryView = "v_op_unlocks"
)

func DefaultCandidates() Candidates {
	return Candidates{
		Tables: []string{
			"op_contact_unlocks",
			"op_contact_unlock",
			"op_unlocks",
			"op_unlock",
			"operator_contact_unlocks",
			"operator_contact_unlock",
			"op_athlete_unlocks",
			"op_athlete_unlock",
			"op_contact_unlock_history",
			"operator_unlocks",
			"operator_unlock",
		},
		ActiveView: ActiveView,
		Views:      []string{ActiveView, HistoryView},

		OperatorColumns:   []string{"op_id", "operator_id", "op_account_id", "operator_account_id"},
		AthleteColumns:    []string{"athlete_id", "athlete", "talent_id", "player_id", "athlete_uuid"},
		UnlockedAtColumns: []string{"unlocked_at", "granted_at", "created_at", "access_granted_at"},
		ExpiresColumns:    []string{"expires_at", "expires_on", "valid_until", "valid_to", "visibility_expires_at", "access_expires_at"},
	}
}

// readSources returns the relations consulted by reads: views first.
func (c Candidates) readSources(activeOnly bool) []string {
	out := make([]string, 0, len(c.Views)+len(c.Tables))
	for _, v := range c.Views {
		if !activeOnly && v == c.ActiveView {
			continue
		}
		out = append(out, v)
	}
	return append(out, c.Tables...)
}

// sweepTargets returns every relation the reset sweep visits.
func (c Candidates) sweepTargets() []string {
	out := make([]string, 0, len(c.Tables)+len(c.Views))
	out = append(out, c.Tables...)
	return append(out, c.Views...)
}
