package unlock

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"github.com/scoutlink/unlock-api/internal/domain/grant"
	"github.com/scoutlink/unlock-api/internal/domain/identity"
)

type UnlockRequest struct {
	AthleteID FlexibleID `json:"athleteId" validate:"required,entity_id"`
}

type ResetRequest struct {
	OperatorID FlexibleID `json:"operatorId" validate:"required,entity_id"`
}

// FlexibleID accepts a JSON string or number.
type FlexibleID string

func (f *FlexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexibleID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.New("id must be a string or number")
	}
	*f = FlexibleID(n.String())
	return nil
}

type GrantResponse struct {
	UnlockedAt *time.Time `json:"unlocked_at"`
	ExpiresAt  *time.Time `json:"expires_at"`
}

type UnlockResponse struct {
	Success         bool               `json:"success"`
	AlreadyUnlocked bool               `json:"alreadyUnlocked,omitempty"`
	Unlock          GrantResponse      `json:"unlock"`
	Balance         json.Number        `json:"balance"`
	Contacts        *identity.Identity `json:"contacts,omitempty"`
}

type StatusResponse struct {
	Success  bool               `json:"success"`
	Active   bool               `json:"active"`
	Unlock   *GrantResponse     `json:"unlock"`
	Balance  json.Number        `json:"balance"`
	Contacts *identity.Identity `json:"contacts,omitempty"`
}

type ResetResponse struct {
	Success                bool                 `json:"success"`
	ClearedUnlocks         int64                `json:"clearedUnlocks"`
	Tables                 []grant.TableOutcome `json:"tables"`
	RemainingActiveUnlocks *int64               `json:"remainingActiveUnlocks"`
}

func grantResponse(g *grant.Grant) GrantResponse {
	out := GrantResponse{ExpiresAt: g.ExpiresAt}
	if !g.UnlockedAt.IsZero() {
		t := g.UnlockedAt
		out.UnlockedAt = &t
	}
	return out
}
