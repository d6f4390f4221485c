package unlock

import (
	"github.com/rs/zerolog"
)

// State is a step of the unlock saga.
type State int

const (
	StateStart State = iota
	StateIdempotencyChecked
	StatePriced
	StateDebited
	StateGrantPersisted
	StateNotified
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateIdempotencyChecked:
		return "idempotency_checked"
	case StatePriced:
		return "priced"
	case StateDebited:
		return "debited"
	case StateGrantPersisted:
		return "grant_persisted"
	case StateNotified:
		return "notified"
	case StateAborted:
		return "aborted"
	}
	return "unknown"
}

// run tracks one saga invocation. Nothing is persisted.
type run struct {
	state State
	log   zerolog.Logger
}

func (r *run) advance(next State) {
	r.log.Debug().Stringer("from", r.state).Stringer("to", next).Msg("unlock saga step")
	r.state = next
}

func (r *run) abort(err error) {
	r.log.Warn().Err(err).Stringer("at", r.state).Msg("unlock saga aborted")
	r.state = StateAborted
}
