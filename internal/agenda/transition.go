package agenda

import (
	"fmt"

	"pillar.vc/assistant/internal/domain"
	"pillar.vc/assistant/internal/model"
)

// State is a draft status, plus StateNone for a channel with no draft.
type State string

const (
	StateNone       State = "none"
	StateOpen       State = State(model.AgendaStatusOpen)
	StateFinalizing State = State(model.AgendaStatusFinalizing)
	StateFinalized  State = State(model.AgendaStatusFinalized)
)

type Event string

const (
	EventStart          Event = "start"
	EventAddItem        Event = "add_item"
	EventFinalize       Event = "finalize"
	EventDocumentFailed Event = "document_failed"
	EventDocumentReady  Event = "document_ready"
)

// StateOf returns the state of a channel given its most relevant draft.
func StateOf(d *model.AgendaDraft) State {
	if d == nil {
		return StateNone
	}
	return State(d.Status)
}

var transitions = map[State]map[Event]State{
	StateNone: {
		EventStart:   StateOpen,
		EventAddItem: StateOpen,
	},
	StateOpen: {
		EventStart:    StateOpen,
		EventAddItem:  StateOpen,
		EventFinalize: StateFinalizing,
	},
	// A draft is only seen in Finalizing when a previous finalize died midway.
	StateFinalizing: {
		EventStart:          StateOpen,
		EventAddItem:        StateOpen,
		EventFinalize:       StateFinalizing,
		EventDocumentFailed: StateOpen,
		EventDocumentReady:  StateFinalized,
	},
	StateFinalized: {
		EventStart:   StateOpen,
		EventAddItem: StateOpen,
	},
}

// Transition returns the state reached by applying ev in state from.
func Transition(from State, ev Event) (State, error) {
	if to, ok := transitions[from][ev]; ok {
		return to, nil
	}
	switch {
	case from == StateNone && ev == EventFinalize:
		return from, domain.NotFound("an agenda to finalize")
	case from == StateFinalized && ev == EventFinalize:
		return from, &domain.StateConflict{Reason: "agenda already finalized"}
	default:
		return from, &domain.StateConflict{Reason: fmt.Sprintf("cannot %s while %s", ev, from)}
	}
}
