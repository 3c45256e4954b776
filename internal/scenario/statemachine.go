package scenario

import "fmt"

// State is a point in the lifecycle of a scenario run.
type State string

const (
	StateSuiteStart           State = "SuiteStart"
	StateTeamProvisioned      State = "TeamProvisioned"
	StateAuthenticatedCLI     State = "AuthenticatedCLI"
	StatePipelinesCreated     State = "PipelinesCreated"
	StatePipelinesReordered   State = "PipelinesReordered"
	StateAuthenticatedBrowser State = "AuthenticatedBrowser"
	StateDashboardLoaded      State = "DashboardLoaded"
	StateCardsRendered        State = "CardsRendered"
	StateNamesScraped         State = "NamesScraped"
	StateAsserted             State = "Asserted"
	StateDone                 State = "Done"
	StateFailed               State = "Failed"
)

// validTransitions maps each state to the states it may move to. Every
// non-terminal state may also move to StateFailed.
var validTransitions = map[State][]State{
	StateSuiteStart:           {StateTeamProvisioned},
	StateTeamProvisioned:      {StateAuthenticatedCLI},
	StateAuthenticatedCLI:     {StatePipelinesCreated},
	StatePipelinesCreated:     {StatePipelinesReordered, StateAuthenticatedBrowser},
	StatePipelinesReordered:   {StateAuthenticatedBrowser},
	StateAuthenticatedBrowser: {StateDashboardLoaded},
	StateDashboardLoaded:      {StateCardsRendered},
	StateCardsRendered:        {StateNamesScraped},
	StateNamesScraped:         {StateAsserted},
	StateAsserted:             {StateDone},
}

// TerminalStates are states from which no further transitions are allowed.
var TerminalStates = map[State]bool{
	StateDone:   true,
	StateFailed: true,
}

// TransitionError represents an invalid state transition.
type TransitionError struct {
	From    State
	To      State
	Message string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s: %s", e.From, e.To, e.Message)
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to State) bool {
	if TerminalStates[from] {
		return false
	}
	if to == StateFailed {
		_, known := validTransitions[from]
		return known
	}
	for _, target := range validTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns a *TransitionError if from may not move to to.
func ValidateTransition(from, to State) error {
	if TerminalStates[from] {
		return &TransitionError{From: from, To: to, Message: fmt.Sprintf("%s is a terminal state", from)}
	}
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to, Message: "transition not allowed"}
	}
	return nil
}

// IsTerminal returns true if s is a terminal state.
func IsTerminal(s State) bool {
	return TerminalStates[s]
}
