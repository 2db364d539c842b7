package calls

// State is the conversation state of a call. Recording and streaming calls
// share the outcome and terminal states.
type State string

const (
	// recording mode
	StateRinging        State = "ringing"
	StateGreeting       State = "greeting"
	StateAwaitingSpeech State = "awaiting_speech"
	StateRecorded       State = "recorded"

	// streaming mode
	StateOpening   State = "opening"
	StateStreaming State = "streaming"
	StateDraining  State = "draining"

	StateAnalyzing State = "analyzing"

	StateScheduled       State = "scheduled"
	StateCallbackNeeded  State = "callback_needed"
	StateInformationOnly State = "information_only"

	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

func (s State) Terminal() bool { return s == StateCompleted || s == StateFailed }

func (s State) IsOutcome() bool {
	switch s {
	case StateScheduled, StateCallbackNeeded, StateInformationOnly:
		return true
	}
	return false
}

var transitions = map[State][]State{
	StateRinging:        {StateGreeting, StateCallbackNeeded},
	StateGreeting:       {StateAwaitingSpeech, StateCallbackNeeded},
	StateAwaitingSpeech: {StateRecorded, StateCallbackNeeded},
	StateRecorded:       {StateAnalyzing},

	StateOpening:   {StateStreaming},
	StateStreaming: {StateDraining},
	StateDraining:  {StateAnalyzing},

	StateAnalyzing: {StateScheduled, StateCallbackNeeded, StateInformationOnly},

	StateScheduled:       {StateCompleted},
	StateCallbackNeeded:  {StateCompleted},
	StateInformationOnly: {StateCompleted},
}

// CanTransition reports whether from -> to is allowed. Failed is reachable
// from every non-terminal state.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// InitialState is the first state of a call in the given mode.
func InitialState(m Mode) State {
	if m == ModeStreaming {
		return StateOpening
	}
	return StateRinging
}
