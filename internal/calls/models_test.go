package calls

import (
	"errors"
	"testing"
	"time"
)

func TestCanTransition_RecordingPath(t *testing.T) {
	path := []State{StateRinging, StateGreeting, StateAwaitingSpeech, StateRecorded, StateAnalyzing, StateScheduled, StateCompleted}
	for i := 0; i < len(path)-1; i++ {
		if !CanTransition(path[i], path[i+1]) {
			t.Fatalf("expected %s -> %s allowed", path[i], path[i+1])
		}
	}
}

func TestCanTransition_StreamingPath(t *testing.T) {
	path := []State{StateOpening, StateStreaming, StateDraining, StateAnalyzing, StateCallbackNeeded, StateCompleted}
	for i := 0; i < len(path)-1; i++ {
		if !CanTransition(path[i], path[i+1]) {
			t.Fatalf("expected %s -> %s allowed", path[i], path[i+1])
		}
	}
}

func TestCanTransition_FailedFromAnyNonTerminal(t *testing.T) {
	for _, s := range []State{StateRinging, StateGreeting, StateAwaitingSpeech, StateRecorded, StateAnalyzing, StateOpening, StateStreaming, StateDraining, StateScheduled} {
		if !CanTransition(s, StateFailed) {
			t.Fatalf("expected %s -> failed allowed", s)
		}
	}
	if CanTransition(StateCompleted, StateFailed) || CanTransition(StateFailed, StateFailed) {
		t.Fatalf("terminal states must not transition")
	}
}

func TestCanTransition_RejectsSkips(t *testing.T) {
	if CanTransition(StateRinging, StateAnalyzing) {
		t.Fatalf("ringing cannot jump to analyzing")
	}
	if CanTransition(StateAnalyzing, StateCompleted) {
		t.Fatalf("analyzing must pass through an outcome")
	}
}

func TestCall_TransitionRecordsOutcomeAndEnd(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	c := Call{CallID: "CA1", State: StateAnalyzing}
	if err := c.Transition(StateScheduled, now); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := c.Transition(StateCompleted, now); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if c.Outcome != StateScheduled {
		t.Fatalf("expected outcome kept, got %q", c.Outcome)
	}
	if c.EndedAt == nil {
		t.Fatalf("expected ended_at on terminal state")
	}

	err := c.Transition(StateAnalyzing, now)
	if !errors.Is(err, ErrInvalidCallState) {
		t.Fatalf("expected ErrInvalidCallState, got %v", err)
	}
}

func TestTranscript_CallerText(t *testing.T) {
	tr := Transcript{Utterances: []Utterance{
		{Speaker: SpeakerCaller, Text: "hi"},
		{Speaker: SpeakerAgent, Text: "hello, how can I help"},
		{Speaker: SpeakerCaller, Text: " book a cleaning "},
	}}
	if got := tr.CallerText(); got != "hi book a cleaning" {
		t.Fatalf("unexpected text %q", got)
	}
	tr.Text = "full transcription"
	if got := tr.CallerText(); got != "full transcription" {
		t.Fatalf("expected transcription text to win, got %q", got)
	}
}

func TestCall_AddNote(t *testing.T) {
	var c Call
	c.AddNote("first")
	c.AddNote("  ")
	c.AddNote("second")
	if c.Notes != "first; second" {
		t.Fatalf("unexpected notes %q", c.Notes)
	}
}
