package calls

import (
	"context"
	"testing"
	"time"
)

func TestMemoryRepo_CreateIfAbsentIsIdempotent(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	c := Call{CallID: "CA1", TenantID: "t1", Mode: ModeRecording, State: StateRinging, CreatedAt: now}
	_, created, err := repo.CreateIfAbsent(ctx, c)
	if err != nil || !created {
		t.Fatalf("expected created, got created=%v err=%v", created, err)
	}
	c.From = "+15550001111"
	got, created, err := repo.CreateIfAbsent(ctx, c)
	if err != nil || created {
		t.Fatalf("expected existing row, got created=%v err=%v", created, err)
	}
	if got.From != "" {
		t.Fatalf("duplicate create must not overwrite the stored row")
	}
}

func TestMemoryRepo_SaveTranscriptOncePerCall(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()

	first, created, err := repo.SaveTranscript(ctx, Transcript{CallID: "CA123", TenantID: "t1", RecordingURL: "r1"})
	if err != nil || !created {
		t.Fatalf("expected created, got %v %v", created, err)
	}
	second, created, err := repo.SaveTranscript(ctx, Transcript{CallID: "CA123", TenantID: "t1", RecordingURL: "r2"})
	if err != nil || created {
		t.Fatalf("expected existing, got %v %v", created, err)
	}
	if second.ID != first.ID || second.RecordingURL != "r1" {
		t.Fatalf("expected first transcript returned, got %+v", second)
	}
	if n := repo.TranscriptInserts("CA123"); n != 1 {
		t.Fatalf("expected one transcript row, got %d", n)
	}
}

func TestMemoryRepo_SaveAnalysisDiscardsStale(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	tr, _, _ := repo.SaveTranscript(ctx, Transcript{CallID: "CA1", TenantID: "t1"})

	applied, err := repo.SaveAnalysis(ctx, AnalysisRecord{TranscriptID: tr.ID, CallID: "CA1", Seq: 5, Outcome: "scheduled"})
	if err != nil || !applied {
		t.Fatalf("expected applied, got %v %v", applied, err)
	}
	applied, err = repo.SaveAnalysis(ctx, AnalysisRecord{TranscriptID: tr.ID, CallID: "CA1", Seq: 3, Outcome: "callback_needed"})
	if err != nil || applied {
		t.Fatalf("expected stale discard, got %v %v", applied, err)
	}
	a, err := repo.GetAnalysis(ctx, "CA1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if a.Seq != 5 || a.Outcome != "scheduled" {
		t.Fatalf("expected newer analysis kept, got %+v", a)
	}
}

func TestMemoryRepo_AppendUtterancesKeepsOrder(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	now := time.Now()
	if _, err := repo.AppendUtterances(ctx, "t1", "CA1", []Utterance{{Seq: 1, Text: "a"}}, now); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	tr, err := repo.AppendUtterances(ctx, "t1", "CA1", []Utterance{{Seq: 2, Text: "b"}}, now)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(tr.Utterances) != 2 || tr.Utterances[0].Text != "a" || tr.Utterances[1].Text != "b" {
		t.Fatalf("unexpected utterances %+v", tr.Utterances)
	}
	if repo.TranscriptInserts("CA1") != 1 {
		t.Fatalf("expected a single transcript row")
	}
}

func TestMemoryRepo_ListIsTenantScoped(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()
	_, _, _ = repo.CreateIfAbsent(ctx, Call{CallID: "a", TenantID: "t1", CreatedAt: now})
	_, _, _ = repo.CreateIfAbsent(ctx, Call{CallID: "b", TenantID: "t2", CreatedAt: now})

	out, err := repo.List(ctx, "t1", 10)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(out) != 1 || out[0].CallID != "a" {
		t.Fatalf("unexpected calls %+v", out)
	}
	if _, err := repo.List(ctx, "", 10); err == nil {
		t.Fatalf("expected tenant required")
	}
}
