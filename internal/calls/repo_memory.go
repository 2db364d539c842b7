package calls

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is an in-memory Repository for tests and database-less local runs.
type MemoryRepo struct {
	mu          sync.Mutex
	calls       map[string]Call
	transcripts map[string]Transcript     // call_id
	analyses    map[string]AnalysisRecord // transcript_id

	transcriptInserts map[string]int
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		calls:       map[string]Call{},
		transcripts: map[string]Transcript{},
		analyses:    map[string]AnalysisRecord{},

		transcriptInserts: map[string]int{},
	}
}

func (r *MemoryRepo) CreateIfAbsent(ctx context.Context, c Call) (Call, bool, error) {
	if c.CallID == "" || c.TenantID == "" {
		return Call{}, false, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.calls[c.CallID]; ok {
		return existing, false, nil
	}
	r.calls[c.CallID] = c
	return c, true, nil
}

func (r *MemoryRepo) Get(ctx context.Context, callID string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok {
		return Call{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) Update(ctx context.Context, c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[c.CallID]; !ok {
		return ErrNotFound
	}
	r.calls[c.CallID] = c
	return nil
}

func (r *MemoryRepo) List(ctx context.Context, tenantID string, limit int) ([]Call, error) {
	if tenantID == "" {
		return nil, ErrInvalidArgument
	}
	r.mu.Lock()
	out := make([]Call, 0)
	for _, c := range r.calls {
		if c.TenantID == tenantID {
			out = append(out, c)
		}
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) ListBetween(ctx context.Context, tenantID string, from, to time.Time) ([]Call, error) {
	if tenantID == "" {
		return nil, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, 0)
	for _, c := range r.calls {
		if c.TenantID != tenantID {
			continue
		}
		if c.CreatedAt.Before(from) || !c.CreatedAt.Before(to) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *MemoryRepo) SaveTranscript(ctx context.Context, t Transcript) (Transcript, bool, error) {
	if t.CallID == "" {
		return Transcript{}, false, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.transcripts[t.CallID]; ok {
		return existing, false, nil
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	r.transcripts[t.CallID] = t
	r.transcriptInserts[t.CallID]++
	return t, true, nil
}

func (r *MemoryRepo) GetTranscript(ctx context.Context, callID string) (Transcript, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transcripts[callID]
	if !ok {
		return Transcript{}, ErrNotFound
	}
	return t, nil
}

func (r *MemoryRepo) AppendUtterances(ctx context.Context, tenantID, callID string, us []Utterance, now time.Time) (Transcript, error) {
	if callID == "" {
		return Transcript{}, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transcripts[callID]
	if !ok {
		t = Transcript{ID: uuid.NewString(), CallID: callID, TenantID: tenantID, CreatedAt: now}
		r.transcriptInserts[callID]++
	}
	t.Utterances = append(append([]Utterance(nil), t.Utterances...), us...)
	t.UpdatedAt = now
	r.transcripts[callID] = t
	return t, nil
}

func (r *MemoryRepo) SetTranscriptText(ctx context.Context, callID, text string, final bool, now time.Time) (Transcript, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transcripts[callID]
	if !ok {
		return Transcript{}, ErrNotFound
	}
	t.Text = text
	t.Final = t.Final || final
	t.UpdatedAt = now
	r.transcripts[callID] = t
	return t, nil
}

func (r *MemoryRepo) SetTranscriptRecording(ctx context.Context, callID, recordingURL string, now time.Time) (Transcript, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transcripts[callID]
	if !ok {
		return Transcript{}, ErrNotFound
	}
	t.RecordingURL = recordingURL
	t.UpdatedAt = now
	r.transcripts[callID] = t
	return t, nil
}

func (r *MemoryRepo) SaveAnalysis(ctx context.Context, a AnalysisRecord) (bool, error) {
	if a.TranscriptID == "" || a.CallID == "" {
		return false, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.analyses[a.TranscriptID]; ok && existing.Seq > a.Seq {
		return false, nil
	}
	r.analyses[a.TranscriptID] = a
	return true, nil
}

func (r *MemoryRepo) GetAnalysis(ctx context.Context, callID string) (AnalysisRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transcripts[callID]
	if !ok {
		return AnalysisRecord{}, ErrNotFound
	}
	a, ok := r.analyses[t.ID]
	if !ok {
		return AnalysisRecord{}, ErrNotFound
	}
	return a, nil
}

// TranscriptInserts reports how many transcript rows were ever inserted for callID.
func (r *MemoryRepo) TranscriptInserts(callID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transcriptInserts[callID]
}
