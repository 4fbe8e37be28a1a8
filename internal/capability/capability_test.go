package capability

import (
	"context"
	"testing"
	"time"
)

type fakeSource struct {
	recordings []RawRecording
}

func (f *fakeSource) ListByDate(ctx context.Context, date time.Time) ([]RawRecording, error) {
	var out []RawRecording
	for _, r := range f.recordings {
		if r.StartTime.Year() == date.Year() && r.StartTime.YearDay() == date.YearDay() {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeSource) ListRecent(ctx context.Context, limit int) ([]RawRecording, error) {
	if limit > len(f.recordings) {
		limit = len(f.recordings)
	}
	return f.recordings[:limit], nil
}

func TestRecordingSource_ListByDate_FiltersByDay(t *testing.T) {
	day := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	src := &fakeSource{recordings: []RawRecording{
		{ID: "a", StartTime: day.Add(2 * time.Hour)},
		{ID: "b", StartTime: day.AddDate(0, 0, 1)},
	}}

	got, err := src.ListByDate(context.Background(), day)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("expected only recording 'a', got %+v", got)
	}
}

func TestRecordingSource_ListRecent_CapsAtAvailable(t *testing.T) {
	src := &fakeSource{recordings: []RawRecording{{ID: "a"}, {ID: "b"}}}

	got, err := src.ListRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 recordings, got %d", len(got))
	}
}

type fakeEncoder struct{ dim int }

func (f *fakeEncoder) Encode(ctx context.Context, text []string) ([][]float32, error) {
	out := make([][]float32, len(text))
	for i := range text {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}

func (f *fakeEncoder) Dimension() int { return f.dim }

func TestEncoder_Encode_ReturnsOneVectorPerInput(t *testing.T) {
	enc := &fakeEncoder{dim: 384}

	vecs, err := enc.Encode(context.Background(), []string{"one", "two", "three"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vecs))
	}
	for _, v := range vecs {
		if len(v) != enc.Dimension() {
			t.Fatalf("expected vector of length %d, got %d", enc.Dimension(), len(v))
		}
	}
}

type fakeReasoner struct {
	refine *RefineRequest
	answer *FinalAnswer
}

func (f *fakeReasoner) Assess(ctx context.Context, prompt string, evidence []Evidence) (*FinalAnswer, *RefineRequest, error) {
	if f.refine != nil {
		return nil, f.refine, nil
	}
	return f.answer, nil, nil
}

func TestReasoner_Assess_ReturnsRefineRequest(t *testing.T) {
	r := &fakeReasoner{refine: &RefineRequest{Query: "budget meeting notes"}}

	answer, refine, err := r.Assess(context.Background(), "where is the budget?", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer != nil {
		t.Fatalf("expected nil answer, got %+v", answer)
	}
	if refine == nil || refine.Query != "budget meeting notes" {
		t.Fatalf("expected refine request, got %+v", refine)
	}
}

func TestReasoner_Assess_ReturnsFinalAnswer(t *testing.T) {
	r := &fakeReasoner{answer: &FinalAnswer{Text: "at Mimi's house", Confidence: 0.9, Citations: []string{"rec-1"}}}

	answer, refine, err := r.Assess(context.Background(), "where did the kids go?", []Evidence{
		{RecordingID: "rec-1", Score: 0.8, Snippet: "kids went to Mimi's house"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if refine != nil {
		t.Fatalf("expected nil refine request, got %+v", refine)
	}
	if answer == nil || answer.Confidence != 0.9 {
		t.Fatalf("expected final answer with confidence 0.9, got %+v", answer)
	}
}
