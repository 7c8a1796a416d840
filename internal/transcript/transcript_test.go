package transcript_test

import (
	"slices"
	"testing"

	"meetscribe/internal/transcript"
)

func TestTextOrdersByIndexRegardlessOfArrival(t *testing.T) {
	acc := transcript.NewAccumulator()
	acc.Set(3, transcript.Fragment{Text: "three"})
	acc.Set(1, transcript.Fragment{Text: "one "})
	acc.Set(2, transcript.Fragment{Text: "two "})

	if got := acc.Text(); got != "one two three" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestHolesAreSkipped(t *testing.T) {
	acc := transcript.NewAccumulator()
	acc.Set(1, transcript.Fragment{Text: "a"})
	acc.MarkFailed(2, "timeout")
	acc.Set(3, transcript.Fragment{Text: "c"})

	if got := acc.Text(); got != "ac" {
		t.Fatalf("unexpected text %q", got)
	}
	if gaps := acc.Gaps(3); !slices.Equal(gaps, []int{2}) {
		t.Fatalf("unexpected gaps %v", gaps)
	}
	chunks := acc.Chunks()
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunk statuses, got %d", len(chunks))
	}
	if chunks[1].Index != 2 || chunks[1].Status != transcript.ChunkFailed || chunks[1].Error != "timeout" {
		t.Fatalf("unexpected failed chunk status %+v", chunks[1])
	}
}

func TestSetClearsFailure(t *testing.T) {
	acc := transcript.NewAccumulator()
	acc.MarkFailed(1, "boom")
	acc.Set(1, transcript.Fragment{Text: "ok"})
	acc.MarkFailed(1, "late failure")
	chunks := acc.Chunks()
	if len(chunks) != 1 || chunks[0].Status != transcript.ChunkDone {
		t.Fatalf("expected filled slot to win, got %+v", chunks)
	}
}

func TestWordsAreShiftedByPrecedingDurations(t *testing.T) {
	acc := transcript.NewAccumulator()
	acc.Set(2, transcript.Fragment{Text: "world", DurationSeconds: 5, Words: []transcript.Word{{Text: "world", Start: 0.5, End: 1}}})
	acc.Set(1, transcript.Fragment{Text: "hello ", DurationSeconds: 10, Words: []transcript.Word{{Text: "hello", Start: 0, End: 0.4}}, Language: "en"})

	words := acc.Words()
	if len(words) != 2 {
		t.Fatalf("expected 2 words, got %d", len(words))
	}
	if words[1].Start != 10.5 || words[1].End != 11 {
		t.Fatalf("expected shifted word times, got %+v", words[1])
	}
	if acc.Language() != "en" {
		t.Fatalf("unexpected language %q", acc.Language())
	}
}

func TestWordsKeepTimelineAcrossAbandonedChunk(t *testing.T) {
	acc := transcript.NewAccumulator()
	acc.Set(1, transcript.Fragment{Text: "one ", DurationSeconds: 10, Words: []transcript.Word{{Text: "one", Start: 0, End: 0.5}}})
	acc.MarkFailed(2, "timeout")
	acc.Set(3, transcript.Fragment{Text: "three", DurationSeconds: 10, Words: []transcript.Word{{Text: "three", Start: 1, End: 1.5}}})

	words := acc.Words()
	if len(words) != 2 {
		t.Fatalf("expected 2 words, got %d", len(words))
	}
	if words[1].Start != 21 || words[1].End != 21.5 {
		t.Fatalf("expected chunk 3 word at 21s after a 10s gap, got %+v", words[1])
	}
}
