// Package transcript assembles per-chunk transcription fragments in chunk
// order regardless of the order in which they complete.
package transcript

import (
	"slices"
	"strings"
	"sync"
)

// Word is a single timed word returned by the transcription service.
type Word struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Fragment is the transcription result for one chunk.
type Fragment struct {
	Text            string  `json:"text"`
	Words           []Word  `json:"words,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
	Language        string  `json:"language,omitempty"`
}

// ChunkStatus summarizes one chunk slot for persistence.
type ChunkStatus struct {
	Index  int    `json:"index"`
	Status string `json:"status"`
	Text   string `json:"text,omitempty"`
	Error  string `json:"error,omitempty"`
}

const (
	ChunkDone   = "done"
	ChunkFailed = "failed"
)

// Accumulator holds fragments keyed by chunk index. Text joins the filled
// indices in ascending order and skips holes.
type Accumulator struct {
	mu        sync.Mutex
	fragments map[int]Fragment
	failures  map[int]string
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		fragments: make(map[int]Fragment),
		failures:  make(map[int]string),
	}
}

// Set stores the fragment for index, replacing any earlier value.
func (a *Accumulator) Set(index int, fragment Fragment) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fragments[index] = fragment
	delete(a.failures, index)
}

// MarkFailed records that index was abandoned. Failed indices stay holes.
func (a *Accumulator) MarkFailed(index int, reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.fragments[index]; ok {
		return
	}
	a.failures[index] = reason
}

// Text concatenates filled fragments in ascending index order.
func (a *Accumulator) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var b strings.Builder
	for _, idx := range sortedKeys(a.fragments) {
		b.WriteString(a.fragments[idx].Text)
	}
	return b.String()
}

// Words returns the words of all filled fragments with their times shifted by
// the duration of every preceding chunk. A missing chunk has no reported
// duration, so it counts as the mean duration of the filled fragments.
func (a *Accumulator) Words() []Word {
	a.mu.Lock()
	defer a.mu.Unlock()
	filled := sortedKeys(a.fragments)
	if len(filled) == 0 {
		return nil
	}
	gap := a.meanDurationLocked()
	var (
		out    []Word
		offset float64
	)
	for idx := 1; idx <= filled[len(filled)-1]; idx++ {
		frag, ok := a.fragments[idx]
		if !ok {
			offset += gap
			continue
		}
		for _, w := range frag.Words {
			out = append(out, Word{Text: w.Text, Start: w.Start + offset, End: w.End + offset})
		}
		offset += frag.DurationSeconds
	}
	return out
}

func (a *Accumulator) meanDurationLocked() float64 {
	var (
		total float64
		n     int
	)
	for _, frag := range a.fragments {
		if frag.DurationSeconds > 0 {
			total += frag.DurationSeconds
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

// Language returns the language of the lowest filled index that reported one.
func (a *Accumulator) Language() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, idx := range sortedKeys(a.fragments) {
		if lang := a.fragments[idx].Language; lang != "" {
			return lang
		}
	}
	return ""
}

// Chunks returns per-index status for every filled or failed index.
func (a *Accumulator) Chunks() []ChunkStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	indices := make([]int, 0, len(a.fragments)+len(a.failures))
	for idx := range a.fragments {
		indices = append(indices, idx)
	}
	for idx := range a.failures {
		indices = append(indices, idx)
	}
	slices.Sort(indices)
	out := make([]ChunkStatus, 0, len(indices))
	for _, idx := range indices {
		if frag, ok := a.fragments[idx]; ok {
			out = append(out, ChunkStatus{Index: idx, Status: ChunkDone, Text: frag.Text})
			continue
		}
		out = append(out, ChunkStatus{Index: idx, Status: ChunkFailed, Error: a.failures[idx]})
	}
	return out
}

// Gaps lists indices between 1 and upTo that have no fragment.
func (a *Accumulator) Gaps(upTo int) []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	var gaps []int
	for idx := 1; idx <= upTo; idx++ {
		if _, ok := a.fragments[idx]; !ok {
			gaps = append(gaps, idx)
		}
	}
	return gaps
}

// Len returns the number of filled indices.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.fragments)
}

func sortedKeys(m map[int]Fragment) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
