package research

import (
	"fmt"
	"sync"
	"time"
)

// Diary accumulates a human-readable trail of what was tried each step, fed
// back into prompts so the model doesn't repeat a failed approach.
type Diary struct {
	mu      sync.Mutex
	entries []DiaryEntry
}

// NewDiary returns an empty diary.
func NewDiary() *Diary { return &Diary{} }

// Record appends an entry.
func (d *Diary) Record(step int, action ActionKind, summary string, success bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, DiaryEntry{
		Step:      step,
		Action:    action,
		Summary:   summary,
		Success:   success,
		Timestamp: time.Now(),
	})
}

// Entries returns a copy of all recorded entries.
func (d *Diary) Entries() []DiaryEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DiaryEntry, len(d.entries))
	copy(out, d.entries)
	return out
}

// Render formats the diary as prompt-ready text summarizing each step.
func (d *Diary) Render() string {
	entries := d.Entries()
	if len(entries) == 0 {
		return "No actions taken yet."
	}
	s := ""
	for _, e := range entries {
		status := "failed"
		if e.Success {
			status = "succeeded"
		}
		s += fmt.Sprintf("At step %d, you took the **%s** action and %s. %s\n", e.Step, e.Action, status, e.Summary)
	}
	return s
}
