package research

import "sync"

// TokenTracker keeps a running count of tokens spent against a run's
// budget. All generateObject/Chat calls go through Spend so the scheduler
// can decide when to trigger context compaction or the forced-answer
// terminal.
type TokenTracker struct {
	mu     sync.Mutex
	budget int
	spent  int
}

// NewTokenTracker returns a tracker bounded by budget tokens.
func NewTokenTracker(budget int) *TokenTracker {
	return &TokenTracker{budget: budget}
}

// Spend records tokens used by one LLM call.
func (t *TokenTracker) Spend(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.spent += n
}

// Spent returns total tokens used so far.
func (t *TokenTracker) Spent() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.spent
}

// Remaining returns how many tokens are left in the budget (never negative).
func (t *TokenTracker) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.budget - t.spent
	if r < 0 {
		return 0
	}
	return r
}

// Exhausted reports whether the budget has been used up.
func (t *TokenTracker) Exhausted() bool {
	return t.Remaining() == 0
}

// NearLimit reports whether spend has crossed the given fraction (0..1) of
// the total budget. Used to trigger proactive context compaction before
// the hard limit is hit.
func (t *TokenTracker) NearLimit(fraction float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.budget <= 0 {
		return false
	}
	return float64(t.spent)/float64(t.budget) >= fraction
}

// ActionEvent is emitted by the ActionTracker each time the scheduler
// completes a step; Record delivers it to any channel added by Subscribe.
type ActionEvent struct {
	Step   int
	Action ActionKind
	Think  string
	Done   bool // true on the final (answer) event
}

// ActionTracker records the sequence of steps taken in a run and exposes
// diagnostic counters (queries issued, bad attempts); the queries-issued
// count is surfaced in the final usage block.
type ActionTracker struct {
	mu             sync.Mutex
	events         []ActionEvent
	queriesIssued  int
	badAttempts    int
	maxBadAttempts int
	subscribers    []chan ActionEvent
}

// NewActionTracker returns a tracker allowing up to maxBadAttempts failed
// step decisions before the run is forced to its terminal state.
func NewActionTracker(maxBadAttempts int) *ActionTracker {
	return &ActionTracker{maxBadAttempts: maxBadAttempts}
}

// Record appends an event and fans it out to subscribers.
func (a *ActionTracker) Record(ev ActionEvent) {
	a.mu.Lock()
	a.events = append(a.events, ev)
	subs := append([]chan ActionEvent(nil), a.subscribers...)
	a.mu.Unlock()

	for _, ch := range subs {
		ch <- ev
	}
}

// Subscribe registers a channel that receives every future event. The
// caller must drain it; events are sent synchronously from Record.
func (a *ActionTracker) Subscribe() chan ActionEvent {
	ch := make(chan ActionEvent, 16)
	a.mu.Lock()
	a.subscribers = append(a.subscribers, ch)
	a.mu.Unlock()
	return ch
}

// AddQueries increments the total number of search queries issued.
func (a *ActionTracker) AddQueries(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queriesIssued += n
}

// QueriesIssued returns the running total of search queries issued.
func (a *ActionTracker) QueriesIssued() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.queriesIssued
}

// RecordBadAttempt increments the failure counter and reports whether the
// run has now exhausted its allowance of bad attempts.
func (a *ActionTracker) RecordBadAttempt() (exhausted bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.badAttempts++
	return a.badAttempts >= a.maxBadAttempts
}

// BadAttempts returns the running total of recorded failures.
func (a *ActionTracker) BadAttempts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.badAttempts
}

// StepCount returns the number of events recorded so far.
func (a *ActionTracker) StepCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.events)
}
