package research

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"manifold/internal/observability"
)

// maxVisitParallelism bounds how many URLs are fetched concurrently on a
// single Visit step.
const maxVisitParallelism = 5

// maxReflectPerStep bounds how many sub-questions a single Reflect step can
// push onto the gap list, so one step can't blow out the round-robin
// schedule.
const maxReflectPerStep = 3

// forcedAnswerReserve is the fraction of the token budget at which the
// scheduler stops opening new steps and instead commits to the forced
// "beast mode" answer, leaving headroom for that final call itself.
const forcedAnswerReserve = 0.85

// defaultMaxReturnedURLs and maxReturnedURLsCap bound how many discovered
// URLs are surfaced in the response body's usage block.
const (
	defaultMaxReturnedURLs = 100
	maxReturnedURLsCap     = 300
)

// RunOptions carries the per-request overrides the HTTP surface exposes:
// whether a trivial direct answer is disallowed, how many URLs to return,
// and the hostname boost/bad/only policy applied to URL ranking.
type RunOptions struct {
	NoDirectAnswer  bool
	MaxReturnedURLs int
	BoostHostnames  []string
	BadHostnames    []string
	OnlyHostnames   []string
}

// Run drives one end-to-end research session. Control decisions (which
// action to take next) are made one at a time on a single goroutine; only
// the I/O fan-outs within a step (multi-URL fetch, multi-query search) run
// concurrently, joining before the loop advances to its next step.
type Run struct {
	Question      string
	Budget        Budget
	Collaborators Collaborators
	Model         string
	Stream        *StreamChannel

	noDirectAnswer  bool
	maxReturnedURLs int

	urls      *URLStore
	knowledge *KnowledgeBase
	diary     *Diary
	tokens    *TokenTracker
	actions   *ActionTracker
	evaluator *Evaluator

	// gaps is the ordered list of open questions; index 0 is always the
	// original question. Sub-questions pushed by Reflect are appended and
	// removed once answered.
	gaps         []string
	allQuestions map[string]struct{}
	allKeywords  map[string]struct{}

	// criteria maps each question to the evaluation criteria still in play
	// for it. A nil (present but empty) slice means "no criteria required",
	// which is how sub-questions pass evaluation trivially.
	criteria map[string][]*ActiveCriterion

	finalAnswerImprovements []string

	allowSearch  bool
	allowVisit   bool
	allowReflect bool
	allowAnswer  bool
	allowCoding  bool

	// step is a local, resettable counter used only for diary narration; it
	// is zeroed whenever an original-question answer is rejected and the
	// run starts a fresh attempt. totalStep is global, strictly increasing
	// every iteration, and drives round-robin gap selection and budget
	// gating.
	step      int
	totalStep int
}

// NewRun constructs a ready-to-execute research run.
func NewRun(question string, budget Budget, collab Collaborators, model string, opts RunOptions) *Run {
	maxURLs := opts.MaxReturnedURLs
	if maxURLs <= 0 {
		maxURLs = defaultMaxReturnedURLs
	}
	if maxURLs > maxReturnedURLsCap {
		maxURLs = maxReturnedURLsCap
	}

	r := &Run{
		Question:        question,
		Budget:          budget,
		Collaborators:   collab,
		Model:           model,
		Stream:          NewStreamChannel(),
		noDirectAnswer:  opts.NoDirectAnswer,
		maxReturnedURLs: maxURLs,
		urls: NewURLStoreWithPolicy(HostPolicy{
			Boost: opts.BoostHostnames,
			Bad:   opts.BadHostnames,
			Only:  opts.OnlyHostnames,
		}),
		knowledge:    NewKnowledgeBase(),
		diary:        NewDiary(),
		tokens:       NewTokenTracker(budget.MaxTokens),
		actions:      NewActionTracker(budget.MaxBadAttempts),
		evaluator:    NewEvaluator(collab.LLM),
		gaps:         []string{question},
		allQuestions: map[string]struct{}{question: {}},
		allKeywords:  map[string]struct{}{},
		criteria:     map[string][]*ActiveCriterion{},
		allowSearch:  true,
		allowVisit:   true,
		allowReflect: true,
		allowAnswer:  true,
		allowCoding:  true,
	}
	return r
}

// resetAllowExcept flips every allow* flag back to true except the one
// passed in, which the caller has already set to whatever the just-
// dispatched action decided for the next step.
func (r *Run) resetAllowExcept(except *bool) {
	for _, flag := range []*bool{&r.allowSearch, &r.allowVisit, &r.allowReflect, &r.allowCoding, &r.allowAnswer} {
		if flag == except {
			continue
		}
		*flag = true
	}
}

// Execute runs the control loop to completion, always ending with an
// AnswerAction — either one that passed evaluation, or the forced-answer
// terminal once the budget runs out. The StreamChannel is finalized with
// the answer text before Execute returns.
func (r *Run) Execute(ctx context.Context) (answer AnswerAction, err error) {
	defer func() { r.Stream.Finalize(answer.Text) }()

	for {
		r.totalStep++
		r.step++
		log := observability.LoggerWithTrace(ctx)

		if ctx.Err() != nil {
			return AnswerAction{}, ErrRunCancelled
		}

		if r.tokens.Exhausted() || r.tokens.NearLimit(forcedAnswerReserve) || r.totalStep > r.Budget.MaxSteps {
			log.Info().Int("step", r.totalStep).Msg("budget exhausted, forcing answer")
			return r.forceAnswer(ctx)
		}

		if err := r.knowledge.MaybeCompact(ctx, r.Collaborators.LLM, r.tokens); err != nil {
			log.Warn().Err(err).Msg("knowledge compaction failed, continuing uncompacted")
		}

		currentQuestion := r.gaps[(r.totalStep-1)%len(r.gaps)]
		r.seedCriteriaIfNeeded(ctx, currentQuestion)

		allowed := r.allowedActions()
		if r.totalStep == 1 && hasCriterion(r.criteria[r.Question], CriterionFreshness) {
			// A question whose own criteria call flagged it as time-
			// sensitive shouldn't be answered or reflected away before any
			// research has happened at all.
			allowed.Answer = false
			allowed.Reflect = false
		}
		if !allowed.Any() {
			return r.forceAnswer(ctx)
		}

		action, derr := r.decide(ctx, currentQuestion, allowed)
		if derr != nil {
			if r.actions.RecordBadAttempt() {
				return r.forceAnswer(ctx)
			}
			log.Warn().Err(derr).Msg("step decision failed, retrying")
			continue
		}

		if action.Kind == ActionVisit && action.Visit != nil {
			for _, u := range action.Visit.URLs {
				r.Stream.EmitURL(u)
			}
		}
		r.Stream.EmitThink(action.Think)

		done := false
		switch action.Kind {
		case ActionSearch:
			r.runSearch(ctx, action.Search)
			r.resetAllowExcept(&r.allowSearch)
			r.allowSearch = false
		case ActionVisit:
			r.runVisit(ctx, action.Visit)
			r.resetAllowExcept(&r.allowVisit)
			r.allowVisit = false
		case ActionReflect:
			r.runReflect(action.Reflect)
			r.resetAllowExcept(&r.allowReflect)
			r.allowReflect = false
		case ActionCoding:
			r.runCoding(ctx, action.Coding)
			r.resetAllowExcept(&r.allowCoding)
			r.allowCoding = false
		case ActionAnswer:
			result, isDone := r.tryAnswer(ctx, currentQuestion, *action.Answer)
			r.resetAllowExcept(&r.allowAnswer)
			if isDone {
				answer = result
				done = true
			}
		}

		r.actions.Record(ActionEvent{Step: r.totalStep, Action: action.Kind, Think: action.Think})
		if done {
			return answer, nil
		}
	}
}

// seedCriteriaIfNeeded lazily populates r.criteria for question the first
// time it is selected. The original question gets a criterion-selection
// LLM call; every sub-question gets an empty (nil) criteria list, which
// makes it pass evaluation as soon as an answer is proposed for it.
func (r *Run) seedCriteriaIfNeeded(ctx context.Context, question string) {
	if _, ok := r.criteria[question]; ok {
		return
	}
	if question != r.Question {
		r.criteria[question] = nil
		return
	}
	active, err := SelectCriteria(ctx, r.Collaborators.LLM, question, r.Budget.MaxBadAttempts, r.tokens)
	if err != nil {
		active = []*ActiveCriterion{{Type: CriterionStrict, Remaining: r.Budget.MaxBadAttempts}}
	}
	r.criteria[question] = active
}

// allowedActions gates the action space by run state on top of the sticky
// allow* flags: Visit needs an unvisited, allowed-hostname URL to target,
// Search closes once the candidate pool is too large to be useful, Reflect
// needs some knowledge to reflect on, and Coding needs a sandbox.
func (r *Run) allowedActions() AllowedActions {
	return AllowedActions{
		Search:  r.allowSearch && r.urls.UnvisitedLen() <= 200,
		Visit:   r.allowVisit && r.urls.UnvisitedLen() > 0,
		Reflect: r.allowReflect && len(r.knowledge.Items()) > 0,
		Answer:  r.allowAnswer,
		Coding:  r.allowCoding && r.Collaborators.Sandbox != nil,
	}
}

// decide makes exactly one generateObject call narrowed to the allowed
// action schema, for the given (round-robin selected) question, and parses
// the result into a StepAction.
func (r *Run) decide(ctx context.Context, question string, allowed AllowedActions) (StepAction, error) {
	system := SystemPrompt(question, r.knowledge.Items(), r.diary, r.urls.Unvisited(10), allowed)
	schema := StepActionSchema(allowed)

	obj, used, err := r.Collaborators.LLM.GenerateObject(ctx, system, question, schema)
	if err != nil {
		return StepAction{}, NewActionError(ErrSchema, err)
	}
	r.tokens.Spend(used)

	return parseStepAction(obj)
}

func parseStepAction(obj map[string]any) (StepAction, error) {
	kind, _ := obj["action"].(string)
	think, _ := obj["think"].(string)
	a := StepAction{Kind: ActionKind(kind), Think: think}

	switch a.Kind {
	case ActionSearch:
		a.Search = &SearchAction{Queries: toStringSlice(obj["queries"])}
	case ActionVisit:
		a.Visit = &VisitAction{URLs: toStringSlice(obj["urls"])}
	case ActionReflect:
		a.Reflect = &ReflectAction{Questions: toStringSlice(obj["questions"])}
	case ActionCoding:
		issue, _ := obj["issue"].(string)
		a.Coding = &CodingAction{Issue: issue}
	case ActionAnswer:
		text, _ := obj["text"].(string)
		a.Answer = &AnswerAction{Text: text, References: parseReferences(obj["references"])}
	default:
		return StepAction{}, fmt.Errorf("unrecognized action %q", kind)
	}
	return a, nil
}

func parseReferences(v any) []Reference {
	rawRefs, ok := v.([]any)
	if !ok {
		return nil
	}
	var refs []Reference
	for _, rr := range rawRefs {
		m, ok := rr.(map[string]any)
		if !ok {
			continue
		}
		ref := Reference{}
		ref.URL, _ = m["url"].(string)
		ref.Title, _ = m["title"].(string)
		ref.Exact, _ = m["exactQuote"].(string)
		ref.DateModified, _ = m["dateModified"].(string)
		refs = append(refs, ref)
	}
	return refs
}

func toStringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// runSearch fans out every query to the Searcher concurrently via errgroup,
// joining before the control loop advances, and adds every discovered URL
// to the store. Queries already issued for this run are skipped.
func (r *Run) runSearch(ctx context.Context, action *SearchAction) {
	log := observability.LoggerWithTrace(ctx)

	fresh := make([]string, 0, len(action.Queries))
	for _, q := range action.Queries {
		key := strings.ToLower(strings.TrimSpace(q))
		if key == "" {
			continue
		}
		if _, seen := r.allKeywords[key]; seen {
			continue
		}
		r.allKeywords[key] = struct{}{}
		fresh = append(fresh, q)
	}
	r.actions.AddQueries(len(fresh))

	g, gctx := errgroup.WithContext(ctx)
	resultsCh := make(chan []SearchResult, len(fresh))
	for _, q := range fresh {
		q := q
		g.Go(func() error {
			results, err := r.Collaborators.Search.Search(gctx, q)
			if err != nil {
				log.Warn().Err(err).Str("query", q).Msg("search failed, skipping")
				return nil
			}
			resultsCh <- results
			return nil
		})
	}
	_ = g.Wait()
	close(resultsCh)

	for results := range resultsCh {
		for _, res := range results {
			r.urls.Add(res.URL, res.Title)
		}
	}

	if r.Collaborators.Rerank != nil {
		r.applyRerank(ctx)
	}

	if len(fresh) > 0 {
		r.knowledge.Add(KnowledgeItem{
			Question:  fmt.Sprintf("What did searching %v turn up?", fresh),
			Answer:    fmt.Sprintf("%d candidate URLs found so far.", r.urls.Len()),
			Type:      "side-info",
			CreatedAt: time.Now(),
		})
	}

	r.diary.Record(r.step, ActionSearch, fmt.Sprintf("searched for %v and found %d candidate URLs", fresh, r.urls.Len()), true)
}

func (r *Run) applyRerank(ctx context.Context) {
	log := observability.LoggerWithTrace(ctx)
	candidates := r.urls.Unvisited(20)
	urls := make([]string, 0, len(candidates))
	for _, c := range candidates {
		urls = append(urls, c.URL)
	}
	if len(urls) == 0 {
		return
	}
	scores, err := r.Collaborators.Rerank.Rerank(ctx, r.Question, urls)
	if err != nil {
		log.Warn().Err(err).Msg("rerank failed, keeping existing ranking")
		return
	}
	for u, score := range scores {
		r.urls.SetRerankBoost(u, score)
	}
}

// runVisit fetches up to maxVisitParallelism URLs concurrently and records
// each result as a knowledge item.
func (r *Run) runVisit(ctx context.Context, action *VisitAction) {
	log := observability.LoggerWithTrace(ctx)

	urls := action.URLs
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, maxVisitParallelism)
	type fetched struct {
		url    string
		result FetchResult
	}
	resultsCh := make(chan fetched, len(urls))

	for _, u := range urls {
		u := u
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()
			res, err := r.Collaborators.Fetch.Fetch(gctx, u)
			if err != nil {
				log.Warn().Err(err).Str("url", u).Msg("fetch failed, skipping")
				return nil
			}
			resultsCh <- fetched{url: u, result: res}
			return nil
		})
	}
	_ = g.Wait()
	close(resultsCh)

	visited := 0
	for f := range resultsCh {
		canonical, _ := NormalizeURL(f.url)
		if canonical != "" {
			r.urls.MarkVisited(canonical)
		}
		for _, link := range f.result.Links {
			r.urls.Add(link, "")
		}
		r.knowledge.Add(KnowledgeItem{
			Question:  fmt.Sprintf("What does %s say?", f.url),
			Answer:    f.result.Content,
			Type:      "url",
			URL:       f.url,
			CreatedAt: time.Now(),
		})
		visited++
	}

	r.diary.Record(r.step, ActionVisit, fmt.Sprintf("visited %d of %d requested URLs", visited, len(urls)), visited > 0)
}

// runReflect dedups sub-questions against every question already seen this
// run, caps how many a single step can introduce, and pushes the survivors
// onto the gap list for the round robin to pick up via search/visit/answer
// — it never answers them itself.
func (r *Run) runReflect(action *ReflectAction) {
	pushed := 0
	for _, q := range action.Questions {
		if pushed >= maxReflectPerStep {
			break
		}
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		if _, seen := r.allQuestions[q]; seen {
			continue
		}
		r.allQuestions[q] = struct{}{}
		r.gaps = append(r.gaps, q)
		r.criteria[q] = nil
		pushed++
	}
	if pushed == 0 {
		r.diary.Record(r.step, ActionReflect, "every proposed sub-question was already being pursued, thinking differently", false)
		return
	}
	r.diary.Record(r.step, ActionReflect, fmt.Sprintf("opened %d new sub-question(s) to pursue", pushed), true)
}

// runCoding hands the issue to the sandbox collaborator and records the
// result as knowledge.
func (r *Run) runCoding(ctx context.Context, action *CodingAction) {
	log := observability.LoggerWithTrace(ctx)
	if r.Collaborators.Sandbox == nil {
		r.diary.Record(r.step, ActionCoding, "no sandbox configured, skipped", false)
		return
	}
	result, err := r.Collaborators.Sandbox.Solve(ctx, action.Issue)
	if err != nil {
		log.Warn().Err(err).Msg("sandbox solve failed")
		r.diary.Record(r.step, ActionCoding, fmt.Sprintf("coding attempt failed: %v", err), false)
		return
	}
	r.knowledge.Add(KnowledgeItem{
		Question:  action.Issue,
		Answer:    result.Output,
		Type:      "coding",
		CreatedAt: time.Now(),
	})
	r.diary.Record(r.step, ActionCoding, "solved the coding issue and recorded the output", true)
}

// tryAnswer dispatches a candidate answer for question. The first step of
// the whole run is allowed to bypass evaluation entirely for a trivial,
// reference-free reply (a plain greeting, say) unless no_direct_answer was
// requested. Otherwise it enriches references with previously-unseen page
// content, evaluates, and handles each of the three possible outcomes:
// accept (original question: run ends; sub-question: knowledge recorded and
// the gap closed), reject-with-criteria-remaining (diary updated, local
// diary/step reset so the next attempt starts clean), or
// reject-with-nothing-left (forces the terminal answer).
func (r *Run) tryAnswer(ctx context.Context, question string, candidate AnswerAction) (AnswerAction, bool) {
	isOriginal := question == r.Question

	if isOriginal && r.totalStep == 1 && len(candidate.References) == 0 && !r.noDirectAnswer {
		r.diary.Record(r.step, ActionAnswer, "accepted as a trivial direct answer", true)
		return candidate, true
	}

	candidate = r.enrichReferences(ctx, candidate)
	active := r.criteria[question]
	evidence := r.collectEvidence(candidate.References)

	result, err := r.evaluator.Evaluate(ctx, question, candidate.Text, candidate.References, active, evidence, r.tokens)
	if err != nil {
		r.diary.Record(r.step, ActionAnswer, fmt.Sprintf("evaluation failed: %v", err), false)
		return AnswerAction{}, false
	}

	if result.Pass {
		if isOriginal {
			r.diary.Record(r.step, ActionAnswer, "answer passed evaluation", true)
			return candidate, true
		}
		r.knowledge.Add(KnowledgeItem{Question: question, Answer: candidate.Text, Type: "qa", CreatedAt: time.Now()})
		r.removeGap(question)
		r.diary.Record(r.step, ActionAnswer, fmt.Sprintf("sub-question %q answered and closed", question), true)
		return AnswerAction{}, false
	}

	if result.Criterion == CriterionStrict && result.Improvement != "" {
		r.finalAnswerImprovements = append(r.finalAnswerImprovements, result.Improvement)
	}

	if !isOriginal {
		r.diary.Record(r.step, ActionAnswer, fmt.Sprintf("sub-question %q answer failed %s: %s", question, result.Criterion, result.Reasoning), false)
		return AnswerAction{}, false
	}

	if !anyRemaining(active) {
		r.diary.Record(r.step, ActionAnswer, "exhausted every evaluation criterion, forcing an answer", false)
		forced, ferr := r.forceAnswer(ctx)
		if ferr == nil {
			return forced, true
		}
		return AnswerAction{}, false
	}

	if recap, aerr := analyzeFailure(ctx, r.Collaborators.LLM, question, candidate.Text, result, r.tokens); aerr == nil {
		r.knowledge.Add(KnowledgeItem{Question: "why is this answer bad?", Answer: recap, Type: "qa", CreatedAt: time.Now()})
	}
	r.diary.Record(r.step, ActionAnswer, fmt.Sprintf("answer failed %s: %s", result.Criterion, result.Reasoning), false)

	r.diary = NewDiary()
	r.step = 0
	r.allowAnswer = false
	return AnswerAction{}, false
}

// enrichReferences fetches any referenced URL not yet visited this run, so
// the evaluator's attribution criterion can check a quote against the
// actual fetched page rather than trusting the citation on its word.
func (r *Run) enrichReferences(ctx context.Context, candidate AnswerAction) AnswerAction {
	log := observability.LoggerWithTrace(ctx)
	kept := make([]Reference, 0, len(candidate.References))
	for _, ref := range candidate.References {
		if ref.URL == "" {
			continue
		}
		canonical, _ := r.urls.Add(ref.URL, ref.Title)
		if canonical == "" {
			kept = append(kept, ref)
			continue
		}
		ref.URL = canonical
		kept = append(kept, ref)

		if r.Collaborators.Fetch == nil || r.urls.IsVisited(canonical) {
			continue
		}
		res, err := r.Collaborators.Fetch.Fetch(ctx, canonical)
		if err != nil {
			log.Warn().Err(err).Str("url", canonical).Msg("reference fetch failed, evaluating without its page content")
			continue
		}
		r.urls.MarkVisited(canonical)
		r.knowledge.Add(KnowledgeItem{
			Question:  fmt.Sprintf("What does %s say?", canonical),
			Answer:    res.Content,
			Type:      "url",
			URL:       canonical,
			CreatedAt: time.Now(),
		})
	}
	candidate.References = kept
	return candidate
}

// collectEvidence builds the reference-URL-to-fetched-page-text map the
// attribution criterion checks quotes against, drawn from knowledge items
// recorded while visiting or enriching references.
func (r *Run) collectEvidence(references []Reference) map[string]string {
	if len(references) == 0 {
		return nil
	}
	pages := map[string]string{}
	for _, item := range r.knowledge.Items() {
		if item.Type == "url" && item.URL != "" {
			pages[item.URL] = item.Answer
		}
	}
	evidence := map[string]string{}
	for _, ref := range references {
		if page, ok := pages[ref.URL]; ok {
			evidence[ref.URL] = page
		}
	}
	return evidence
}

// removeGap drops the first occurrence of question from the gap list. It
// is only ever called for sub-questions, so the original question at
// index 0 is never removed mid-run.
func (r *Run) removeGap(question string) {
	for i, q := range r.gaps {
		if q == question {
			r.gaps = append(r.gaps[:i], r.gaps[i+1:]...)
			return
		}
	}
}

func (r *Run) forceAnswer(ctx context.Context) (AnswerAction, error) {
	return ForcedAnswer(ctx, r.Collaborators.LLM, r.Question, r.knowledge.Items(), r.finalAnswerImprovements, r.tokens)
}

// NumURLs returns the count of distinct URLs discovered this run.
func (r *Run) NumURLs() int { return r.urls.Len() }

// DuplicateURLs returns the count of duplicate URL sightings this run.
func (r *Run) DuplicateURLs() int { return r.urls.DuplicateCount() }

// QueriesIssued returns the count of search queries issued this run.
func (r *Run) QueriesIssued() int { return r.actions.QueriesIssued() }

// MaxReturnedURLs returns how many URLs the HTTP surface should include in
// the final usage block, honoring the request's max_returned_urls override.
func (r *Run) MaxReturnedURLs() int { return r.maxReturnedURLs }

// VisitedURLs returns up to n visited URLs, most relevant first.
func (r *Run) VisitedURLs(n int) []URLRecord {
	visited := make([]URLRecord, 0, n)
	for _, rec := range r.urls.TopN(r.urls.Len()) {
		if rec.Visited {
			visited = append(visited, rec)
		}
		if len(visited) >= n {
			break
		}
	}
	return visited
}

// ReadURLs returns the same set as VisitedURLs; kept as a distinct method
// because the HTTP surface's usage block names both "visitedURLs" and
// "readURLs" and a future revision may let them diverge (e.g. a URL whose
// fetch failed would count as visited but not read).
func (r *Run) ReadURLs(n int) []URLRecord {
	return r.VisitedURLs(n)
}
