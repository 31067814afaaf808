package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/resume-analyzer/internal/domain"
	"github.com/fairyhunter13/resume-analyzer/internal/usecase"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.now) {
		c.now = t
	}
}

func (c *fakeClock) Advance(d time.Duration) { c.Set(c.Now().Add(d)) }

// memAnalyses mirrors the conditional updates of the postgres repository.
type memAnalyses struct {
	mu      sync.Mutex
	seq     int64
	records map[int64]domain.AnalysisRecord
}

func newMemAnalyses() *memAnalyses { return &memAnalyses{records: map[int64]domain.AnalysisRecord{}} }

func (m *memAnalyses) Create(_ context.Context, r domain.AnalysisRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	r.ID = m.seq
	if r.Status == "" {
		r.Status = domain.StatusPending
	}
	m.records[r.ID] = r
	return r.ID, nil
}

func (m *memAnalyses) Get(_ context.Context, id int64) (domain.AnalysisRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return domain.AnalysisRecord{}, domain.ErrNotFound
	}
	return r, nil
}

func (m *memAnalyses) update(id int64, allowed func(domain.AnalysisStatus) bool, fn func(*domain.AnalysisRecord)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok || !allowed(r.Status) {
		return domain.ErrConflict
	}
	fn(&r)
	m.records[id] = r
	return nil
}

func live(s domain.AnalysisStatus) bool {
	return s == domain.StatusPending || s == domain.StatusProcessing
}

func (m *memAnalyses) MarkProcessing(_ context.Context, id int64) error {
	return m.update(id, live, func(r *domain.AnalysisRecord) { r.Status = domain.StatusProcessing })
}

func (m *memAnalyses) MarkPending(_ context.Context, id int64) error {
	processing := func(s domain.AnalysisStatus) bool { return s == domain.StatusProcessing }
	return m.update(id, processing, func(r *domain.AnalysisRecord) { r.Status = domain.StatusPending })
}

func (m *memAnalyses) MarkCompleted(_ context.Context, id int64, result domain.Assessment, u domain.TokenUsage) error {
	return m.update(id, live, func(r *domain.AnalysisRecord) {
		pt, ct, tt := u.PromptTokens, u.CompletionTokens, u.Total()
		r.Status, r.Result, r.ErrorMessage = domain.StatusCompleted, result, nil
		r.PromptTokens, r.CompletionTokens, r.TotalTokens = &pt, &ct, &tt
	})
}

func (m *memAnalyses) MarkFailedIfNot(_ context.Context, id int64, message string) (bool, error) {
	err := m.update(id, func(s domain.AnalysisStatus) bool { return s != domain.StatusFailed }, func(r *domain.AnalysisRecord) {
		r.Status, r.ErrorMessage, r.Result = domain.StatusFailed, &message, nil
	})
	if errors.Is(err, domain.ErrConflict) {
		return false, nil
	}
	return err == nil, err
}

func (m *memAnalyses) ResetForRetry(_ context.Context, id int64) error {
	err := m.update(id, func(domain.AnalysisStatus) bool { return true }, func(r *domain.AnalysisRecord) {
		r.Status, r.ErrorMessage, r.Result = domain.StatusPending, nil, nil
	})
	if err != nil {
		return domain.ErrNotFound
	}
	return nil
}

func (m *memAnalyses) ListStuck(_ context.Context, olderThan time.Time, limit int) ([]domain.AnalysisRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AnalysisRecord
	for _, r := range m.records {
		if r.Status == domain.StatusProcessing && r.UpdatedAt.Before(olderThan) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// memLogs assigns attempt numbers from a per-record sequence.
type memLogs struct {
	mu      sync.Mutex
	entries map[int64][]domain.AttemptLogEntry
}

func newMemLogs() *memLogs { return &memLogs{entries: map[int64][]domain.AttemptLogEntry{}} }

func (m *memLogs) Append(_ context.Context, e domain.AttemptLogEntry) (domain.AttemptLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.Attempt = len(m.entries[e.AnalysisID]) + 1
	e.ID = int64(e.Attempt)
	m.entries[e.AnalysisID] = append(m.entries[e.AnalysisID], e)
	return e, nil
}

func (m *memLogs) ListByAnalysis(_ context.Context, id int64) ([]domain.AttemptLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.AttemptLogEntry(nil), m.entries[id]...), nil
}

type memJobDescs struct {
	mu   sync.Mutex
	seq  int64
	jobs map[int64]domain.JobDescription
}

func newMemJobDescs() *memJobDescs { return &memJobDescs{jobs: map[int64]domain.JobDescription{}} }

func (m *memJobDescs) Create(_ context.Context, jd domain.JobDescription) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	jd.ID = m.seq
	m.jobs[jd.ID] = jd
	return jd.ID, nil
}

func (m *memJobDescs) Get(_ context.Context, id int64) (domain.JobDescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	jd, ok := m.jobs[id]
	if !ok {
		return domain.JobDescription{}, domain.ErrNotFound
	}
	return jd, nil
}

func (m *memJobDescs) ListByUser(_ context.Context, userID int64) ([]domain.JobDescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.JobDescription
	for _, jd := range m.jobs {
		if jd.UserID == userID {
			out = append(out, jd)
		}
	}
	return out, nil
}

type memStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemStore() *memStore { return &memStore{blobs: map[string][]byte{}} }

func (m *memStore) Put(_ context.Context, data []byte, ext string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loc := fmt.Sprintf("resumes/%d.%s", len(m.blobs)+1, ext)
	m.blobs[loc] = data
	return loc, nil
}

func (m *memStore) Get(_ context.Context, loc string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[loc]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	return b, nil
}

func (m *memStore) Exists(_ context.Context, loc string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blobs[loc]
	return ok, nil
}

func (m *memStore) Delete(_ context.Context, loc string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, loc)
	return nil
}

type echoExtractor struct{ err error }

func (e echoExtractor) Extract(_ context.Context, _ string, data []byte) (string, error) {
	if e.err != nil {
		return "", e.err
	}
	return string(data), nil
}

// scriptedAI replays completions; the last one repeats.
type scriptedAI struct {
	mu      sync.Mutex
	replies []domain.Completion
	errs    []error
	delay   time.Duration
	calls   int
	prompts []domain.Prompt
}

func (s *scriptedAI) Complete(ctx context.Context, p domain.Prompt) (domain.Completion, error) {
	s.mu.Lock()
	i := s.calls
	s.calls++
	s.prompts = append(s.prompts, p)
	delay := s.delay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return domain.Completion{}, ctx.Err()
		}
	}
	if i < len(s.errs) && s.errs[i] != nil {
		return domain.Completion{}, s.errs[i]
	}
	if len(s.replies) == 0 {
		return domain.Completion{}, errors.New("no scripted reply")
	}
	if i >= len(s.replies) {
		i = len(s.replies) - 1
	}
	return s.replies[i], nil
}

func (s *scriptedAI) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type scriptedLimiter struct {
	mu         sync.Mutex
	grants     []bool
	retryAfter time.Duration
	calls      int
}

func (l *scriptedLimiter) Acquire(context.Context, string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.calls
	l.calls++
	if i < len(l.grants) && !l.grants[i] {
		return false, l.retryAfter, nil
	}
	return true, 0, nil
}

type scheduledTask struct {
	task      domain.AnalyzeTask
	notBefore time.Time
}

// memQueue is an in-memory domain.Queue with a uniqueness lock per analysis.
type memQueue struct {
	mu         sync.Mutex
	pending    []scheduledTask
	locks      map[int64]string
	enqueued   []scheduledTask
	requeued   []scheduledTask
	acked      []string
	released   []int64
	enqueueErr error
}

func newMemQueue() *memQueue { return &memQueue{locks: map[int64]string{}} }

func (q *memQueue) Enqueue(_ context.Context, t domain.AnalyzeTask, notBefore time.Time) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil {
		return "", q.enqueueErr
	}
	if _, held := q.locks[t.AnalysisID]; held {
		return "", domain.ErrDuplicateTask
	}
	q.locks[t.AnalysisID] = t.LineageID
	t.JobUUID = uuid.NewString()
	st := scheduledTask{task: t, notBefore: notBefore}
	q.pending = append(q.pending, st)
	q.enqueued = append(q.enqueued, st)
	return t.JobUUID, nil
}

func (q *memQueue) Restart(_ context.Context, t domain.AnalyzeTask, notBefore time.Time) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil {
		return "", q.enqueueErr
	}
	q.locks[t.AnalysisID] = t.LineageID
	t.JobUUID = uuid.NewString()
	st := scheduledTask{task: t, notBefore: notBefore}
	q.pending = append(q.pending, st)
	q.enqueued = append(q.enqueued, st)
	return t.JobUUID, nil
}

func (q *memQueue) Requeue(_ context.Context, t domain.AnalyzeTask, notBefore time.Time) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t.JobUUID = uuid.NewString()
	st := scheduledTask{task: t, notBefore: notBefore}
	q.pending = append(q.pending, st)
	q.requeued = append(q.requeued, st)
	return t.JobUUID, nil
}

// pop removes the earliest scheduled task.
func (q *memQueue) pop() (scheduledTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return scheduledTask{}, false
	}
	sort.SliceStable(q.pending, func(i, j int) bool { return q.pending[i].notBefore.Before(q.pending[j].notBefore) })
	st := q.pending[0]
	q.pending = q.pending[1:]
	return st, true
}

func (q *memQueue) Dequeue(ctx context.Context) (domain.AnalyzeTask, error) {
	for {
		if st, ok := q.pop(); ok {
			return st.task, nil
		}
		select {
		case <-ctx.Done():
			return domain.AnalyzeTask{}, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (q *memQueue) Ack(_ context.Context, jobUUID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, jobUUID)
	return nil
}

func (q *memQueue) Release(_ context.Context, analysisID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.locks, analysisID)
	q.released = append(q.released, analysisID)
	return nil
}

func (q *memQueue) ReleaseLineage(_ context.Context, analysisID int64, lineageID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.locks[analysisID] == lineageID {
		delete(q.locks, analysisID)
		q.released = append(q.released, analysisID)
	}
	return nil
}

func (q *memQueue) Holder(_ context.Context, analysisID int64) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.locks[analysisID], nil
}

func (q *memQueue) Locked(analysisID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.locks[analysisID]
	return ok
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.AnalysisEvent
}

func (n *recordingNotifier) Notify(_ context.Context, ev domain.AnalysisEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) Events() []domain.AnalysisEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.AnalysisEvent(nil), n.events...)
}

type recordingDLQ struct {
	mu    sync.Mutex
	tasks []domain.AnalyzeTask
}

func (d *recordingDLQ) PublishDeadLetter(_ context.Context, t domain.AnalyzeTask, _ error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks = append(d.tasks, t)
	return nil
}

// harness wires a pipeline and an analysis service over in-memory adapters.
type harness struct {
	clock    *fakeClock
	analyses *memAnalyses
	logs     *memLogs
	jobs     *memJobDescs
	store    *memStore
	queue    *memQueue
	ai       *scriptedAI
	limiter  *scriptedLimiter
	notifier *recordingNotifier
	dlq      *recordingDLQ
	pipeline *usecase.Pipeline
	service  *usecase.AnalysisService
	jd       domain.JobDescription
}

func newHarness(ai *scriptedAI) *harness {
	h := &harness{
		clock:    newClock(),
		analyses: newMemAnalyses(),
		logs:     newMemLogs(),
		jobs:     newMemJobDescs(),
		store:    newMemStore(),
		queue:    newMemQueue(),
		ai:       ai,
		limiter:  &scriptedLimiter{retryAfter: 45 * time.Second},
		notifier: &recordingNotifier{},
		dlq:      &recordingDLQ{},
	}
	h.pipeline = usecase.NewPipeline(h.analyses, h.logs, h.jobs, h.store, echoExtractor{}, h.ai, h.limiter, h.queue, h.notifier, domain.DefaultRetryPolicy()).
		WithClock(h.clock.Now)
	h.pipeline.DeadLetters = h.dlq
	h.service = usecase.NewAnalysisService(h.analyses, h.logs, h.jobs, h.store, h.queue, h.pipeline).WithClock(h.clock.Now)

	jd := domain.JobDescription{
		UserID:        1,
		JobRole:       "Senior PHP Developer",
		ExperienceMin: 3,
		ExperienceMax: 5,
		Description:   "Build Laravel services",
		Requirements:  []string{"PHP", "Laravel", "Vue.js"},
	}
	id, _ := h.jobs.Create(context.Background(), jd)
	jd.ID = id
	h.jd = jd
	return h
}

func (h *harness) create(ctx context.Context) domain.AnalysisRecord {
	rec, err := h.service.Create(ctx, usecase.CreateAnalysisInput{
		UserID:           1,
		JobDescriptionID: h.jd.ID,
		Filename:         "Jane Doe CV.txt",
		Data:             []byte("Jane Doe\nSkills: PHP, Laravel"),
	})
	if err != nil {
		panic(err)
	}
	return rec
}

// drain delivers every scheduled task, jumping the clock to each not-before
// time, and acknowledges settled deliveries. It returns the delivery count.
func (h *harness) drain(ctx context.Context, limit int) int {
	n := 0
	for ; n < limit; n++ {
		st, ok := h.queue.pop()
		if !ok {
			return n
		}
		h.clock.Set(st.notBefore)
		if err := h.pipeline.Execute(ctx, st.task); err == nil {
			_ = h.queue.Ack(ctx, st.task.JobUUID)
		}
	}
	return n
}

func structured(score int) domain.Completion {
	c := domain.StructuredCompletion(domain.Assessment{
		"candidate_name":   "Jane Doe",
		"match_score":      float64(score),
		"matched_skills":   []any{"PHP", "Laravel"},
		"missing_skills":   []any{"Vue.js"},
		"experience_match": "matches",
		"recommendation":   "strong_match",
		"summary":          "Solid Laravel background.",
	}, "", domain.TokenUsage{PromptTokens: 900, CompletionTokens: 150})
	c.Provider, c.Model = "fake", "fake-model"
	return c
}

func raw(text string) domain.Completion {
	return domain.RawCompletion(text, domain.TokenUsage{PromptTokens: 800, CompletionTokens: 60})
}

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}

func (q *memQueue) Acked() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.acked...)
}
