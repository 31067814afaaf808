package httpserver_test

import (
	"context"
	"sync"
	"time"

	"github.com/fairyhunter13/resume-analyzer/internal/domain"
)

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
	r.CreatedAt, r.UpdatedAt = time.Now(), time.Now()
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

func (m *memAnalyses) set(id int64, ok func(domain.AnalysisStatus) bool, fn func(*domain.AnalysisRecord)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, found := m.records[id]
	if !found || !ok(r.Status) {
		return domain.ErrConflict
	}
	fn(&r)
	r.UpdatedAt = time.Now()
	m.records[id] = r
	return nil
}

func notTerminal(s domain.AnalysisStatus) bool { return !s.Terminal() }

func (m *memAnalyses) MarkProcessing(_ context.Context, id int64) error {
	return m.set(id, notTerminal, func(r *domain.AnalysisRecord) { r.Status = domain.StatusProcessing })
}

func (m *memAnalyses) MarkPending(_ context.Context, id int64) error {
	return m.set(id, notTerminal, func(r *domain.AnalysisRecord) { r.Status = domain.StatusPending })
}

func (m *memAnalyses) MarkCompleted(_ context.Context, id int64, res domain.Assessment, u domain.TokenUsage) error {
	return m.set(id, notTerminal, func(r *domain.AnalysisRecord) {
		total := u.Total()
		r.Status, r.Result, r.TotalTokens = domain.StatusCompleted, res, &total
	})
}

func (m *memAnalyses) MarkFailedIfNot(_ context.Context, id int64, msg string) (bool, error) {
	err := m.set(id, func(s domain.AnalysisStatus) bool { return s != domain.StatusFailed }, func(r *domain.AnalysisRecord) {
		r.Status, r.ErrorMessage, r.Result = domain.StatusFailed, &msg, nil
	})
	return err == nil, nil
}

func (m *memAnalyses) ResetForRetry(_ context.Context, id int64) error {
	return m.set(id, func(domain.AnalysisStatus) bool { return true }, func(r *domain.AnalysisRecord) {
		r.Status, r.ErrorMessage, r.Result = domain.StatusPending, nil, nil
	})
}

func (m *memAnalyses) ListStuck(context.Context, time.Time, int) ([]domain.AnalysisRecord, error) {
	return nil, nil
}

type memLogs struct {
	mu      sync.Mutex
	entries map[int64][]domain.AttemptLogEntry
}

func (m *memLogs) Append(_ context.Context, e domain.AttemptLogEntry) (domain.AttemptLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = map[int64][]domain.AttemptLogEntry{}
	}
	e.Attempt = len(m.entries[e.AnalysisID]) + 1
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
	jobs []domain.JobDescription
}

func (m *memJobDescs) Create(_ context.Context, jd domain.JobDescription) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	jd.ID = int64(len(m.jobs) + 1)
	m.jobs = append(m.jobs, jd)
	return jd.ID, nil
}

func (m *memJobDescs) Get(_ context.Context, id int64) (domain.JobDescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id < 1 || int(id) > len(m.jobs) {
		return domain.JobDescription{}, domain.ErrNotFound
	}
	return m.jobs[id-1], nil
}

func (m *memJobDescs) ListByUser(_ context.Context, uid int64) ([]domain.JobDescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.JobDescription
	for _, jd := range m.jobs {
		if jd.UserID == uid {
			out = append(out, jd)
		}
	}
	return out, nil
}

type staticDashboard struct{ stats domain.DashboardStats }

func (s staticDashboard) Stats(context.Context, int64) (domain.DashboardStats, error) {
	return s.stats, nil
}

func (staticDashboard) Recent(context.Context, int64, int) ([]domain.AnalysisSummary, error) {
	return nil, nil
}

func (staticDashboard) TopTalent(context.Context, int64, int) ([]domain.AnalysisSummary, error) {
	return nil, nil
}
