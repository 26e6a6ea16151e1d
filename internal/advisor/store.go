package advisor

import (
	"sort"
	"sync"
	"time"

	"github.com/grantscope/advisor/internal/model"
)

// StageStatus is the lifecycle state of one pipeline stage.
type StageStatus string

const (
	StatusPending   StageStatus = "pending"
	StatusRunning   StageStatus = "running"
	StatusCompleted StageStatus = "completed"
	StatusError     StageStatus = "error"
)

// ProgressSink receives stage transitions.
type ProgressSink interface {
	ReportStage(reportID string, stage int, status StageStatus, message string)
}

// ProgressEvent is one timestamped log line.
type ProgressEvent struct {
	At      time.Time   `json:"at"`
	Stage   int         `json:"stage"`
	Status  StageStatus `json:"status"`
	Message string      `json:"message"`
}

// Progress is the observable state of a run.
type Progress struct {
	ReportID string          `json:"report_id"`
	Stage    int             `json:"stage"`
	Status   StageStatus     `json:"status"`
	Message  string          `json:"message"`
	Done     bool            `json:"done"`
	Log      []ProgressEvent `json:"log"`
}

// ReportStore is the in-process report and progress registry. All state sits
// behind one mutex.
type ReportStore struct {
	mu       sync.Mutex
	progress map[string]*Progress
	reports  map[string]*reportEntry
	now      func() time.Time
}

type reportEntry struct {
	bundle *model.ReportBundle
	stored time.Time
}

// NewReportStore returns an empty store.
func NewReportStore() *ReportStore {
	return &ReportStore{
		progress: map[string]*Progress{},
		reports:  map[string]*reportEntry{},
		now:      time.Now,
	}
}

// ReportStage implements ProgressSink.
func (s *ReportStore) ReportStage(reportID string, stage int, status StageStatus, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[reportID]
	if !ok {
		p = &Progress{ReportID: reportID, Status: StatusPending}
		s.progress[reportID] = p
	}
	p.Stage = stage
	p.Status = status
	p.Message = message
	p.Log = append(p.Log, ProgressEvent{At: s.now(), Stage: stage, Status: status, Message: message})
}

// Progress returns a copy of the run's progress.
func (s *ReportStore) Progress(reportID string) (Progress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[reportID]
	if !ok {
		return Progress{}, false
	}
	out := *p
	out.Log = append([]ProgressEvent(nil), p.Log...)
	return out, true
}

// Put stores a finished bundle and marks its progress done.
func (s *ReportStore) Put(reportID string, b *model.ReportBundle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[reportID] = &reportEntry{bundle: b, stored: s.now()}
	p, ok := s.progress[reportID]
	if !ok {
		p = &Progress{ReportID: reportID}
		s.progress[reportID] = p
	}
	p.Done = true
}

// Get returns a stored bundle.
func (s *ReportStore) Get(reportID string) (*model.ReportBundle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.reports[reportID]
	if !ok {
		return nil, false
	}
	return e.bundle, true
}

// List returns stored report ids, newest first.
func (s *ReportStore) List() []string {
	s.mu.Lock()
	type item struct {
		id string
		at time.Time
	}
	items := make([]item, 0, len(s.reports))
	for id, e := range s.reports {
		items = append(items, item{id, e.stored})
	}
	s.mu.Unlock()

	sort.Slice(items, func(i, j int) bool {
		if !items[i].at.Equal(items[j].at) {
			return items[i].at.After(items[j].at)
		}
		return items[i].id < items[j].id
	})
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.id
	}
	return out
}

// Remove deletes a report and its progress. It reports whether anything
// was removed.
func (s *ReportStore) Remove(reportID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, hadReport := s.reports[reportID]
	_, hadProgress := s.progress[reportID]
	delete(s.reports, reportID)
	delete(s.progress, reportID)
	return hadReport || hadProgress
}
