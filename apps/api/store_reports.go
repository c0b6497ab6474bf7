package main

import (
	"github.com/benbjohnson/clock"
)

const reportDateLayout = "02.01.2006"

// ReportStore keeps reports newest first. It is not safe for concurrent use;
// the owning Workspace serializes access.
type ReportStore struct {
	clock   clock.Clock
	reports []Report
	lastID  int64
}

func NewReportStore(clk clock.Clock, seed []Report) *ReportStore {
	s := &ReportStore{
		clock:   clk,
		reports: make([]Report, 0, len(seed)+8),
	}
	for _, report := range seed {
		s.reports = append(s.reports, cloneReport(report))
		if report.ID > s.lastID {
			s.lastID = report.ID
		}
	}
	return s
}

// Add prepends a new pending report and returns the stored copy.
func (s *ReportStore) Add(report Report) Report {
	now := s.clock.Now()
	report.ID = s.nextID(now.UnixMilli())
	report.Status = StatusPending
	if report.Date == "" {
		report.Date = now.Format(reportDateLayout)
	}
	report = cloneReport(report)

	s.reports = append(s.reports, Report{})
	copy(s.reports[1:], s.reports[:len(s.reports)-1])
	s.reports[0] = report
	return cloneReport(report)
}

// Ids follow creation time in milliseconds; two reports in the same
// millisecond (or a clock behind the seeds) still get distinct ids.
func (s *ReportStore) nextID(candidate int64) int64 {
	if candidate <= s.lastID {
		candidate = s.lastID + 1
	}
	s.lastID = candidate
	return candidate
}

func (s *ReportStore) SetStatus(id int64, status Status) (Report, bool) {
	idx := s.indexOf(id)
	if idx < 0 {
		return Report{}, false
	}
	s.reports[idx].Status = status
	return cloneReport(s.reports[idx]), true
}

func (s *ReportStore) Remove(id int64) (Report, bool) {
	idx := s.indexOf(id)
	if idx < 0 {
		return Report{}, false
	}
	removed := s.reports[idx]
	s.reports = append(s.reports[:idx], s.reports[idx+1:]...)
	return removed, true
}

func (s *ReportStore) Get(id int64) (Report, bool) {
	idx := s.indexOf(id)
	if idx < 0 {
		return Report{}, false
	}
	return cloneReport(s.reports[idx]), true
}

func (s *ReportStore) Len() int { return len(s.reports) }

// All returns a copy so callers cannot mutate stored records.
func (s *ReportStore) All() []Report {
	out := make([]Report, len(s.reports))
	for i, report := range s.reports {
		out[i] = cloneReport(report)
	}
	return out
}

func (s *ReportStore) indexOf(id int64) int {
	for i := range s.reports {
		if s.reports[i].ID == id {
			return i
		}
	}
	return -1
}

func cloneReport(report Report) Report {
	if report.Image != nil {
		image := *report.Image
		report.Image = &image
	}
	return report
}
