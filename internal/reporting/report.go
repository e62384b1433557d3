// Package reporting builds the weekly team performance report from task and
// completion history. Reports render as markdown, flat rows, an xlsx workbook
// and a short WhatsApp text, and can be sent to the property owner.
package reporting

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/marcus/dispatchd/internal/locale"
	"github.com/marcus/dispatchd/internal/logging"
	"github.com/marcus/dispatchd/internal/notify"
	"github.com/marcus/dispatchd/internal/store"
)

// DefaultDays is the report period when none is given.
const DefaultDays = 7

// noAverage ranks a worker without timed completions behind everyone else
// when breaking a tie on tasks done.
const noAverage = 999.0

// WorkerRow is one worker's totals for the period.
type WorkerRow struct {
	StaffID    string   `json:"staff_id"`
	Name       string   `json:"name"`
	Done       int      `json:"done"`
	AvgMinutes *float64 `json:"avg_minutes,omitempty"`
}

// Report is a generated performance report.
type Report struct {
	TenantID       string      `json:"tenant_id"`
	Property       string      `json:"property"`
	Days           int         `json:"days"`
	From           time.Time   `json:"from"`
	To             time.Time   `json:"to"`
	TotalTasks     int         `json:"total_tasks"`
	TotalDone      int         `json:"total_done"`
	CompletionRate int         `json:"completion_rate"`
	AvgMinutes     *float64    `json:"avg_minutes,omitempty"`
	Workers        []WorkerRow `json:"workers"`
	Top            *WorkerRow  `json:"top_performer,omitempty"`
	HourlyLoad     [24]int     `json:"hourly_load"`
	Summary        string      `json:"summary"`
	DashboardURL   string      `json:"dashboard_url,omitempty"`
	GeneratedAt    time.Time   `json:"generated_at"`
}

// PeakHour returns the busiest hour and its count. Ties go to the earliest hour.
func (r *Report) PeakHour() (int, int) {
	hour, count := 0, 0
	for h, n := range r.HourlyLoad {
		if n > count {
			hour, count = h, n
		}
	}
	return hour, count
}

// Summarizer writes the narrative paragraph of a report.
type Summarizer interface {
	Summarize(ctx context.Context, r *Report) (string, error)
}

// TemplateSummarizer is the fallback narrative used when no summarizer is
// configured or the configured one fails.
type TemplateSummarizer struct{}

// Summarize renders a fixed sentence from the report totals.
func (TemplateSummarizer) Summarize(_ context.Context, r *Report) (string, error) {
	avg := "n/a"
	if r.AvgMinutes != nil {
		avg = fmt.Sprintf("%.1f", *r.AvgMinutes)
	}
	text := fmt.Sprintf("The team completed %d tasks in the last %d days with an average of %s minutes per task.",
		r.TotalDone, r.Days, avg)
	if r.Top != nil {
		text += fmt.Sprintf(" %s led the team with %d tasks.", r.Top.Name, r.Top.Done)
	}
	return text, nil
}

// Sender queues outbound messages.
type Sender interface {
	Enqueue(req notify.Request) bool
}

// Generator builds reports for a tenant.
type Generator struct {
	store        *store.Store
	summarizer   Summarizer
	sender       Sender
	locale       *locale.Service
	property     string
	dashboardURL string
	ownerPhone   string
	now          func() time.Time
	logger       *logging.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithSummarizer sets the narrative writer.
func WithSummarizer(s Summarizer) Option { return func(g *Generator) { g.summarizer = s } }

// WithSender sets the outbound queue used by Send.
func WithSender(s Sender) Option { return func(g *Generator) { g.sender = s } }

// WithLocale sets the language resolver for the WhatsApp text.
func WithLocale(l *locale.Service) Option { return func(g *Generator) { g.locale = l } }

// WithProperty sets the property name printed in headers.
func WithProperty(name string) Option { return func(g *Generator) { g.property = name } }

// WithDashboardURL sets the link appended to the WhatsApp text.
func WithDashboardURL(u string) Option { return func(g *Generator) { g.dashboardURL = u } }

// WithOwnerPhone sets the report recipient.
func WithOwnerPhone(p string) Option { return func(g *Generator) { g.ownerPhone = p } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(g *Generator) { g.now = now } }

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option { return func(g *Generator) { g.logger = l } }

// NewGenerator creates a report generator reading from s.
func NewGenerator(s *store.Store, opts ...Option) *Generator {
	g := &Generator{
		store:      s,
		summarizer: TemplateSummarizer{},
		property:   "the property",
		now:        time.Now,
		logger:     logging.Component("reporting"),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.summarizer == nil {
		g.summarizer = TemplateSummarizer{}
	}
	return g
}

// Generate builds the report for the last days days. The period starts at
// midnight UTC days ago and ends now.
func (g *Generator) Generate(ctx context.Context, tenantID string, days int) (*Report, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}
	if days <= 0 {
		days = DefaultDays
	}
	now := g.now().UTC()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -days)

	created, err := g.store.TasksCreatedBetween(ctx, tenantID, from, now.Add(time.Microsecond))
	if err != nil {
		return nil, fmt.Errorf("loading tasks: %w", err)
	}
	done, err := g.store.PerformanceBetween(ctx, tenantID, from, now.Add(time.Microsecond))
	if err != nil {
		return nil, fmt.Errorf("loading completions: %w", err)
	}

	r := &Report{
		TenantID:     tenantID,
		Property:     g.property,
		Days:         days,
		From:         from,
		To:           now,
		TotalTasks:   len(created),
		TotalDone:    len(done),
		DashboardURL: g.dashboardURL,
		GeneratedAt:  now,
	}
	inPeriod := make(map[string]bool, len(created))
	for _, t := range created {
		inPeriod[t.ID] = true
		r.HourlyLoad[t.CreatedAt.UTC().Hour()]++
	}
	// Only tasks created in the period count toward the rate, so a backlog
	// cleared this week cannot push it past 100.
	if r.TotalTasks > 0 {
		closed := 0
		for _, rec := range done {
			if inPeriod[rec.TaskID] {
				closed++
			}
		}
		r.CompletionRate = int(math.Round(float64(closed) / float64(r.TotalTasks) * 100))
	}

	type acc struct {
		row   WorkerRow
		secs  int
		timed int
	}
	byStaff := make(map[string]*acc)
	var order []string
	var allSecs, allTimed int
	for _, rec := range done {
		r.HourlyLoad[rec.FinishedAt.UTC().Hour()]++
		a, ok := byStaff[rec.StaffID]
		if !ok {
			a = &acc{row: WorkerRow{StaffID: rec.StaffID, Name: rec.StaffName}}
			byStaff[rec.StaffID] = a
			order = append(order, rec.StaffID)
		}
		if a.row.Name == "" {
			a.row.Name = rec.StaffName
		}
		a.row.Done++
		if rec.DurationSeconds != nil {
			a.secs += *rec.DurationSeconds
			a.timed++
			allSecs += *rec.DurationSeconds
			allTimed++
		}
	}
	for _, id := range order {
		a := byStaff[id]
		if a.timed > 0 {
			a.row.AvgMinutes = minutes(a.secs, a.timed)
		}
		r.Workers = append(r.Workers, a.row)
	}
	if allTimed > 0 {
		r.AvgMinutes = minutes(allSecs, allTimed)
	}

	sort.SliceStable(r.Workers, func(i, j int) bool {
		if r.Workers[i].Done != r.Workers[j].Done {
			return r.Workers[i].Done > r.Workers[j].Done
		}
		return r.Workers[i].Name < r.Workers[j].Name
	})
	r.Top = topPerformer(r.Workers)

	summary, err := g.summarizer.Summarize(ctx, r)
	if err != nil || summary == "" {
		if err != nil {
			g.logger.WarnCtx("summarizer failed, using template", logging.Fields{"tenant": tenantID, "err": err})
		}
		summary, _ = TemplateSummarizer{}.Summarize(ctx, r)
	}
	r.Summary = summary
	return r, nil
}

// topPerformer picks the worker with the most completions, breaking ties on
// the lower average.
func topPerformer(rows []WorkerRow) *WorkerRow {
	var best *WorkerRow
	for i := range rows {
		row := &rows[i]
		if best == nil || row.Done > best.Done ||
			(row.Done == best.Done && avgOrMax(row) < avgOrMax(best)) {
			best = row
		}
	}
	if best == nil {
		return nil
	}
	top := *best
	return &top
}

func avgOrMax(w *WorkerRow) float64 {
	if w.AvgMinutes == nil {
		return noAverage
	}
	return *w.AvgMinutes
}

func minutes(secs, n int) *float64 {
	v := math.Round(float64(secs)/float64(n)/60*10) / 10
	return &v
}
