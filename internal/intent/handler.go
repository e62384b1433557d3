package intent

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/marcus/dispatchd/internal/lifecycle"
	"github.com/marcus/dispatchd/internal/logging"
	"github.com/marcus/dispatchd/internal/staff"
	"github.com/marcus/dispatchd/internal/store"
	"github.com/marcus/dispatchd/internal/tasks"
)

// ErrEmptyCommand is returned for blank input.
var ErrEmptyCommand = errors.New("empty command")

const maxContent = 200

// IntentInfo marks a suggestion that only carries a message for the user.
const IntentInfo = "info"

// Suggestion is a parser's structured reading of a command.
type Suggestion struct {
	Intent         string `json:"intent"`
	Content        string `json:"content,omitempty"`
	Room           string `json:"room,omitempty"`
	SuggestedStaff string `json:"suggested_staff,omitempty"`
	PropertyName   string `json:"property_name,omitempty"`
	Message        string `json:"message,omitempty"`
}

// Parser reads free text. Implementations live outside the engine.
type Parser interface {
	Parse(ctx context.Context, tenantID, text string) (*Suggestion, error)
}

// TaskCreator creates tasks; satisfied by *lifecycle.Engine.
type TaskCreator interface {
	CreateTask(ctx context.Context, req lifecycle.CreateRequest) (*tasks.Task, error)
}

// StaffFinder resolves a suggested staff name; satisfied by *store.Store.
type StaffFinder interface {
	FindStaffByName(ctx context.Context, tenantID, name string) (*staff.Staff, error)
	GetStaff(ctx context.Context, tenantID, id string) (*staff.Staff, error)
}

// Result is what a command produced.
type Result struct {
	Message     string      `json:"message"`
	Category    Category    `json:"-"`
	TaskCreated bool        `json:"task_created"`
	Task        *tasks.Task `json:"task,omitempty"`
	Suggestion  *Suggestion `json:"parsed,omitempty"`
}

// Handler executes commands against the lifecycle engine.
type Handler struct {
	creator    TaskCreator
	staff      StaffFinder
	parser     Parser
	classifier Classifier
	logger     *logging.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithParser sets the structured parser. Without one every command goes
// through the classifier.
func WithParser(p Parser) Option { return func(h *Handler) { h.parser = p } }

// WithClassifier replaces the keyword classifier.
func WithClassifier(c Classifier) Option { return func(h *Handler) { h.classifier = c } }

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option { return func(h *Handler) { h.logger = l } }

// NewHandler returns a handler creating tasks through creator.
func NewHandler(creator TaskCreator, finder StaffFinder, opts ...Option) *Handler {
	h := &Handler{
		creator:    creator,
		staff:      finder,
		classifier: NewKeywordClassifier(),
		logger:     logging.Component("intent"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

var roomPattern = regexp.MustCompile(`(?i)(?:\broom|חדר)\s*#?\s*(\p{N}[\p{L}\p{N}-]*)`)

// Handle runs one command. Info suggestions pass through as a message; task
// intents create a task, assigned to the suggested staff member when the
// name resolves. A parser failure or unknown intent falls back to the
// keyword classifier.
func (h *Handler) Handle(ctx context.Context, tenantID, text string) (*Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyCommand
	}

	var sug *Suggestion
	if h.parser != nil {
		s, err := h.parser.Parse(ctx, tenantID, text)
		if err != nil {
			h.logger.WarnCtx("intent parser failed, using keywords", logging.Fields{"tenant": tenantID, "err": err})
		} else {
			sug = s
		}
	}

	if sug != nil && strings.EqualFold(sug.Intent, IntentInfo) {
		msg := sug.Message
		if msg == "" {
			msg = "Handled."
		}
		return &Result{Message: msg, Suggestion: sug}, nil
	}

	cat := Unknown
	if sug != nil {
		cat = ParseCategory(sug.Intent)
	}
	if cat == Unknown {
		cat = h.classifier.Classify(text)
	}
	if cat == Unknown {
		return &Result{Message: "No task recognized.", Suggestion: sug}, nil
	}

	req := lifecycle.CreateRequest{
		TenantID:    tenantID,
		Type:        cat.TaskType(),
		Description: text,
	}
	if sug != nil {
		if sug.Content != "" {
			req.Description = sug.Content
		}
		req.Room = sug.Room
	}
	req.Description = truncate(req.Description, maxContent)
	if req.Room == "" {
		if m := roomPattern.FindStringSubmatch(text); m != nil {
			req.Room = m[1]
		}
	}
	if sug != nil && sug.SuggestedStaff != "" {
		m, err := h.staff.FindStaffByName(ctx, tenantID, sug.SuggestedStaff)
		switch {
		case err == nil:
			req.StaffID = m.ID
		case !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("resolving staff %q: %w", sug.SuggestedStaff, err)
		}
	}

	task, err := h.creator.CreateTask(ctx, req)
	if err != nil {
		return nil, err
	}

	res := &Result{Category: cat, Task: task, Suggestion: sug, TaskCreated: !task.Duplicate}
	switch {
	case task.Duplicate:
		res.Message = "This task is already open."
	case task.StaffID != "":
		res.Message = "Task created."
		if m, err := h.staff.GetStaff(ctx, tenantID, task.StaffID); err == nil {
			res.Message = fmt.Sprintf("Notifying %s.", m.Name)
		}
	default:
		res.Message = "Task created and queued for the next free staff member."
	}
	h.logger.InfoCtx("command handled", logging.Fields{
		"tenant":   tenantID,
		"category": cat.String(),
		"task_id":  task.ID,
		"staff_id": task.StaffID,
	})
	return res, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
