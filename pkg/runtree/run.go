package runtree

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Run type tags distinguishing categories of traced work.
const (
	RunTypeChain     = "chain"
	RunTypeTool      = "tool"
	RunTypeLLM       = "llm"
	RunTypeRetriever = "retriever"
	RunTypePrompt    = "prompt"
	RunTypeParser    = "parser"
)

var (
	ErrMissingName = errors.New("runtree: run needs a resolvable name")
	ErrNotPosted   = errors.New("runtree: run must be posted before it can end")
	ErrAlreadyEnd  = errors.New("runtree: run already ended")
	ErrNotEnded    = errors.New("runtree: run must end before it can be patched")
	ErrBadEndTime  = errors.New("runtree: end_time precedes start_time")
)

// Attachment is a named binary blob shipped alongside a run. Names must not
// contain a period, which the wire encoding reserves as a field separator.
type Attachment struct {
	ContentType string
	Data        []byte
}

// ErrBadAttachmentName rejects attachment names the wire encoding cannot carry.
var ErrBadAttachmentName = errors.New("runtree: attachment name must not contain a period")

// Event is one timestamped occurrence recorded on a run.
type Event map[string]any

// Run is one traced unit of work. The scalar fields marshal into the main
// JSON part of a submission; Inputs, Outputs, Events and Attachments travel
// as separate parts and are excluded here.
type Run struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	RunType     string     `json:"run_type"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	TraceID     uuid.UUID  `json:"trace_id"`
	ParentRunID *uuid.UUID `json:"parent_run_id,omitempty"`
	DottedOrder string     `json:"dotted_order"`
	SessionName string     `json:"session_name,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
	Error       string     `json:"error,omitempty"`

	Inputs      map[string]any        `json:"-"`
	Outputs     map[string]any        `json:"-"`
	Events      []Event               `json:"-"`
	Attachments map[string]Attachment `json:"-"`
}

// snapshot copies the run so the submission pipeline never observes later
// mutation of the live node.
func (r *Run) snapshot() *Run {
	cp := *r
	cp.Inputs = copyMap(r.Inputs)
	cp.Outputs = copyMap(r.Outputs)
	cp.Extra = copyMap(r.Extra)
	cp.Tags = append([]string(nil), r.Tags...)
	cp.Events = append([]Event(nil), r.Events...)
	if r.Attachments != nil {
		cp.Attachments = make(map[string]Attachment, len(r.Attachments))
		for name, att := range r.Attachments {
			cp.Attachments[name] = att
		}
	}
	if r.EndTime != nil {
		end := *r.EndTime
		cp.EndTime = &end
	}
	if r.ParentRunID != nil {
		parent := *r.ParentRunID
		cp.ParentRunID = &parent
	}
	return &cp
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

func validAttachmentName(name string) bool {
	return !strings.Contains(name, ".")
}

// Submitter hands run events to the submission pipeline. Both calls are
// fire-and-forget: delivery failures surface out of band, never here.
type Submitter interface {
	SubmitCreate(run *Run)
	SubmitUpdate(run *Run)
}

// run lifecycle: created -> posted -> ended -> patched, terminal at patched
type runState int

const (
	stateCreated runState = iota
	statePosted
	stateEnded
	statePatched
)

func (s runState) String() string {
	switch s {
	case stateCreated:
		return "created"
	case statePosted:
		return "posted"
	case stateEnded:
		return "ended"
	case statePatched:
		return "patched"
	default:
		return "unknown"
	}
}
