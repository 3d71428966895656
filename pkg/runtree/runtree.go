package runtree

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stleox/seetrace/pkg/config"
	"github.com/stleox/seetrace/pkg/ident"
)

// Config describes a node to create. Only Name is required; everything else
// has a default or is inherited from the parent.
type Config struct {
	Name    string
	RunType string

	// ID and StartTime are escape hatches: normally both derive from a fresh
	// identifier so the embedded timestamp equals the start time.
	ID        uuid.UUID
	StartTime time.Time

	Inputs      map[string]any
	Tags        []string
	Extra       map[string]any
	Attachments map[string]Attachment

	// Project and Client apply to roots; children inherit them.
	Project string
	Client  Submitter

	// TracingEnabled overrides the inherited flag when non-nil.
	TracingEnabled *bool
}

// arena indexes every node of one trace by identifier. Children hold parent
// ids, not parent pointers; traversal resolves ids through here.
type arena struct {
	mu    sync.Mutex
	nodes map[uuid.UUID]*RunTree
}

func (a *arena) put(rt *RunTree) {
	a.mu.Lock()
	a.nodes[rt.ID] = rt
	a.mu.Unlock()
}

func (a *arena) get(id uuid.UUID) (*RunTree, bool) {
	a.mu.Lock()
	rt, ok := a.nodes[id]
	a.mu.Unlock()
	return rt, ok
}

// RunTree is an in-memory node wrapping a Run plus its position in the tree
// and the pipeline used to deliver its events.
type RunTree struct {
	Run

	mu    sync.Mutex
	state runState

	client         Submitter
	project        string
	tracingEnabled bool

	arena    *arena
	parentID uuid.UUID // uuid.Nil for roots
	children []*RunTree
}

// New builds a root node. Fails only on malformed config, never on network
// conditions; all network activity is deferred to the submission pipeline.
func New(cfg Config) (*RunTree, error) {
	return newNode(cfg, nil)
}

func newNode(cfg Config, parent *RunTree) (*RunTree, error) {
	if cfg.Name == "" {
		return nil, ErrMissingName
	}

	id := cfg.ID
	start := cfg.StartTime
	switch {
	case id == uuid.Nil && start.IsZero():
		id = ident.New()
		start = ident.Timestamp(id)
	case id == uuid.Nil:
		// explicit start time: mint an id that embeds it
		id = ident.NewAt(start)
	case start.IsZero():
		start = ident.Timestamp(id)
	}
	start = start.UTC()

	runType := cfg.RunType
	if runType == "" {
		runType = RunTypeChain
	}

	rt := &RunTree{
		Run: Run{
			ID:          id,
			Name:        cfg.Name,
			RunType:     runType,
			StartTime:   start,
			Inputs:      cfg.Inputs,
			Tags:        cfg.Tags,
			Extra:       cfg.Extra,
			Attachments: cfg.Attachments,
		},
		state: stateCreated,
	}

	if parent == nil {
		rt.TraceID = id
		rt.DottedOrder = dottedSegment(start, id)
		rt.project = cfg.Project
		if rt.project == "" {
			rt.project = config.DefaultProject
		}
		rt.client = cfg.Client
		rt.tracingEnabled = true
		rt.arena = &arena{nodes: make(map[uuid.UUID]*RunTree)}
	} else {
		parentID := parent.ID
		rt.TraceID = parent.TraceID
		rt.ParentRunID = &parentID
		rt.parentID = parentID
		rt.DottedOrder = parent.DottedOrder + "." + dottedSegment(start, id)
		rt.project = parent.project
		rt.client = parent.client
		rt.tracingEnabled = parent.tracingEnabled
		rt.arena = parent.arena
	}
	if cfg.Project != "" {
		rt.project = cfg.Project
	}
	if cfg.Client != nil {
		rt.client = cfg.Client
	}
	if cfg.TracingEnabled != nil {
		rt.tracingEnabled = *cfg.TracingEnabled
	}
	rt.SessionName = rt.project

	rt.arena.put(rt)
	return rt, nil
}

// CreateChild builds a child node under rt and takes ownership of it: the
// child is appended to rt's children and never removed.
func (rt *RunTree) CreateChild(cfg Config) (*RunTree, error) {
	child, err := newNode(cfg, rt)
	if err != nil {
		return nil, err
	}
	rt.mu.Lock()
	rt.children = append(rt.children, child)
	rt.mu.Unlock()
	return child, nil
}

// Children returns the owned child nodes in creation order.
func (rt *RunTree) Children() []*RunTree {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return append([]*RunTree(nil), rt.children...)
}

// Project reports the resolved project name for this node.
func (rt *RunTree) Project() string {
	return rt.project
}

// TracingEnabled reports whether this node submits events.
func (rt *RunTree) TracingEnabled() bool {
	return rt.tracingEnabled
}

// PostRun enqueues the create event for this node. Idempotent: the first call
// transitions created -> posted, later calls are no-ops.
func (rt *RunTree) PostRun() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.state != stateCreated {
		logrus.Debugf("SeeTrace skipped re-post of run %s in state %s", rt.ID, rt.state)
		return
	}
	rt.state = statePosted
	if !rt.tracingEnabled || rt.client == nil {
		return
	}
	rt.client.SubmitCreate(rt.Run.snapshot())
}

// End sets the terminal fields locally. Valid exactly once, after PostRun and
// before PatchRun. A zero endTime means now.
func (rt *RunTree) End(outputs map[string]any, runErr string, endTime time.Time) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	switch rt.state {
	case stateCreated:
		return ErrNotPosted
	case stateEnded, statePatched:
		return ErrAlreadyEnd
	}
	if endTime.IsZero() {
		endTime = time.Now()
	}
	endTime = endTime.UTC()
	if endTime.Before(rt.StartTime) {
		return ErrBadEndTime
	}
	rt.Outputs = outputs
	rt.Error = runErr
	rt.EndTime = &endTime
	rt.state = stateEnded
	return nil
}

// PatchRun enqueues the update event carrying outputs, error and end time.
// Transitions ended -> patched; a second call is a no-op.
func (rt *RunTree) PatchRun() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	switch rt.state {
	case statePatched:
		return nil
	case stateCreated, statePosted:
		return ErrNotEnded
	}
	rt.state = statePatched
	if !rt.tracingEnabled || rt.client == nil {
		return nil
	}
	rt.client.SubmitUpdate(rt.Run.snapshot())
	return nil
}

// AddEvent records a timestamped occurrence on the run before it ends.
func (rt *RunTree) AddEvent(ev Event) {
	rt.mu.Lock()
	rt.Events = append(rt.Events, ev)
	rt.mu.Unlock()
}

// AddMetadata merges fields into the run's extra.metadata map.
func (rt *RunTree) AddMetadata(md map[string]any) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.Extra == nil {
		rt.Extra = make(map[string]any)
	}
	meta, _ := rt.Extra["metadata"].(map[string]any)
	if meta == nil {
		meta = make(map[string]any)
		rt.Extra["metadata"] = meta
	}
	for k, v := range md {
		meta[k] = v
	}
}

// AddTags appends tags to the run.
func (rt *RunTree) AddTags(tags ...string) {
	rt.mu.Lock()
	rt.Tags = append(rt.Tags, tags...)
	rt.mu.Unlock()
}

// AddAttachment registers a named blob. Names containing a period are
// rejected here; the wire encoding reserves it as a separator.
func (rt *RunTree) AddAttachment(name string, att Attachment) error {
	if !validAttachmentName(name) {
		return fmt.Errorf("%w: %q", ErrBadAttachmentName, name)
	}
	rt.mu.Lock()
	if rt.Attachments == nil {
		rt.Attachments = make(map[string]Attachment)
	}
	rt.Attachments[name] = att
	rt.mu.Unlock()
	return nil
}

// Parent resolves the parent node through the arena, nil for roots.
func (rt *RunTree) Parent() *RunTree {
	if rt.parentID == uuid.Nil {
		return nil
	}
	parent, _ := rt.arena.get(rt.parentID)
	return parent
}

// Root walks parent links to the tree's root. A visited set guards against
// malformed cyclic graphs; those must never occur, but a cycle degrades to
// returning the last node seen rather than looping forever.
func (rt *RunTree) Root() *RunTree {
	visited := map[uuid.UUID]bool{rt.ID: true}
	node := rt
	for {
		parent := node.Parent()
		if parent == nil {
			return node
		}
		if visited[parent.ID] {
			logrus.Warnf("SeeTrace found a cycle walking parents of run %s", rt.ID)
			return node
		}
		visited[parent.ID] = true
		node = parent
	}
}

// Flatten walks the subtree breadth-first and returns an id -> node mapping,
// the handoff shape external collaborators expect.
func (rt *RunTree) Flatten() map[uuid.UUID]*RunTree {
	flat := make(map[uuid.UUID]*RunTree)
	queue := []*RunTree{rt}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if _, seen := flat[node.ID]; seen {
			continue
		}
		flat[node.ID] = node
		queue = append(queue, node.Children()...)
	}
	return flat
}

// dottedSegment renders one path element of the dotted order: the node's
// start time (microsecond precision) followed by its id. Lexicographic order
// over segments matches creation order.
func dottedSegment(t time.Time, id uuid.UUID) string {
	t = t.UTC()
	return fmt.Sprintf("%s%06dZ%s", t.Format("20060102T150405"), t.Nanosecond()/1000, id)
}
