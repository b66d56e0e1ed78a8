package routing

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/hupe1980/agentroute/core"
)

// Path is a named candidate execution target. Paths are immutable once
// registered on a tree.
type Path struct {
	ID                   string            `json:"id"`
	Target               string            `json:"target"`
	RequiredCapabilities []string          `json:"required_capabilities,omitempty"`
	Priority             int               `json:"priority"`
	Metadata             map[string]string `json:"metadata,omitempty"`
}

// Branch is the destination of one side of a node: either another node or a
// terminal path. At most one of the two fields may be set; an empty branch is
// a dead end resolved through defaults.
type Branch struct {
	NodeID string `json:"node_id,omitempty"`
	PathID string `json:"path_id,omitempty"`
}

// IsEmpty reports whether the branch has no destination.
func (b Branch) IsEmpty() bool { return b.NodeID == "" && b.PathID == "" }

// Node is one decision point in the tree: a condition, a branch followed when
// it holds, a branch followed when it does not, and an optional default path
// used when the chosen branch is empty.
type Node struct {
	ID            string    `json:"id"`
	Condition     Condition `json:"-"`
	True          Branch    `json:"true"`
	False         Branch    `json:"false"`
	DefaultPathID string    `json:"default_path_id,omitempty"`
}

// Decision is the output of a tree evaluation. Trace is the ordered log of
// condition evaluations that led to the outcome; Alternatives lists viable
// but unchosen paths ordered by priority for failover.
type Decision struct {
	PathID              string   `json:"path_id"`
	Target              string   `json:"target"`
	Confidence          float64  `json:"confidence"`
	Trace               []string `json:"trace"`
	Alternatives        []string `json:"alternatives,omitempty"`
	NoRoute             bool     `json:"no_route"`
	Reason              string   `json:"reason,omitempty"`
	ConditionsEvaluated int      `json:"conditions_evaluated"`
	PathsEvaluated      int      `json:"paths_evaluated"`
}

// Confidence levels reported on decisions depending on how the path was
// reached. An explicit leaf outranks a default fallback.
const (
	confidenceLeaf    = 1.0
	confidenceDefault = 0.5
)

// Tree is the hierarchical routing decision procedure. Registration
// (AddPath, AddNode, SetRoot, SetDefault) must complete before the first
// Evaluate; the tree freezes itself on first use and rejects further
// mutation, which makes concurrent read-sharing safe without locks.
type Tree struct {
	paths     map[string]Path
	pathOrder []string
	nodes     map[string]*Node
	rootID    string
	defaultID string
	frozen    atomic.Bool
}

// NewTree constructs an empty routing tree.
func NewTree() *Tree {
	return &Tree{paths: map[string]Path{}, nodes: map[string]*Node{}}
}

// AddPath registers a candidate path. Duplicate path IDs are rejected.
func (t *Tree) AddPath(p Path) error {
	if t.frozen.Load() {
		return fmt.Errorf("routing tree is frozen: cannot add path %q", p.ID)
	}
	if p.ID == "" {
		return fmt.Errorf("path id must not be empty")
	}
	if _, exists := t.paths[p.ID]; exists {
		return fmt.Errorf("duplicate path id %q", p.ID)
	}
	t.paths[p.ID] = p
	t.pathOrder = append(t.pathOrder, p.ID)
	return nil
}

// AddNode registers a decision node. The first node added becomes the root
// unless SetRoot overrides it.
func (t *Tree) AddNode(n *Node) error {
	if t.frozen.Load() {
		return fmt.Errorf("routing tree is frozen: cannot add node %q", n.ID)
	}
	if n == nil || n.ID == "" {
		return fmt.Errorf("node id must not be empty")
	}
	if _, exists := t.nodes[n.ID]; exists {
		return fmt.Errorf("duplicate node id %q", n.ID)
	}
	if n.Condition == nil {
		return fmt.Errorf("node %q has no condition", n.ID)
	}
	t.nodes[n.ID] = n
	if t.rootID == "" {
		t.rootID = n.ID
	}
	return nil
}

// SetRoot selects the evaluation entry node.
func (t *Tree) SetRoot(nodeID string) error {
	if t.frozen.Load() {
		return fmt.Errorf("routing tree is frozen: cannot set root")
	}
	t.rootID = nodeID
	return nil
}

// SetDefault registers the tree-level default path used when traversal dead
// ends without a node-level default.
func (t *Tree) SetDefault(pathID string) error {
	if t.frozen.Load() {
		return fmt.Errorf("routing tree is frozen: cannot set default")
	}
	t.defaultID = pathID
	return nil
}

// Path returns a registered path by id.
func (t *Tree) Path(id string) (Path, bool) {
	p, ok := t.paths[id]
	return p, ok
}

// Paths returns all registered paths in registration order.
func (t *Tree) Paths() []Path {
	out := make([]Path, 0, len(t.pathOrder))
	for _, id := range t.pathOrder {
		out = append(out, t.paths[id])
	}
	return out
}

// Freeze marks the tree immutable. Evaluate freezes implicitly; callers that
// share a tree across goroutines before the first evaluation should freeze
// explicitly after registration.
func (t *Tree) Freeze() { t.frozen.Store(true) }

// Validate checks structural invariants: the tree can route at all (a root
// node or a default path exists), branch destinations reference known
// nodes/paths, defaults reference known paths, no node cycles, and every
// traversal can terminate in a leaf or a declared default.
func (t *Tree) Validate() error {
	if len(t.nodes) == 0 {
		if t.defaultID == "" {
			return fmt.Errorf("tree has no decision nodes and no default path")
		}
	} else if _, ok := t.nodes[t.rootID]; !ok {
		return fmt.Errorf("root node %q is not registered", t.rootID)
	}
	if t.defaultID != "" {
		if _, ok := t.paths[t.defaultID]; !ok {
			return fmt.Errorf("default path %q is not registered", t.defaultID)
		}
	}
	for id, n := range t.nodes {
		for _, br := range []Branch{n.True, n.False} {
			if br.NodeID != "" && br.PathID != "" {
				return fmt.Errorf("node %q branch references both a node and a path", id)
			}
			if br.NodeID != "" {
				if _, ok := t.nodes[br.NodeID]; !ok {
					return fmt.Errorf("node %q references unknown node %q", id, br.NodeID)
				}
			}
			if br.PathID != "" {
				if _, ok := t.paths[br.PathID]; !ok {
					return fmt.Errorf("node %q references unknown path %q", id, br.PathID)
				}
			}
		}
		if n.DefaultPathID != "" {
			if _, ok := t.paths[n.DefaultPathID]; !ok {
				return fmt.Errorf("node %q default references unknown path %q", id, n.DefaultPathID)
			}
		}
		if br := n.True; br.IsEmpty() && n.DefaultPathID == "" && t.defaultID == "" {
			return fmt.Errorf("node %q true branch dead ends with no default", id)
		}
		if br := n.False; br.IsEmpty() && n.DefaultPathID == "" && t.defaultID == "" {
			return fmt.Errorf("node %q false branch dead ends with no default", id)
		}
	}
	if len(t.nodes) > 0 {
		if err := t.checkCycles(t.rootID, map[string]int{}); err != nil {
			return err
		}
	}
	return nil
}

const (
	visitInProgress = 1
	visitDone       = 2
)

func (t *Tree) checkCycles(nodeID string, state map[string]int) error {
	switch state[nodeID] {
	case visitInProgress:
		return fmt.Errorf("cycle detected at node %q", nodeID)
	case visitDone:
		return nil
	}
	state[nodeID] = visitInProgress
	n := t.nodes[nodeID]
	for _, br := range []Branch{n.True, n.False} {
		if br.NodeID != "" {
			if err := t.checkCycles(br.NodeID, state); err != nil {
				return err
			}
		}
	}
	state[nodeID] = visitDone
	return nil
}

// Evaluate walks the tree from the root against execCtx and returns the
// routing decision. A traversal that dead ends without any default yields a
// NoRoute decision rather than an error; callers decide whether that is
// fatal. Evaluate freezes the tree on first use.
func (t *Tree) Evaluate(execCtx core.ExecutionContext) Decision {
	t.frozen.Store(true)

	d := Decision{Trace: []string{}}
	d.PathsEvaluated = len(t.paths)

	if len(t.nodes) == 0 || t.rootID == "" {
		return t.resolveDefault(d, "tree has no nodes", execCtx)
	}

	nodeID := t.rootID
	for {
		n, ok := t.nodes[nodeID]
		if !ok {
			return t.resolveDefault(d, fmt.Sprintf("unknown node %q", nodeID), execCtx)
		}

		matched := n.Condition.Evaluate(execCtx)
		d.ConditionsEvaluated++
		d.Trace = append(d.Trace, fmt.Sprintf("node %s: %s => %t", n.ID, n.Condition.Describe(), matched))

		br := n.False
		if matched {
			br = n.True
		}

		switch {
		case br.PathID != "":
			return t.finishAt(d, br.PathID, confidenceLeaf, execCtx)
		case br.NodeID != "":
			nodeID = br.NodeID
		case n.DefaultPathID != "":
			d.Trace = append(d.Trace, fmt.Sprintf("node %s: using node default %s", n.ID, n.DefaultPathID))
			return t.finishAt(d, n.DefaultPathID, confidenceDefault, execCtx)
		default:
			return t.resolveDefault(d, fmt.Sprintf("node %q dead ends", n.ID), execCtx)
		}
	}
}

// resolveDefault applies the tree-level default or returns a NoRoute decision.
func (t *Tree) resolveDefault(d Decision, reason string, execCtx core.ExecutionContext) Decision {
	if t.defaultID != "" {
		d.Trace = append(d.Trace, "using tree default "+t.defaultID)
		return t.finishAt(d, t.defaultID, confidenceDefault, execCtx)
	}
	d.NoRoute = true
	d.Reason = reason
	d.Trace = append(d.Trace, "no viable route: "+reason)
	return d
}

func (t *Tree) finishAt(d Decision, pathID string, confidence float64, execCtx core.ExecutionContext) Decision {
	p, ok := t.paths[pathID]
	if !ok {
		d.NoRoute = true
		d.Reason = fmt.Sprintf("selected path %q is not registered", pathID)
		d.Trace = append(d.Trace, "no viable route: "+d.Reason)
		return d
	}
	d.PathID = p.ID
	d.Target = p.Target
	d.Confidence = confidence
	d.Alternatives = t.viableAlternatives(p.ID, execCtx)
	return d
}

// viableAlternatives lists unchosen paths whose capability requirements the
// context satisfies, ordered by priority (highest first) then id for
// determinism.
func (t *Tree) viableAlternatives(chosen string, execCtx core.ExecutionContext) []string {
	type cand struct {
		id       string
		priority int
	}
	var cands []cand
	for _, id := range t.pathOrder {
		if id == chosen {
			continue
		}
		p := t.paths[id]
		viable := true
		for _, req := range p.RequiredCapabilities {
			if !execCtx.HasCapability(req) {
				viable = false
				break
			}
		}
		if viable {
			cands = append(cands, cand{id: id, priority: p.Priority})
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].priority != cands[j].priority {
			return cands[i].priority > cands[j].priority
		}
		return cands[i].id < cands[j].id
	})
	out := make([]string, 0, len(cands))
	for _, c := range cands {
		out = append(out, c.id)
	}
	return out
}
