// Package config loads the YAML manifest describing a routing setup: the
// agent roster, the decision tree and the engine settings. It turns the
// declarative file into a validated routing.Tree plus agent definitions.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agentroute/core"
	"github.com/hupe1980/agentroute/routing"
)

var (
	// ErrManifestEmptyAgents rejects manifests without a single agent.
	ErrManifestEmptyAgents = errors.New("manifest: agents list is empty")
	// ErrManifestEmptyPaths rejects manifests without routing paths.
	ErrManifestEmptyPaths = errors.New("manifest: paths list is empty")
)

// Manifest is the top-level manifest file.
type Manifest struct {
	Engine EngineSettings `yaml:"engine"`
	Agents []AgentSpec    `yaml:"agents"`
	Paths  []PathSpec     `yaml:"paths"`
	Nodes  []NodeSpec     `yaml:"nodes"`
	// DefaultPath catches contexts no node routes.
	DefaultPath string `yaml:"default_path,omitempty"`
}

// EngineSettings configures the orchestrator.
type EngineSettings struct {
	MaxConcurrency      int     `yaml:"max_concurrency,omitempty"`
	DefaultTimeout      string  `yaml:"default_timeout,omitempty"`
	GracePeriod         string  `yaml:"grace_period,omitempty"`
	Quorum              float64 `yaml:"quorum,omitempty"`
	AggregationStrategy string  `yaml:"aggregation_strategy,omitempty"`
	ConflictStrategy    string  `yaml:"conflict_strategy,omitempty"`
}

// AgentSpec declares one worker agent registration.
type AgentSpec struct {
	ID           string            `yaml:"id"`
	Capabilities []string          `yaml:"capabilities,omitempty"`
	Priority     int               `yaml:"priority,omitempty"`
	Timeout      string            `yaml:"timeout,omitempty"`
	MaxRetries   int               `yaml:"max_retries,omitempty"`
	Metadata     map[string]string `yaml:"metadata,omitempty"`
}

// PathSpec declares one routing destination.
type PathSpec struct {
	ID                   string            `yaml:"id"`
	Target               string            `yaml:"target"`
	RequiredCapabilities []string          `yaml:"required_capabilities,omitempty"`
	Priority             int               `yaml:"priority,omitempty"`
	Metadata             map[string]string `yaml:"metadata,omitempty"`
}

// NodeSpec declares one decision node. The first node in the list is the
// root. Each branch names either another node or a path.
type NodeSpec struct {
	ID          string        `yaml:"id"`
	Condition   ConditionSpec `yaml:"condition"`
	True        BranchSpec    `yaml:"true"`
	False       BranchSpec    `yaml:"false,omitempty"`
	DefaultPath string        `yaml:"default_path,omitempty"`
}

// BranchSpec points a branch at a node or a path.
type BranchSpec struct {
	Node string `yaml:"node,omitempty"`
	Path string `yaml:"path,omitempty"`
}

// ConditionSpec is the declarative form of a routing condition. Type selects
// the condition; the remaining fields apply per type. All/Any/Not build
// compounds recursively.
type ConditionSpec struct {
	Type         string          `yaml:"type"`
	Limit        int             `yaml:"limit,omitempty"`
	CostLimit    float64         `yaml:"cost_limit,omitempty"`
	Min          float64         `yaml:"min,omitempty"`
	Name         string          `yaml:"name,omitempty"`
	ContextType  string          `yaml:"context_type,omitempty"`
	Capabilities []string        `yaml:"capabilities,omitempty"`
	All          []ConditionSpec `yaml:"all,omitempty"`
	Any          []ConditionSpec `yaml:"any,omitempty"`
	Not          *ConditionSpec  `yaml:"not,omitempty"`
}

// Load parses and validates a YAML manifest file.
func Load(path string) (Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest: read %q: %w", path, err)
	}
	return Parse(b)
}

// Parse parses and validates manifest bytes.
func Parse(b []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(b, &m); err != nil {
		return Manifest{}, fmt.Errorf("manifest: unmarshal: %w", err)
	}
	if err := Validate(m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Validate enforces structural correctness before building runtime objects.
func Validate(m Manifest) error {
	if len(m.Agents) == 0 {
		return ErrManifestEmptyAgents
	}
	if len(m.Paths) == 0 {
		return ErrManifestEmptyPaths
	}

	agents := make(map[string]struct{}, len(m.Agents))
	for _, a := range m.Agents {
		if a.ID == "" {
			return errors.New("manifest: agent id is empty")
		}
		if _, exists := agents[a.ID]; exists {
			return fmt.Errorf("manifest: duplicate agent id %q", a.ID)
		}
		agents[a.ID] = struct{}{}
		if a.Timeout != "" {
			if _, err := time.ParseDuration(a.Timeout); err != nil {
				return fmt.Errorf("manifest: agent %q timeout: %w", a.ID, err)
			}
		}
	}

	paths := make(map[string]struct{}, len(m.Paths))
	for _, p := range m.Paths {
		if p.ID == "" {
			return errors.New("manifest: path id is empty")
		}
		if _, exists := paths[p.ID]; exists {
			return fmt.Errorf("manifest: duplicate path id %q", p.ID)
		}
		paths[p.ID] = struct{}{}
	}

	for _, n := range m.Nodes {
		if n.ID == "" {
			return errors.New("manifest: node id is empty")
		}
		if _, err := buildCondition(n.Condition); err != nil {
			return fmt.Errorf("manifest: node %q: %w", n.ID, err)
		}
	}
	return nil
}

// AgentDefinitions converts the declared agents to runtime definitions.
func (m Manifest) AgentDefinitions() []core.AgentDefinition {
	defs := make([]core.AgentDefinition, 0, len(m.Agents))
	for _, a := range m.Agents {
		def := core.AgentDefinition{
			ID:           a.ID,
			Capabilities: a.Capabilities,
			Priority:     a.Priority,
			MaxRetries:   a.MaxRetries,
			Metadata:     a.Metadata,
		}
		if a.Timeout != "" {
			def.Timeout, _ = time.ParseDuration(a.Timeout)
		}
		defs = append(defs, def)
	}
	return defs
}

// BuildTree assembles and validates the routing tree from the manifest.
func (m Manifest) BuildTree() (*routing.Tree, error) {
	tree := routing.NewTree()

	for _, p := range m.Paths {
		path := routing.Path{
			ID:                   p.ID,
			Target:               p.Target,
			RequiredCapabilities: p.RequiredCapabilities,
			Priority:             p.Priority,
			Metadata:             p.Metadata,
		}
		if err := tree.AddPath(path); err != nil {
			return nil, fmt.Errorf("manifest: %w", err)
		}
	}

	for _, n := range m.Nodes {
		cond, err := buildCondition(n.Condition)
		if err != nil {
			return nil, fmt.Errorf("manifest: node %q: %w", n.ID, err)
		}
		node := &routing.Node{
			ID:            n.ID,
			Condition:     cond,
			True:          routing.Branch{NodeID: n.True.Node, PathID: n.True.Path},
			False:         routing.Branch{NodeID: n.False.Node, PathID: n.False.Path},
			DefaultPathID: n.DefaultPath,
		}
		if err := tree.AddNode(node); err != nil {
			return nil, fmt.Errorf("manifest: %w", err)
		}
	}

	if m.DefaultPath != "" {
		if err := tree.SetDefault(m.DefaultPath); err != nil {
			return nil, fmt.Errorf("manifest: %w", err)
		}
	}

	if err := tree.Validate(); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	return tree, nil
}

func buildCondition(spec ConditionSpec) (routing.Condition, error) {
	switch spec.Type {
	case "token_threshold":
		return routing.TokenThreshold{Limit: spec.Limit}, nil
	case "confidence_threshold":
		return routing.ConfidenceThreshold{Min: spec.Min}, nil
	case "capability_subset":
		return routing.CapabilitySubset{Required: spec.Capabilities}, nil
	case "model_capability":
		return routing.ModelCapability{Name: spec.Name}, nil
	case "cost_ceiling":
		return routing.CostCeiling{Limit: spec.CostLimit}, nil
	case "context_type":
		return routing.ContextType{Type: spec.ContextType}, nil
	case "all":
		members, err := buildConditions(spec.All)
		if err != nil {
			return nil, err
		}
		return routing.And{Members: members}, nil
	case "any":
		members, err := buildConditions(spec.Any)
		if err != nil {
			return nil, err
		}
		return routing.Or{Members: members}, nil
	case "not":
		if spec.Not == nil {
			return nil, errors.New("not condition requires a member")
		}
		member, err := buildCondition(*spec.Not)
		if err != nil {
			return nil, err
		}
		return routing.Not{Member: member}, nil
	default:
		return nil, fmt.Errorf("unknown condition type %q", spec.Type)
	}
}

func buildConditions(specs []ConditionSpec) ([]routing.Condition, error) {
	out := make([]routing.Condition, 0, len(specs))
	for _, s := range specs {
		c, err := buildCondition(s)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
