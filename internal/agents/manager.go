package agents

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cinder-ai/cinder/internal/agent"
	"github.com/cinder-ai/cinder/internal/governance"
	"github.com/cinder-ai/cinder/internal/observability"
	"github.com/cinder-ai/cinder/internal/providers"
	"github.com/cinder-ai/cinder/internal/safety"
	"github.com/cinder-ai/cinder/internal/tools"
	"github.com/cinder-ai/cinder/pkg/models"
)

// Agent is the minimal contract a managed agent satisfies. Raw chunk
// shapes vary per implementation; the manager normalizes them.
type Agent interface {
	Run(ctx context.Context, task *models.AgentTask) (<-chan any, error)
}

// Deps carries the shared collaborators constructors may inject.
// Constructors fail hard when a dependency they need is nil.
type Deps struct {
	Provider   providers.Provider
	Registry   *tools.Registry
	Scheduler  *agent.Scheduler
	Logger     *observability.Logger
	Metrics    *observability.Metrics
	Validator  *safety.Validator
	Governance governance.Hook
	Approval   agent.ApprovalCallback

	// Loop is the base loop configuration cloned per agent. SkipRouting
	// is forced on so delegated agents never re-route.
	Loop agent.LoopConfig
}

// Constructor builds an agent instance from the shared dependencies.
type Constructor func(deps Deps) (Agent, error)

// Descriptor declares an agent before it exists. Capabilities are fixed
// at registration and never widen at runtime.
type Descriptor struct {
	Name         string
	Role         string
	Description  string
	Capabilities models.CapabilitySet
	Construct    Constructor
}

type entry struct {
	once  sync.Once
	agent Agent
	err   error
}

// Manager lazily constructs agents by descriptor and streams normalized
// chunks from them. Construction errors are cached and reported on every
// subsequent invoke without retrying.
type Manager struct {
	deps Deps

	mu          sync.RWMutex
	descriptors map[string]*Descriptor
	cache       map[string]*entry
}

// NewManager builds an empty manager over the shared dependencies.
func NewManager(deps Deps) *Manager {
	deps.Loop.SkipRouting = true
	return &Manager{
		deps:        deps,
		descriptors: map[string]*Descriptor{},
		cache:       map[string]*entry{},
	}
}

// Register adds a descriptor. Duplicate names are an error.
func (m *Manager) Register(desc *Descriptor) error {
	if desc == nil || desc.Name == "" || desc.Construct == nil {
		return fmt.Errorf("agent descriptor requires a name and a constructor")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.descriptors[desc.Name]; exists {
		return fmt.Errorf("agent %q already registered", desc.Name)
	}
	m.descriptors[desc.Name] = desc
	m.cache[desc.Name] = &entry{}
	return nil
}

// Descriptors returns the registered descriptors sorted by name.
func (m *Manager) Descriptors() []*Descriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Descriptor, 0, len(m.descriptors))
	for _, d := range m.descriptors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Invoke runs the named agent and streams its output as normalized
// chunks. The agent is constructed on first use.
func (m *Manager) Invoke(ctx context.Context, name string, task *models.AgentTask) (<-chan models.StreamingChunk, error) {
	m.mu.RLock()
	desc := m.descriptors[name]
	ent := m.cache[name]
	m.mu.RUnlock()
	if desc == nil {
		return nil, fmt.Errorf("unknown agent %q", name)
	}

	ent.once.Do(func() {
		ent.agent, ent.err = desc.Construct(m.deps)
		if ent.err != nil && m.deps.Logger != nil {
			m.deps.Logger.Error(ctx, "agent construction failed", "agent", name, "error", ent.err.Error())
		}
	})
	if ent.err != nil {
		return nil, fmt.Errorf("agent %q unavailable: %w", name, ent.err)
	}

	raw, err := ent.agent.Run(observability.AddAgent(ctx, name), task)
	if err != nil {
		return nil, err
	}

	out := make(chan models.StreamingChunk)
	go func() {
		defer close(out)
		for item := range raw {
			for _, chunk := range Normalize(item) {
				select {
				case out <- chunk:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
