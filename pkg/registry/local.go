package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/agentrep/siwa-core/pkg/identity"
)

// LocalAgent is one entry of a local agents file.
type LocalAgent struct {
	Address       string   `json:"address"`
	AgentID       uint64   `json:"agentId"`
	AgentRegistry string   `json:"agentRegistry"`
	Active        *bool    `json:"active,omitempty"`
	Score         *float64 `json:"score,omitempty"`
	TokenURI      string   `json:"tokenUri,omitempty"`
}

type localFile struct {
	Agents []LocalAgent `json:"agents"`
}

// LocalRegistry implements Oracle from a local JSON file or an in-memory list.
// It is meant for development and tests.
type LocalRegistry struct {
	Path string

	mu     sync.RWMutex
	agents map[string]LocalAgent
}

// NewLocalRegistry creates a LocalRegistry backed by the file at path.
// The file is read lazily on first lookup.
func NewLocalRegistry(path string) *LocalRegistry {
	return &LocalRegistry{Path: path}
}

// NewStaticRegistry creates a LocalRegistry from an in-memory list of agents.
func NewStaticRegistry(agents ...LocalAgent) (*LocalRegistry, error) {
	r := &LocalRegistry{}
	if err := r.index(agents); err != nil {
		return nil, err
	}
	return r, nil
}

// Lookup implements Oracle.
func (r *LocalRegistry) Lookup(ctx context.Context, claim identity.Claim, opts LookupOptions) (*AgentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := r.load(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	agent, ok := r.agents[idKey(claim.AgentID, claim.AgentRegistry)]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: agent %d on %s", ErrNotRegistered, claim.AgentID, claim.AgentRegistry)
	}
	owner, _ := identity.NormalizeAddress(agent.Address)
	if !identity.SameAddress(owner, claim.Address) {
		return nil, fmt.Errorf("%w: agent %d is owned by another account", ErrNotRegistered, claim.AgentID)
	}

	record := &AgentRecord{Owner: owner, TokenURI: agent.TokenURI}
	if opts.Activity {
		active := agent.Active == nil || *agent.Active
		record.Active = &active
	}
	if opts.Reputation {
		score := 0.0
		if agent.Score != nil {
			score = *agent.Score
		}
		record.Score = &score
	}
	return record, nil
}

func (r *LocalRegistry) load() error {
	r.mu.RLock()
	loaded := r.agents != nil
	r.mu.RUnlock()
	if loaded {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double check
	if r.agents != nil {
		return nil
	}
	if r.Path == "" {
		r.agents = map[string]LocalAgent{}
		return nil
	}

	data, err := os.ReadFile(r.Path)
	if err != nil {
		return fmt.Errorf("failed to read local agents file: %w", err)
	}

	var f localFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse local agents file: %w", err)
	}
	return r.indexLocked(f.Agents)
}

func (r *LocalRegistry) index(agents []LocalAgent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.indexLocked(agents)
}

func (r *LocalRegistry) indexLocked(agents []LocalAgent) error {
	idx := make(map[string]LocalAgent, len(agents))
	for i, a := range agents {
		if err := identity.ValidateAddress(a.Address); err != nil {
			return fmt.Errorf("agent %d: %w", i, err)
		}
		ref, err := identity.ParseRegistryRef(a.AgentRegistry)
		if err != nil {
			return fmt.Errorf("agent %d: %w", i, err)
		}
		idx[idKey(a.AgentID, ref)] = a
	}
	r.agents = idx
	return nil
}

func idKey(agentID uint64, ref identity.RegistryRef) string {
	return fmt.Sprintf("%d@%s", agentID, ref)
}
