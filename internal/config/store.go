package config

import (
	"fmt"
	"reflect"
	"slices"
	"sync"
)

// Store holds the controller configurations of every agent and versions them.
// It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	settings Settings
	agents   map[string]*ControllerConfig
	order    []string
}

// ReplaceResult lists the agents affected by Store.Replace
type ReplaceResult struct {
	Added   []string
	Changed []string
	Removed []string

	// SettingsChanged reports whether the process-wide settings differ from the previous ones
	SettingsChanged bool
}

// NewStore creates a Store populated from cfg. Every agent starts at Version 1.
func NewStore(cfg *Config) *Store {
	s := &Store{
		agents: make(map[string]*ControllerConfig),
	}
	s.settings = cfg.Settings
	for _, agent := range cfg.Agents {
		s.agents[agent.ID] = &ControllerConfig{AgentConfig: cloneAgent(agent), Version: 1}
		s.order = append(s.order, agent.ID)
	}
	return s
}

// Settings returns the process-wide settings
func (s *Store) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Get returns a copy of the agent's configuration
func (s *Store) Get(agentID string) (ControllerConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.agents[agentID]
	if !ok {
		return ControllerConfig{}, false
	}
	return cloneController(cfg), true
}

// List returns copies of every agent's configuration in configuration order
func (s *Store) List() []ControllerConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]ControllerConfig, 0, len(s.order))
	for _, id := range s.order {
		result = append(result, cloneController(s.agents[id]))
	}
	return result
}

// Update applies fn to the agent's configuration and bumps its Version
func (s *Store) Update(agentID string, fn func(*ControllerConfig)) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.agents[agentID]
	if !ok {
		return 0, fmt.Errorf("agent %s not found", agentID)
	}
	version := cfg.Version
	updated := cloneController(cfg)
	fn(&updated)
	updated.ID = agentID
	updated.Version = version + 1
	s.agents[agentID] = &updated
	return updated.Version, nil
}

// Replace swaps in a freshly loaded configuration. Agents whose configuration changed get
// a new Version; agents no longer present are kept, marked Missing.
func (s *Store) Replace(cfg *Config) ReplaceResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := ReplaceResult{SettingsChanged: !reflect.DeepEqual(s.settings, cfg.Settings)}
	s.settings = cfg.Settings

	seen := make(map[string]bool, len(cfg.Agents))
	for _, agent := range cfg.Agents {
		seen[agent.ID] = true
		existing, ok := s.agents[agent.ID]
		if !ok {
			s.agents[agent.ID] = &ControllerConfig{AgentConfig: cloneAgent(agent), Version: 1}
			s.order = append(s.order, agent.ID)
			result.Added = append(result.Added, agent.ID)
			continue
		}
		if existing.Missing || !reflect.DeepEqual(existing.AgentConfig, agent) {
			s.agents[agent.ID] = &ControllerConfig{AgentConfig: cloneAgent(agent), Version: existing.Version + 1}
			result.Changed = append(result.Changed, agent.ID)
		}
	}

	for _, id := range s.order {
		existing := s.agents[id]
		if !seen[id] && !existing.Missing {
			updated := cloneController(existing)
			updated.Missing = true
			updated.Version = existing.Version + 1
			s.agents[id] = &updated
			result.Removed = append(result.Removed, id)
		}
	}

	return result
}

func cloneController(cfg *ControllerConfig) ControllerConfig {
	return ControllerConfig{
		AgentConfig: cloneAgent(cfg.AgentConfig),
		Version:     cfg.Version,
		Missing:     cfg.Missing,
	}
}

func cloneAgent(a AgentConfig) AgentConfig {
	out := a
	out.LockedAgents = slices.Clone(a.LockedAgents)
	out.Partitions = slices.Clone(a.Partitions)
	out.Triggers = slices.Clone(a.Triggers)
	if a.Thresholds != nil {
		th := *a.Thresholds
		if a.Thresholds.Staging != nil {
			staging := *a.Thresholds.Staging
			th.Staging = &staging
		}
		out.Thresholds = &th
	}
	return out
}
