package messaging

import (
	"context"
	"fmt"
	"sync"

	"wallet-watcher-engine/internal/domain/entity"
	"wallet-watcher-engine/internal/domain/service"
)

// MemoryRuleRegistry keeps rules in process, used when NATS is disabled and in tests
type MemoryRuleRegistry struct {
	mu    sync.Mutex
	rules map[string]*service.Rule

	// CreateErr, when set, is returned by CreateRule
	CreateErr error
	// DeleteErr, when set, is returned by DeleteRule
	DeleteErr error
}

// NewMemoryRuleRegistry creates an empty in-memory registry
func NewMemoryRuleRegistry() *MemoryRuleRegistry {
	return &MemoryRuleRegistry{rules: make(map[string]*service.Rule)}
}

// CreateRule implements RuleRegistry
func (r *MemoryRuleRegistry) CreateRule(_ context.Context, rule *service.Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.CreateErr != nil {
		return fmt.Errorf("%w: %v", entity.ErrRuleProvisioning, r.CreateErr)
	}
	copied := *rule
	r.rules[rule.Name] = &copied
	return nil
}

// DeleteRule implements RuleRegistry
func (r *MemoryRuleRegistry) DeleteRule(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.DeleteErr != nil {
		return fmt.Errorf("%w: %v", entity.ErrRuleProvisioning, r.DeleteErr)
	}
	delete(r.rules, name)
	return nil
}

// Rule returns a provisioned rule by name
func (r *MemoryRuleRegistry) Rule(name string) (*service.Rule, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.rules[name]
	return rule, ok
}

// Len returns the number of provisioned rules
func (r *MemoryRuleRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rules)
}
