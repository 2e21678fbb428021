package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"wallet-watcher-engine/internal/domain/entity"
	"wallet-watcher-engine/internal/domain/service"
	"wallet-watcher-engine/internal/infrastructure/config"
	"wallet-watcher-engine/internal/infrastructure/logger"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	ruleKeyPrefix   = "rules."
	targetKeyPrefix = "targets."
)

// ruleTarget is the delivery target stored next to a rule
type ruleTarget struct {
	Rule    string `json:"rule"`
	Subject string `json:"subject"`
	Wallet  string `json:"wallet_address"`
	UserID  string `json:"user_id"`
}

// NATSRuleRegistry keeps routing rules and their targets in a JetStream
// key-value bucket. Rule names are valid KV keys by construction.
type NATSRuleRegistry struct {
	client *NATSClient
	config *config.NATSConfig
	logger *logger.Logger

	mu sync.Mutex
	kv nats.KeyValue
}

// NewNATSRuleRegistry creates a rule registry backed by NATS KV
func NewNATSRuleRegistry(client *NATSClient, cfg *config.NATSConfig, logger *logger.Logger) *NATSRuleRegistry {
	return &NATSRuleRegistry{
		client: client,
		config: cfg,
		logger: logger.WithComponent("nats-rule-registry"),
	}
}

// bucket binds to the rules bucket, creating it on first use
func (r *NATSRuleRegistry) bucket() (nats.KeyValue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.kv != nil {
		return r.kv, nil
	}

	js := r.client.JetStream()
	if js == nil {
		return nil, fmt.Errorf("NATS is not connected")
	}

	kv, err := js.KeyValue(r.config.RulesBucket)
	if err != nil {
		r.logger.Info("Rules bucket not found, creating", zap.String("bucket", r.config.RulesBucket), zap.Error(err))
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      r.config.RulesBucket,
			Description: "Wallet watcher routing rules and targets",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create rules bucket: %w", err)
		}
	}

	r.kv = kv
	return kv, nil
}

// CreateRule implements RuleRegistry
func (r *NATSRuleRegistry) CreateRule(ctx context.Context, rule *service.Rule) error {
	kv, err := r.bucket()
	if err != nil {
		return fmt.Errorf("%w: %v", entity.ErrRuleProvisioning, err)
	}

	ruleData, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("%w: %v", entity.ErrRuleProvisioning, err)
	}

	subject := rule.Target
	if subject == "" {
		subject = r.config.RuleTarget
	}
	targetData, err := json.Marshal(ruleTarget{
		Rule:    rule.Name,
		Subject: subject,
		Wallet:  rule.WalletAddress,
		UserID:  rule.UserID,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", entity.ErrRuleProvisioning, err)
	}

	if _, err := kv.Put(ruleKeyPrefix+rule.Name, ruleData); err != nil {
		return fmt.Errorf("%w: failed to put rule: %v", entity.ErrRuleProvisioning, err)
	}
	if _, err := kv.Put(targetKeyPrefix+rule.Name, targetData); err != nil {
		// a rule without a target would never deliver
		if delErr := kv.Delete(ruleKeyPrefix + rule.Name); delErr != nil {
			r.logger.Warn("Failed to roll back rule", zap.String("rule", rule.Name), zap.Error(delErr))
		}
		return fmt.Errorf("%w: failed to put target: %v", entity.ErrRuleProvisioning, err)
	}

	r.logger.Info("Provisioned rule",
		zap.String("rule", rule.Name),
		zap.String("wallet", rule.WalletAddress),
		zap.String("target", subject))
	return nil
}

// DeleteRule implements RuleRegistry. Keys that are already gone count as deleted.
func (r *NATSRuleRegistry) DeleteRule(ctx context.Context, name string) error {
	kv, err := r.bucket()
	if err != nil {
		return fmt.Errorf("%w: %v", entity.ErrRuleProvisioning, err)
	}

	var errs []error
	for _, key := range []string{targetKeyPrefix + name, ruleKeyPrefix + name} {
		if _, err := kv.Get(key); err != nil {
			if errors.Is(err, nats.ErrKeyNotFound) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		if err := kv.Delete(key); err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", entity.ErrRuleProvisioning, errors.Join(errs...))
	}

	r.logger.Info("Deleted rule", zap.String("rule", name))
	return nil
}
