package messaging

import (
	"context"
	"errors"
	"testing"

	"wallet-watcher-engine/internal/domain/entity"
	"wallet-watcher-engine/internal/domain/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRuleRegistry(t *testing.T) {
	ctx := context.Background()
	registry := NewMemoryRuleRegistry()

	rule := &service.Rule{Name: "ww-user0001-wallet01-abcdef012345", WalletAddress: "wallet01", UserID: "user0001"}
	require.NoError(t, registry.CreateRule(ctx, rule))

	stored, ok := registry.Rule(rule.Name)
	require.True(t, ok)
	assert.Equal(t, "wallet01", stored.WalletAddress)

	require.NoError(t, registry.DeleteRule(ctx, rule.Name))
	assert.Equal(t, 0, registry.Len())

	// deleting twice is not an error
	assert.NoError(t, registry.DeleteRule(ctx, rule.Name))
}

func TestMemoryRuleRegistryFailures(t *testing.T) {
	ctx := context.Background()
	registry := NewMemoryRuleRegistry()
	registry.CreateErr = errors.New("quota exceeded")

	err := registry.CreateRule(ctx, &service.Rule{Name: "ww-a-b-c"})
	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrRuleProvisioning)
	assert.Equal(t, 0, registry.Len())
}
