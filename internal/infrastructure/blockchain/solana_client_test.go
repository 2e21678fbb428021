package blockchain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"wallet-watcher-engine/internal/domain/entity"
	"wallet-watcher-engine/internal/infrastructure/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMint = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"

func newRPCServer(t *testing.T, result string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "getAccountInfo", req.Method)
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":` + result + `}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestFetchMetadataFromMint(t *testing.T) {
	server := newRPCServer(t, `{"context":{"slot":1},"value":{"owner":"TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA","data":{"program":"spl-token","parsed":{"type":"mint","info":{"decimals":5,"supply":"88000000000000000","isInitialized":true}}}}}`)
	client := NewSolanaClient(server.URL, time.Second, logger.NewNop())

	metadata, err := client.FetchMetadata(context.Background(), testMint)
	require.NoError(t, err)
	require.NotNil(t, metadata)

	assert.Equal(t, entity.SourceOnChain, metadata.Source)
	assert.Equal(t, "DezX...B263", metadata.Symbol)
	require.NotNil(t, metadata.Decimals)
	assert.Equal(t, 5, *metadata.Decimals)
}

func TestFetchMetadataMissingAccount(t *testing.T) {
	server := newRPCServer(t, `{"context":{"slot":1},"value":null}`)
	client := NewSolanaClient(server.URL, time.Second, logger.NewNop())

	metadata, err := client.FetchMetadata(context.Background(), testMint)
	assert.NoError(t, err)
	assert.Nil(t, metadata)
}

func TestRPCErrorIsUpstreamUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32005,"message":"node is behind"}}`))
	}))
	defer server.Close()

	client := NewSolanaClient(server.URL, time.Second, logger.NewNop())
	_, err := client.GetMintInfo(context.Background(), testMint)
	assert.ErrorIs(t, err, entity.ErrUpstreamUnavailable)
}

func TestIsValidSolanaAddress(t *testing.T) {
	assert.True(t, IsValidSolanaAddress(testMint))
	assert.True(t, IsValidSolanaAddress(entity.NativeMint))
	assert.False(t, IsValidSolanaAddress("0x52908400098527886E0F7030069857D2E4169EE7"))
	assert.False(t, IsValidSolanaAddress("short"))
	assert.False(t, IsValidSolanaAddress("DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB26O"))
}
