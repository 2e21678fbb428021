package blockchain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"wallet-watcher-engine/internal/domain/entity"
	"wallet-watcher-engine/internal/infrastructure/logger"

	"go.uber.org/zap"
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// SolanaClient reads accounts over Solana JSON-RPC
type SolanaClient struct {
	rpcURL string
	client *http.Client
	logger *logger.Logger
	nextID atomic.Int64
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// parsedAccount is the jsonParsed shape of an SPL token account
type parsedAccount struct {
	Value *struct {
		Owner string `json:"owner"`
		Data  struct {
			Program string `json:"program"`
			Parsed  struct {
				Type string `json:"type"`
				Info struct {
					Decimals      *int   `json:"decimals"`
					Supply        string `json:"supply"`
					IsInitialized bool   `json:"isInitialized"`
				} `json:"info"`
			} `json:"parsed"`
		} `json:"data"`
	} `json:"value"`
}

// MintInfo is the on-chain state of a token mint
type MintInfo struct {
	Address  string
	Program  string
	Decimals int
	Supply   string
}

// NewSolanaClient creates a new Solana RPC client
func NewSolanaClient(rpcURL string, timeout time.Duration, logger *logger.Logger) *SolanaClient {
	return &SolanaClient{
		rpcURL: rpcURL,
		client: &http.Client{Timeout: timeout},
		logger: logger.WithComponent("solana-client"),
	}
}

// call performs one JSON-RPC request
func (sc *SolanaClient) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      sc.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, sc.rpcURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := sc.client.Do(request)
	if err != nil {
		return fmt.Errorf("%w: %v", entity.ErrUpstreamUnavailable, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return fmt.Errorf("%w: rpc status %d", entity.ErrUpstreamUnavailable, response.StatusCode)
	}

	var envelope rpcResponse
	if err := json.NewDecoder(response.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%w: failed to decode rpc response: %v", entity.ErrUpstreamUnavailable, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("%w: rpc error %d: %s", entity.ErrUpstreamUnavailable, envelope.Error.Code, envelope.Error.Message)
	}
	return json.Unmarshal(envelope.Result, out)
}

// GetMintInfo returns mint state, or nil when the account is missing or not a mint
func (sc *SolanaClient) GetMintInfo(ctx context.Context, address string) (*MintInfo, error) {
	if !IsValidSolanaAddress(address) {
		return nil, errors.New("invalid Solana address")
	}

	var account parsedAccount
	params := []interface{}{address, map[string]string{"encoding": "jsonParsed"}}
	if err := sc.call(ctx, "getAccountInfo", params, &account); err != nil {
		return nil, err
	}

	if account.Value == nil {
		return nil, nil
	}
	parsed := account.Value.Data.Parsed
	if parsed.Type != "mint" || parsed.Info.Decimals == nil {
		return nil, nil
	}

	return &MintInfo{
		Address:  address,
		Program:  account.Value.Data.Program,
		Decimals: *parsed.Info.Decimals,
		Supply:   parsed.Info.Supply,
	}, nil
}

// Name implements MetadataSource
func (sc *SolanaClient) Name() entity.MetadataSourceName {
	return entity.SourceOnChain
}

// FetchMetadata implements MetadataSource. The mint account carries
// authoritative decimals but no symbol, so the symbol is the short address.
func (sc *SolanaClient) FetchMetadata(ctx context.Context, mint string) (*entity.TokenMetadata, error) {
	info, err := sc.GetMintInfo(ctx, mint)
	if err != nil || info == nil {
		return nil, err
	}

	sc.logger.Debug("Resolved mint on-chain",
		zap.String("mint", mint),
		zap.Int("decimals", info.Decimals),
		zap.String("program", info.Program))

	return &entity.TokenMetadata{
		Address:  mint,
		Symbol:   entity.ShortAddress(mint),
		Name:     "Unknown Token",
		Decimals: entity.IntPtr(info.Decimals),
		Source:   entity.SourceOnChain,
	}, nil
}

// IsValidSolanaAddress checks that address is a base58 string of public key length
func IsValidSolanaAddress(address string) bool {
	if len(address) < 32 || len(address) > 44 {
		return false
	}
	for _, char := range address {
		if !bytes.ContainsRune([]byte(base58Alphabet), char) {
			return false
		}
	}
	return true
}
