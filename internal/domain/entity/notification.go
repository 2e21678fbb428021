package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// SwapEventType is the only notification type the pipeline enriches
const SwapEventType = "SWAP"

// RawTokenTransfer is a token movement inside a notification
type RawTokenTransfer struct {
	FromUserAccount string  `json:"fromUserAccount"`
	ToUserAccount   string  `json:"toUserAccount"`
	Mint            string  `json:"mint"`
	TokenAmount     float64 `json:"tokenAmount"`
}

// RawNativeTransfer is a lamport movement inside a notification
type RawNativeTransfer struct {
	FromUserAccount string `json:"fromUserAccount"`
	ToUserAccount   string `json:"toUserAccount"`
	Amount          int64  `json:"amount"`
}

// RawTokenBalanceChange is a per-account token delta
type RawTokenBalanceChange struct {
	UserAccount    string `json:"userAccount"`
	Mint           string `json:"mint"`
	RawTokenAmount struct {
		TokenAmount string `json:"tokenAmount"`
		Decimals    *int   `json:"decimals"`
	} `json:"rawTokenAmount"`
}

// RawAccountData is the per-account balance delta block
type RawAccountData struct {
	Account             string                  `json:"account"`
	NativeBalanceChange int64                   `json:"nativeBalanceChange"`
	TokenBalanceChanges []RawTokenBalanceChange `json:"tokenBalanceChanges"`
}

// RawNotification is one enhanced-transaction event delivered by the webhook provider
type RawNotification struct {
	Type            string              `json:"type"`
	Source          string              `json:"source"`
	Description     string              `json:"description"`
	Signature       string              `json:"signature"`
	Timestamp       int64               `json:"timestamp"`
	FeePayer        string              `json:"feePayer"`
	AccountData     []RawAccountData    `json:"accountData"`
	TokenTransfers  []RawTokenTransfer  `json:"tokenTransfers"`
	NativeTransfers []RawNativeTransfer `json:"nativeTransfers"`
}

// Validate checks the required shape of a notification
func (n *RawNotification) Validate() error {
	if n.Type == "" {
		return NewValidationError("type", "is required")
	}
	if n.Signature == "" {
		return NewValidationError("signature", "is required")
	}
	if n.Timestamp <= 0 {
		return NewValidationError("timestamp", "is required")
	}
	if n.AccountData == nil {
		return NewValidationError("accountData", "is required")
	}
	return nil
}

// Holder returns the wallet that initiated the transaction
func (n *RawNotification) Holder() string {
	if n.FeePayer != "" {
		return n.FeePayer
	}
	if len(n.AccountData) > 0 {
		return n.AccountData[0].Account
	}
	return ""
}

// EventDrop is the reason a notification did not produce an activity record
type EventDrop string

const (
	DropNotSwap        EventDrop = "not_swap"
	DropDuplicate      EventDrop = "duplicate"
	DropUnparseable    EventDrop = "unparseable"
	DropBelowThreshold EventDrop = "below_threshold"
	DropUnwatched      EventDrop = "unwatched"
	DropFiltered       EventDrop = "filtered"
	DropPersistFailed  EventDrop = "persist_failed"
)

// EventResult is the outcome of processing one notification
type EventResult struct {
	Signature string    `json:"signature"`
	Persisted int       `json:"persisted"`
	Dropped   EventDrop `json:"dropped,omitempty"`
}

// BatchResult is the outcome of processing a notification batch
type BatchResult struct {
	Received  int            `json:"received"`
	Processed int            `json:"processed"`
	Events    []*EventResult `json:"events"`
}

// DecodeNotifications accepts either a single notification object or an array
// of them and validates every element
func DecodeNotifications(data []byte) ([]*RawNotification, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, NewValidationError("body", "is empty")
	}

	var events []*RawNotification
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, NewValidationError("body", "must be a notification or an array of notifications")
		}
	} else {
		var event RawNotification
		if err := json.Unmarshal(trimmed, &event); err != nil {
			return nil, NewValidationError("body", "must be a notification or an array of notifications")
		}
		events = []*RawNotification{&event}
	}

	for i, event := range events {
		if event == nil {
			return nil, NewValidationError(fmt.Sprintf("events[%d]", i), "is null")
		}
		if err := event.Validate(); err != nil {
			return nil, err
		}
	}
	return events, nil
}
