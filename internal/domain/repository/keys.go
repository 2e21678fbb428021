package repository

import "strings"

// Partition and sort key prefixes of the watcher table
const (
	userPartitionPrefix   = "USER#"
	walletPartitionPrefix = "WALLET#"
	watcherPrefix         = "WATCHER#"
	activityPrefix        = "ACTIVITY#"
	summaryPrefix         = "SUMMARY#"
	balancePrefix         = "BALANCE#"
	summarySuffix         = "TOTALS"
	strategyPrefix        = "STRATEGY#"
)

// UserPartition returns the partition key of a user's records
func UserPartition(userID string) string {
	return userPartitionPrefix + userID
}

// WalletPartition returns the partition key of the wallet index
func WalletPartition(wallet string) string {
	return walletPartitionPrefix + wallet
}

// WatcherKey addresses a watcher record
func WatcherKey(userID, wallet, serializedFilters string) Key {
	return Key{PK: UserPartition(userID), SK: WatcherPrefix(wallet) + serializedFilters}
}

// WatcherPrefix is the sort key prefix of every watcher on a wallet
func WatcherPrefix(wallet string) string {
	return watcherPrefix + wallet + "#"
}

// WatcherIndexKey addresses the wallet-to-watcher index entry
func WatcherIndexKey(userID, wallet, serializedFilters string) Key {
	return Key{PK: WalletPartition(wallet), SK: watcherPrefix + userID + "#" + serializedFilters}
}

// AnyWatcherPrefix is the sort key prefix shared by watcher records in a user
// partition and index entries in a wallet partition
func AnyWatcherPrefix() string {
	return watcherPrefix
}

// ActivityKey addresses one activity record of a watcher
func ActivityKey(userID, wallet, serializedFilters, signature string) Key {
	return Key{PK: UserPartition(userID), SK: ActivityPrefix(wallet, serializedFilters) + signature}
}

// ActivityPrefix is the sort key prefix of every activity record of a watcher
func ActivityPrefix(wallet, serializedFilters string) string {
	return activityPrefix + wallet + "#" + serializedFilters + "#"
}

// SummaryKey addresses the summary record of a watcher
func SummaryKey(userID, wallet, serializedFilters string) Key {
	return Key{PK: UserPartition(userID), SK: SummaryPrefix(wallet, serializedFilters) + summarySuffix}
}

// SummaryPrefix is the sort key prefix of every summary record of a watcher
func SummaryPrefix(wallet, serializedFilters string) string {
	return summaryPrefix + wallet + "#" + serializedFilters + "#"
}

// BalancePrefix is the sort key prefix of a wallet's balance snapshots,
// stored in the wallet partition
func BalancePrefix() string {
	return balancePrefix
}

// BalanceKey addresses one balance snapshot. The RFC3339 timestamp keeps
// snapshots ordered by sort key.
func BalanceKey(wallet, capturedAt string) Key {
	return Key{PK: WalletPartition(wallet), SK: balancePrefix + capturedAt}
}

// StrategyKey addresses a strategy record
func StrategyKey(wallet, id string) Key {
	return Key{PK: wallet, SK: strategyPrefix + id}
}

// StrategyPrefix is the sort key prefix of every strategy record
func StrategyPrefix() string {
	return strategyPrefix
}

// SerializedFiltersFromWatcherSK extracts the filter segment of a watcher sort key
func SerializedFiltersFromWatcherSK(wallet, sk string) string {
	return strings.TrimPrefix(sk, WatcherPrefix(wallet))
}
