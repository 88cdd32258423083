package root

import "github.com/NethermindEth/Paprika-sub000/pkg/page"

// Key is either a state-trie key or a per-contract storage key. A
// storage key names the account the slot belongs to separately from
// the slot's own path, since the two are routed through different
// trie structures (see Set/TryGet).
type Key struct {
	AccountPath page.NibblePath
	StoragePath page.NibblePath
	IsStorage   bool
}

// StateKey builds a key routed to the state (accounts) trie.
func StateKey(path page.NibblePath) Key {
	return Key{AccountPath: path}
}

// StorageKey builds a key routed to a specific account's storage,
// identified by accountPath, at the given slot path.
func StorageKey(accountPath, storagePath page.NibblePath) Key {
	return Key{AccountPath: accountPath, StoragePath: storagePath, IsStorage: true}
}
