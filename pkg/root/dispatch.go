package root

import (
	"github.com/NethermindEth/Paprika-sub000/pkg/page"
	"github.com/NethermindEth/Paprika-sub000/pkg/trie"
)

// Set writes key/value through r, routing state keys to the accounts
// trie and storage keys through the id map and storage fan-out. An
// empty value deletes. r must already be writable (the caller COWs
// the root page itself, same as any other page a batch touches).
func Set(src trie.PageSource, r RootPage, key Key, value []byte) {
	if !key.IsStorage {
		r.SetStateRoot(setStateTrie(src, r.StateRoot(), key.AccountPath, value))
		return
	}

	idsRoot, counter, id := resolveOrAllocateID(src, r, key.AccountPath)
	r.SetIDsRoot(idsRoot)
	r.SetAccountCounter(counter)

	r.SetStorageRoot(trie.SetStorageFanOut(src, r.StorageRoot(), id, key.StoragePath, value))
}

// TryGet looks up key through r, following the same routing as Set.
func TryGet(src trie.PageSource, r RootPage, key Key) ([]byte, bool) {
	if !key.IsStorage {
		return getStateTrie(src, r.StateRoot(), key.AccountPath)
	}

	id, ok := trie.TryGetIDsFanOut(src, r.IDsRoot(), key.AccountPath)
	if !ok {
		return nil, false
	}
	return trie.TryGetStorageFanOut(src, r.StorageRoot(), id, key.StoragePath)
}

// resolveOrAllocateID resolves accountPath to its dense id, allocating
// one on first use. It always touches the id fan-out (even on a pure
// storage read's write path) because an id must exist before any
// storage slot under it can be addressed.
func resolveOrAllocateID(src trie.PageSource, r RootPage, accountPath page.NibblePath) (idsRoot page.Address, accountCounter, id uint32) {
	return trie.SetIDsFanOut(src, r.IDsRoot(), r.AccountCounter(), accountPath)
}

// setStateTrie writes into the accounts trie, rooted by a BottomPage
// that is promoted to a DataPage in place once it outgrows a compact
// local map — the same "delay promotion" path used for per-account
// storage tries (see trie.SetStorageFanOut), since a freshly-opened
// database has exactly as few accounts as a freshly-touched contract
// has storage slots.
func setStateTrie(src trie.PageSource, root page.Address, key page.NibblePath, value []byte) page.Address {
	if root.IsNull() {
		if len(value) == 0 {
			return root
		}
		p, addr := src.GetNewPage(true)
		trie.InitBottomPage(p, src.BatchID())
		root = addr
	}
	return trie.Set(src, root, key, value)
}

func getStateTrie(src trie.PageSource, root page.Address, key page.NibblePath) ([]byte, bool) {
	if root.IsNull() {
		return nil, false
	}
	return trie.TryGet(src, root, key)
}
