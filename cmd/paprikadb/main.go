// cmd/paprikadb is a flag-parsed example driver exercising PagedDb and
// MultiHeadChain end to end, reduced from cmd/turdb's interactive SQL
// REPL down to the programmatic operations spec.md §6 names: open,
// begin_next_batch/commit, begin_read_only_batch, and
// open_multi_head_chain.
//
// Usage:
//
//	paprikadb [-db path] [-history-depth N] <command> [args...]
//
// Commands:
//
//	put <account> <value>     commit a single state-key write
//	get <account>             read a state key at the live root
//	finalize-demo             commit a shared multi-head batch, branch it
//	  two ways, finalize one branch and print what each branch sees
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/NethermindEth/Paprika-sub000/pkg/page"
	"github.com/NethermindEth/Paprika-sub000/pkg/pager"
	"github.com/NethermindEth/Paprika-sub000/pkg/paprikadb"
	"github.com/NethermindEth/Paprika-sub000/pkg/root"
)

func main() {
	dbPath := flag.String("db", "", "database file path (empty for an in-memory database)")
	historyDepth := flag.Uint("history-depth", 4, "number of root slots retained for historical reads")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: paprikadb [-db path] [-history-depth N] <put|get|finalize-demo> [args...]")
		os.Exit(2)
	}

	pm, err := pager.Open(*dbPath, uint32(*historyDepth))
	if err != nil {
		fmt.Fprintf(os.Stderr, "open pager: %v\n", err)
		os.Exit(1)
	}
	defer pm.Close()

	db, err := paprikadb.Open(pm, uint32(*historyDepth))
	if err != nil {
		fmt.Fprintf(os.Stderr, "open paprikadb: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	switch args[0] {
	case "put":
		runPut(db, args[1:])
	case "get":
		runGet(db, args[1:])
	case "finalize-demo":
		runFinalizeDemo(db, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		os.Exit(2)
	}
}

func runPut(db *paprikadb.PagedDb, args []string) {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: put <account> <value>")
		os.Exit(2)
	}
	b, err := db.BeginNextBatch()
	if err != nil {
		fmt.Fprintf(os.Stderr, "begin_next_batch: %v\n", err)
		os.Exit(1)
	}
	b.SetRaw(root.StateKey(page.FromBytes([]byte(args[0]))), []byte(args[1]))
	if err := db.Commit(b, pager.FlushDataAndRoot); err != nil {
		fmt.Fprintf(os.Stderr, "commit: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("committed batch %d: %s = %q\n", db.LiveRoot().BatchID(), args[0], args[1])
}

func runGet(db *paprikadb.PagedDb, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: get <account>")
		os.Exit(2)
	}
	reader, release, err := db.BeginReadOnlyBatch(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "begin_read_only_batch: %v\n", err)
		os.Exit(1)
	}
	defer release()

	v, ok := reader.TryGet(root.StateKey(page.FromBytes([]byte(args[0]))))
	if !ok {
		fmt.Printf("%s: (not set)\n", args[0])
		return
	}
	fmt.Printf("%s = %q\n", args[0], v)
}

// runFinalizeDemo commits one shared batch, branches two speculative
// heads on top of it through a MultiHeadChain, writes a different key
// on each branch, finalizes only the first branch, and prints what
// each branch and the live root see — the same scenario
// pkg/multihead's tests assert, run here against a real PagedDb.
func runFinalizeDemo(db *paprikadb.PagedDb, args []string) {
	if len(args) != 0 {
		fmt.Fprintln(os.Stderr, "usage: finalize-demo")
		os.Exit(2)
	}

	b, err := db.BeginNextBatch()
	if err != nil {
		fmt.Fprintf(os.Stderr, "begin_next_batch: %v\n", err)
		os.Exit(1)
	}
	b.SetRaw(root.StateKey(page.FromBytes([]byte("shared"))), []byte("common"))
	if err := db.Commit(b, pager.DangerNoFlush); err != nil {
		fmt.Fprintf(os.Stderr, "commit: %v\n", err)
		os.Exit(1)
	}

	chain := db.OpenMultiHeadChain(0)
	defer chain.Close()

	base, err := chain.OpenHead(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open_head base: %v\n", err)
		os.Exit(1)
	}
	basePB, common, err := base.Commit()
	if err != nil {
		fmt.Fprintf(os.Stderr, "commit base head: %v\n", err)
		os.Exit(1)
	}
	defer common.Dispose()
	sharedHash := basePB.StateHash()

	headA, err := chain.OpenHead(&sharedHash)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open_head A: %v\n", err)
		os.Exit(1)
	}
	headA.SetRaw(root.StateKey(page.FromBytes([]byte("a"))), []byte("va"))
	pbA, nextA, err := headA.Commit()
	if err != nil {
		fmt.Fprintf(os.Stderr, "commit A: %v\n", err)
		os.Exit(1)
	}
	defer nextA.Dispose()

	headB, err := chain.OpenHead(&sharedHash)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open_head B: %v\n", err)
		os.Exit(1)
	}
	headB.SetRaw(root.StateKey(page.FromBytes([]byte("b"))), []byte("vb"))
	pbB, nextB, err := headB.Commit()
	if err != nil {
		fmt.Fprintf(os.Stderr, "commit B: %v\n", err)
		os.Exit(1)
	}
	defer nextB.Dispose()

	readerBState := pbB.StateHash()
	readerB, err := chain.OpenReader(&readerBState)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open_reader B: %v\n", err)
		os.Exit(1)
	}
	defer readerB.Release()

	fmt.Printf("before finalizing A: branch B sees a=%v b=%v\n", tryGetStr(readerB, "a"), tryGetStr(readerB, "b"))

	if err := chain.Finalize(pbA.StateHash()); err != nil {
		fmt.Fprintf(os.Stderr, "finalize A: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("after finalizing A: branch B still sees a=%v b=%v\n", tryGetStr(readerB, "a"), tryGetStr(readerB, "b"))

	reader, release, err := db.BeginReadOnlyBatch(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "begin_read_only_batch: %v\n", err)
		os.Exit(1)
	}
	defer release()
	fmt.Printf("live root after finalize: a=%v b=%v shared=%v\n",
		tryGetStr(reader, "a"), tryGetStr(reader, "b"), tryGetStr(reader, "shared"))
}

type rawGetter interface {
	TryGet(key root.Key) ([]byte, bool)
}

func tryGetStr(g rawGetter, k string) string {
	v, ok := g.TryGet(root.StateKey(page.FromBytes([]byte(k))))
	if !ok {
		return "(unset)"
	}
	return string(v)
}
