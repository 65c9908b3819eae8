package core

import (
	"testing"
)

func TestWatchedAccountInitFetchAndRetryBackoff(t *testing.T) {
	store, state, clock, log := testStore(nil)
	readyPeer(state, "peer-w", "10.2.0.1:8302")

	store.Dispatch(&WatchedAccountsAdd{ID: "acct-1"})
	w := state.WatchedAccounts.Accounts["acct-1"]
	if w == nil || w.InitStatus != WatchedAccountPending {
		t.Fatalf("init status = %v", w)
	}
	if log.count(KindP2pEffectOutgoingData) == 0 {
		t.Fatal("initial fetch never reached the wire")
	}

	store.Dispatch(&WatchedAccountsInitError{ID: "acct-1", Error: "peer lacks data"})
	if w.InitStatus != WatchedAccountError {
		t.Fatal("error not recorded")
	}
	// Retry is gated by the backoff.
	if store.Dispatch(&WatchedAccountsInitFetch{ID: "acct-1"}) {
		t.Fatal("retry fired inside the backoff window")
	}
	clock.advance(state.Config.Timeouts.AccountRetry + 1)
	if !store.Dispatch(&WatchedAccountsInitFetch{ID: "acct-1"}) {
		t.Fatal("retry rejected after the backoff")
	}

	store.Dispatch(&WatchedAccountsInitSuccess{ID: "acct-1", Account: []byte("snapshot")})
	if w.InitStatus != WatchedAccountSuccess || string(w.Initial) != "snapshot" {
		t.Fatalf("snapshot not stored: %+v", w)
	}
}

func TestWatchedAccountBlockUpdateChain(t *testing.T) {
	store, state, _, _ := testStore(nil)
	readyPeer(state, "peer-w", "10.2.0.2:8302")
	store.Dispatch(&WatchedAccountsAdd{ID: "acct-1"})

	blockHash := HashBytes([]byte("block"))
	touching := TransactionInfo{ID: "tx", Accounts: []AccountId{"acct-1"}}
	other := TransactionInfo{ID: "tx2", Accounts: []AccountId{"someone-else"}}
	store.Dispatch(&WatchedAccountsBlockApplied{Hash: blockHash, Commands: []TransactionInfo{touching, other}})

	w := state.WatchedAccounts.Accounts["acct-1"]
	bs := w.blockState(blockHash)
	if bs == nil {
		t.Fatal("touching block not tracked")
	}
	if bs.Status != WatchedBlockAccountGetPending {
		t.Fatalf("block status = %s, want account get pending", bs.Status)
	}
	if len(bs.Transactions) != 1 || bs.Transactions[0].ID != "tx" {
		t.Fatalf("tracked transactions = %+v", bs.Transactions)
	}

	store.Dispatch(&WatchedAccountsBlockAccount{ID: "acct-1", Hash: blockHash, Account: []byte("post")})
	if bs.Status != WatchedBlockAccountGetSuccess || string(bs.Account) != "post" {
		t.Fatalf("post-block account not stored: %+v", bs)
	}
}

func TestWatchedAccountUntouchedBlockIgnored(t *testing.T) {
	store, state, _, _ := testStore(nil)
	store.Dispatch(&WatchedAccountsAdd{ID: "acct-1"})
	blockHash := HashBytes([]byte("block"))
	store.Dispatch(&WatchedAccountsBlockApplied{Hash: blockHash, Commands: []TransactionInfo{{ID: "x", Accounts: []AccountId{"other"}}}})
	w := state.WatchedAccounts.Accounts["acct-1"]
	if len(w.Blocks) != 0 {
		t.Fatal("untouched block tracked")
	}
}

func TestWatchedAccountRingBounded(t *testing.T) {
	store, state, _, _ := testStore(nil)
	readyPeer(state, "peer-w", "10.2.0.3:8302")
	store.Dispatch(&WatchedAccountsAdd{ID: "acct-1"})
	for i := 0; i < watchedBlockRing+10; i++ {
		h := HashBytes([]byte{byte(i)})
		store.Dispatch(&WatchedAccountsBlockApplied{Hash: h, Commands: []TransactionInfo{{ID: "t", Accounts: []AccountId{"acct-1"}}}})
	}
	w := state.WatchedAccounts.Accounts["acct-1"]
	if len(w.Blocks) != watchedBlockRing {
		t.Fatalf("ring length = %d, want %d", len(w.Blocks), watchedBlockRing)
	}
}
