package core

// The watched-accounts tracker keeps, per account, the initial ledger
// snapshot at the best tip plus a bounded ring of per-block states built
// incrementally from applied blocks that touch the account.

// WatchedAccountStatus is the initial-fetch lifecycle.
type WatchedAccountStatus string

const (
	WatchedAccountIdle    WatchedAccountStatus = "idle"
	WatchedAccountPending WatchedAccountStatus = "pending"
	WatchedAccountSuccess WatchedAccountStatus = "success"
	WatchedAccountError   WatchedAccountStatus = "error"
)

// WatchedBlockStatus is the per-block update chain.
type WatchedBlockStatus string

const (
	WatchedBlockTransactionsInBody WatchedBlockStatus = "transactions_in_block_body"
	WatchedBlockAccountGetPending  WatchedBlockStatus = "ledger_account_get_pending"
	WatchedBlockAccountGetSuccess  WatchedBlockStatus = "ledger_account_get_success"
)

// WatchedAccountBlockState is one applied block touching the account.
type WatchedAccountBlockState struct {
	BlockHash    BlockHash          `json:"block_hash"`
	Status       WatchedBlockStatus `json:"status"`
	Transactions []TransactionInfo  `json:"transactions,omitempty"`
	Account      []byte             `json:"account,omitempty"`
}

// watchedBlockRing bounds the per-account history.
const watchedBlockRing = 32

// WatchedAccount is one tracked account.
type WatchedAccount struct {
	ID            AccountId                  `json:"id"`
	InitStatus    WatchedAccountStatus       `json:"init_status"`
	InitAttemptAt Timestamp                  `json:"init_attempt_at,omitempty"`
	InitError     string                     `json:"init_error,omitempty"`
	Initial       []byte                     `json:"initial,omitempty"`
	Blocks        []WatchedAccountBlockState `json:"blocks,omitempty"`
}

// WatchedAccountsState is the tracker partition.
type WatchedAccountsState struct {
	Accounts map[AccountId]*WatchedAccount `json:"accounts"`
}

func newWatchedAccountsState(cfg *Config) WatchedAccountsState {
	st := WatchedAccountsState{Accounts: make(map[AccountId]*WatchedAccount)}
	for _, id := range cfg.WatchedAccounts {
		st.Accounts[id] = &WatchedAccount{ID: id, InitStatus: WatchedAccountIdle}
	}
	return st
}

// blockState finds the ring entry for a block.
func (w *WatchedAccount) blockState(h BlockHash) *WatchedAccountBlockState {
	for i := range w.Blocks {
		if w.Blocks[i].BlockHash == h {
			return &w.Blocks[i]
		}
	}
	return nil
}

// --- actions ---

// WatchedAccountsAction tags tracker transitions.
type WatchedAccountsAction interface {
	Action
	isWatchedAccountsAction()
}

type watchedTag struct{}

func (watchedTag) isWatchedAccountsAction() {}

const (
	KindWatchedAccountsAdd          ActionKind = "WatchedAccountsAdd"
	KindWatchedAccountsInitFetch    ActionKind = "WatchedAccountsInitFetch"
	KindWatchedAccountsInitSuccess  ActionKind = "WatchedAccountsInitSuccess"
	KindWatchedAccountsInitError    ActionKind = "WatchedAccountsInitError"
	KindWatchedAccountsBlockApplied ActionKind = "WatchedAccountsBlockApplied"
	KindWatchedAccountsBlockAccount ActionKind = "WatchedAccountsBlockAccount"
)

func init() {
	registerAction(KindWatchedAccountsAdd, func() Action { return &WatchedAccountsAdd{} })
	registerAction(KindWatchedAccountsInitFetch, func() Action { return &WatchedAccountsInitFetch{} })
	registerAction(KindWatchedAccountsInitSuccess, func() Action { return &WatchedAccountsInitSuccess{} })
	registerAction(KindWatchedAccountsInitError, func() Action { return &WatchedAccountsInitError{} })
	registerAction(KindWatchedAccountsBlockApplied, func() Action { return &WatchedAccountsBlockApplied{} })
	registerAction(KindWatchedAccountsBlockAccount, func() Action { return &WatchedAccountsBlockAccount{} })
}

// WatchedAccountsAdd starts tracking an account.
type WatchedAccountsAdd struct {
	watchedTag
	ID AccountId `json:"id"`
}

func (*WatchedAccountsAdd) Kind() ActionKind { return KindWatchedAccountsAdd }
func (a *WatchedAccountsAdd) Enabled(s *State, now Timestamp) bool {
	_, exists := s.WatchedAccounts.Accounts[a.ID]
	return !exists
}

// WatchedAccountsInitFetch issues the initial snapshot RPC, with at least
// the configured backoff between attempts.
type WatchedAccountsInitFetch struct {
	watchedTag
	ID AccountId `json:"id"`
}

func (*WatchedAccountsInitFetch) Kind() ActionKind { return KindWatchedAccountsInitFetch }
func (a *WatchedAccountsInitFetch) Enabled(s *State, now Timestamp) bool {
	w, ok := s.WatchedAccounts.Accounts[a.ID]
	if !ok {
		return false
	}
	if len(s.P2p.readyPeers()) == 0 {
		return false
	}
	switch w.InitStatus {
	case WatchedAccountIdle:
		return true
	case WatchedAccountError:
		return now.After(w.InitAttemptAt.Add(s.Config.Timeouts.AccountRetry))
	default:
		return false
	}
}

// WatchedAccountsInitSuccess stores the snapshot.
type WatchedAccountsInitSuccess struct {
	watchedTag
	ID      AccountId `json:"id"`
	Account []byte    `json:"account"`
}

func (*WatchedAccountsInitSuccess) Kind() ActionKind { return KindWatchedAccountsInitSuccess }
func (a *WatchedAccountsInitSuccess) Enabled(s *State, now Timestamp) bool {
	w, ok := s.WatchedAccounts.Accounts[a.ID]
	return ok && w.InitStatus == WatchedAccountPending
}

// WatchedAccountsInitError schedules a retry.
type WatchedAccountsInitError struct {
	watchedTag
	ID    AccountId `json:"id"`
	Error string    `json:"error"`
}

func (*WatchedAccountsInitError) Kind() ActionKind { return KindWatchedAccountsInitError }
func (a *WatchedAccountsInitError) Enabled(s *State, now Timestamp) bool {
	w, ok := s.WatchedAccounts.Accounts[a.ID]
	return ok && w.InitStatus == WatchedAccountPending
}

// WatchedAccountsBlockApplied scans an applied block's commands for
// tracked accounts.
type WatchedAccountsBlockApplied struct {
	watchedTag
	Hash     BlockHash         `json:"hash"`
	Commands []TransactionInfo `json:"commands,omitempty"`
}

func (*WatchedAccountsBlockApplied) Kind() ActionKind                      { return KindWatchedAccountsBlockApplied }
func (a *WatchedAccountsBlockApplied) Enabled(s *State, now Timestamp) bool { return true }

// WatchedAccountsBlockAccount lands the post-block account fetch.
type WatchedAccountsBlockAccount struct {
	watchedTag
	ID      AccountId `json:"id"`
	Hash    BlockHash `json:"hash"`
	Account []byte    `json:"account"`
}

func (*WatchedAccountsBlockAccount) Kind() ActionKind { return KindWatchedAccountsBlockAccount }
func (a *WatchedAccountsBlockAccount) Enabled(s *State, now Timestamp) bool {
	w, ok := s.WatchedAccounts.Accounts[a.ID]
	if !ok {
		return false
	}
	bs := w.blockState(a.Hash)
	return bs != nil && bs.Status == WatchedBlockAccountGetPending
}

func reduceWatchedAccounts(s *State, a WatchedAccountsAction, now Timestamp, emit Emitter) {
	wa := &s.WatchedAccounts
	switch act := a.(type) {

	case *WatchedAccountsAdd:
		wa.Accounts[act.ID] = &WatchedAccount{ID: act.ID, InitStatus: WatchedAccountIdle}
		emit(&WatchedAccountsInitFetch{ID: act.ID})

	case *WatchedAccountsInitFetch:
		w := wa.Accounts[act.ID]
		w.InitStatus = WatchedAccountPending
		w.InitAttemptAt = now
		peers := sortedReadyPeers(s)
		peer := peers[0]
		emit(&P2pRpcQuerySend{Peer: peer, Tag: RpcTagGetAccount, Version: 1, Payload: []byte(act.ID)})

	case *WatchedAccountsInitSuccess:
		w := wa.Accounts[act.ID]
		w.InitStatus = WatchedAccountSuccess
		w.Initial = act.Account
		w.InitError = ""

	case *WatchedAccountsInitError:
		w := wa.Accounts[act.ID]
		w.InitStatus = WatchedAccountError
		w.InitError = act.Error
		w.InitAttemptAt = now

	case *WatchedAccountsBlockApplied:
		for _, id := range sortedWatchedIDs(wa) {
			w := wa.Accounts[id]
			var touched []TransactionInfo
			for _, cmd := range act.Commands {
				for _, acct := range cmd.Accounts {
					if acct == id {
						touched = append(touched, cmd)
						break
					}
				}
			}
			if len(touched) == 0 {
				continue
			}
			w.Blocks = append(w.Blocks, WatchedAccountBlockState{
				BlockHash:    act.Hash,
				Status:       WatchedBlockTransactionsInBody,
				Transactions: touched,
			})
			for len(w.Blocks) > watchedBlockRing {
				w.Blocks = w.Blocks[1:]
			}
			if peers := sortedReadyPeers(s); len(peers) > 0 {
				bs := w.blockState(act.Hash)
				bs.Status = WatchedBlockAccountGetPending
				emit(&P2pRpcQuerySend{Peer: peers[0], Tag: RpcTagGetAccount, Version: 1, Payload: []byte(id)})
			}
		}

	case *WatchedAccountsBlockAccount:
		w := wa.Accounts[act.ID]
		bs := w.blockState(act.Hash)
		bs.Status = WatchedBlockAccountGetSuccess
		bs.Account = act.Account
	}
}

// sortedWatchedIDs fixes tracker iteration order for replay.
func sortedWatchedIDs(wa *WatchedAccountsState) []AccountId {
	out := make([]AccountId, 0, len(wa.Accounts))
	for id := range wa.Accounts {
		out = append(out, id)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
