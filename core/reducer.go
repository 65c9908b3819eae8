package core

// reduce is the single pure transition function. It routes by component
// marker interface; each component reducer matches its own variants
// exhaustively. No ambient time or randomness is read here: now is supplied
// by the dispatcher and randomness arrives as RngDrawResult input actions.
func reduce(s *State, a Action, now Timestamp, emit Emitter) {
	switch act := a.(type) {
	case P2pAction:
		reduceP2p(s, act, now, emit)
	case FrontierAction:
		reduceFrontier(s, act, now, emit)
	case SnarkPoolAction:
		reduceSnarkPool(s, act, now, emit)
	case ProducerAction:
		reduceProducer(s, act, now, emit)
	case LedgerWriteAction:
		reduceLedgerWrite(s, act, now, emit)
	case WatchedAccountsAction:
		reduceWatchedAccounts(s, act, now, emit)
	case RpcAction:
		reduceRpc(s, act, now, emit)
	case RngAction:
		reduceRng(s, act, now, emit)
	default:
		// Unknown component: the closed action set makes this unreachable;
		// the branch leaves state unchanged.
	}
}
