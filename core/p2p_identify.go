package core

// Identify is a one-shot push/pull per connection: each side sends its
// descriptor once and stores the peer's. The node advertises exactly the
// stream protocols it actually serves.

// IdentifyProtocolID and agent string follow the libp2p identify
// convention.
const (
	IdentifyProtocolID     = "ipfs/0.1.0"
	IdentifyAgentVersion   = "samasika"
	IdentifyProtoVersion   = "ipfs/0.1.0"
)

// IdentifyInfo is the peer descriptor exchanged on the identify stream.
type IdentifyInfo struct {
	ProtocolVersion string   `json:"protocol_version"`
	AgentVersion    string   `json:"agent_version"`
	PublicKey       []byte   `json:"public_key"`
	ListenAddrs     []string `json:"listen_addrs"`
	Protocols       []string `json:"protocols"`
}

// localIdentify builds our own descriptor from config and listeners.
func localIdentify(cfg *Config, listeners []string) IdentifyInfo {
	return IdentifyInfo{
		ProtocolVersion: IdentifyProtoVersion,
		AgentVersion:    IdentifyAgentVersion,
		PublicKey:       append([]byte(nil), cfg.PublicKey...),
		ListenAddrs:     append([]string(nil), listeners...),
		Protocols:       supportedStreamProtocols(),
	}
}

// supportedStreamProtocols is the advertised protocol set; it must stay in
// step with what the scheduler actually accepts on incoming streams.
func supportedStreamProtocols() []string {
	return []string{
		RpcStreamProtocol,
		KadProtocolID,
		IdentifyProtocolID,
		SignalingProtocolID,
		SnarkChannelProtocol,
		SnarkCommitmentChannelProtocol,
		TransactionChannelProtocol,
		StreamingRpcChannelProtocol,
	}
}

// Stream protocol ids for the per-peer channels.
const (
	RpcStreamProtocol              = "coda/rpcs/0.0.1"
	SnarkChannelProtocol           = "samasika/snark/1.0.0"
	SnarkCommitmentChannelProtocol = "samasika/snark-commitment/1.0.0"
	TransactionChannelProtocol     = "samasika/transaction/1.0.0"
	StreamingRpcChannelProtocol    = "samasika/streaming-rpc/1.0.0"
	SignalingProtocolID            = "samasika/signaling/1.0.0"
)
