// Package config loads node configuration from YAML files and environment
// variables and lowers it onto the core's immutable Config.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"samasika-node/core"
	"samasika-node/pkg/utils"
)

// File mirrors the YAML layout under cmd/config.
type File struct {
	Network struct {
		ChainID        string   `mapstructure:"chain_id" json:"chain_id"`
		Name           string   `mapstructure:"name" json:"name"`
		ListenAddrs    []string `mapstructure:"listen_addrs" json:"listen_addrs"`
		LibP2PPort     int      `mapstructure:"libp2p_port" json:"libp2p_port"`
		RPCAddr        string   `mapstructure:"rpc_addr" json:"rpc_addr"`
		InitialPeers   []string `mapstructure:"initial_peers" json:"initial_peers"`
		MaxPeers       int      `mapstructure:"max_peers" json:"max_peers"`
		IdentitySeed   string   `mapstructure:"identity_seed" json:"identity_seed"`
		GenesisFile    string   `mapstructure:"genesis_file" json:"genesis_file"`
		AllowedSlotDiff uint32  `mapstructure:"allowed_global_slot_diff" json:"allowed_global_slot_diff"`
	} `mapstructure:"network" json:"network"`

	Protocol struct {
		K                   uint32 `mapstructure:"k" json:"k"`
		SlotDurationMS      int64  `mapstructure:"slot_duration_ms" json:"slot_duration_ms"`
		SlotsPerEpoch       uint32 `mapstructure:"slots_per_epoch" json:"slots_per_epoch"`
		SlotsPerSubWindow   uint32 `mapstructure:"slots_per_sub_window" json:"slots_per_sub_window"`
		SubWindowsPerWindow uint32 `mapstructure:"sub_windows_per_window" json:"sub_windows_per_window"`
	} `mapstructure:"protocol" json:"protocol"`

	Timeouts struct {
		ConnectMS     int64 `mapstructure:"connect_ms" json:"connect_ms"`
		RpcMS         int64 `mapstructure:"rpc_ms" json:"rpc_ms"`
		KadQueryMS    int64 `mapstructure:"kad_query_ms" json:"kad_query_ms"`
		LedgerQueryMS int64 `mapstructure:"ledger_query_ms" json:"ledger_query_ms"`
		BlockFetchMS  int64 `mapstructure:"block_fetch_ms" json:"block_fetch_ms"`
	} `mapstructure:"timeouts" json:"timeouts"`

	Producer struct {
		Enabled   bool   `mapstructure:"enabled" json:"enabled"`
		PublicKey string `mapstructure:"public_key" json:"public_key"`
	} `mapstructure:"producer" json:"producer"`

	SnarkWorker struct {
		Enabled   bool   `mapstructure:"enabled" json:"enabled"`
		Fee       uint64 `mapstructure:"fee" json:"fee"`
		WorkerBin string `mapstructure:"worker_bin" json:"worker_bin"`
	} `mapstructure:"snark_worker" json:"snark_worker"`

	WatchedAccounts []string `mapstructure:"watched_accounts" json:"watched_accounts"`

	RecordDir string `mapstructure:"record_dir" json:"record_dir"`
	RngSeed   int64  `mapstructure:"rng_seed" json:"rng_seed"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
	} `mapstructure:"logging" json:"logging"`
}

// Load reads the default config plus an optional environment overlay. A
// .env file, when present, seeds the process environment first.
func Load(env string) (*File, error) {
	_ = godotenv.Load()

	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, utils.Wrap(err, "load config")
		}
	}
	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}
	viper.AutomaticEnv()

	var f File
	if err := viper.Unmarshal(&f); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &f, nil
}

// LoadFromEnv loads using the SAMASIKA_ENV overlay name.
func LoadFromEnv() (*File, error) {
	return Load(utils.EnvOrDefault("SAMASIKA_ENV", ""))
}

// Lower converts the file into the core's immutable config, filling
// defaults for everything the file left out.
func (f *File) Lower() (*core.Config, error) {
	cfg := &core.Config{
		ChainID:      f.Network.ChainID,
		NetworkName:  f.Network.Name,
		GenesisFile:  f.Network.GenesisFile,
		ListenAddrs:  f.Network.ListenAddrs,
		LibP2PPort:   f.Network.LibP2PPort,
		RPCAddr:      f.Network.RPCAddr,
		InitialPeers: f.Network.InitialPeers,
		MaxPeers:     f.Network.MaxPeers,
		Protocol:     core.DefaultProtocolConstants(),
		Timeouts:     core.DefaultTimeouts(),
		RngSeed:      f.RngSeed,
		RecordDir:    f.RecordDir,
	}
	if cfg.ChainID == "" {
		cfg.ChainID = "samasika-devnet"
	}
	if cfg.RPCAddr == "" {
		cfg.RPCAddr = "127.0.0.1:3085"
	}
	if cfg.MaxPeers == 0 {
		cfg.MaxPeers = 100
	}
	if f.Protocol.K != 0 {
		cfg.Protocol.K = f.Protocol.K
	}
	if f.Protocol.SlotDurationMS != 0 {
		cfg.Protocol.SlotDuration = time.Duration(f.Protocol.SlotDurationMS) * time.Millisecond
	}
	if f.Protocol.SlotsPerEpoch != 0 {
		cfg.Protocol.SlotsPerEpoch = f.Protocol.SlotsPerEpoch
	}
	if f.Protocol.SlotsPerSubWindow != 0 {
		cfg.Protocol.SlotsPerSubWindow = f.Protocol.SlotsPerSubWindow
	}
	if f.Protocol.SubWindowsPerWindow != 0 {
		cfg.Protocol.SubWindowsPerWindow = f.Protocol.SubWindowsPerWindow
	}
	if f.Timeouts.ConnectMS != 0 {
		cfg.Timeouts.Connect = time.Duration(f.Timeouts.ConnectMS) * time.Millisecond
	}
	if f.Timeouts.RpcMS != 0 {
		cfg.Timeouts.Rpc = time.Duration(f.Timeouts.RpcMS) * time.Millisecond
	}
	if f.Timeouts.KadQueryMS != 0 {
		cfg.Timeouts.KadQuery = time.Duration(f.Timeouts.KadQueryMS) * time.Millisecond
	}
	if f.Timeouts.LedgerQueryMS != 0 {
		cfg.Timeouts.LedgerQuery = time.Duration(f.Timeouts.LedgerQueryMS) * time.Millisecond
	}
	if f.Timeouts.BlockFetchMS != 0 {
		cfg.Timeouts.BlockFetch = time.Duration(f.Timeouts.BlockFetchMS) * time.Millisecond
	}

	cfg.AllowedGlobalSlotDiff = f.Network.AllowedSlotDiff
	if cfg.AllowedGlobalSlotDiff == 0 {
		cfg.AllowedGlobalSlotDiff = 2
	}
	cfg.DiscoveryFilterAddrs = utils.EnvOrDefaultBool("OPENMINA_DISCOVERY_FILTER_ADDR", true)

	seed := f.Network.IdentitySeed
	if seed == "" {
		seed = "samasika-dev-identity"
	}
	pub := core.HashBytes([]byte("identity-pub"), []byte(seed))
	cfg.PublicKey = pub.Bytes()
	peerID, err := core.PeerIDFromPublicKey(cfg.PublicKey)
	if err != nil {
		return nil, utils.Wrap(err, "derive peer id")
	}
	cfg.PeerID = peerID

	cfg.Producer.Enabled = f.Producer.Enabled
	if f.Producer.PublicKey != "" {
		cfg.Producer.PublicKey = []byte(f.Producer.PublicKey)
	} else if f.Producer.Enabled {
		cfg.Producer.PublicKey = cfg.PublicKey
	}
	cfg.SnarkWorker.Enabled = f.SnarkWorker.Enabled
	cfg.SnarkWorker.Fee = core.CurrencyAmount(f.SnarkWorker.Fee)
	cfg.SnarkWorker.WorkerBin = f.SnarkWorker.WorkerBin
	for _, a := range f.WatchedAccounts {
		cfg.WatchedAccounts = append(cfg.WatchedAccounts, core.AccountId(a))
	}
	return cfg, nil
}
