package config

import (
	"os"
	"testing"
	"time"
)

func TestLowerFillsDefaults(t *testing.T) {
	_ = os.Unsetenv("OPENMINA_DISCOVERY_FILTER_ADDR")
	var f File
	cfg, err := f.Lower()
	if err != nil {
		t.Fatalf("lower: %v", err)
	}
	if cfg.ChainID != "samasika-devnet" {
		t.Fatalf("chain id default = %q", cfg.ChainID)
	}
	if cfg.Protocol.SlotDuration != 3*time.Minute {
		t.Fatalf("slot duration default = %s", cfg.Protocol.SlotDuration)
	}
	if cfg.AllowedGlobalSlotDiff != 2 {
		t.Fatalf("slot diff default = %d", cfg.AllowedGlobalSlotDiff)
	}
	if cfg.PeerID == "" {
		t.Fatal("peer id not derived")
	}
	if !cfg.DiscoveryFilterAddrs {
		t.Fatal("discovery filter default should be on")
	}
}

func TestLowerHonorsOverrides(t *testing.T) {
	var f File
	f.Network.ChainID = "mainnet"
	f.Protocol.SlotDurationMS = 1000
	f.Protocol.K = 10
	f.Timeouts.RpcMS = 500
	f.SnarkWorker.Enabled = true
	f.SnarkWorker.Fee = 99
	f.WatchedAccounts = []string{"acct-a"}
	cfg, err := f.Lower()
	if err != nil {
		t.Fatalf("lower: %v", err)
	}
	if cfg.ChainID != "mainnet" || cfg.Protocol.K != 10 {
		t.Fatal("network overrides lost")
	}
	if cfg.Protocol.SlotDuration != time.Second || cfg.Timeouts.Rpc != 500*time.Millisecond {
		t.Fatal("duration overrides lost")
	}
	if !cfg.SnarkWorker.Enabled || cfg.SnarkWorker.Fee != 99 {
		t.Fatal("snark worker overrides lost")
	}
	if len(cfg.WatchedAccounts) != 1 || cfg.WatchedAccounts[0] != "acct-a" {
		t.Fatal("watched accounts lost")
	}
}

func TestDiscoveryFilterEnvToggle(t *testing.T) {
	_ = os.Setenv("OPENMINA_DISCOVERY_FILTER_ADDR", "false")
	defer os.Unsetenv("OPENMINA_DISCOVERY_FILTER_ADDR")
	var f File
	cfg, err := f.Lower()
	if err != nil {
		t.Fatalf("lower: %v", err)
	}
	if cfg.DiscoveryFilterAddrs {
		t.Fatal("env toggle ignored")
	}
}

func TestIdentityIsStablePerSeed(t *testing.T) {
	var a, b File
	a.Network.IdentitySeed = "seed-1"
	b.Network.IdentitySeed = "seed-1"
	ca, _ := a.Lower()
	cb, _ := b.Lower()
	if ca.PeerID != cb.PeerID {
		t.Fatal("peer id unstable for a fixed seed")
	}
	b.Network.IdentitySeed = "seed-2"
	cb2, _ := b.Lower()
	if ca.PeerID == cb2.PeerID {
		t.Fatal("different seeds collided")
	}
}
