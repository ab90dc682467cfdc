package config

import (
	"testing"
)

func TestURLMap_Decode(t *testing.T) {
	var m URLMap
	err := m.Decode("ethereum=https://eth.llamarpc.com;https://rpc.ankr.com/eth, starknet=https://starknet-mainnet.public.blastapi.io/rpc/v0_7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := m["ethereum"]; got != "https://eth.llamarpc.com;https://rpc.ankr.com/eth" {
		t.Errorf("unexpected ethereum entry: %q", got)
	}
	if got := m["starknet"]; got != "https://starknet-mainnet.public.blastapi.io/rpc/v0_7" {
		t.Errorf("unexpected starknet entry: %q", got)
	}
}

func TestURLMap_Decode_Invalid(t *testing.T) {
	var m URLMap
	if err := m.Decode("ethereum"); err == nil {
		t.Error("expected error for entry without separator")
	}
}

func TestURLMap_Decode_Empty(t *testing.T) {
	var m URLMap
	if err := m.Decode(""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m) != 0 {
		t.Errorf("expected empty map, got %v", m)
	}
}

func TestChainsConfig_EndpointURLs(t *testing.T) {
	cfg := ChainsConfig{
		Endpoints: URLMap{"ethereum": "http://a; http://b;"},
	}

	urls := cfg.EndpointURLs("ethereum")
	if len(urls) != 2 || urls[0] != "http://a" || urls[1] != "http://b" {
		t.Errorf("unexpected urls: %v", urls)
	}

	if got := cfg.EndpointURLs("base"); got != nil {
		t.Errorf("expected nil for unconfigured chain, got %v", got)
	}
}
