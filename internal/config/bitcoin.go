package config

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// Supported network names.
const (
	NetworkMainnet  = "mainnet"
	NetworkTestnet3 = "testnet3"
	NetworkTestnet4 = "testnet4"
	NetworkSignet   = "signet"
	NetworkRegtest  = "regtest"
)

// Notification channel names.
const (
	ChannelEmail    = "email"
	ChannelTelegram = "telegram"
)

var defaultEsploraURLs = map[string]string{
	NetworkMainnet:  "https://mempool.space/api",
	NetworkTestnet3: "https://mempool.space/testnet/api",
	NetworkTestnet4: "https://mempool.space/testnet4/api",
	NetworkSignet:   "https://mempool.space/signet/api",
}

// NetworkParams returns the chain parameters for a network name.
func NetworkParams(network string) (*chaincfg.Params, error) {
	switch network {
	case NetworkMainnet:
		return &chaincfg.MainNetParams, nil
	case NetworkTestnet3, NetworkTestnet4:
		// testnet4 shares the tb bech32 prefix and version bytes with testnet3.
		return &chaincfg.TestNet3Params, nil
	case NetworkSignet:
		return &chaincfg.SigNetParams, nil
	case NetworkRegtest:
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network: %s (supported: mainnet, testnet3, testnet4, signet, regtest)", network)
	}
}

// ValidateAddress checks that address decodes and belongs to network.
func ValidateAddress(address, network string) error {
	params, err := NetworkParams(network)
	if err != nil {
		return err
	}

	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return fmt.Errorf("invalid address %s: %w", address, err)
	}

	if !addr.IsForNet(params) {
		return fmt.Errorf("address %s is not for %s network", address, network)
	}

	return nil
}
