package btcproof

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// ParamsForNetwork maps a configured network name to its chain parameters.
func ParamsForNetwork(network string) (*chaincfg.Params, error) {
	switch network {
	case "mainnet", "":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown bitcoin network: %s", network)
	}
}

// AddressValidator checks that redeem destinations are addresses on one network.
type AddressValidator struct {
	params *chaincfg.Params
}

// NewAddressValidator creates a validator for network.
func NewAddressValidator(network string) (*AddressValidator, error) {
	params, err := ParamsForNetwork(network)
	if err != nil {
		return nil, err
	}
	return &AddressValidator{params: params}, nil
}

// ValidateDestination returns an error unless addr decodes as an address for
// the validator's network.
func (v *AddressValidator) ValidateDestination(addr string) error {
	decoded, err := btcutil.DecodeAddress(addr, v.params)
	if err != nil {
		return fmt.Errorf("invalid %s address: %w", v.params.Name, err)
	}
	if !decoded.IsForNet(v.params) {
		return fmt.Errorf("address is not for %s", v.params.Name)
	}
	return nil
}
