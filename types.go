// Package popdeploy compiles a single smart contract, deploys it to a selected
// EVM network and reports the confirmed contract address.
package popdeploy

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Defaults
const (
	DefaultNetwork        = "hardhat"
	DefaultContract       = "ERC5050"
	DefaultConfirmTimeout = 10 * time.Minute
	GasLimitBufferPercent = 20
)

// NetworkProfile identifies a target chain endpoint and the credential used to sign on it.
// Profiles are built once at startup and never modified.
type NetworkProfile struct {
	Name      string   // Unique key, e.g. "mainnet"
	RPCURL    string   // Expanded RPC endpoint
	Accounts  []string // Signer credentials (hex private keys)
	ChainID   uint64   // Optional: verified against the node when non-zero
	GasPrice  *big.Int // Optional: wei, overrides eth_gasPrice
	GasLimit  uint64   // Optional: overrides eth_estimateGas
	IsDefault bool
	Local     bool // Built-in development network
}

// SignerCredential returns the first configured credential, or "" if none.
func (p NetworkProfile) SignerCredential() string {
	if len(p.Accounts) == 0 {
		return ""
	}
	return p.Accounts[0]
}

// Clone returns a deep copy of the profile.
func (p NetworkProfile) Clone() NetworkProfile {
	cp := p
	cp.Accounts = append([]string(nil), p.Accounts...)
	if p.GasPrice != nil {
		cp.GasPrice = new(big.Int).Set(p.GasPrice)
	}
	return cp
}

// DeploymentRequest holds the parameters for one deployment.
type DeploymentRequest struct {
	ContractIdentifier string   `validate:"required"`
	ConstructorArgs    []string // Types come from the artifact's constructor
}

// DeploymentResult is the outcome of a confirmed deployment.
type DeploymentResult struct {
	Network         string
	ContractAddress common.Address
	TransactionHash common.Hash
	Receipt         *types.Receipt
	GasPrice        *big.Int
}

// BlockNumber returns the inclusion block, or 0 when no receipt is attached.
func (r *DeploymentResult) BlockNumber() uint64 {
	if r.Receipt == nil || r.Receipt.BlockNumber == nil {
		return 0
	}
	return r.Receipt.BlockNumber.Uint64()
}
