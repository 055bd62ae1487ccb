// Package signer signs deployment transactions with the credential of a network
// profile.
package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Bidon15/popdeploy"
)

// TransactionSigner signs transactions for a single account.
type TransactionSigner interface {
	Address() common.Address
	SignTransaction(ctx context.Context, chainID *big.Int, tx *types.Transaction) (*types.Transaction, error)
}

// LocalSigner signs with an in-memory secp256k1 private key.
type LocalSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewLocalSigner creates a new LocalSigner from a hex-encoded private key, with or
// without a "0x" prefix.
func NewLocalSigner(hexKey string) (*LocalSigner, error) {
	hexKey = strings.TrimSpace(hexKey)
	hexKey = strings.TrimPrefix(strings.TrimPrefix(hexKey, "0x"), "0X")

	privateKey, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		// The key itself must never end up in the message
		return nil, fmt.Errorf("parse private key: invalid secp256k1 key (%d hex characters)", len(hexKey))
	}

	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("failed to get public key")
	}

	return &LocalSigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(*publicKey),
	}, nil
}

// FromProfile builds a signer from the first credential of profile.
func FromProfile(profile popdeploy.NetworkProfile) (*LocalSigner, error) {
	credential := profile.SignerCredential()
	if credential == "" {
		return nil, fmt.Errorf("network %s: %w", profile.Name, popdeploy.ErrMissingSignerCredential)
	}
	s, err := NewLocalSigner(credential)
	if err != nil {
		return nil, fmt.Errorf("network %s: %w", profile.Name, err)
	}
	return s, nil
}

// Address returns the signer's Ethereum address.
func (s *LocalSigner) Address() common.Address {
	return s.address
}

// SignTransaction signs a transaction using the local private key.
func (s *LocalSigner) SignTransaction(_ context.Context, chainID *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	signer := types.LatestSignerForChainID(chainID)
	signedTx, err := types.SignTx(tx, signer, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return signedTx, nil
}

// Ensure LocalSigner implements TransactionSigner.
var _ TransactionSigner = (*LocalSigner)(nil)
