// Package chain connects to EVM JSON-RPC endpoints.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client is the subset of the JSON-RPC API used to deploy and confirm a contract.
// It satisfies bind.DeployBackend so it can be passed to bind.WaitMined.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error)
	Close()
}

// Dialer creates clients from RPC URLs.
type Dialer interface {
	Dial(ctx context.Context, rpcURL string) (Client, error)
}

// EthDialer creates clients using go-ethereum's ethclient.
type EthDialer struct{}

// ethClientWrapper wraps ethclient.Client to implement Client. Errors are passed
// through redactError so the RPC URL never leaves the package unredacted.
type ethClientWrapper struct {
	client *ethclient.Client
	rpcURL string
}

// NewEthDialer creates a new EthDialer.
func NewEthDialer() *EthDialer {
	return &EthDialer{}
}

// Dial connects to an Ethereum RPC endpoint. HTTP endpoints are not contacted
// until the first call.
func (d *EthDialer) Dial(ctx context.Context, rpcURL string) (Client, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("dial: empty rpc url")
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", RedactURL(rpcURL), redactError(err, rpcURL))
	}
	return &ethClientWrapper{client: client, rpcURL: rpcURL}, nil
}

func (w *ethClientWrapper) ChainID(ctx context.Context) (*big.Int, error) {
	id, err := w.client.ChainID(ctx)
	return id, redactError(err, w.rpcURL)
}

func (w *ethClientWrapper) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	balance, err := w.client.BalanceAt(ctx, account, blockNumber)
	return balance, redactError(err, w.rpcURL)
}

func (w *ethClientWrapper) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	nonce, err := w.client.PendingNonceAt(ctx, account)
	return nonce, redactError(err, w.rpcURL)
}

func (w *ethClientWrapper) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	price, err := w.client.SuggestGasPrice(ctx)
	return price, redactError(err, w.rpcURL)
}

func (w *ethClientWrapper) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	gas, err := w.client.EstimateGas(ctx, msg)
	return gas, redactError(err, w.rpcURL)
}

func (w *ethClientWrapper) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return redactError(w.client.SendTransaction(ctx, tx), w.rpcURL)
}

func (w *ethClientWrapper) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	receipt, err := w.client.TransactionReceipt(ctx, txHash)
	return receipt, redactError(err, w.rpcURL)
}

func (w *ethClientWrapper) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	code, err := w.client.CodeAt(ctx, contract, blockNumber)
	return code, redactError(err, w.rpcURL)
}

func (w *ethClientWrapper) Close() {
	w.client.Close()
}

// redactedError hides the RPC URL in the message of a client error. Unwrap keeps
// errors.Is working for ethereum.NotFound and context errors.
type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }

func (e *redactedError) Unwrap() error { return e.err }

// redactError replaces rpcURL, and the URL of any *url.Error in the chain, with
// RedactURL(rpcURL). nil stays nil.
func redactError(err error, rpcURL string) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	safe := RedactURL(rpcURL)
	if rpcURL != "" {
		msg = strings.ReplaceAll(msg, rpcURL, safe)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.URL != "" {
		msg = strings.ReplaceAll(msg, urlErr.URL, safe)
	}
	if msg == err.Error() {
		return err
	}
	return &redactedError{msg: msg, err: err}
}
