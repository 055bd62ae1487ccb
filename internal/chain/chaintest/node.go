// Package chaintest provides an in-process JSON-RPC node for tests.
package chaintest

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Node is a fake EVM node that accepts raw transactions and mines them instantly.
// Contract addresses are derived from sender and nonce as on a real chain.
type Node struct {
	URL string

	server *httptest.Server

	mu         sync.Mutex
	chainID    *big.Int
	balance    *big.Int
	gasPrice   *big.Int
	gasEstim   uint64
	revert     bool
	errors     map[string]string
	nonces     map[common.Address]uint64
	receipts   map[common.Hash]*types.Receipt
	calls      map[string]int
	blockNum   int64
	submitted  []*types.Transaction
	holdMining bool
}

// Option configures a Node.
type Option func(*Node)

// WithBalance sets the balance reported for every account.
func WithBalance(wei *big.Int) Option {
	return func(n *Node) { n.balance = new(big.Int).Set(wei) }
}

// WithGasPrice sets the eth_gasPrice result.
func WithGasPrice(wei *big.Int) Option {
	return func(n *Node) { n.gasPrice = new(big.Int).Set(wei) }
}

// WithGasEstimate sets the eth_estimateGas result.
func WithGasEstimate(gas uint64) Option {
	return func(n *Node) { n.gasEstim = gas }
}

// WithReverts makes every mined transaction fail.
func WithReverts() Option {
	return func(n *Node) { n.revert = true }
}

// WithoutMining keeps submitted transactions pending forever.
func WithoutMining() Option {
	return func(n *Node) { n.holdMining = true }
}

// WithError makes method fail with message.
func WithError(method, message string) Option {
	return func(n *Node) { n.errors[method] = message }
}

// NewNode starts a fake node for chainID. It is closed when the test ends.
func NewNode(t testing.TB, chainID uint64, opts ...Option) *Node {
	t.Helper()

	n := &Node{
		chainID:  new(big.Int).SetUint64(chainID),
		balance:  new(big.Int).Mul(big.NewInt(10000), big.NewInt(1e18)),
		gasPrice: big.NewInt(1_000_000_000),
		gasEstim: 500_000,
		errors:   make(map[string]string),
		nonces:   make(map[common.Address]uint64),
		receipts: make(map[common.Hash]*types.Receipt),
		calls:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(n)
	}

	n.server = httptest.NewServer(http.HandlerFunc(n.serveHTTP))
	n.URL = n.server.URL
	t.Cleanup(n.server.Close)
	return n
}

// Calls returns how often method was called.
func (n *Node) Calls(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

// Submitted returns the transactions received so far.
func (n *Node) Submitted() []*types.Transaction {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*types.Transaction(nil), n.submitted...)
}

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result"`
	Error   *rpcError       `json:"error,omitempty"`
}

func (n *Node) serveHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := n.handle(req)
	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result}
	if err != nil {
		resp.Result = nil
		resp.Error = &rpcError{Code: -32000, Message: err.Error()}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (n *Node) handle(req rpcRequest) (interface{}, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.calls[req.Method]++
	if msg, ok := n.errors[req.Method]; ok {
		return nil, fmt.Errorf("%s", msg)
	}

	switch req.Method {
	case "eth_chainId":
		return (*hexutil.Big)(n.chainID), nil
	case "eth_getBalance":
		return (*hexutil.Big)(n.balance), nil
	case "eth_gasPrice":
		return (*hexutil.Big)(n.gasPrice), nil
	case "eth_estimateGas":
		return hexutil.Uint64(n.gasEstim), nil
	case "eth_getTransactionCount":
		addr, err := n.addressParam(req)
		if err != nil {
			return nil, err
		}
		return hexutil.Uint64(n.nonces[addr]), nil
	case "eth_getCode":
		return hexutil.Bytes{}, nil
	case "eth_sendRawTransaction":
		return n.sendRawTransaction(req)
	case "eth_getTransactionReceipt":
		var hash common.Hash
		if len(req.Params) == 0 {
			return nil, fmt.Errorf("missing transaction hash")
		}
		if err := json.Unmarshal(req.Params[0], &hash); err != nil {
			return nil, err
		}
		receipt, ok := n.receipts[hash]
		if !ok || n.holdMining {
			return nil, nil
		}
		return receipt, nil
	default:
		return nil, fmt.Errorf("the method %s does not exist/is not available", req.Method)
	}
}

func (n *Node) addressParam(req rpcRequest) (common.Address, error) {
	var addr common.Address
	if len(req.Params) == 0 {
		return addr, fmt.Errorf("missing address")
	}
	err := json.Unmarshal(req.Params[0], &addr)
	return addr, err
}

func (n *Node) sendRawTransaction(req rpcRequest) (interface{}, error) {
	var raw hexutil.Bytes
	if len(req.Params) == 0 {
		return nil, fmt.Errorf("missing raw transaction")
	}
	if err := json.Unmarshal(req.Params[0], &raw); err != nil {
		return nil, err
	}

	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("rlp: %w", err)
	}
	if tx.ChainId().Cmp(n.chainID) != 0 {
		return nil, fmt.Errorf("invalid chain id")
	}
	from, err := types.Sender(types.LatestSignerForChainID(n.chainID), tx)
	if err != nil {
		return nil, fmt.Errorf("invalid sender: %w", err)
	}
	if tx.Nonce() != n.nonces[from] {
		return nil, fmt.Errorf("nonce too low")
	}
	n.nonces[from]++
	n.submitted = append(n.submitted, tx)
	n.blockNum++

	receipt := &types.Receipt{
		Type:              tx.Type(),
		Status:            types.ReceiptStatusSuccessful,
		CumulativeGasUsed: tx.Gas() / 2,
		GasUsed:           tx.Gas() / 2,
		EffectiveGasPrice: tx.GasPrice(),
		Logs:              []*types.Log{},
		TxHash:            tx.Hash(),
		BlockHash:         common.BigToHash(big.NewInt(n.blockNum)),
		BlockNumber:       big.NewInt(n.blockNum),
	}
	if tx.To() == nil {
		receipt.ContractAddress = crypto.CreateAddress(from, tx.Nonce())
	}
	if n.revert {
		receipt.Status = types.ReceiptStatusFailed
	}
	n.receipts[tx.Hash()] = receipt

	return tx.Hash(), nil
}

// ClosedURL returns an http URL with path on a port nothing listens on.
func ClosedURL(t testing.TB, path string) string {
	t.Helper()
	server := httptest.NewServer(http.NotFoundHandler())
	u := server.URL
	server.Close()
	return u + path
}
