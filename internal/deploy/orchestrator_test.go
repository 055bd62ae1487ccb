package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Bidon15/popdeploy"
	"github.com/Bidon15/popdeploy/internal/artifact"
	"github.com/Bidon15/popdeploy/internal/chain"
	"github.com/Bidon15/popdeploy/internal/chain/chaintest"
	"github.com/Bidon15/popdeploy/internal/compiler"
)

const (
	devKey     = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	devAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	localRPC   = "http://127.0.0.1:8545"
)

const tokenABI = `[{"type":"constructor","inputs":[{"name":"name_","type":"string"},{"name":"symbol_","type":"string"}]}]`

const tokenBytecode = "0x6080604052348015600f57600080fd5b50"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func localProfile() popdeploy.NetworkProfile {
	return popdeploy.NetworkProfile{
		Name:      "hardhat",
		RPCURL:    localRPC,
		Accounts:  []string{devKey},
		ChainID:   31337,
		IsDefault: true,
		Local:     true,
	}
}

func tokenRequest() popdeploy.DeploymentRequest {
	return popdeploy.DeploymentRequest{
		ContractIdentifier: "Token",
		ConstructorArgs:    []string{"Token", "TKN"},
	}
}

func tokenFactory(t *testing.T) *artifact.Factory {
	t.Helper()
	f, err := artifact.NewFactory("Token", []byte(tokenABI), artifact.HexBytecode(tokenBytecode))
	require.NoError(t, err)
	return f
}

type fixture struct {
	compiler    *MockCompiler
	provider    *MockProvider
	dialer      *MockDialer
	client      *MockClient
	transitions [][2]Stage
	orch        *Orchestrator
}

func newFixture(t *testing.T, confirmTimeout time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		compiler: new(MockCompiler),
		provider: new(MockProvider),
		dialer:   new(MockDialer),
		client:   new(MockClient),
	}
	f.orch = New(Config{
		Compiler:          f.compiler,
		Provider:          f.provider,
		Dialer:            f.dialer,
		Logger:            testLogger(),
		ConfirmTimeout:    confirmTimeout,
		ReferenceGasPrice: chain.Gwei(100),
		OnTransition: func(from, to Stage) {
			f.transitions = append(f.transitions, [2]Stage{from, to})
		},
	})
	return f
}

// expectSubmission sets up a node that accepts the transaction with the given nonce.
func (f *fixture) expectSubmission(t *testing.T, nonce uint64) {
	t.Helper()
	f.compiler.On("Compile", mock.Anything).Return(nil)
	f.provider.On("Factory", "Token").Return(tokenFactory(t), nil)
	f.dialer.On("Dial", mock.Anything, localRPC).Return(f.client, nil)
	f.client.On("ChainID", mock.Anything).Return(big.NewInt(31337), nil)
	f.client.On("PendingNonceAt", mock.Anything, common.HexToAddress(devAddress)).Return(nonce, nil)
	f.client.On("SuggestGasPrice", mock.Anything).Return(big.NewInt(2_000_000_000), nil)
	f.client.On("EstimateGas", mock.Anything, mock.Anything).Return(uint64(100_000), nil)
	f.client.On("Close").Return()
}

func successReceipt(nonce uint64) *types.Receipt {
	return &types.Receipt{
		Status:            types.ReceiptStatusSuccessful,
		ContractAddress:   crypto.CreateAddress(common.HexToAddress(devAddress), nonce),
		GasUsed:           90_000,
		EffectiveGasPrice: big.NewInt(2_000_000_000),
		BlockNumber:       big.NewInt(12),
	}
}

func TestOrchestrator_Run_Success(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.expectSubmission(t, 7)

	var sent *types.Transaction
	f.client.On("SendTransaction", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(1).(*types.Transaction) }).
		Return(nil)
	f.client.On("TransactionReceipt", mock.Anything, mock.Anything).Return(successReceipt(7), nil)

	result, err := f.orch.Run(context.Background(), localProfile(), tokenRequest())
	require.NoError(t, err)

	assert.Equal(t, "hardhat", result.Network)
	assert.Equal(t, crypto.CreateAddress(common.HexToAddress(devAddress), 7), result.ContractAddress)
	assert.Equal(t, uint64(12), result.BlockNumber())
	assert.True(t, common.IsHexAddress(result.ContractAddress.Hex()))

	require.NotNil(t, sent)
	assert.Nil(t, sent.To())
	assert.Equal(t, uint64(7), sent.Nonce())
	assert.Equal(t, uint64(120_000), sent.Gas())
	assert.Equal(t, int64(2_000_000_000), sent.GasPrice().Int64())
	assert.Equal(t, sent.Hash(), result.TransactionHash)

	factory := tokenFactory(t)
	wantData, err := factory.DeployData([]string{"Token", "TKN"})
	require.NoError(t, err)
	assert.Equal(t, wantData, sent.Data())

	assert.Equal(t, [][2]Stage{
		{StageInit, StageCompiled},
		{StageCompiled, StageFactoryReady},
		{StageFactoryReady, StageSubmitted},
		{StageSubmitted, StageConfirmed},
	}, f.transitions)

	f.client.AssertNumberOfCalls(t, "SendTransaction", 1)
	f.client.AssertCalled(t, "Close")
}

func TestOrchestrator_Run_IsNotIdempotent(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.compiler.On("Compile", mock.Anything).Return(nil)
	f.provider.On("Factory", "Token").Return(tokenFactory(t), nil)
	f.dialer.On("Dial", mock.Anything, localRPC).Return(f.client, nil)
	f.client.On("ChainID", mock.Anything).Return(big.NewInt(31337), nil)
	f.client.On("PendingNonceAt", mock.Anything, mock.Anything).Return(uint64(0), nil).Once()
	f.client.On("PendingNonceAt", mock.Anything, mock.Anything).Return(uint64(1), nil).Once()
	f.client.On("SuggestGasPrice", mock.Anything).Return(big.NewInt(1), nil)
	f.client.On("EstimateGas", mock.Anything, mock.Anything).Return(uint64(100_000), nil)
	f.client.On("SendTransaction", mock.Anything, mock.Anything).Return(nil)
	f.client.On("TransactionReceipt", mock.Anything, mock.Anything).Return(successReceipt(0), nil).Once()
	f.client.On("TransactionReceipt", mock.Anything, mock.Anything).Return(successReceipt(1), nil).Once()
	f.client.On("Close").Return()

	first, err := f.orch.Run(context.Background(), localProfile(), tokenRequest())
	require.NoError(t, err)
	second, err := f.orch.Run(context.Background(), localProfile(), tokenRequest())
	require.NoError(t, err)

	assert.NotEqual(t, first.ContractAddress, second.ContractAddress)
	assert.NotEqual(t, first.TransactionHash, second.TransactionHash)
	f.client.AssertNumberOfCalls(t, "SendTransaction", 2)
}

func TestOrchestrator_Run_MissingSignerCredential(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.compiler.On("Compile", mock.Anything).Return(nil)
	f.provider.On("Factory", "Token").Return(tokenFactory(t), nil)

	profile := popdeploy.NetworkProfile{
		Name:    "rinkeby",
		RPCURL:  "https://eth-rinkeby.alchemyapi.io/v2/key",
		ChainID: 4,
	}
	result, err := f.orch.Run(context.Background(), profile, tokenRequest())
	require.Error(t, err)
	assert.Nil(t, result)

	assert.ErrorIs(t, err, popdeploy.ErrDeploymentTransaction)
	assert.ErrorIs(t, err, popdeploy.ErrMissingSignerCredential)
	assert.Equal(t, popdeploy.ExitDeploymentTransaction, popdeploy.ExitCode(err))

	f.dialer.AssertNotCalled(t, "Dial", mock.Anything, mock.Anything)
	assert.Equal(t, [2]Stage{StageFactoryReady, StageFailed}, f.transitions[len(f.transitions)-1])
}

func TestOrchestrator_Run_ArtifactNotFound(t *testing.T) {
	tests := []struct {
		name        string
		providerErr error
	}{
		{"typed error", &popdeploy.ArtifactNotFoundError{Contract: "Missing", Searched: []string{"artifacts"}}},
		{"plain error", errors.New("permission denied")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, time.Minute)
			f.compiler.On("Compile", mock.Anything).Return(nil)
			f.provider.On("Factory", "Missing").Return(nil, tt.providerErr)

			req := popdeploy.DeploymentRequest{ContractIdentifier: "Missing", ConstructorArgs: []string{"a", "b"}}
			_, err := f.orch.Run(context.Background(), localProfile(), req)
			require.Error(t, err)
			assert.ErrorIs(t, err, popdeploy.ErrArtifactNotFound)
			assert.Equal(t, popdeploy.ExitArtifactNotFound, popdeploy.ExitCode(err))

			f.dialer.AssertNotCalled(t, "Dial", mock.Anything, mock.Anything)
			assert.Equal(t, [][2]Stage{
				{StageInit, StageCompiled},
				{StageCompiled, StageFailed},
			}, f.transitions)
		})
	}
}

func TestOrchestrator_Run_CompileFailure(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.compiler.On("Compile", mock.Anything).Return(&popdeploy.CompileError{Tool: "solc", Err: errors.New("exit status 1")})

	_, err := f.orch.Run(context.Background(), localProfile(), tokenRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, popdeploy.ErrCompile)

	f.provider.AssertNotCalled(t, "Factory", mock.Anything)
	assert.Equal(t, [][2]Stage{{StageInit, StageFailed}}, f.transitions)
}

func TestOrchestrator_Run_EmptyContractIdentifier(t *testing.T) {
	f := newFixture(t, time.Minute)

	_, err := f.orch.Run(context.Background(), localProfile(), popdeploy.DeploymentRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, popdeploy.ErrConfiguration)
	f.compiler.AssertNotCalled(t, "Compile", mock.Anything)
	assert.Empty(t, f.transitions)
}

func TestOrchestrator_Run_InvalidConstructorArguments(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.compiler.On("Compile", mock.Anything).Return(nil)
	f.provider.On("Factory", "Token").Return(tokenFactory(t), nil)

	req := popdeploy.DeploymentRequest{ContractIdentifier: "Token", ConstructorArgs: []string{"OnlyName"}}
	_, err := f.orch.Run(context.Background(), localProfile(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, popdeploy.ErrDeploymentTransaction)
	assert.Contains(t, err.Error(), "expects 2 arguments")
	f.dialer.AssertNotCalled(t, "Dial", mock.Anything, mock.Anything)
}

func TestOrchestrator_Run_SubmissionFailures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(c *MockClient)
		wantIs  error
		wantMsg string
	}{
		{
			name: "chain id mismatch",
			setup: func(c *MockClient) {
				c.On("ChainID", mock.Anything).Return(big.NewInt(1), nil)
			},
			wantIs: popdeploy.ErrChainIDMismatch,
		},
		{
			name: "node unreachable",
			setup: func(c *MockClient) {
				c.On("ChainID", mock.Anything).Return(nil, errors.New("connection refused"))
			},
			wantMsg: "connection refused",
		},
		{
			name: "gas estimation fails",
			setup: func(c *MockClient) {
				c.On("ChainID", mock.Anything).Return(big.NewInt(31337), nil)
				c.On("PendingNonceAt", mock.Anything, mock.Anything).Return(uint64(0), nil)
				c.On("SuggestGasPrice", mock.Anything).Return(big.NewInt(1), nil)
				c.On("EstimateGas", mock.Anything, mock.Anything).Return(uint64(0), errors.New("execution reverted"))
			},
			wantMsg: "estimate gas",
		},
		{
			name: "node rejects transaction",
			setup: func(c *MockClient) {
				c.On("ChainID", mock.Anything).Return(big.NewInt(31337), nil)
				c.On("PendingNonceAt", mock.Anything, mock.Anything).Return(uint64(0), nil)
				c.On("SuggestGasPrice", mock.Anything).Return(big.NewInt(1), nil)
				c.On("EstimateGas", mock.Anything, mock.Anything).Return(uint64(100_000), nil)
				c.On("SendTransaction", mock.Anything, mock.Anything).Return(errors.New("insufficient funds for gas * price + value"))
			},
			wantMsg: "insufficient funds",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, time.Minute)
			f.compiler.On("Compile", mock.Anything).Return(nil)
			f.provider.On("Factory", "Token").Return(tokenFactory(t), nil)
			f.dialer.On("Dial", mock.Anything, localRPC).Return(f.client, nil)
			f.client.On("Close").Return()
			tt.setup(f.client)

			_, err := f.orch.Run(context.Background(), localProfile(), tokenRequest())
			require.Error(t, err)
			assert.ErrorIs(t, err, popdeploy.ErrDeploymentTransaction)
			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
			}
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
			f.client.AssertCalled(t, "Close")
			f.client.AssertNotCalled(t, "TransactionReceipt", mock.Anything, mock.Anything)
		})
	}
}

func TestOrchestrator_Run_DialFailure(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.compiler.On("Compile", mock.Anything).Return(nil)
	f.provider.On("Factory", "Token").Return(tokenFactory(t), nil)
	f.dialer.On("Dial", mock.Anything, localRPC).Return(nil, errors.New("no known transport"))

	_, err := f.orch.Run(context.Background(), localProfile(), tokenRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, popdeploy.ErrDeploymentTransaction)
}

func TestOrchestrator_Run_ProfileGasOverrides(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.compiler.On("Compile", mock.Anything).Return(nil)
	f.provider.On("Factory", "Token").Return(tokenFactory(t), nil)
	f.dialer.On("Dial", mock.Anything, localRPC).Return(f.client, nil)
	f.client.On("ChainID", mock.Anything).Return(big.NewInt(31337), nil)
	f.client.On("PendingNonceAt", mock.Anything, mock.Anything).Return(uint64(3), nil)
	f.client.On("TransactionReceipt", mock.Anything, mock.Anything).Return(successReceipt(3), nil)
	f.client.On("Close").Return()

	var sent *types.Transaction
	f.client.On("SendTransaction", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(1).(*types.Transaction) }).
		Return(nil)

	profile := localProfile()
	profile.GasPrice = chain.Gwei(30)
	profile.GasLimit = 4_000_000

	_, err := f.orch.Run(context.Background(), profile, tokenRequest())
	require.NoError(t, err)

	require.NotNil(t, sent)
	assert.Equal(t, uint64(4_000_000), sent.Gas())
	assert.Equal(t, chain.Gwei(30).String(), sent.GasPrice().String())
	f.client.AssertNotCalled(t, "SuggestGasPrice", mock.Anything)
	f.client.AssertNotCalled(t, "EstimateGas", mock.Anything, mock.Anything)
}

func TestOrchestrator_Run_ConfirmationFailures(t *testing.T) {
	reverted := successReceipt(0)
	reverted.Status = types.ReceiptStatusFailed

	noAddress := successReceipt(0)
	noAddress.ContractAddress = common.Address{}

	tests := []struct {
		name    string
		receipt *types.Receipt
		err     error
		wantIs  error
	}{
		{"reverted", reverted, nil, popdeploy.ErrDeploymentReverted},
		{"no contract address", noAddress, nil, nil},
		{"never mined", nil, ethereum.NotFound, context.DeadlineExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 50*time.Millisecond)
			f.expectSubmission(t, 0)
			f.client.On("SendTransaction", mock.Anything, mock.Anything).Return(nil)
			f.client.On("TransactionReceipt", mock.Anything, mock.Anything).Return(tt.receipt, tt.err)

			result, err := f.orch.Run(context.Background(), localProfile(), tokenRequest())
			require.Error(t, err)
			assert.Nil(t, result)
			assert.ErrorIs(t, err, popdeploy.ErrConfirmation)
			assert.Equal(t, popdeploy.ExitConfirmation, popdeploy.ExitCode(err))
			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
			}

			var confirmErr *popdeploy.ConfirmationError
			require.ErrorAs(t, err, &confirmErr)
			assert.NotEmpty(t, confirmErr.TxHash)
			assert.Equal(t, [2]Stage{StageSubmitted, StageFailed}, f.transitions[len(f.transitions)-1])
			f.client.AssertCalled(t, "Close")
		})
	}
}

func TestOrchestrator_Run_Cancelled(t *testing.T) {
	f := newFixture(t, 0)
	f.expectSubmission(t, 0)
	f.client.On("SendTransaction", mock.Anything, mock.Anything).Return(nil)
	f.client.On("TransactionReceipt", mock.Anything, mock.Anything).Return(nil, ethereum.NotFound)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.orch.Run(ctx, localProfile(), tokenRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, popdeploy.ErrConfirmation)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOrchestrator_Run_FakeNode(t *testing.T) {
	node := chaintest.NewNode(t, 31337)

	dir := t.TempDir()
	raw, err := json.Marshal(map[string]interface{}{
		"contractName": "Token",
		"abi":          json.RawMessage(tokenABI),
		"bytecode":     tokenBytecode,
	})
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "Token.sol"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Token.sol", "Token.json"), raw, 0o600))

	orch := New(Config{
		Compiler:       compiler.Nop{},
		Provider:       artifact.NewDirProvider(dir),
		Dialer:         chain.NewEthDialer(),
		Logger:         testLogger(),
		ConfirmTimeout: 10 * time.Second,
	})

	profile := localProfile()
	profile.RPCURL = node.URL

	first, err := orch.Run(context.Background(), profile, tokenRequest())
	require.NoError(t, err)
	second, err := orch.Run(context.Background(), profile, tokenRequest())
	require.NoError(t, err)

	sender := common.HexToAddress(devAddress)
	assert.Equal(t, crypto.CreateAddress(sender, 0), first.ContractAddress)
	assert.Equal(t, crypto.CreateAddress(sender, 1), second.ContractAddress)
	assert.Len(t, node.Submitted(), 2)
	assert.Equal(t, uint64(600_000), node.Submitted()[0].Gas())
}

func TestOrchestrator_Run_UnreachableNodeHidesRPCURL(t *testing.T) {
	var logs bytes.Buffer
	provider := new(MockProvider)
	provider.On("Factory", "Token").Return(tokenFactory(t), nil)

	orch := New(Config{
		Compiler: compiler.Nop{},
		Provider: provider,
		Dialer:   chain.NewEthDialer(),
		Logger:   slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
	})

	profile := localProfile()
	profile.Name = "mainnet"
	profile.RPCURL = chaintest.ClosedURL(t, "/v2/alchemy-secret-key")

	_, err := orch.Run(context.Background(), profile, tokenRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, popdeploy.ErrDeploymentTransaction)
	assert.NotContains(t, err.Error(), "alchemy-secret-key")
	assert.Contains(t, logs.String(), "deployment failed")
	assert.NotContains(t, logs.String(), "alchemy-secret-key")
}

func TestOrchestrator_Run_FailureNotLoggedAboveDebug(t *testing.T) {
	var logs bytes.Buffer
	provider := new(MockProvider)
	provider.On("Factory", "Missing").Return(nil, &popdeploy.ArtifactNotFoundError{Contract: "Missing"})

	orch := New(Config{
		Provider: provider,
		Logger:   slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn})),
	})

	_, err := orch.Run(context.Background(), localProfile(), popdeploy.DeploymentRequest{ContractIdentifier: "Missing"})
	require.Error(t, err)
	assert.Empty(t, logs.String())
}

func TestStageIndex(t *testing.T) {
	assert.Equal(t, 0, StageIndex(StageInit))
	assert.Equal(t, 4, StageIndex(StageConfirmed))
	assert.Equal(t, -1, StageIndex(StageFailed))
	assert.True(t, StageFailed.IsTerminal())
	assert.True(t, StageConfirmed.IsTerminal())
	assert.False(t, StageSubmitted.IsTerminal())
}
