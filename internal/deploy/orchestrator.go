// Package deploy drives a single contract deployment from compilation to a
// confirmed contract address.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-playground/validator/v10"

	"github.com/Bidon15/popdeploy"
	"github.com/Bidon15/popdeploy/internal/artifact"
	"github.com/Bidon15/popdeploy/internal/chain"
	"github.com/Bidon15/popdeploy/internal/compiler"
	"github.com/Bidon15/popdeploy/internal/signer"
)

// SignerFactory creates the signer for a network profile.
type SignerFactory func(profile popdeploy.NetworkProfile) (signer.TransactionSigner, error)

// DefaultSignerFactory signs with the first credential of the profile.
func DefaultSignerFactory(profile popdeploy.NetworkProfile) (signer.TransactionSigner, error) {
	return signer.FromProfile(profile)
}

// Config contains the collaborators of an Orchestrator.
type Config struct {
	Compiler compiler.Compiler
	Provider artifact.Provider
	Dialer   chain.Dialer
	Signer   SignerFactory
	Logger   *slog.Logger

	// ConfirmTimeout bounds the wait for inclusion. Zero waits until ctx is done.
	ConfirmTimeout time.Duration

	// ReferenceGasPrice is used for the cost estimate in the gas report (wei).
	ReferenceGasPrice *big.Int

	// OnTransition is called after every stage transition.
	OnTransition TransitionFunc
}

// Orchestrator deploys one contract per Run. Runs are not deduplicated: every call
// submits a new transaction.
type Orchestrator struct {
	compiler          compiler.Compiler
	provider          artifact.Provider
	dialer            chain.Dialer
	newSigner         SignerFactory
	logger            *slog.Logger
	confirmTimeout    time.Duration
	referenceGasPrice *big.Int
	onTransition      TransitionFunc
	validate          *validator.Validate
}

// New creates a new Orchestrator.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	newSigner := cfg.Signer
	if newSigner == nil {
		newSigner = DefaultSignerFactory
	}
	comp := cfg.Compiler
	if comp == nil {
		comp = compiler.Nop{}
	}

	return &Orchestrator{
		compiler:          comp,
		provider:          cfg.Provider,
		dialer:            cfg.Dialer,
		newSigner:         newSigner,
		logger:            logger,
		confirmTimeout:    cfg.ConfirmTimeout,
		referenceGasPrice: cfg.ReferenceGasPrice,
		onTransition:      cfg.OnTransition,
		validate:          validator.New(),
	}
}

// run holds the state of one deployment.
type run struct {
	o       *Orchestrator
	profile popdeploy.NetworkProfile
	req     popdeploy.DeploymentRequest
	stage   Stage
	logger  *slog.Logger
}

// Run compiles, deploys and confirms the requested contract on the profile's network.
// The returned error is one of the popdeploy error classes.
func (o *Orchestrator) Run(ctx context.Context, profile popdeploy.NetworkProfile, req popdeploy.DeploymentRequest) (*popdeploy.DeploymentResult, error) {
	if err := o.validate.Struct(req); err != nil {
		return nil, popdeploy.WrapConfigurationError("contract", "contract identifier is required", err)
	}

	r := &run{
		o:       o,
		profile: profile,
		req:     req,
		stage:   StageInit,
		logger: o.logger.With(
			slog.String("network", profile.Name),
			slog.String("contract", req.ContractIdentifier),
		),
	}
	r.logger.Info("starting deployment")

	// Init -> Compiled
	if err := o.compiler.Compile(ctx); err != nil {
		if !errors.Is(err, popdeploy.ErrCompile) {
			err = &popdeploy.CompileError{Tool: "compiler", Err: err}
		}
		return nil, r.fail(err)
	}
	r.transition(StageCompiled)

	// Compiled -> FactoryReady
	factory, err := o.provider.Factory(req.ContractIdentifier)
	if err != nil {
		if !errors.Is(err, popdeploy.ErrArtifactNotFound) {
			err = &popdeploy.ArtifactNotFoundError{Contract: req.ContractIdentifier, Err: err}
		}
		return nil, r.fail(err)
	}
	r.logger.Debug("artifact loaded", slog.String("source", factory.Source))
	r.transition(StageFactoryReady)

	// FactoryReady -> Submitted
	sub, err := r.submit(ctx, factory)
	if err != nil {
		return nil, r.fail(err)
	}
	defer sub.client.Close()
	r.transition(StageSubmitted)

	// Submitted -> Confirmed
	receipt, err := r.confirm(ctx, sub)
	if err != nil {
		return nil, r.fail(err)
	}

	result := &popdeploy.DeploymentResult{
		Network:         profile.Name,
		ContractAddress: receipt.ContractAddress,
		TransactionHash: sub.tx.Hash(),
		Receipt:         receipt,
		GasPrice:        sub.tx.GasPrice(),
	}
	r.transition(StageConfirmed)
	r.reportGas(result)

	return result, nil
}

func (r *run) transition(to Stage) {
	from := r.stage
	r.stage = to
	r.logger.Debug("stage transition",
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	)
	if r.o.onTransition != nil {
		r.o.onTransition(from, to)
	}
}

// fail moves the run to Failed. The error itself is reported by the caller.
func (r *run) fail(err error) error {
	r.logger.Debug("deployment failed",
		slog.String("stage", r.stage.String()),
		slog.String("error", err.Error()),
	)
	r.transition(StageFailed)
	return err
}

// submission is a deployment transaction accepted by the node.
type submission struct {
	client   chain.Client
	tx       *types.Transaction
	from     common.Address
	expected common.Address
}

// submit builds, signs and sends the deployment transaction. This is the first
// network I/O of a run.
func (r *run) submit(ctx context.Context, factory *artifact.Factory) (*submission, error) {
	network := r.profile.Name

	data, err := factory.DeployData(r.req.ConstructorArgs)
	if err != nil {
		return nil, popdeploy.WrapTransactionError(network, "encode constructor arguments", err)
	}

	s, err := r.o.newSigner(r.profile)
	if err != nil {
		return nil, popdeploy.WrapTransactionError(network, "load signer", err)
	}

	client, err := r.o.dialer.Dial(ctx, r.profile.RPCURL)
	if err != nil {
		return nil, popdeploy.WrapTransactionError(network, "connect", err)
	}

	tx, err := r.buildAndSend(ctx, client, s, data)
	if err != nil {
		client.Close()
		return nil, popdeploy.WrapTransactionError(network, "submit", err)
	}

	sub := &submission{
		client:   client,
		tx:       tx,
		from:     s.Address(),
		expected: crypto.CreateAddress(s.Address(), tx.Nonce()),
	}
	r.logger.Info("deployment transaction submitted",
		slog.String("tx_hash", tx.Hash().Hex()),
		slog.String("from", sub.from.Hex()),
		slog.Uint64("nonce", tx.Nonce()),
		slog.Uint64("gas_limit", tx.Gas()),
		slog.String("gas_price_gwei", chain.FormatGwei(tx.GasPrice())),
		slog.String("expected_address", sub.expected.Hex()),
	)
	return sub, nil
}

func (r *run) buildAndSend(ctx context.Context, client chain.Client, s signer.TransactionSigner, data []byte) (*types.Transaction, error) {
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("get chain id: %w", err)
	}
	if r.profile.ChainID != 0 && (!chainID.IsUint64() || chainID.Uint64() != r.profile.ChainID) {
		return nil, fmt.Errorf("%w: profile declares %d, node reports %s",
			popdeploy.ErrChainIDMismatch, r.profile.ChainID, chainID)
	}

	nonce, err := client.PendingNonceAt(ctx, s.Address())
	if err != nil {
		return nil, fmt.Errorf("get nonce: %w", err)
	}

	gasPrice := r.profile.GasPrice
	if gasPrice == nil {
		gasPrice, err = client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("get gas price: %w", err)
		}
	}

	gasLimit := r.profile.GasLimit
	if gasLimit == 0 {
		estimated, err := client.EstimateGas(ctx, ethereum.CallMsg{
			From:     s.Address(),
			To:       nil, // Contract creation
			GasPrice: gasPrice,
			Value:    big.NewInt(0),
			Data:     data,
		})
		if err != nil {
			return nil, fmt.Errorf("estimate gas: %w", err)
		}
		// Add 20% buffer to gas limit
		gasLimit = estimated * (100 + popdeploy.GasLimitBufferPercent) / 100
	}

	tx := types.NewContractCreation(
		nonce,
		big.NewInt(0), // Value
		gasLimit,
		gasPrice,
		data,
	)

	signedTx, err := s.SignTransaction(ctx, chainID, tx)
	if err != nil {
		return nil, err
	}

	if err := client.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("send transaction: %w", err)
	}
	return signedTx, nil
}

// confirm waits for the deployment transaction to be mined.
func (r *run) confirm(ctx context.Context, sub *submission) (*types.Receipt, error) {
	confirmationErr := func(err error) error {
		return &popdeploy.ConfirmationError{
			Network: r.profile.Name,
			TxHash:  sub.tx.Hash().Hex(),
			Err:     err,
		}
	}

	waitCtx := ctx
	if r.o.confirmTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, r.o.confirmTimeout)
		defer cancel()
	}

	r.logger.Info("waiting for confirmation", slog.Duration("timeout", r.o.confirmTimeout))

	receipt, err := bind.WaitMined(waitCtx, sub.client, sub.tx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("not mined within %s: %w", r.o.confirmTimeout, err)
		}
		return nil, confirmationErr(err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, confirmationErr(fmt.Errorf("%w in block %v", popdeploy.ErrDeploymentReverted, receipt.BlockNumber))
	}
	if receipt.ContractAddress == (common.Address{}) {
		return nil, confirmationErr(errors.New("receipt has no contract address"))
	}
	if receipt.ContractAddress != sub.expected {
		r.logger.Warn("contract address differs from the address derived from sender and nonce",
			slog.String("expected", sub.expected.Hex()),
			slog.String("actual", receipt.ContractAddress.Hex()),
		)
	}
	return receipt, nil
}

// reportGas logs gas usage and cost of the confirmed deployment.
func (r *run) reportGas(result *popdeploy.DeploymentResult) {
	receipt := result.Receipt

	price := receipt.EffectiveGasPrice
	if price == nil {
		price = result.GasPrice
	}
	gasUsed := new(big.Int).SetUint64(receipt.GasUsed)

	attrs := []any{
		slog.String("address", result.ContractAddress.Hex()),
		slog.Uint64("block", result.BlockNumber()),
		slog.Uint64("gas_used", receipt.GasUsed),
		slog.String("gas_price_gwei", chain.FormatGwei(price)),
	}
	if price != nil {
		attrs = append(attrs, slog.String("cost_eth", chain.FormatEther(new(big.Int).Mul(gasUsed, price))))
	}
	if ref := r.o.referenceGasPrice; ref != nil && ref.Sign() > 0 {
		attrs = append(attrs,
			slog.String("reference_gas_price_gwei", chain.FormatGwei(ref)),
			slog.String("reference_cost_eth", chain.FormatEther(new(big.Int).Mul(gasUsed, ref))),
		)
	}
	r.logger.Info("deployment confirmed", attrs...)
}
