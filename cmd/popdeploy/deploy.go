package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Bidon15/popdeploy"
	"github.com/Bidon15/popdeploy/internal/artifact"
	"github.com/Bidon15/popdeploy/internal/chain"
	"github.com/Bidon15/popdeploy/internal/compiler"
	"github.com/Bidon15/popdeploy/internal/deploy"
	"github.com/Bidon15/popdeploy/internal/metrics"
)

var (
	contractFlag       string
	skipCompile        bool
	confirmTimeoutFlag string
	metricsFile        string
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Compile and deploy the contract",
	Long: `Compile the project, deploy the configured contract to the selected network
and wait for the deployment transaction to be mined.

The contract address is printed on stdout. Constructor arguments are read from
the environment variables listed in contract.args_env (CONTRACT_NAME and
CONTRACT_SYMBOL by default).

Examples:
  # Deploy to the local development node
  popdeploy deploy

  # Deploy to rinkeby using keys from .env
  popdeploy deploy --network rinkeby

  # Deploy an already compiled artifact and wait at most 2 minutes
  popdeploy deploy --skip-compile --confirm-timeout 2m`,
	Args: cobra.NoArgs,
	RunE: runDeploy,
}

func init() {
	deployCmd.Flags().StringVar(&contractFlag, "contract", "", "Contract to deploy (artifact name or path:Name)")
	deployCmd.Flags().BoolVar(&skipCompile, "skip-compile", false, "Use existing artifacts without compiling")
	deployCmd.Flags().StringVar(&confirmTimeoutFlag, "confirm-timeout", "", "Maximum wait for the transaction to be mined, 0 waits forever (default from config, 10m)")
	deployCmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics of the run to this file")
}

// deployOutput is the JSON form of a confirmed deployment.
type deployOutput struct {
	Network         string `json:"network"`
	ContractAddress string `json:"contract_address"`
	TransactionHash string `json:"transaction_hash"`
	BlockNumber     uint64 `json:"block_number"`
	GasUsed         uint64 `json:"gas_used"`
	GasPriceGwei    string `json:"gas_price_gwei,omitempty"`
}

func runDeploy(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime(cmd)
	if err != nil {
		return err
	}

	cfg := rt.cfg
	if contractFlag != "" {
		cfg = cfg.WithContract(contractFlag)
	}
	if confirmTimeoutFlag != "" {
		timeout, err := time.ParseDuration(confirmTimeoutFlag)
		if err != nil {
			return popdeploy.WrapConfigurationError("confirm_timeout", "invalid duration", err)
		}
		if timeout < 0 {
			return popdeploy.NewConfigurationError("confirm_timeout", "must not be negative")
		}
		cfg = cfg.WithConfirmTimeout(timeout)
	}

	// Profile and request must resolve before the compiler runs.
	profile, err := cfg.ResolveProfile(networkName)
	if err != nil {
		return err
	}
	req, err := cfg.ResolveDeploymentRequest()
	if err != nil {
		return err
	}

	logger := rt.logger
	var comp compiler.Compiler = compiler.Nop{}
	if !skipCompile {
		comp = compiler.New(cfg, rt.workDir, logger)
	}

	orchCfg := deploy.Config{
		Compiler:          comp,
		Provider:          artifact.NewDirProvider(cfg.Paths.Artifacts),
		Dialer:            chain.NewEthDialer(),
		Logger:            logger,
		ConfirmTimeout:    cfg.ConfirmTimeout,
		ReferenceGasPrice: chain.Gwei(cfg.GasReporter.GasPrice),
	}

	var rec *metrics.Recorder
	if metricsFile != "" {
		rec = metrics.NewRecorder(profile.Name, req.ContractIdentifier)
		orchCfg.OnTransition = rec.Transition
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := deploy.New(orchCfg).Run(ctx, profile, req)

	if rec != nil {
		rec.Finish(result, err)
		if werr := rec.WriteFile(metricsFile); werr != nil {
			logger.Warn("failed to write metrics file",
				slog.String("path", metricsFile),
				slog.String("error", werr.Error()),
			)
		}
	}
	if err != nil {
		return err
	}

	return printDeployment(cmd.OutOrStdout(), result)
}

func printDeployment(w io.Writer, result *popdeploy.DeploymentResult) error {
	if !jsonOut {
		_, err := fmt.Fprintf(w, "Deployed to address: %s\n", result.ContractAddress.Hex())
		return err
	}

	out := deployOutput{
		Network:         result.Network,
		ContractAddress: result.ContractAddress.Hex(),
		TransactionHash: result.TransactionHash.Hex(),
		BlockNumber:     result.BlockNumber(),
	}
	if result.Receipt != nil {
		out.GasUsed = result.Receipt.GasUsed
	}
	if result.GasPrice != nil {
		out.GasPriceGwei = chain.FormatGwei(result.GasPrice)
	}
	return json.NewEncoder(w).Encode(out)
}
