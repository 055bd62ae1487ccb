package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Bidon15/popdeploy"
	"github.com/Bidon15/popdeploy/internal/config"
)

// Version information - set via ldflags during build
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Global flag variables
var (
	networkName string
	envFile     string
	cfgFile     string
	verbose     bool
	jsonOut     bool
)

// rootCmd is the base command for the CLI
var rootCmd *cobra.Command

// versionCmd prints version information
var versionCmd *cobra.Command

func init() {
	rootCmd = &cobra.Command{
		Use:   "popdeploy",
		Short: "popdeploy - compile and deploy a contract to an EVM network",
		Long: `popdeploy compiles the project's contracts, deploys one contract to the
selected network, waits for the transaction to be mined and prints the
contract address.

Configuration (in order of priority):
  1. Command-line flags (--network, --contract, --confirm-timeout)
  2. Environment variables, including those loaded from .env
     ALCHEMY_API_KEY, DEPLOYER_PRIVATE_KEY, CONTRACT_NAME, CONTRACT_SYMBOL,
     CONTRACT_ARTIFACT, POPDEPLOY_NETWORK, POPDEPLOY_CONFIRM_TIMEOUT
  3. Config file (popdeploy.yaml in the project directory)

Exit codes:
  0 deployed, 1 unexpected failure, 2 configuration, 3 compilation,
  4 artifact not found, 5 deployment transaction, 6 confirmation`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  "Print the version, commit hash, and build date of popdeploy",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = cmd.OutOrStdout().Write([]byte("popdeploy " + Version + "\n"))
			if verbose {
				_, _ = cmd.OutOrStdout().Write([]byte("  commit:  " + Commit + "\n"))
				_, _ = cmd.OutOrStdout().Write([]byte("  built:   " + BuildDate + "\n"))
			}
		},
	}

	// Add persistent flags for all commands
	rootCmd.PersistentFlags().StringVarP(&networkName, "network", "n", "", "Network profile to use (or POPDEPLOY_NETWORK env, default hardhat)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", config.DefaultEnvFile, "Secrets file loaded into the environment if present")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default is ./popdeploy.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging on stderr")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(networksCmd)
	rootCmd.AddCommand(preflightCmd)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// run executes the CLI and returns the process exit code.
func run() int {
	if err := Execute(); err != nil {
		printError(rootCmd.ErrOrStderr(), err)
		return popdeploy.ExitCode(err)
	}
	return popdeploy.ExitOK
}

// ExecuteWithArgs runs the root command with the provided arguments (for testing)
func ExecuteWithArgs(args []string) error {
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

// SetOutput sets the output writers for the root command (for testing)
func SetOutput(stdout, stderr io.Writer) {
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
}

// ResetFlags resets all global flags to their defaults (for testing)
func ResetFlags() {
	networkName = ""
	envFile = config.DefaultEnvFile
	cfgFile = ""
	verbose = false
	jsonOut = false
	contractFlag = ""
	skipCompile = false
	confirmTimeoutFlag = ""
	metricsFile = ""
	outputFormat = "table"
}

// runtime is the resolved state shared by the commands of one invocation.
type runtime struct {
	cfg     *config.Configuration
	logger  *slog.Logger
	workDir string
}

// loadRuntime loads the env file and configuration and sets up logging.
func loadRuntime(cmd *cobra.Command) (*runtime, error) {
	logger := newLogger(cmd.ErrOrStderr())

	if err := config.LoadEnvironment(envFile); err != nil {
		return nil, err
	}

	workDir, err := projectDir()
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(config.LoadOptions{
		ConfigFile: cfgFile,
		WorkDir:    workDir,
	})
	if err != nil {
		return nil, err
	}
	if cfg.ConfigFile != "" {
		logger.Debug("loaded config file", slog.String("path", cfg.ConfigFile))
	}

	return &runtime{cfg: cfg, logger: logger, workDir: workDir}, nil
}

// projectDir returns the directory relative paths are resolved against: the
// directory of --config when given, otherwise the working directory.
func projectDir() (string, error) {
	if cfgFile != "" {
		abs, err := filepath.Abs(cfgFile)
		if err != nil {
			return "", popdeploy.WrapConfigurationError("config", "resolve config path", err)
		}
		return filepath.Dir(abs), nil
	}
	return os.Getwd()
}

// newLogger returns a text logger on w tagged with a fresh run id.
func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With(slog.String("run_id", uuid.NewString()))
}
