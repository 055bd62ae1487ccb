// Package config resolves the network profile and deployment request for a run.
//
// Everything is read once, at startup, into an immutable Configuration. Components
// downstream receive the Configuration (or values resolved from it) and never read
// the process environment themselves.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Bidon15/popdeploy"
)

// Environment variable names
const (
	EnvAlchemyAPIKey      = "ALCHEMY_API_KEY"
	EnvDeployerPrivateKey = "DEPLOYER_PRIVATE_KEY"
	EnvEtherscanAPIKey    = "ETHERSCAN_API_KEY"
	EnvContractArtifact   = "CONTRACT_ARTIFACT"
	EnvContractName       = "CONTRACT_NAME"
	EnvContractSymbol     = "CONTRACT_SYMBOL"

	// EnvPrefix prefixes every other setting, e.g. POPDEPLOY_CONFIRM_TIMEOUT.
	EnvPrefix = "POPDEPLOY"
)

// DefaultConfigName is the config file searched for in the working directory.
const DefaultConfigName = "popdeploy"

// ContractConfig selects the artifact and where its constructor arguments come from.
type ContractConfig struct {
	Artifact string   `mapstructure:"artifact"`
	ArgsEnv  []string `mapstructure:"args_env"`
}

// SolidityConfig holds compiler settings.
type SolidityConfig struct {
	Version          string `mapstructure:"version"`
	OptimizerEnabled bool   `mapstructure:"optimizer_enabled"`
	OptimizerRuns    int    `mapstructure:"optimizer_runs"`
}

// GasReporterConfig holds gas display preferences.
type GasReporterConfig struct {
	Currency string `mapstructure:"currency"`
	GasPrice int64  `mapstructure:"gas_price"` // gwei
}

// EtherscanConfig is consumed by explorer verification only.
type EtherscanConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// PathsConfig holds source and build output locations.
type PathsConfig struct {
	Sources   string `mapstructure:"sources"`
	Artifacts string `mapstructure:"artifacts"`
}

// CompilerConfig selects the compiler toolchain.
// An empty Command means solc is invoked directly with the Solidity settings.
type CompilerConfig struct {
	Solc    string   `mapstructure:"solc"`
	Command []string `mapstructure:"command"`
}

// fileConfig mirrors the config file layout.
type fileConfig struct {
	Network        string                   `mapstructure:"network"`
	DefaultNetwork string                   `mapstructure:"default_network"`
	Networks       map[string]NetworkConfig `mapstructure:"networks"`
	Contract       ContractConfig           `mapstructure:"contract"`
	Solidity       SolidityConfig           `mapstructure:"solidity"`
	GasReporter    GasReporterConfig        `mapstructure:"gas_reporter"`
	Etherscan      EtherscanConfig          `mapstructure:"etherscan"`
	Paths          PathsConfig              `mapstructure:"paths"`
	Compiler       CompilerConfig           `mapstructure:"compiler"`
	ConfirmTimeout time.Duration            `mapstructure:"confirm_timeout"`
}

// LoadOptions controls where configuration is read from.
type LoadOptions struct {
	// ConfigFile is an explicit config file. When empty, popdeploy.yaml is looked up
	// in WorkDir and its absence is not an error.
	ConfigFile string
	// WorkDir is the project root. Relative paths are resolved against it.
	WorkDir string
	// LookupEnv resolves every environment variable Load reads: setting overrides,
	// ${VAR} templates and constructor arguments. Defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Configuration is the immutable configuration snapshot of one invocation.
type Configuration struct {
	Contract       ContractConfig
	Solidity       SolidityConfig
	GasReporter    GasReporterConfig
	Etherscan      EtherscanConfig
	Paths          PathsConfig
	Compiler       CompilerConfig
	ConfirmTimeout time.Duration
	ConfigFile     string // Config file used, if any

	network        string
	defaultNetwork string
	profiles       map[string]popdeploy.NetworkProfile
	vars           map[string]string
}

// Load reads configuration from the config file, environment variables and defaults.
// Call LoadEnvironment first so that .env values are visible.
func Load(opts LoadOptions) (*Configuration, error) {
	if opts.LookupEnv == nil {
		opts.LookupEnv = os.LookupEnv
	}
	if opts.WorkDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("get working directory: %w", err)
		}
		opts.WorkDir = wd
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.AddConfigPath(opts.WorkDir)
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, popdeploy.WrapConfigurationError("config_file", "failed to read config file", err)
		}
		// Config file not found is OK, we use defaults and env vars
	}

	applyEnv(v, opts.LookupEnv)

	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, popdeploy.WrapConfigurationError("config_file", "failed to unmarshal config", err)
	}

	cfg := &Configuration{
		Contract:       fc.Contract,
		Solidity:       fc.Solidity,
		GasReporter:    fc.GasReporter,
		Etherscan:      fc.Etherscan,
		Paths:          fc.Paths,
		Compiler:       fc.Compiler,
		ConfirmTimeout: fc.ConfirmTimeout,
		ConfigFile:     v.ConfigFileUsed(),
		network:        fc.Network,
		defaultNetwork: fc.DefaultNetwork,
		vars:           make(map[string]string),
	}
	cfg.Paths.Sources = absPath(opts.WorkDir, cfg.Paths.Sources)
	cfg.Paths.Artifacts = absPath(opts.WorkDir, cfg.Paths.Artifacts)

	if cfg.ConfirmTimeout < 0 {
		return nil, popdeploy.NewConfigurationError("confirm_timeout", "must not be negative")
	}

	for _, name := range cfg.Contract.ArgsEnv {
		if val, ok := opts.LookupEnv(name); ok {
			cfg.vars[name] = val
		}
	}

	profiles, err := buildProfiles(fc.Networks, cfg.defaultNetwork, func(name string) string {
		val, _ := opts.LookupEnv(name)
		return val
	})
	if err != nil {
		return nil, err
	}
	cfg.profiles = profiles

	return cfg, nil
}

// envAliases are the unprefixed names used by existing hardhat projects. They take
// precedence over the POPDEPLOY_ names.
var envAliases = map[string][]string{
	"contract.artifact": {EnvContractArtifact},
	"etherscan.api_key": {EnvEtherscanAPIKey},
}

// applyEnv overrides every known setting from the environment. A setting key such as
// confirm_timeout maps to POPDEPLOY_CONFIRM_TIMEOUT. Empty values are ignored.
func applyEnv(v *viper.Viper, lookup func(string) (string, bool)) {
	replacer := strings.NewReplacer(".", "_")
	for _, key := range v.AllKeys() {
		names := append([]string{}, envAliases[key]...)
		names = append(names, EnvPrefix+"_"+strings.ToUpper(replacer.Replace(key)))
		for _, name := range names {
			if val, ok := lookup(name); ok && val != "" {
				v.Set(key, val)
				break
			}
		}
	}
}

// setDefaults configures default values for all settings.
func setDefaults(v *viper.Viper) {
	v.SetDefault("network", "")
	v.SetDefault("default_network", popdeploy.DefaultNetwork)
	v.SetDefault("confirm_timeout", popdeploy.DefaultConfirmTimeout.String())

	// Contract defaults
	v.SetDefault("contract.artifact", popdeploy.DefaultContract)
	v.SetDefault("contract.args_env", []string{EnvContractName, EnvContractSymbol})

	// Solidity defaults
	v.SetDefault("solidity.version", "0.8.4")
	v.SetDefault("solidity.optimizer_enabled", true)
	v.SetDefault("solidity.optimizer_runs", 10000)

	// Gas reporter defaults
	v.SetDefault("gas_reporter.currency", "USD")
	v.SetDefault("gas_reporter.gas_price", 100)

	v.SetDefault("etherscan.api_key", "")

	// Paths defaults (hardhat project layout)
	v.SetDefault("paths.sources", "contracts")
	v.SetDefault("paths.artifacts", "artifacts")

	v.SetDefault("compiler.solc", "solc")
	v.SetDefault("compiler.command", []string{})
}

// Networks returns the declared network names in sorted order.
func (c *Configuration) Networks() []string {
	names := make([]string, 0, len(c.profiles))
	for name := range c.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultNetwork returns the name of the default profile.
func (c *Configuration) DefaultNetwork() string {
	return c.defaultNetwork
}

// ResolveProfile returns the profile named by selector. An empty selector falls back
// to the POPDEPLOY_NETWORK setting and then to the default profile.
func (c *Configuration) ResolveProfile(selector string) (popdeploy.NetworkProfile, error) {
	if selector == "" {
		selector = c.network
	}
	if selector == "" {
		selector = c.defaultNetwork
	}

	profile, ok := c.profiles[selector]
	if !ok {
		return popdeploy.NetworkProfile{}, popdeploy.WrapConfigurationError(
			"network",
			fmt.Sprintf("%q is not declared (available: %s)", selector, strings.Join(c.Networks(), ", ")),
			popdeploy.ErrUnknownNetwork,
		)
	}
	return profile.Clone(), nil
}

// ResolveDeploymentRequest builds the deployment request from the contract settings.
// Each variable listed in contract.args_env must be set and non-empty. Argument
// types are not checked here; the artifact's constructor decides.
func (c *Configuration) ResolveDeploymentRequest() (popdeploy.DeploymentRequest, error) {
	if strings.TrimSpace(c.Contract.Artifact) == "" {
		return popdeploy.DeploymentRequest{}, popdeploy.WrapConfigurationError(
			EnvContractArtifact, "contract artifact is not set", popdeploy.ErrMissingVariable)
	}

	args := make([]string, 0, len(c.Contract.ArgsEnv))
	for _, name := range c.Contract.ArgsEnv {
		val, ok := c.vars[name]
		if !ok || val == "" {
			return popdeploy.DeploymentRequest{}, popdeploy.WrapConfigurationError(
				name, "constructor argument is not set", popdeploy.ErrMissingVariable)
		}
		args = append(args, val)
	}

	return popdeploy.DeploymentRequest{
		ContractIdentifier: c.Contract.Artifact,
		ConstructorArgs:    args,
	}, nil
}

// WithContract returns a copy of the configuration using the given artifact identifier.
func (c *Configuration) WithContract(identifier string) *Configuration {
	cp := *c
	cp.Contract.Artifact = identifier
	return &cp
}

// WithConfirmTimeout returns a copy of the configuration using the given timeout.
func (c *Configuration) WithConfirmTimeout(timeout time.Duration) *Configuration {
	cp := *c
	cp.ConfirmTimeout = timeout
	return &cp
}

func absPath(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
