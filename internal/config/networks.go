package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Bidon15/popdeploy"
)

// Built-in network names.
const (
	NetworkHardhat = "hardhat"
	NetworkRinkeby = "rinkeby"
	NetworkMainnet = "mainnet"
)

// DevAccountKey is the first well-known development account of hardhat and anvil.
// It holds test ether on a freshly started local node and nothing anywhere else.
const DevAccountKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

// NetworkConfig is a network entry of the config file. Fields that are set override
// the built-in profile of the same name.
type NetworkConfig struct {
	URL      string   `mapstructure:"url" yaml:"url" json:"url"`
	Accounts []string `mapstructure:"accounts" yaml:"accounts,omitempty" json:"accounts,omitempty"`
	ChainID  uint64   `mapstructure:"chain_id" yaml:"chain_id,omitempty" json:"chain_id,omitempty"`
	GasPrice uint64   `mapstructure:"gas_price" yaml:"gas_price,omitempty" json:"gas_price,omitempty"` // wei
	GasLimit uint64   `mapstructure:"gas_limit" yaml:"gas_limit,omitempty" json:"gas_limit,omitempty"`
}

// expandedNetwork is validated after templates are expanded.
type expandedNetwork struct {
	Name     string `validate:"required,hostname_rfc1123"`
	URL      string `validate:"required,url"`
	Accounts []string
}

var validate = validator.New()

// builtinNetworks mirrors the networks of the hardhat project this tool replaces.
func builtinNetworks() map[string]NetworkConfig {
	return map[string]NetworkConfig{
		NetworkHardhat: {
			URL:      "http://127.0.0.1:8545",
			Accounts: []string{DevAccountKey},
			ChainID:  31337,
		},
		NetworkRinkeby: {
			URL:      "https://eth-rinkeby.alchemyapi.io/v2/${" + EnvAlchemyAPIKey + "}",
			Accounts: []string{"${" + EnvDeployerPrivateKey + "}"},
			ChainID:  4,
		},
		NetworkMainnet: {
			URL:      "https://eth-mainnet.alchemyapi.io/v2/${" + EnvAlchemyAPIKey + "}",
			Accounts: []string{"${" + EnvDeployerPrivateKey + "}"},
			ChainID:  1,
		},
	}
}

// mergeNetwork applies the fields set in override on top of base.
func mergeNetwork(base, override NetworkConfig) NetworkConfig {
	if override.URL != "" {
		base.URL = override.URL
	}
	if len(override.Accounts) > 0 {
		base.Accounts = override.Accounts
	}
	if override.ChainID != 0 {
		base.ChainID = override.ChainID
	}
	if override.GasPrice != 0 {
		base.GasPrice = override.GasPrice
	}
	if override.GasLimit != 0 {
		base.GasLimit = override.GasLimit
	}
	return base
}

// buildProfiles merges the config file networks into the built-in ones, expands
// ${VAR} templates with getenv and validates the result.
func buildProfiles(declared map[string]NetworkConfig, defaultNetwork string, getenv func(string) string) (map[string]popdeploy.NetworkProfile, error) {
	networks := builtinNetworks()
	for name, nc := range declared {
		networks[name] = mergeNetwork(networks[name], nc)
	}

	names := make([]string, 0, len(networks))
	for name := range networks {
		names = append(names, name)
	}
	sort.Strings(names)

	profiles := make(map[string]popdeploy.NetworkProfile, len(networks))
	for _, name := range names {
		nc := networks[name]
		profile := popdeploy.NetworkProfile{
			Name:      name,
			RPCURL:    os.Expand(nc.URL, getenv),
			ChainID:   nc.ChainID,
			GasLimit:  nc.GasLimit,
			IsDefault: name == defaultNetwork,
			Local:     name == NetworkHardhat,
		}
		if nc.GasPrice != 0 {
			profile.GasPrice = new(big.Int).SetUint64(nc.GasPrice)
		}
		for _, account := range nc.Accounts {
			if expanded := strings.TrimSpace(os.Expand(account, getenv)); expanded != "" {
				profile.Accounts = append(profile.Accounts, expanded)
			}
		}

		if err := validate.Struct(expandedNetwork{Name: name, URL: profile.RPCURL, Accounts: profile.Accounts}); err != nil {
			return nil, popdeploy.WrapConfigurationError("networks."+name, formatValidationError(err), err)
		}
		profiles[name] = profile
	}

	if _, ok := profiles[defaultNetwork]; !ok {
		return nil, popdeploy.WrapConfigurationError(
			"default_network",
			fmt.Sprintf("%q is not declared", defaultNetwork),
			popdeploy.ErrUnknownNetwork,
		)
	}
	return profiles, nil
}

func formatValidationError(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) || len(validationErrors) == 0 {
		return "is invalid"
	}
	fieldError := validationErrors[0]
	field := strings.ToLower(fieldError.Field())
	switch fieldError.Tag() {
	case "required":
		return field + " is required"
	case "url":
		return field + " must be a valid URL"
	case "hostname_rfc1123":
		return "name must be a valid identifier"
	default:
		return field + " is invalid"
	}
}
