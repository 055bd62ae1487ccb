// Package preflight provides pre-deployment validation checks.
package preflight

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Bidon15/popdeploy"
	"github.com/Bidon15/popdeploy/internal/chain"
	"github.com/Bidon15/popdeploy/internal/signer"
)

// DefaultTimeout is the default timeout for RPC calls.
const DefaultTimeout = 10 * time.Second

// CheckName identifies a specific pre-flight check.
type CheckName string

const (
	// CheckRPCReachable verifies the RPC endpoint is reachable.
	CheckRPCReachable CheckName = "rpc_reachable"
	// CheckChainIDMatch verifies the chain ID matches the profile.
	CheckChainIDMatch CheckName = "chain_id_match"
	// CheckDeployerBalance verifies the deployer has sufficient funds.
	CheckDeployerBalance CheckName = "deployer_balance"
)

// CheckResult represents the result of a single pre-flight check.
type CheckResult struct {
	Name    CheckName              `json:"name"`
	Passed  bool                   `json:"passed"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Request contains the parameters for pre-flight checks.
type Request struct {
	Network         string `json:"network"`
	RPCURL          string `json:"-"`
	ChainID         uint64 `json:"chain_id,omitempty"`
	DeployerAddress string `json:"deployer_address"`
	Local           bool   `json:"local"`
}

// Response contains the results of all pre-flight checks.
type Response struct {
	OK                 bool          `json:"ok"`
	Network            string        `json:"network"`
	Checks             []CheckResult `json:"checks"`
	DeployerAddress    string        `json:"deployer_address"`
	RequiredFundingETH string        `json:"required_funding_eth"`
	CurrentBalanceETH  string        `json:"current_balance_eth,omitempty"`
}

// RequestFromProfile builds a request for profile, deriving the deployer address
// from its signer credential.
func RequestFromProfile(profile popdeploy.NetworkProfile) (*Request, error) {
	s, err := signer.FromProfile(profile)
	if err != nil {
		return nil, popdeploy.WrapTransactionError(profile.Name, "load signer", err)
	}
	return &Request{
		Network:         profile.Name,
		RPCURL:          profile.RPCURL,
		ChainID:         profile.ChainID,
		DeployerAddress: s.Address().Hex(),
		Local:           profile.Local,
	}, nil
}

// Checker performs pre-flight validation checks.
type Checker struct {
	dialer  chain.Dialer
	timeout time.Duration
}

// NewChecker creates a new pre-flight checker.
func NewChecker(dialer chain.Dialer) *Checker {
	return &Checker{
		dialer:  dialer,
		timeout: DefaultTimeout,
	}
}

// WithTimeout sets a custom timeout for RPC calls.
func (c *Checker) WithTimeout(timeout time.Duration) *Checker {
	c.timeout = timeout
	return c
}

// RunChecks performs all pre-flight checks and returns the results.
func (c *Checker) RunChecks(ctx context.Context, req *Request) (*Response, error) {
	if err := c.validateRequest(req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	// Create timeout context for RPC calls
	rpcCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	response := &Response{
		OK:              true,
		Network:         req.Network,
		Checks:          make([]CheckResult, 0, 3),
		DeployerAddress: req.DeployerAddress,
	}

	requiredWei := getRequiredFunding(req)
	response.RequiredFundingETH = chain.FormatEther(requiredWei)

	// Check 1: RPC Reachable
	client, actualChainID, reachableResult := c.checkRPCReachable(rpcCtx, req.RPCURL)
	response.Checks = append(response.Checks, reachableResult)
	if !reachableResult.Passed {
		response.OK = false
		return response, nil // Can't continue without connection
	}
	defer client.Close()

	// Check 2: Chain ID Match
	chainIDResult := checkChainIDMatch(actualChainID, req.ChainID)
	response.Checks = append(response.Checks, chainIDResult)
	if !chainIDResult.Passed {
		response.OK = false
	}

	// Check 3: Deployer Balance
	balanceResult := checkDeployerBalance(rpcCtx, client, req.DeployerAddress, requiredWei)
	response.Checks = append(response.Checks, balanceResult)
	if !balanceResult.Passed {
		response.OK = false
	}

	if details := balanceResult.Details; details != nil {
		if haveETH, ok := details["have_eth"].(string); ok {
			response.CurrentBalanceETH = haveETH
		}
	}

	return response, nil
}

// validateRequest validates the pre-flight request parameters.
func (c *Checker) validateRequest(req *Request) error {
	if req == nil {
		return fmt.Errorf("request is required")
	}
	if req.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if req.DeployerAddress == "" {
		return fmt.Errorf("deployer_address is required")
	}
	if !common.IsHexAddress(req.DeployerAddress) {
		return fmt.Errorf("deployer_address is not a valid Ethereum address")
	}
	return nil
}

// checkRPCReachable verifies the RPC endpoint is reachable and returns its chain ID.
func (c *Checker) checkRPCReachable(ctx context.Context, rpcURL string) (chain.Client, *big.Int, CheckResult) {
	result := CheckResult{
		Name: CheckRPCReachable,
	}

	client, err := c.dialer.Dial(ctx, rpcURL)
	if err != nil {
		result.Message = fmt.Sprintf("Failed to connect to RPC: %v", err)
		result.Details = map[string]interface{}{
			"error": err.Error(),
		}
		return nil, nil, result
	}

	// Verify connection works by making a simple call
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		result.Message = fmt.Sprintf("RPC connection failed: %v", err)
		result.Details = map[string]interface{}{
			"error": err.Error(),
			"rpc":   chain.RedactURL(rpcURL),
		}
		return nil, nil, result
	}

	result.Passed = true
	result.Message = fmt.Sprintf("Connected to %s", chain.RedactURL(rpcURL))
	return client, chainID, result
}

// checkChainIDMatch verifies the chain ID matches the expected value. A profile
// without a chain ID accepts any chain.
func checkChainIDMatch(actualChainID *big.Int, expectedChainID uint64) CheckResult {
	result := CheckResult{
		Name: CheckChainIDMatch,
	}

	if expectedChainID == 0 {
		result.Passed = true
		result.Message = fmt.Sprintf("Chain ID %d (not pinned by profile)", actualChainID.Uint64())
		result.Details = map[string]interface{}{
			"chain_id": actualChainID.Uint64(),
		}
		return result
	}

	expected := new(big.Int).SetUint64(expectedChainID)
	if actualChainID.Cmp(expected) != 0 {
		result.Message = fmt.Sprintf("Chain ID mismatch: expected %d, got %d", expectedChainID, actualChainID.Uint64())
		result.Details = map[string]interface{}{
			"expected": expectedChainID,
			"actual":   actualChainID.Uint64(),
		}
		return result
	}

	result.Passed = true
	result.Message = fmt.Sprintf("Chain ID %d confirmed (%s)", expectedChainID, GetNetworkName(expectedChainID))
	result.Details = map[string]interface{}{
		"chain_id": expectedChainID,
	}
	return result
}

// checkDeployerBalance verifies the deployer has sufficient funds.
func checkDeployerBalance(ctx context.Context, client chain.Client, deployerAddr string, requiredWei *big.Int) CheckResult {
	result := CheckResult{
		Name: CheckDeployerBalance,
	}

	addr := common.HexToAddress(deployerAddr)
	balance, err := client.BalanceAt(ctx, addr, nil)
	if err != nil {
		result.Message = fmt.Sprintf("Failed to get deployer balance: %v", err)
		result.Details = map[string]interface{}{
			"error": err.Error(),
		}
		return result
	}

	haveETH := chain.FormatEther(balance)
	needETH := chain.FormatEther(requiredWei)

	result.Details = map[string]interface{}{
		"have_wei": balance.String(),
		"need_wei": requiredWei.String(),
		"have_eth": haveETH,
		"need_eth": needETH,
	}

	if balance.Cmp(requiredWei) < 0 {
		result.Message = fmt.Sprintf("Insufficient deployer balance: have %s ETH, need %s ETH", haveETH, needETH)
		return result
	}

	result.Passed = true
	result.Message = fmt.Sprintf("Deployer has sufficient balance: %s ETH", haveETH)
	return result
}

// getRequiredFunding returns the required funding in wei for the target network.
func getRequiredFunding(req *Request) *big.Int {
	switch {
	case req.Local:
		return big.NewInt(0)
	case req.ChainID == 1 || req.Network == "mainnet":
		// 0.5 ETH
		return chain.Ether(5, 10)
	default:
		// Testnets: 0.1 ETH
		return chain.Ether(1, 10)
	}
}

// GetNetworkName returns a human-readable name for a chain ID.
func GetNetworkName(chainID uint64) string {
	switch chainID {
	case 1:
		return "Ethereum Mainnet"
	case 4:
		return "Rinkeby (deprecated)"
	case 11155111:
		return "Sepolia"
	case 17000:
		return "Holesky"
	case 31337:
		return "Local development"
	default:
		return fmt.Sprintf("Chain %d", chainID)
	}
}
