package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Bidon15/popdeploy"
	"github.com/Bidon15/popdeploy/internal/chain"
	"github.com/Bidon15/popdeploy/internal/preflight"
)

var errPreflightFailed = errors.New("pre-flight checks failed")

var preflightCmd = &cobra.Command{
	Use:   "preflight",
	Short: "Check the selected network before deploying",
	Long: `Run pre-flight checks against the selected network without sending a
transaction: RPC reachability, chain ID and deployer balance.

Exits with code 5 when a check fails.`,
	Args: cobra.NoArgs,
	RunE: runPreflight,
}

func runPreflight(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime(cmd)
	if err != nil {
		return err
	}

	profile, err := rt.cfg.ResolveProfile(networkName)
	if err != nil {
		return err
	}

	req, err := preflight.RequestFromProfile(profile)
	if err != nil {
		return err
	}

	resp, err := preflight.NewChecker(chain.NewEthDialer()).RunChecks(cmd.Context(), req)
	if err != nil {
		return popdeploy.WrapTransactionError(profile.Name, "preflight", err)
	}

	w := cmd.OutOrStdout()
	if jsonOut {
		if err := printJSON(w, resp); err != nil {
			return err
		}
	} else {
		printChecks(w, resp)
	}

	if !resp.OK {
		return popdeploy.WrapTransactionError(profile.Name, "preflight", errPreflightFailed)
	}
	return nil
}

func printChecks(out io.Writer, resp *preflight.Response) {
	fmt.Fprintf(out, "Network:  %s\n", resp.Network)
	fmt.Fprintf(out, "Deployer: %s\n\n", resp.DeployerAddress)

	w := newTable(out)
	printTableHeader(out, w, "CHECK", "STATUS", "MESSAGE")
	for _, check := range resp.Checks {
		status := colorGreen(out, "ok")
		if !check.Passed {
			status = colorRed(out, "failed")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", check.Name, status, check.Message)
	}
	_ = w.Flush()

	if resp.CurrentBalanceETH != "" {
		fmt.Fprintf(out, "\nBalance: %s ETH (required %s ETH)\n", resp.CurrentBalanceETH, resp.RequiredFundingETH)
	}
}
