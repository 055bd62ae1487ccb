package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Bidon15/popdeploy"
	"github.com/Bidon15/popdeploy/internal/chain"
	"github.com/Bidon15/popdeploy/internal/signer"
)

var outputFormat string

var networksCmd = &cobra.Command{
	Use:   "networks",
	Short: "List configured network profiles",
	Long: `List the built-in and configured network profiles.

Private keys and API keys are never printed: RPC URLs are reduced to scheme and
host, and signers are shown by address.`,
	Args: cobra.NoArgs,
	RunE: runNetworks,
}

func init() {
	networksCmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, json, yaml")
}

// networkView is the printable form of a profile.
type networkView struct {
	Name    string `json:"name" yaml:"name"`
	Default bool   `json:"default" yaml:"default"`
	ChainID uint64 `json:"chain_id,omitempty" yaml:"chain_id,omitempty"`
	RPC     string `json:"rpc" yaml:"rpc"`
	Signer  string `json:"signer,omitempty" yaml:"signer,omitempty"`
	Local   bool   `json:"local" yaml:"local"`
}

func runNetworks(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime(cmd)
	if err != nil {
		return err
	}

	format := outputFormat
	if jsonOut {
		format = "json"
	}

	var views []networkView
	for _, name := range rt.cfg.Networks() {
		profile, err := rt.cfg.ResolveProfile(name)
		if err != nil {
			return err
		}
		views = append(views, viewOf(profile))
	}

	w := cmd.OutOrStdout()
	switch format {
	case "json":
		return printJSON(w, views)
	case "yaml":
		return printYAML(w, views)
	case "table":
		return printNetworkTable(w, views)
	default:
		return popdeploy.NewConfigurationError("output", fmt.Sprintf("unknown format %q (use table, json or yaml)", format))
	}
}

func viewOf(profile popdeploy.NetworkProfile) networkView {
	view := networkView{
		Name:    profile.Name,
		Default: profile.IsDefault,
		ChainID: profile.ChainID,
		RPC:     chain.RedactURL(profile.RPCURL),
		Local:   profile.Local,
	}
	if s, err := signer.FromProfile(profile); err == nil {
		view.Signer = s.Address().Hex()
	}
	return view
}

func printNetworkTable(out io.Writer, views []networkView) error {
	w := newTable(out)
	printTableHeader(out, w, "NAME", "CHAIN ID", "RPC", "SIGNER", "DEFAULT")
	for _, v := range views {
		chainID := "-"
		if v.ChainID != 0 {
			chainID = strconv.FormatUint(v.ChainID, 10)
		}
		signerCol := v.Signer
		if signerCol == "" {
			signerCol = colorYellow(out, "missing")
		}
		def := ""
		if v.Default {
			def = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", v.Name, chainID, v.RPC, signerCol, def)
	}
	return w.Flush()
}
