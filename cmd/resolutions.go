package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/plume-labs/plume/internal/gridcache"
)

var resolutionsFormat string

var resolutionsCmd = &cobra.Command{
	Use:   "resolutions",
	Short: "Print the supported resolutions and their area limits",
	RunE: func(cmd *cobra.Command, args []string) error {
		contract := struct {
			Version string           `json:"version" yaml:"version"`
			Tiers   []gridcache.Tier `json:"tiers" yaml:"tiers"`
		}{
			Version: gridcache.ContractVersion,
			Tiers:   gridcache.Tiers(),
		}

		switch resolutionsFormat {
		case "json":
			data, err := json.MarshalIndent(contract, "", "  ")
			if err != nil {
				return eris.Wrap(err, "encode contract")
			}
			fmt.Fprintln(os.Stdout, string(data))
		case "yaml":
			data, err := yaml.Marshal(contract)
			if err != nil {
				return eris.Wrap(err, "encode contract")
			}
			fmt.Fprint(os.Stdout, string(data))
		case "table":
			fmt.Printf("contract %s\n", contract.Version)
			fmt.Printf("%-14s %-16s %s\n", "RESOLUTION", "MAX AREA (deg2)", "MAX POINTS")
			for _, t := range contract.Tiers {
				fmt.Printf("%-14s %-16g %d\n", fmt.Sprintf("%dm", t.ResolutionM), t.MaxAreaDeg2, t.MaxPoints)
			}
		default:
			return eris.Errorf("unknown format %q (json, yaml, table)", resolutionsFormat)
		}
		return nil
	},
}

func init() {
	resolutionsCmd.Flags().StringVar(&resolutionsFormat, "format", "table", "output format (json, yaml, table)")
	rootCmd.AddCommand(resolutionsCmd)
}
