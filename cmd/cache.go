package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/plume-labs/plume/internal/model"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and invalidate the grid cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print cache hit rates and sizes for both tiers",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEngine(cmd.Context(), "")
		if err != nil {
			return err
		}
		defer env.Close()

		data, err := json.MarshalIndent(env.cache.Stats(cmd.Context()), "", "  ")
		if err != nil {
			return eris.Wrap(err, "encode stats")
		}
		fmt.Fprintln(os.Stdout, string(data))
		return nil
	},
}

var (
	invalidateAll     bool
	invalidateMaxAge  time.Duration
	invalidateBBoxArg []float64
)

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate",
	Short: "Remove cached grids by bbox, age, or entirely",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEngine(cmd.Context(), "")
		if err != nil {
			return err
		}
		defer env.Close()

		var removed int
		switch {
		case invalidateAll:
			removed, err = env.cache.InvalidateAll(cmd.Context())
		case invalidateMaxAge > 0:
			removed, err = env.cache.InvalidateOlderThan(cmd.Context(), invalidateMaxAge)
		case len(invalidateBBoxArg) == 4:
			bbox := model.BBox{
				West:  invalidateBBoxArg[0],
				South: invalidateBBoxArg[1],
				East:  invalidateBBoxArg[2],
				North: invalidateBBoxArg[3],
			}
			if verr := bbox.Validate(); verr != nil {
				return verr
			}
			removed, err = env.cache.InvalidateBBox(cmd.Context(), bbox)
		default:
			return eris.New("one of --all, --max-age or --bbox is required")
		}
		if err != nil {
			return err
		}

		fmt.Printf("removed %d durable entries\n", removed)
		return nil
	},
}

func init() {
	cacheInvalidateCmd.Flags().BoolVar(&invalidateAll, "all", false, "remove every cached grid")
	cacheInvalidateCmd.Flags().DurationVar(&invalidateMaxAge, "max-age", 0, "remove grids older than this (e.g. 30m, 2h)")
	cacheInvalidateCmd.Flags().Float64SliceVar(&invalidateBBoxArg, "bbox", nil, "remove grids intersecting west,south,east,north")

	cacheCmd.AddCommand(cacheStatsCmd, cacheInvalidateCmd)
	rootCmd.AddCommand(cacheCmd)
}
