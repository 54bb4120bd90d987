package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/convograph/pkg/convo/commerce"
	"github.com/randalmurphal/convograph/pkg/convo/settings"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Fill an empty product catalogue with generated products",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("db")
		count, _ := cmd.Flags().GetInt("count")
		seed, _ := cmd.Flags().GetUint64("seed")
		if count <= 0 {
			return fmt.Errorf("--count must be positive, got %d", count)
		}

		store, err := commerce.NewSQLiteStore(path)
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := commerce.Seed(cmd.Context(), store, count, seed)
		if err != nil {
			return fmt.Errorf("seed %s: %w", path, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d products\n", path, n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().String("db", settings.Default().Commerce.Path, "commerce SQLite database")
	seedCmd.Flags().Int("count", 100, "products to generate")
	seedCmd.Flags().Uint64("seed", 1, "generator seed")
}
