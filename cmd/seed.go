package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/WattMatt/engi-ops-nexus-sub014/internal/registry"
	"github.com/WattMatt/engi-ops-nexus-sub014/internal/store"
)

var (
	seedCategoriesFile string
	seedCatalogFile    string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load material categories and the master catalog from JSON or YAML files",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if seedCategoriesFile == "" && seedCatalogFile == "" {
			return eris.New("seed: at least one of --categories or --catalog is required")
		}
		if err := cfg.Validate("seed"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}
		return runSeed(ctx, st, seedCategoriesFile, seedCatalogFile)
	},
}

// runSeed upserts categories before the catalog so catalog rows can refer
// to them.
func runSeed(ctx context.Context, st store.Store, categoriesFile, catalogFile string) error {
	if categoriesFile != "" {
		categories, err := registry.LoadCategories(categoriesFile)
		if err != nil {
			return err
		}
		n, err := st.SeedCategories(ctx, categories)
		if err != nil {
			return eris.Wrap(err, "seed categories")
		}
		zap.L().Info("seed: categories loaded", zap.String("file", categoriesFile), zap.Int("rows", n))
	}

	if catalogFile != "" {
		catalog, err := registry.LoadCatalog(catalogFile)
		if err != nil {
			return err
		}
		n, err := st.SeedCatalog(ctx, catalog)
		if err != nil {
			return eris.Wrap(err, "seed catalog")
		}
		zap.L().Info("seed: catalog loaded", zap.String("file", catalogFile), zap.Int("rows", n))
	}
	return nil
}

func init() {
	seedCmd.Flags().StringVar(&seedCategoriesFile, "categories", "", "categories file (.json, .yaml)")
	seedCmd.Flags().StringVar(&seedCatalogFile, "catalog", "", "master catalog file (.json, .yaml)")
	rootCmd.AddCommand(seedCmd)
}
