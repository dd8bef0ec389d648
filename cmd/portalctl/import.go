package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"portal-service/internal/factory"
	"portal-service/internal/importer"
)

func importCmd() *cobra.Command {
	var (
		mappingSpec string
		dryRun      bool
	)

	cmd := &cobra.Command{
		Use:   "import <csv>",
		Short: "Import debtor accounts from a CSV file",
		Long: `Import debtor accounts from a CSV file.

Columns are mapped automatically from their headers. Use --mapping to
override single fields, or map a field to "none" to skip it:

  portalctl import accounts.csv --mapping "debtor_name=Full Name,email=none"
  portalctl import accounts.csv --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides, err := importer.ParseMappingSpec(mappingSpec)
			if err != nil {
				return err
			}
			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer file.Close()

			return withFactory(func(ctx context.Context, f *factory.Factory) error {
				summary, err := f.ServiceFactory().ImportService().Import(ctx, file, overrides, dryRun)
				if err != nil {
					return err
				}
				if dryRun {
					fmt.Fprintln(os.Stderr, "dry run: nothing was written")
				}
				return printJSON(summary)
			})
		},
	}

	cmd.Flags().StringVarP(&mappingSpec, "mapping", "m", "", "field=Header overrides, comma separated")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "parse and validate without writing")

	return cmd
}

func mappingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mapping <csv>",
		Short: "Show the headers, suggested mapping and first rows of a CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer file.Close()

			preview, err := importer.PreviewFile(file)
			if err != nil {
				return err
			}
			return printJSON(preview)
		},
	}
}
