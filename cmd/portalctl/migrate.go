package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"portal-service/internal/factory"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the account and payment tables in the selected store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFactory(func(ctx context.Context, f *factory.Factory) error {
				if err := f.Migrate(ctx); err != nil {
					return err
				}
				fmt.Printf("schema applied to %s store\n", f.Config().Store.Backend)
				return nil
			})
		},
	}
}
