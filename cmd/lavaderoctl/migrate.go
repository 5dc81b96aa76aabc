package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/suteetoe/lavadero/internal/directory"
	"github.com/suteetoe/lavadero/internal/model"
	"github.com/suteetoe/lavadero/pkg/config"
	"github.com/suteetoe/lavadero/pkg/database"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Creates or updates the schema of a store",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "central",
			Short: "Migrates the control plane (CENTRAL_DB_URL)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				return migrateStore(cmd, cfg, cfg.DB.CentralURL, "control plane", model.ControlPlaneModels())
			},
		},
		&cobra.Command{
			Use:   "legacy",
			Short: "Migrates the legacy shared store (POSTGRES_URL)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				return migrateStore(cmd, cfg, cfg.DB.LegacyURL, "legacy store", model.TenantModels())
			},
		},
		newMigrateTenantCommand(),
	)
	return cmd
}

func newMigrateTenantCommand() *cobra.Command {
	var slug, address string
	var all bool

	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Migrates tenant stores, chosen by --slug, --address or --all",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if address != "" {
				return migrateStore(cmd, cfg, address, "tenant store", model.TenantModels())
			}
			if slug == "" && !all {
				return errors.New("one of --slug, --address or --all is required")
			}

			central, err := openStore(cmd.Context(), cfg, cfg.DB.CentralURL)
			if err != nil {
				return fmt.Errorf("control plane: %w", err)
			}
			repo := directory.NewGormRepo(central)

			var tenants []model.Tenant
			if all {
				if tenants, err = repo.ListTenants(cmd.Context()); err != nil {
					return err
				}
			} else {
				tenant, err := repo.GetTenantBySlug(cmd.Context(), slug)
				if err != nil {
					return err
				}
				tenants = append(tenants, *tenant)
			}

			var errs []error
			for _, tenant := range tenants {
				if tenant.Archived() || !tenant.Provisioned() {
					fmt.Fprintf(cmd.OutOrStdout(), "skipping %s: no store\n", tenant.Slug)
					continue
				}
				if err := migrateStore(cmd, cfg, tenant.Address(), tenant.Slug, model.TenantModels()); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", tenant.Slug, err))
				}
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().StringVar(&slug, "slug", "", "slug of the tenant to migrate")
	cmd.Flags().StringVar(&address, "address", "", "connection address of the store to migrate")
	cmd.Flags().BoolVar(&all, "all", false, "migrate every provisioned tenant")
	return cmd
}

func openStore(ctx context.Context, cfg *config.Config, address string) (*gorm.DB, error) {
	db, err := database.Open(address, database.Options{LogLevel: cfg.DB.LogLevel})
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, cfg.DB.ConnectTimeout)
	defer cancel()
	if err := database.Ping(pingCtx, db); err != nil {
		return nil, err
	}
	return db, nil
}

func migrateStore(cmd *cobra.Command, cfg *config.Config, address, name string, models []interface{}) error {
	if address == "" {
		return fmt.Errorf("%s: connection address not configured", name)
	}
	db, err := openStore(cmd.Context(), cfg, address)
	if err != nil {
		return fmt.Errorf("%s (%s): %w", name, config.MaskURL(address), err)
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()

	if err := database.Migrate(db, models...); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "migrated %s (%s)\n", name, config.MaskURL(address))
	return nil
}
