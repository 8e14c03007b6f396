// Command medaccessctl runs operator tasks against a deployment: schema
// migrations, counter repair and development tokens.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/jwalitptl/medaccess-api/config"
	"github.com/jwalitptl/medaccess-api/internal/repository/postgres"
	permissionService "github.com/jwalitptl/medaccess-api/internal/service/permission"
	"github.com/jwalitptl/medaccess-api/pkg/auth"
	"github.com/jwalitptl/medaccess-api/pkg/logger"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "medaccessctl",
		Short:         "operator commands for the medaccess API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yml")
	root.AddCommand(migrateCmd(), reconcileCmd(), tokenCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openDB() (*config.Config, *sqlx.DB, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Store.Backend != config.BackendPostgres {
		return nil, nil, fmt.Errorf("store backend is %q, this command needs postgres", cfg.Store.Backend)
	}
	db, err := postgres.NewDB(cfg.Database.ToPostgresConfig())
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}

func migrateCmd() *cobra.Command {
	var rollback bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "apply pending schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			if rollback {
				err = postgres.Rollback(ctx, db)
			} else {
				err = postgres.Migrate(ctx, db)
			}
			if err != nil {
				return err
			}

			version, err := postgres.MigrationVersion(ctx, db)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&rollback, "rollback", "r", false, "roll back the latest migration")
	return cmd
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "recompute every doctor's active patient count",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			log := logger.NewLogger(&logger.Config{
				Level:      logger.ParseLevel(cfg.Log.Level),
				TimeFormat: time.RFC3339,
				Output:     os.Stderr,
			})
			// Reconciling sends no notifications.
			registry := permissionService.NewRegistry(postgres.NewDocumentStore(db), nil, log, nil)

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()
			corrected, err := registry.ReconcileCounts(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "corrected %d doctors\n", corrected)
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	var (
		uid, role, email string
		ttl              time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "issue a bearer token for local testing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			switch role {
			case auth.RolePatient, auth.RoleDoctor, auth.RoleAdmin:
			default:
				return fmt.Errorf("unknown role %q", role)
			}

			svc, err := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer, ttl)
			if err != nil {
				return err
			}
			token, err := svc.Issue(auth.Principal{UID: uid, Email: email, Role: role})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&uid, "uid", "", "subject uid")
	cmd.Flags().StringVar(&role, "role", auth.RolePatient, "patient, doctor or admin")
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("uid")
	return cmd
}
