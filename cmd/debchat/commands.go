package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/debchat/internal/auth"
	"github.com/MikeSquared-Agency/debchat/internal/store"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create tables, collections and indexes for the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, db store.Store) error {
				if err := db.Migrate(ctx); err != nil {
					return fmt.Errorf("migrating store: %w", err)
				}
				fmt.Println("store migrated")
				return nil
			})
		},
	}
}

func adminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage admin panel access",
	}
	cmd.AddCommand(adminAddCmd(), adminGrantCmd())
	return cmd
}

func adminAddCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "add <username> <password>",
		Short: "Create or reset an admin panel login",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashPassword(args[1])
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), func(ctx context.Context, db store.Store) error {
				if err := db.PutAdmin(ctx, store.Admin{Username: args[0], Email: email, PasswordHash: hash}); err != nil {
					return fmt.Errorf("saving admin: %w", err)
				}
				fmt.Printf("admin %s saved\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "contact email for the admin")
	return cmd
}

func adminGrantCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "grant <email>",
		Short: "Set the role of a signed-up user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := store.ParseRole(role)
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), func(ctx context.Context, db store.Store) error {
				if err := db.SetUserRole(ctx, args[0], r); err != nil {
					return fmt.Errorf("setting role for %s: %w", args[0], err)
				}
				fmt.Printf("%s is now %s\n", args[0], r)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", string(store.RoleAdmin), "role to assign (user or admin)")
	return cmd
}

func withStore(ctx context.Context, fn func(context.Context, store.Store) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.StoreBackend == "memory" {
		slog.Warn("memory store selected, changes will not persist")
	}
	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close(context.Background())
	return fn(ctx, db)
}
