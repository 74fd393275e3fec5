package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/tasksync/internal/config"
	"github.com/kimhsiao/tasksync/internal/crypto"
	"github.com/kimhsiao/tasksync/internal/db"
	apperrors "github.com/kimhsiao/tasksync/internal/errors"
)

func newLogoutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the local replica and queue, including unsynced changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			pending := a.session.Engine().PendingChanges()
			if err := a.session.Logout(); err != nil {
				return err
			}
			if err := a.credentials.Delete(a.session.UserID()); err != nil {
				return err
			}
			if pending > 0 {
				fmt.Fprintf(stdout(cmd), "discarded %d unsynced changes\n", pending)
			}
			fmt.Fprintf(stdout(cmd), "logged out %s\n", a.session.UserID())
			return nil
		},
	}
}

func newLoginCmd(opts *rootOptions) *cobra.Command {
	var credential string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store the remote credential for a user, encrypted for this machine",
		Long: `Store the credential used to authenticate against the remote service.
It is encrypted with a key bound to this machine and the user, and used
whenever remote.credential is not set in the configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if credential == "" {
				return apperrors.Validation("--credential is required")
			}
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			database, err := db.Open(cfg.DataDir)
			if err != nil {
				return apperrors.Wrap(apperrors.ErrPersistence, "open database", err)
			}
			defer database.Close()

			store := crypto.NewCredentialStore(db.NewRepository(database.DB, cfg.Namespace), "")
			if err := store.Save(cfg.User, credential); err != nil {
				return err
			}
			fmt.Fprintf(stdout(cmd), "credential stored for %s\n", cfg.User)
			return nil
		},
	}
	cmd.Flags().StringVar(&credential, "credential", "", "remote credential (token)")
	return cmd
}

func newInitCmd(opts *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.configPath
			if path == "" {
				path = config.DefaultPath()
			}
			if !force && fileExists(path) {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			fmt.Fprintf(stdout(cmd), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
