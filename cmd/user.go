package cmd

import (
	"errors"
	"fmt"

	"github.com/alexedwards/argon2id"
	"github.com/spf13/cobra"

	"github.com/unilearn/faceid/internal/config"
	"github.com/unilearn/faceid/internal/store"
	"github.com/unilearn/faceid/internal/store/postgres"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage accounts",
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an account",
	RunE:  runUserCreate,
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userCreateCmd)

	userCreateCmd.Flags().String("email", "", "Account email (required)")
	userCreateCmd.Flags().String("name", "", "Display name")
	userCreateCmd.Flags().String("password", "", "Account password (required)")
}

func runUserCreate(cmd *cobra.Command, args []string) error {
	email := mustGetString(cmd, "email")
	password := mustGetString(cmd, "password")
	if email == "" || password == "" {
		return errors.New("--email and --password are required")
	}
	name := mustGetString(cmd, "name")
	if name == "" {
		name = email
	}

	cfg := config.Load()
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	st, pool, err := postgres.Open(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	defer pool.Close() //nolint:errcheck

	hash, err := argon2id.CreateHash(password, argon2id.DefaultParams)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	u := &store.User{
		Email:        email,
		DisplayName:  name,
		PasswordHash: hash,
	}
	if err := st.Users.Create(cmd.Context(), u); err != nil {
		return fmt.Errorf("creating user: %w", err)
	}

	fmt.Printf("Created %s (%s)\n", u.Email, u.ID)
	return nil
}
