package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "faceid",
	Short: "Face ID enrollment and verification service",
	Long: `Face ID is the biometric step-up service: it stores face descriptor
enrollments, gates authenticated sessions behind a verification step, and
supports passwordless face login. The CLI runs the server and drives the
capture workflows against a running instance.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
