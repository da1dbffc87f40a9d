package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/student/odsync/internal/config"
	"github.com/student/odsync/internal/graph"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authenticate with OneDrive using the device code flow",
		RunE:  runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved authentication token",
		RunE:  runLogout,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	logger.Info("login started")

	_, err := graph.Login(cmd.Context(), config.DefaultTokenPath(), func(da graph.DeviceAuth) {
		// Device code prompts must always reach the terminal, even under --quiet.
		fmt.Fprintf(os.Stderr, "To sign in, visit: %s\n", da.VerificationURI)
		fmt.Fprintf(os.Stderr, "Enter code: %s\n", da.UserCode)
	}, logger)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	logger.Info("login successful")
	statusf(flagQuiet, "Login successful.\n")

	return nil
}

func runLogout(_ *cobra.Command, _ []string) error {
	logger := buildLogger()

	logger.Info("logout started")

	if err := graph.Logout(config.DefaultTokenPath(), logger); err != nil {
		return fmt.Errorf("logout: %w", err)
	}

	logger.Info("logout successful")
	statusf(flagQuiet, "Logged out.\n")

	return nil
}
