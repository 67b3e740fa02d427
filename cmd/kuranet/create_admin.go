package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/kuranet/kuranet/internal/auth"
	"github.com/kuranet/kuranet/internal/db"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	adminUsername string
	adminEmail    string
	adminPassword string
)

var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create an admin user or promote an existing one",
	Long: `Create an active staff user holding the admin role. If the username
already exists, that user is granted the admin role and keeps its password.

Examples:
  kuranet create-admin --username root                  # Prompt for the password
  kuranet create-admin --username root --password s3cr3tpw`,
	Args: cobra.NoArgs,
	RunE: runCreateAdmin,
}

func init() {
	createAdminCmd.Flags().StringVarP(&adminUsername, "username", "u", "", "Admin username")
	createAdminCmd.Flags().StringVar(&adminEmail, "email", "", "Admin email (default: <username>@kuranet.local)")
	createAdminCmd.Flags().StringVar(&adminPassword, "password", "", "Admin password (prompted when omitted)")
	_ = createAdminCmd.MarkFlagRequired("username")
}

func runCreateAdmin(cmd *cobra.Command, args []string) error {
	username := auth.NormalizeUsername(adminUsername)
	if username == "" {
		return errors.New("username must not be blank")
	}

	password := adminPassword
	if password == "" {
		var err error
		if password, err = promptPassword(); err != nil {
			return err
		}
	}

	_, database, err := openDatabase()
	if err != nil {
		return err
	}

	user, created, err := db.EnsureAdmin(database, username, auth.NormalizeEmail(adminEmail), password)
	if err != nil {
		return err
	}

	if created {
		fmt.Fprintf(cmd.OutOrStdout(), "Created admin user %s (%s)\n", user.Username, user.ID)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Granted admin role to existing user %s (%s)\n", user.Username, user.ID)
	}
	return nil
}

// promptPassword reads the password twice from the terminal without echo
func promptPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("--password is required when stdin is not a terminal")
	}

	fmt.Fprint(os.Stderr, "Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}

	fmt.Fprint(os.Stderr, "Confirm password: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}

	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}
