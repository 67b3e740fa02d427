package main

import (
	"errors"
	"fmt"

	"github.com/kuranet/kuranet/internal/seed"
	"github.com/spf13/cobra"
)

var (
	seedReset bool
	seedFile  string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load demo users, polls and votes",
	Long: `Fill the database with an admin, creators, regular users, template polls
(some draft or closed) and random votes. Each voter votes at most once per poll.

Examples:
  kuranet seed                        # Seed an empty database with built-in fixtures
  kuranet seed --reset                # Delete existing users, polls and votes first
  kuranet seed --file fixtures.yaml   # Use custom fixtures`,
	Args: cobra.NoArgs,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().BoolVar(&seedReset, "reset", false, "Delete existing users, polls, votes and audit logs first")
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "YAML fixtures file (default: built-in fixtures)")
}

func runSeed(cmd *cobra.Command, args []string) error {
	fx, err := loadFixtures(seedFile)
	if err != nil {
		return err
	}

	_, database, err := openDatabase()
	if err != nil {
		return err
	}

	sum, err := seed.New(database).Run(cmd.Context(), fx, seed.Options{Reset: seedReset})
	if errors.Is(err, seed.ErrNotEmpty) {
		return fmt.Errorf("%w; rerun with --reset to replace existing data", err)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Successfully seeded database with:")
	fmt.Fprintf(out, "- %d users\n", sum.Users)
	fmt.Fprintf(out, "- %d roles\n", sum.Roles)
	fmt.Fprintf(out, "- %d polls\n", sum.Polls)
	fmt.Fprintf(out, "- %d poll options\n", sum.Options)
	fmt.Fprintf(out, "- %d votes\n", sum.Votes)
	return nil
}

func loadFixtures(path string) (*seed.Fixtures, error) {
	if path == "" {
		return seed.Default()
	}
	return seed.Load(path)
}
