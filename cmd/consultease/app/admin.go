package app

import (
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	cerrors "github.com/consultease/consultease/pkg/errors"
)

// minPasswordLength is the floor for new administrator credentials.
const minPasswordLength = 8

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage administrator accounts",
	}
	cmd.AddCommand(newAdminAddCmd())
	cmd.AddCommand(newAdminListCmd())
	return cmd
}

func newAdminAddCmd() *cobra.Command {
	var (
		username string
		password string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create an administrator account",
		Long: `Create an administrator account.

The credential is read from --password or, when the flag is empty, from
the CONSULTEASE_ADMIN_PASSWORD environment variable. Only the bcrypt hash
is stored.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if password == "" {
				password = os.Getenv("CONSULTEASE_ADMIN_PASSWORD")
			}
			if len(password) < minPasswordLength {
				return cerrors.NewValidationError(
					fmt.Sprintf("password must be at least %d characters", minPasswordLength), nil)
			}

			hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("hashing password: %w", err)
			}

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			admin, err := store.Admins().Create(ctx, username, string(hash))
			if err != nil {
				return err
			}
			fmt.Printf("Created administrator %s (id %d)\n", admin.Username, admin.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "Login name")
	cmd.Flags().StringVar(&password, "password", "", "Credential (omit to use CONSULTEASE_ADMIN_PASSWORD)")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func newAdminListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List administrator accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			admins, err := store.Admins().List(ctx)
			if err != nil {
				return err
			}
			if len(admins) == 0 {
				fmt.Println("No administrators registered.")
				return nil
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.Options(tablewriter.WithHeader([]string{"ID", "Username", "Created"}))
			for _, a := range admins {
				if err := table.Append([]string{
					strconv.FormatInt(a.ID, 10),
					a.Username,
					a.CreatedAt.Format("2006-01-02 15:04"),
				}); err != nil {
					return fmt.Errorf("failed to append row: %w", err)
				}
			}
			return table.Render()
		},
	}
}
