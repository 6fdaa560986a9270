package app

import (
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/consultease/consultease/pkg/models"
)

func newStudentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "student",
		Short: "Manage student records",
	}
	cmd.AddCommand(newStudentListCmd())
	cmd.AddCommand(newStudentAddCmd())
	cmd.AddCommand(newStudentRemoveCmd())
	return cmd
}

func newStudentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List students",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			students, err := store.Students().List(ctx)
			if err != nil {
				return err
			}
			if len(students) == 0 {
				fmt.Println("No students registered.")
				return nil
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.Options(tablewriter.WithHeader([]string{"ID", "Name", "Department", "RFID UID"}))
			for _, s := range students {
				if err := table.Append([]string{
					strconv.FormatInt(s.ID, 10),
					s.Name,
					s.Department,
					s.RFIDUID,
				}); err != nil {
					return fmt.Errorf("failed to append row: %w", err)
				}
			}
			return table.Render()
		},
	}
}

func newStudentAddCmd() *cobra.Command {
	var (
		name       string
		department string
		rfid       string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a student badge",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			uid, err := models.NormalizeRFIDUID(rfid)
			if err != nil {
				return exitWith(exitConfig, err)
			}
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			stored, err := store.Students().Upsert(ctx, models.Student{
				Name:       name,
				Department: department,
				RFIDUID:    uid,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Registered student %d (%s, badge %s)\n", stored.ID, stored.Name, stored.RFIDUID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&department, "department", "", "Department")
	cmd.Flags().StringVar(&rfid, "rfid", "", "RFID badge UID")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("rfid")
	return cmd
}

func newStudentRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a student",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Students().Delete(ctx, id); err != nil {
				return err
			}
			fmt.Printf("Removed student %d\n", id)
			return nil
		},
	}
}
