package app

import (
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	cerrors "github.com/consultease/consultease/pkg/errors"
	"github.com/consultease/consultease/pkg/models"
	"github.com/consultease/consultease/pkg/storage"
)

func newConsultationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consultations",
		Short: "Inspect consultation requests",
	}
	cmd.AddCommand(newConsultationsListCmd())
	return cmd
}

func newConsultationsListCmd() *cobra.Command {
	var (
		status    string
		facultyID int64
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List consultations, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			var filterStatus models.ConsultationStatus
			if status != "" {
				parsed, ok := models.ParseConsultationStatus(status)
				if !ok {
					return cerrors.NewValidationError("unknown status: "+status, nil)
				}
				filterStatus = parsed
			}

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			consultations, err := store.Consultations().List(ctx, storage.ConsultationFilter{
				FacultyID: facultyID,
				Status:    filterStatus,
				Limit:     limit,
			})
			if err != nil {
				return err
			}
			if len(consultations) == 0 {
				fmt.Println("No consultations found.")
				return nil
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.Options(tablewriter.WithHeader([]string{
				"ID", "Student", "Faculty", "Course", "Status", "Requested",
			}))
			for _, c := range consultations {
				if err := table.Append([]string{
					strconv.FormatInt(c.ID, 10),
					strconv.FormatInt(c.StudentID, 10),
					strconv.FormatInt(c.FacultyID, 10),
					c.CourseCode,
					string(c.Status),
					c.RequestedAt.Format("2006-01-02 15:04"),
				}); err != nil {
					return fmt.Errorf("failed to append row: %w", err)
				}
			}
			return table.Render()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by lifecycle state")
	cmd.Flags().Int64Var(&facultyID, "faculty", 0, "Filter by faculty id")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows to return")
	return cmd
}
