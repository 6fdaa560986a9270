package app

import (
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	cerrors "github.com/consultease/consultease/pkg/errors"
	"github.com/consultease/consultease/pkg/models"
	"github.com/consultease/consultease/pkg/storage"
)

func newFacultyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "faculty",
		Short: "Manage faculty records",
	}
	cmd.AddCommand(newFacultyListCmd())
	cmd.AddCommand(newFacultyAddCmd())
	cmd.AddCommand(newFacultyRemoveCmd())
	cmd.AddCommand(newFacultySetAlwaysAvailableCmd())
	cmd.AddCommand(newFacultyImportCmd())
	return cmd
}

func newFacultyListCmd() *cobra.Command {
	var department string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List faculty members",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			faculty, err := store.Faculty().List(ctx, storage.FacultyFilter{Department: department})
			if err != nil {
				return err
			}
			if len(faculty) == 0 {
				fmt.Println("No faculty registered.")
				return nil
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.Options(tablewriter.WithHeader([]string{
				"ID", "Name", "Department", "Beacon MAC", "Present", "Always Available",
			}))
			for _, f := range faculty {
				if err := table.Append([]string{
					strconv.FormatInt(f.ID, 10),
					f.Name,
					f.Department,
					f.BeaconMAC,
					yesNo(f.Present),
					yesNo(f.AlwaysAvailable),
				}); err != nil {
					return fmt.Errorf("failed to append row: %w", err)
				}
			}
			return table.Render()
		},
	}
	cmd.Flags().StringVar(&department, "department", "", "Filter by department")
	return cmd
}

func newFacultyAddCmd() *cobra.Command {
	var (
		name            string
		department      string
		email           string
		mac             string
		alwaysAvailable bool
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a faculty member",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			canonical, err := models.NormalizeMAC(mac)
			if err != nil {
				return exitWith(exitConfig, err)
			}
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			created, err := store.Faculty().Create(ctx, models.Faculty{
				Name:            name,
				Department:      department,
				Email:           email,
				BeaconMAC:       canonical,
				AlwaysAvailable: alwaysAvailable,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Added faculty %d (%s, beacon %s)\n", created.ID, created.Name, created.BeaconMAC)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&department, "department", "", "Department")
	cmd.Flags().StringVar(&email, "email", "", "Contact email")
	cmd.Flags().StringVar(&mac, "mac", "", "BLE beacon MAC address")
	cmd.Flags().BoolVar(&alwaysAvailable, "always-available", false, "Force presence to available")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("department")
	_ = cmd.MarkFlagRequired("mac")
	return cmd
}

func newFacultyRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a faculty member",
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

			if err := store.Faculty().Delete(ctx, id); err != nil {
				return err
			}
			fmt.Printf("Removed faculty %d\n", id)
			return nil
		},
	}
}

func newFacultySetAlwaysAvailableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-always-available <id> <on|off>",
		Short: "Toggle the always-available override",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var on bool
			switch args[1] {
			case "on":
				on = true
			case "off":
				on = false
			default:
				return cerrors.NewValidationError("second argument must be on or off", nil)
			}
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			updated, err := store.Faculty().SetAlwaysAvailable(ctx, id, on)
			if err != nil {
				return err
			}
			fmt.Printf("Faculty %d always-available: %s\n", updated.ID, yesNo(updated.AlwaysAvailable))
			return nil
		},
	}
}

// facultyImportEntry is one record of a bulk import file.
type facultyImportEntry struct {
	Name            string `yaml:"name"`
	Department      string `yaml:"department"`
	Email           string `yaml:"email"`
	BeaconMAC       string `yaml:"beacon_mac"`
	AlwaysAvailable bool   `yaml:"always_available"`
}

func newFacultyImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Bulk-load faculty from a YAML file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			data, err := os.ReadFile(file)
			if err != nil {
				return exitWith(exitConfig, cerrors.NewValidationError("reading import file", err))
			}
			var entries []facultyImportEntry
			if err := yaml.Unmarshal(data, &entries); err != nil {
				return exitWith(exitConfig, cerrors.NewValidationError("parsing import file", err))
			}
			if len(entries) == 0 {
				return cerrors.NewValidationError("import file contains no entries", nil)
			}

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			// Fail before the first insert rather than half-way through.
			for i, entry := range entries {
				if _, err := models.NormalizeMAC(entry.BeaconMAC); err != nil {
					return cerrors.NewValidationError(fmt.Sprintf("entry %d: invalid beacon MAC", i+1), err)
				}
				if entry.Name == "" || entry.Department == "" {
					return cerrors.NewValidationError(fmt.Sprintf("entry %d: name and department are required", i+1), nil)
				}
			}

			for _, entry := range entries {
				canonical, _ := models.NormalizeMAC(entry.BeaconMAC)
				created, err := store.Faculty().Create(ctx, models.Faculty{
					Name:            entry.Name,
					Department:      entry.Department,
					Email:           entry.Email,
					BeaconMAC:       canonical,
					AlwaysAvailable: entry.AlwaysAvailable,
				})
				if err != nil {
					return err
				}
				fmt.Printf("Added faculty %d (%s)\n", created.ID, created.Name)
			}
			fmt.Printf("Imported %d faculty members\n", len(entries))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML file of faculty records")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, cerrors.NewValidationError("id must be a positive integer: "+raw, nil)
	}
	return id, nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
