package cli

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/netsentry/internal/db"
)

var migrateStatusOnly bool

// migrateCmd applies the embedded schema migrations.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long: `Apply the database migrations embedded in the binary. 'serve' does this
on startup; run it by hand to prepare a database or to inspect the
schema state with --status.`,
	Example: `  netsentry migrate
  netsentry migrate --status`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().BoolVar(&migrateStatusOnly, "status", false, "show migration state without applying anything")
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	database, err := db.Connect(cmd.Context(), &cfg.Database)
	if err != nil {
		return fmt.Errorf("error connecting to database: %w", err)
	}
	defer func() { _ = database.Close() }()

	migrator := db.NewMigrator(database.DB)
	out := cmd.OutOrStdout()

	if !migrateStatusOnly {
		applied, err := migrator.Up(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Applied %d migration(s)\n", applied)
	}

	statuses, err := migrator.Status(cmd.Context())
	if err != nil {
		return err
	}
	return printMigrations(out, statuses)
}

func printMigrations(w io.Writer, statuses []db.MigrationStatus) error {
	if outputFormat == formatJSON {
		return printJSON(w, statuses)
	}

	table := tablewriter.NewWriter(w)
	table.Header("Migration", "Applied", "Applied At", "Modified")
	for _, s := range statuses {
		appliedAt := "-"
		if s.Applied {
			appliedAt = formatTime(&s.AppliedAt)
		}
		_ = table.Append([]string{s.Name, yesNo(s.Applied), appliedAt, yesNo(s.Modified)})
	}
	return table.Render()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
