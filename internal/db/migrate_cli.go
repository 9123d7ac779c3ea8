package db

import (
	"errors"
	"fmt"
	"io"
	"strconv"
)

// RunMigrateCommand handles the 'migrate' subcommand against the database at
// dbPath, writing progress to out.
func RunMigrateCommand(args []string, dbPath string, out io.Writer) error {
	if len(args) < 1 || args[0] == "help" {
		PrintMigrateHelp(out)
		if len(args) < 1 {
			return errors.New("missing migrate action")
		}
		return nil
	}

	// open without migrating; these commands manage the schema themselves
	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()
	migrations := MigrationsFS()

	switch action := args[0]; action {
	case "up":
		if err := database.MigrateUp(migrations); err != nil {
			return err
		}
		fmt.Fprintln(out, "All migrations applied")
	case "down":
		if err := database.MigrateDown(migrations); err != nil {
			return err
		}
		fmt.Fprintln(out, "Rolled back one migration")
	case "status":
		st, err := database.GetMigrationStatus(migrations)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Current version: %d\nLatest version: %d\nDirty: %v\n", st.Current, st.Latest, st.Dirty)
		if st.Dirty {
			fmt.Fprintln(out, "A migration failed part way; inspect the database, then run: mvlm migrate force <version>")
		} else if st.Pending() {
			fmt.Fprintf(out, "%d migration(s) pending; run: mvlm migrate up\n", st.Latest-st.Current)
		}
		return nil
	case "version", "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: mvlm migrate %s <version_number>", action)
		}
		v, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version number %q", args[1])
		}
		if action == "force" {
			if err := database.MigrateForce(migrations, int(v)); err != nil {
				return err
			}
			fmt.Fprintf(out, "Migration version forced to %d\n", v)
			break
		}
		if err := database.MigrateTo(migrations, uint(v)); err != nil {
			return err
		}
		fmt.Fprintf(out, "Migrated to version %d\n", v)
	default:
		PrintMigrateHelp(out)
		return fmt.Errorf("unknown migrate action: %s", action)
	}

	v, dirty, err := database.MigrateVersion(migrations)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Current version: %d (dirty: %v)\n", v, dirty)
	return nil
}

// PrintMigrateHelp displays help for the migrate command.
func PrintMigrateHelp(out io.Writer) {
	fmt.Fprint(out, `Usage: mvlm migrate <action> [args]

Actions:
  up                 Apply all pending migrations
  down               Roll back the most recent migration
  status             Show current and latest schema versions
  version <n>        Migrate up or down to version n
  force <n>          Record version n without running migrations (recovery only)
  help               Show this help
`)
}
