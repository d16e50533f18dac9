package main

import (
	"database/sql"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

var migrationPattern = regexp.MustCompile(`^(\d{3})_(.+)\.(up|down)\.sql$`)
var seedPattern = regexp.MustCompile(`^(\d{3})_(.+)\.sql$`)

// migration is one versioned up/down pair
type migration struct {
	Version  int
	Name     string
	UpPath   string
	DownPath string
}

type migrator struct {
	db    *sql.DB
	files fs.FS
}

func (m *migrator) ensureTable() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}
	return nil
}

// loadMigrations pairs the embedded files by version, sorted ascending
func loadMigrations(files fs.FS) ([]*migration, error) {
	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	byVersion := map[int]*migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matches := migrationPattern.FindStringSubmatch(entry.Name())
		if matches == nil {
			continue
		}
		version, _ := strconv.Atoi(matches[1])
		mig, ok := byVersion[version]
		if !ok {
			mig = &migration{Version: version, Name: matches[2]}
			byVersion[version] = mig
		} else if mig.Name != matches[2] {
			return nil, fmt.Errorf("migration %03d has two names: %s and %s", version, mig.Name, matches[2])
		}
		if matches[3] == "up" {
			mig.UpPath = entry.Name()
		} else {
			mig.DownPath = entry.Name()
		}
	}

	list := make([]*migration, 0, len(byVersion))
	for _, mig := range byVersion {
		if mig.UpPath == "" {
			return nil, fmt.Errorf("migration %03d_%s has no up file", mig.Version, mig.Name)
		}
		list = append(list, mig)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Version < list[j].Version })
	return list, nil
}

func (m *migrator) applied() (map[int]*time.Time, error) {
	rows, err := m.db.Query(`SELECT version, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := map[int]*time.Time{}
	for rows.Next() {
		var version int
		var at *time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[version] = at
	}
	return applied, rows.Err()
}

func (m *migrator) up() error {
	all, err := loadMigrations(m.files)
	if err != nil {
		return err
	}
	applied, err := m.applied()
	if err != nil {
		return err
	}

	count := 0
	for _, mig := range all {
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		printInfo(fmt.Sprintf("Applying migration %03d_%s...", mig.Version, mig.Name))
		err := m.exec(mig.UpPath, func(tx *sql.Tx) error {
			_, err := tx.Exec(`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to apply migration %03d_%s: %w", mig.Version, mig.Name, err)
		}
		count++
	}

	if count == 0 {
		printSuccess("✓ All migrations are up to date")
		return nil
	}
	printSuccess(fmt.Sprintf("\n✓ Successfully applied %d migration(s)", count))
	return nil
}

func (m *migrator) down() error {
	all, err := loadMigrations(m.files)
	if err != nil {
		return err
	}
	applied, err := m.applied()
	if err != nil {
		return err
	}

	for i := len(all) - 1; i >= 0; i-- {
		if _, ok := applied[all[i].Version]; ok {
			return m.rollback(all[i])
		}
	}
	printWarning("No migrations to roll back")
	return nil
}

func (m *migrator) rollback(mig *migration) error {
	if mig.DownPath == "" {
		return fmt.Errorf("migration %03d_%s has no down file", mig.Version, mig.Name)
	}
	printInfo(fmt.Sprintf("Rolling back migration %03d_%s...", mig.Version, mig.Name))
	err := m.exec(mig.DownPath, func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM schema_migrations WHERE version = $1`, mig.Version)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to roll back migration %03d_%s: %w", mig.Version, mig.Name, err)
	}
	printSuccess(fmt.Sprintf("  ✓ Migration %03d rolled back", mig.Version))
	return nil
}

func (m *migrator) reset() error {
	printWarning("Resetting database (roll back all + reapply all)...\n")

	all, err := loadMigrations(m.files)
	if err != nil {
		return err
	}
	applied, err := m.applied()
	if err != nil {
		return err
	}
	for i := len(all) - 1; i >= 0; i-- {
		if _, ok := applied[all[i].Version]; !ok {
			continue
		}
		if err := m.rollback(all[i]); err != nil {
			return err
		}
	}
	return m.up()
}

func (m *migrator) status() error {
	all, err := loadMigrations(m.files)
	if err != nil {
		return err
	}
	applied, err := m.applied()
	if err != nil {
		return err
	}

	fmt.Printf("%s%-10s %-40s %-12s %-20s%s\n", colorBold, "VERSION", "NAME", "STATUS", "APPLIED AT", colorReset)
	fmt.Println(strings.Repeat("-", 85))

	count := 0
	for _, mig := range all {
		status, color, at := "pending", colorYellow, "-"
		if appliedAt, ok := applied[mig.Version]; ok {
			status, color = "applied", colorGreen
			if appliedAt != nil {
				at = appliedAt.Format("2006-01-02 15:04:05")
			}
			count++
		}
		fmt.Printf("%-10s %-40s %s%-12s%s %-20s\n", fmt.Sprintf("%03d", mig.Version), mig.Name, color, status, colorReset, at)
	}

	fmt.Println(strings.Repeat("-", 85))
	printInfo(fmt.Sprintf("\nSummary: %d/%d migrations applied", count, len(all)))
	return nil
}

// seed runs every seed file in order; seeds are written to be re-runnable
func (m *migrator) seed() error {
	entries, err := fs.ReadDir(m.files, "seed")
	if err != nil {
		return fmt.Errorf("failed to read seeds: %w", err)
	}

	count := 0
	for _, entry := range entries {
		if entry.IsDir() || !seedPattern.MatchString(entry.Name()) {
			continue
		}
		printInfo(fmt.Sprintf("Running seed %s...", entry.Name()))
		if err := m.exec("seed/"+entry.Name(), nil); err != nil {
			return fmt.Errorf("failed to run seed %s: %w", entry.Name(), err)
		}
		count++
	}

	if count == 0 {
		printWarning("No seed files found")
		return nil
	}
	printSuccess(fmt.Sprintf("\n✓ Successfully ran %d seed file(s)", count))
	return nil
}

// exec runs one SQL file and then record inside a single transaction
func (m *migrator) exec(path string, record func(tx *sql.Tx) error) error {
	content, err := fs.ReadFile(m.files, path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(content)); err != nil {
		return fmt.Errorf("failed to execute SQL: %w", err)
	}
	if record != nil {
		if err := record(tx); err != nil {
			return fmt.Errorf("failed to record migration: %w", err)
		}
	}
	return tx.Commit()
}
