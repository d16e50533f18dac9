package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"wacampaign/internal/config"
)

// ANSI color codes for terminal output
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

// seeded phones share this prefix so -clear only removes generated rows
const phonePrefix = "25470001"

var (
	tenantID      = flag.Int("tenant", 1, "Tenant to seed")
	contactsCount = flag.Int("contacts", 12, "Number of contacts to create")
	clearData     = flag.Bool("clear", false, "Clear existing seed data before inserting")
	showHelp      = flag.Bool("help", false, "Show usage information")
)

var seedTags = []string{"vip", "newsletter", "nairobi", "mombasa"}

func main() {
	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	// Load .env file (ignore error if not present)
	_ = godotenv.Load()

	printInfo("=== wacampaign contact seeder ===\n")

	cfg, err := config.LoadDatabase()
	if err != nil {
		printError(fmt.Sprintf("Failed to load configuration: %v", err))
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.GetDatabaseDSN())
	if err != nil {
		printError(fmt.Sprintf("Failed to open database connection: %v", err))
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		printError(fmt.Sprintf("Failed to ping database: %v", err))
		os.Exit(1)
	}
	printSuccess("✓ Connected to database\n")

	if *clearData {
		if err := clearSeedData(db, *tenantID); err != nil {
			printError(fmt.Sprintf("Failed to clear seed data: %v", err))
			os.Exit(1)
		}
	}

	tags, err := seedTagRows(db, *tenantID)
	if err != nil {
		printError(fmt.Sprintf("Failed to seed tags: %v", err))
		os.Exit(1)
	}

	created, err := seedContacts(db, *tenantID, *contactsCount, tags)
	if err != nil {
		printError(fmt.Sprintf("Failed to seed contacts: %v", err))
		os.Exit(1)
	}

	printInfo("\n=== Seeding Summary ===")
	printSuccess(fmt.Sprintf("✓ Tags available: %d", len(tags)))
	printSuccess(fmt.Sprintf("✓ Contacts created: %d", created))
	for _, name := range seedTags {
		fmt.Printf("  tag %-12s id=%d\n", name, tags[name])
	}
}

func clearSeedData(db *sql.DB, tenant int) error {
	printWarning("Clearing existing seed data...")

	_, err := db.Exec(`DELETE FROM contacts WHERE tenant_id = $1 AND phone LIKE $2`, tenant, phonePrefix+"%")
	if err != nil {
		return fmt.Errorf("failed to delete contacts: %w", err)
	}

	printSuccess("✓ Seed data cleared\n")
	return nil
}

// seedTagRows upserts the tag set and returns name -> id
func seedTagRows(db *sql.DB, tenant int) (map[string]int64, error) {
	ids := make(map[string]int64, len(seedTags))
	for _, name := range seedTags {
		var id int64
		err := db.QueryRow(`
			INSERT INTO tags (tenant_id, name) VALUES ($1, $2)
			ON CONFLICT (tenant_id, name) DO UPDATE SET name = EXCLUDED.name
			RETURNING id
		`, tenant, name).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("failed to upsert tag %s: %w", name, err)
		}
		ids[name] = id
	}
	return ids, nil
}

func seedContacts(db *sql.DB, tenant, count int, tags map[string]int64) (int, error) {
	printInfo(fmt.Sprintf("Seeding %d contacts for tenant %d...", count, tenant))

	firstNames := []string{"Michael", "Sophia", "James", "Olivia", "Daniel", "Emma", "Benjamin", "Ava", "Lucas", "Mia", "Noah", "Isabella"}
	lastNames := []string{"Kamau", "Wanjiku", "Ochieng", "Atieno", "Mwangi", "Akinyi", "Kipchoge", "Chebet", "Mutua", "Omondi"}

	created := 0
	for i := 1; i <= count; i++ {
		phone := fmt.Sprintf("%s%04d", phonePrefix, i)

		// every tenth contact has no name so the "Customer" fallback shows up in previews
		name := ""
		if i%10 != 1 {
			name = firstNames[i%len(firstNames)] + " " + lastNames[i%len(lastNames)]
		}
		var email *string
		if i%3 != 0 {
			e := fmt.Sprintf("contact%d@example.com", i)
			email = &e
		}

		var id int64
		err := db.QueryRow(`
			INSERT INTO contacts (tenant_id, name, phone, email)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (tenant_id, phone) DO NOTHING
			RETURNING id
		`, tenant, name, phone, email).Scan(&id)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("failed to insert contact %s: %w", phone, err)
		}
		created++

		for _, tag := range tagsFor(i) {
			if _, err := db.Exec(`INSERT INTO contact_tags (contact_id, tag_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, id, tags[tag]); err != nil {
				return created, fmt.Errorf("failed to tag contact %s: %w", phone, err)
			}
		}
	}

	printSuccess(fmt.Sprintf("✓ Seeded %d contacts (skipped %d existing)", created, count-created))
	return created, nil
}

// tagsFor spreads contacts over overlapping tags so multi-tag campaigns exercise dedupe
func tagsFor(i int) []string {
	tags := []string{"newsletter"}
	if i%4 == 0 {
		tags = append(tags, "vip")
	}
	if i%2 == 0 {
		tags = append(tags, "nairobi")
	} else {
		tags = append(tags, "mombasa")
	}
	return tags
}

func printSuccess(msg string) {
	fmt.Printf("%s%s%s\n", colorGreen, msg, colorReset)
}

func printError(msg string) {
	fmt.Fprintf(os.Stderr, "%s%s%s\n", colorRed, msg, colorReset)
}

func printInfo(msg string) {
	fmt.Printf("%s%s%s\n", colorCyan, msg, colorReset)
}

func printWarning(msg string) {
	fmt.Printf("%s%s%s\n", colorYellow, msg, colorReset)
}

func printUsage() {
	printInfo("=== wacampaign contact seeder ===\n")
	fmt.Println("Usage: go run ./cmd/seed [flags]")
	fmt.Println("\nFlags:")
	flag.PrintDefaults()
	fmt.Println("\nExamples:")
	fmt.Println("  go run ./cmd/seed")
	fmt.Println("  go run ./cmd/seed -tenant 2 -contacts 50")
	fmt.Println("  go run ./cmd/seed -clear")
}
