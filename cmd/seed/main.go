package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/lib/pq"

	"socialcrm/internal/config"
)

// ANSI color codes for terminal output
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorCyan   = "\033[36m"
	colorYellow = "\033[33m"
)

var (
	contactsCount  = flag.Int("contacts", 20, "Number of contacts to create")
	campaignsCount = flag.Int("campaigns", 3, "Number of draft campaigns to create")
	pageID         = flag.String("page", "page_1001", "Page ID to seed under")
	clearData      = flag.Bool("clear", false, "Clear existing data before inserting")
)

var firstNames = []string{"Amina", "Brian", "Chebet", "Daniel", "Esther", "Felix", "Grace", "Hassan", "Irene", "Joseph"}
var lastNames = []string{"Otieno", "Wanjiku", "Kiprop", "Mwangi", "Achieng", "Njoroge", "Kamau", "Abdalla", "Nyambura", "Odhiambo"}
var tagPool = [][]string{
	{"vip", "newsletter"},
	{"newsletter"},
	{"vip"},
	{"lead"},
	{"lead", "newsletter"},
}

func main() {
	flag.Parse()

	// Load .env file (ignore error if not present)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		printError(fmt.Sprintf("Failed to load configuration: %v", err))
		os.Exit(1)
	}

	printInfo("Connecting to database...")
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
		printWarning("Clearing existing data...")
		for _, table := range []string{"messages", "campaigns", "contacts"} {
			if _, err := db.Exec("DELETE FROM " + table); err != nil {
				printError(fmt.Sprintf("Failed to clear %s: %v", table, err))
				os.Exit(1)
			}
		}
	}

	if err := seedContacts(db); err != nil {
		printError(fmt.Sprintf("Failed to seed contacts: %v", err))
		os.Exit(1)
	}

	if err := seedCampaigns(db); err != nil {
		printError(fmt.Sprintf("Failed to seed campaigns: %v", err))
		os.Exit(1)
	}

	printSuccess(fmt.Sprintf("\n✓ Seeded %d contacts and %d campaigns under %s", *contactsCount, *campaignsCount, *pageID))
}

func seedContacts(db *sql.DB) error {
	printInfo(fmt.Sprintf("Creating %d contacts...", *contactsCount))

	for i := 0; i < *contactsCount; i++ {
		firstName := firstNames[i%len(firstNames)]
		lastName := lastNames[(i/len(firstNames))%len(lastNames)]
		tags := tagPool[i%len(tagPool)]

		// Every third contact is Instagram-only so resolution has both
		// platforms to work with.
		var messengerPSID, instagramSID sql.NullString
		if i%3 == 2 {
			instagramSID = sql.NullString{String: fmt.Sprintf("ig_%s_%04d", *pageID, i), Valid: true}
		} else {
			messengerPSID = sql.NullString{String: fmt.Sprintf("psid_%s_%04d", *pageID, i), Valid: true}
			if i%5 == 0 {
				instagramSID = sql.NullString{String: fmt.Sprintf("ig_%s_%04d", *pageID, i), Valid: true}
			}
		}

		_, err := db.Exec(`
			INSERT INTO contacts (page_id, first_name, last_name, messenger_psid, instagram_sid, tags)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			*pageID, firstName, lastName, messengerPSID, instagramSID, pq.Array(tags),
		)
		if err != nil {
			return err
		}
	}

	return nil
}

func seedCampaigns(db *sql.DB) error {
	printInfo(fmt.Sprintf("Creating %d draft campaigns...", *campaignsCount))

	templates := []struct {
		name     string
		platform string
		tag      string
		template string
		targets  []string
	}{
		{"VIP launch update", "messenger", "CONFIRMED_EVENT_UPDATE", "Hi {first_name}, doors open this Friday. See you there!", []string{"vip"}},
		{"Newsletter teaser", "messenger", "", "Hello {full_name}, our October issue just dropped.", []string{"newsletter"}},
		{"Instagram drop", "instagram", "", "Hey {first_name}, the new collection is live.", []string{}},
	}

	for i := 0; i < *campaignsCount; i++ {
		t := templates[i%len(templates)]
		name := t.name
		if i >= len(templates) {
			name = fmt.Sprintf("%s #%d", t.name, i/len(templates)+1)
		}

		_, err := db.Exec(`
			INSERT INTO campaigns (page_id, name, platform, message_tag, template, target_tags, status)
			VALUES ($1, $2, $3, $4, $5, $6, 'draft')`,
			*pageID, name, t.platform, t.tag, t.template, pq.Array(t.targets),
		)
		if err != nil {
			return err
		}
	}

	return nil
}

func printInfo(msg string)    { fmt.Println(colorCyan + msg + colorReset) }
func printSuccess(msg string) { fmt.Println(colorGreen + msg + colorReset) }
func printWarning(msg string) { fmt.Println(colorYellow + msg + colorReset) }
func printError(msg string)   { fmt.Println(colorRed + msg + colorReset) }
