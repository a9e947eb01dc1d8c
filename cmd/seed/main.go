package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"
)

// Fixed IDs keep the seed idempotent across runs.
const (
	clientID      = "11111111-1111-4111-8111-111111111111"
	contractorID  = "22222222-2222-4222-8222-222222222222"
	contractor2ID = "33333333-3333-4333-8333-333333333333"

	gardenCategoryID  = "aaaaaaa1-0000-4000-8000-000000000001"
	repairsCategoryID = "aaaaaaa1-0000-4000-8000-000000000002"
	movingCategoryID  = "aaaaaaa1-0000-4000-8000-000000000003"

	fenceTaskID = "bbbbbbb1-0000-4000-8000-000000000001"
	lawnTaskID  = "bbbbbbb1-0000-4000-8000-000000000002"
	sofaTaskID  = "bbbbbbb1-0000-4000-8000-000000000003"

	fenceAssignmentID   = "ccccccc1-0000-4000-8000-000000000001"
	fenceInvoiceID      = "ddddddd1-0000-4000-8000-000000000001"
	fenceConversationID = "eeeeeee1-0000-4000-8000-000000000001"
)

func main() {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	seedCategories(db)
	seedUsers(db)
	seedTasks(db)
	seedWorkedExample(db)

	fmt.Println("Seed complete")
}

func seedCategories(db *sql.DB) {
	categories := []struct {
		id, slug, name string
	}{
		{gardenCategoryID, "garden", "Garden & Outdoors"},
		{repairsCategoryID, "repairs", "Home Repairs"},
		{movingCategoryID, "moving", "Moving & Hauling"},
	}

	for _, c := range categories {
		_, err := db.Exec(`
			INSERT INTO categories (id, slug, name)
			VALUES ($1, $2, $3)
			ON CONFLICT (slug) DO UPDATE SET name = EXCLUDED.name
		`, c.id, c.slug, c.name)
		if err != nil {
			log.Fatal("Failed to seed category: ", err)
		}
	}
	fmt.Println("Seeded categories")
}

func seedUsers(db *sql.DB) {
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.DefaultCost)
	if err != nil {
		log.Fatal(err)
	}

	users := []struct {
		id, email, name, role string
	}{
		{clientID, "maria@example.com", "Maria Petrova", "client"},
		{contractorID, "jonas@example.com", "Jonas Berg", "contractor"},
		{contractor2ID, "ahmed@example.com", "Ahmed Khan", "contractor"},
	}

	for _, u := range users {
		_, err := db.Exec(`
			INSERT INTO users (id, email, password_hash, name, role)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name
		`, u.id, u.email, string(hash), u.name, u.role)
		if err != nil {
			log.Fatal("Failed to seed user: ", err)
		}
	}
	fmt.Println("Seeded users (password: password123)")
}

func seedTasks(db *sql.DB) {
	tasks := []struct {
		id, categoryID, name, description string
		priceCents                        int64
	}{
		{fenceTaskID, repairsCategoryID, "Fix the garden fence", "Two panels blew over in the storm, posts are fine.", 12000},
		{lawnTaskID, gardenCategoryID, "Mow the lawn", "Small back garden, mower provided.", 3500},
		{sofaTaskID, movingCategoryID, "Move a sofa upstairs", "Three-seater, one flight of stairs.", 5000},
	}

	for _, t := range tasks {
		_, err := db.Exec(`
			INSERT INTO tasks (id, client_id, category_id, name, description, price_cents)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET description = EXCLUDED.description
		`, t.id, clientID, t.categoryID, t.name, t.description, t.priceCents)
		if err != nil {
			log.Fatal("Failed to seed task: ", err)
		}
	}
	fmt.Println("Seeded tasks")
}

// seedWorkedExample walks the fence task through the full workflow:
// assigned, completed, accepted, invoiced, with a short chat history.
func seedWorkedExample(db *sql.DB) {
	_, err := db.Exec(`
		INSERT INTO task_assignments (id, task_id, client_id, contractor_id, status, completed_at, accepted_at)
		VALUES ($1, $2, $3, $4, 'ACCEPTED', now() - interval '2 days', now() - interval '1 day')
		ON CONFLICT (task_id) DO NOTHING
	`, fenceAssignmentID, fenceTaskID, clientID, contractorID)
	if err != nil {
		log.Fatal("Failed to seed assignment: ", err)
	}

	_, err = db.Exec(`
		INSERT INTO invoices (id, assignment_id, contractor_id, client_id, number, status, total_cents)
		VALUES ($1, $2, $3, $4, nextval('invoice_numbers'), 'unpaid', 12000)
		ON CONFLICT (id) DO NOTHING
	`, fenceInvoiceID, fenceAssignmentID, contractorID, clientID)
	if err != nil {
		log.Fatal("Failed to seed invoice: ", err)
	}

	var itemCount int
	if err := db.QueryRow("SELECT COUNT(*) FROM invoice_items WHERE invoice_id = $1", fenceInvoiceID).Scan(&itemCount); err != nil {
		log.Fatal(err)
	}
	if itemCount == 0 {
		_, err = db.Exec(`
			INSERT INTO invoice_items (invoice_id, description, quantity, unit_price_cents)
			VALUES ($1, 'Fence panel replacement', 2, 4500),
			       ($1, 'Labour', 1, 3000)
		`, fenceInvoiceID)
		if err != nil {
			log.Fatal("Failed to seed invoice items: ", err)
		}
	}

	_, err = db.Exec(`
		INSERT INTO conversations (id, client_id, contractor_id, task_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, fenceConversationID, clientID, contractorID, fenceTaskID)
	if err != nil {
		log.Fatal("Failed to seed conversation: ", err)
	}

	var messageCount int
	if err := db.QueryRow("SELECT COUNT(*) FROM messages WHERE conversation_id = $1", fenceConversationID).Scan(&messageCount); err != nil {
		log.Fatal(err)
	}
	if messageCount == 0 {
		_, err = db.Exec(`
			INSERT INTO messages (conversation_id, sender_id, content, system, read_at)
			VALUES ($1, $2, 'Hi, can you start this week?', FALSE, now()),
			       ($1, $3, 'Yes, Thursday morning works.', FALSE, now()),
			       ($1, NULL, 'Jonas Berg marked the task as completed', TRUE, NULL),
			       ($1, NULL, 'Maria Petrova accepted the completed work', TRUE, NULL)
		`, fenceConversationID, clientID, contractorID)
		if err != nil {
			log.Fatal("Failed to seed messages: ", err)
		}
	}

	fmt.Println("Seeded worked example (fence task)")
}
