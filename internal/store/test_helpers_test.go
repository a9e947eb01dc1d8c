package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

const testDBURLKey = "TASKYARD_TEST_DATABASE_URL"

func getTestDatabaseURL(t *testing.T) string {
	t.Helper()
	connStr := os.Getenv(testDBURLKey)
	if connStr == "" {
		t.Skipf("set %s to a dedicated test database", testDBURLKey)
	}
	return connStr
}

func getMigrationsDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.Abs(filepath.Join("..", "..", "migrations"))
	require.NoError(t, err)
	return dir
}

func setupTestDatabase(t *testing.T) *sql.DB {
	t.Helper()
	connStr := getTestDatabaseURL(t)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)

	_, err = db.Exec("CREATE EXTENSION IF NOT EXISTS pgcrypto")
	require.NoError(t, err)

	m, err := migrate.New("file://"+getMigrationsDir(t), connStr)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = m.Close()
	})

	err = m.Down()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		require.NoError(t, err)
	}

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		require.NoError(t, err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

func ctx() context.Context {
	return context.Background()
}

var testUserSeq int

func createTestUser(t *testing.T, db *sql.DB, role string) *User {
	t.Helper()
	testUserSeq++
	email := fmt.Sprintf("%s%d@example.com", role, testUserSeq)

	var u User
	err := db.QueryRow(
		`INSERT INTO users (email, password_hash, name, role)
		 VALUES ($1, 'x', $2, $3)
		 RETURNING id, email, name, role`,
		email, "Test "+role, role,
	).Scan(&u.ID, &u.Email, &u.Name, &u.Role)
	require.NoError(t, err)
	return &u
}

func createTestTask(t *testing.T, db *sql.DB, clientID string, priceCents int64) *Task {
	t.Helper()
	tasks := NewTaskStore(db)
	task, err := tasks.Create(ctx(), CreateTaskInput{
		ClientID:   clientID,
		Name:       "Test task",
		PriceCents: priceCents,
	})
	require.NoError(t, err)
	return task
}

func createTestAssignment(t *testing.T, db *sql.DB) (*Assignment, *User, *User) {
	t.Helper()
	client := createTestUser(t, db, RoleClient)
	contractor := createTestUser(t, db, RoleContractor)
	task := createTestTask(t, db, client.ID, 5000)

	assignment, err := NewAssignmentStore(db).Create(ctx(), task.ID, client.ID, contractor.ID)
	require.NoError(t, err)
	return assignment, client, contractor
}

func acceptTestAssignment(t *testing.T, db *sql.DB, a *Assignment) *Assignment {
	t.Helper()
	assignments := NewAssignmentStore(db)

	current := a
	var err error
	for _, step := range []struct{ actor, to string }{
		{a.ContractorID, StatusInProgress},
		{a.ContractorID, StatusCompleted},
		{a.ClientID, StatusAccepted},
	} {
		current, err = assignments.UpdateStatus(ctx(), a.ID, step.actor, step.to)
		require.NoError(t, err)
	}
	return current
}
