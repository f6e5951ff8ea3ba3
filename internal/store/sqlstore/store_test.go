package sqlstore

import (
	"context"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

var testStore *SQLStore

func SetupTestDB(t *testing.T) {
	var err error
	testStore, err = New("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
}

func TeardownTestDB() {
	testStore.db.Close()
}

func TestRebind(t *testing.T) {
	lite := &SQLStore{driverName: "sqlite3"}
	pg := &SQLStore{driverName: "postgres"}
	pgx := &SQLStore{driverName: "pgx"}

	query := "SELECT * FROM users WHERE id = ? AND username = ?"

	if got := lite.rebind(query); got != query {
		t.Errorf("sqlite rebind changed query: %s", got)
	}
	want := "SELECT * FROM users WHERE id = $1 AND username = $2"
	if got := pg.rebind(query); got != want {
		t.Errorf("postgres rebind: got %q want %q", got, want)
	}
	if got := pgx.rebind(query); got != want {
		t.Errorf("pgx rebind: got %q want %q", got, want)
	}
}

func TestPing(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()

	if err := testStore.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}
