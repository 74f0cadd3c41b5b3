package migrations

import (
	"context"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestApplyExecutesAllMigrations(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS users").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS service_requests").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS reviews").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := Apply(context.Background(), db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEveryUpHasDown(t *testing.T) {
	ups, err := UpFiles()
	if err != nil {
		t.Fatalf("up files: %v", err)
	}
	downs, err := DownFiles()
	if err != nil {
		t.Fatalf("down files: %v", err)
	}
	if len(ups) != len(downs) {
		t.Fatalf("got %d up and %d down migrations", len(ups), len(downs))
	}
	for i, up := range ups {
		want := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		if got := downs[len(downs)-1-i]; got != want {
			t.Fatalf("down for %s = %s, want %s", up, got, want)
		}
	}
}
