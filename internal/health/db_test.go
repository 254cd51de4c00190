package health

import (
	"context"
	"database/sql"
	"errors"
	"testing"
)

func TestDBChecker_Creation(t *testing.T) {
	db := &sql.DB{}

	checker := NewDBChecker(db)
	if checker.db != db {
		t.Error("expected checker db to match provided db")
	}
}

func TestPingFunc(t *testing.T) {
	down := errors.New("pool closed")
	if err := PingFunc(func(context.Context) error { return nil }).HealthCheck(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := PingFunc(func(context.Context) error { return down }).HealthCheck(context.Background()); !errors.Is(err, down) {
		t.Errorf("expected ping error, got %v", err)
	}
}
