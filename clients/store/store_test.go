package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"liqradar/config"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockStore(t *testing.T) (*WhaleStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s := New(db, "postgres", nil)
	s.now = func() time.Time { return time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC) }
	return s, mock
}

func TestNew(t *testing.T) {
	s, _ := newMockStore(t)
	if s.logger == nil {
		t.Error("expected logger to be set")
	}
	if s.driver != "postgres" {
		t.Errorf("unexpected driver: %s", s.driver)
	}
}

func TestOpen_NoDSN(t *testing.T) {
	_, err := Open(context.Background(), nil, config.StoreConfig{Driver: "sqlite3"})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("expected ErrDisabled, got %v", err)
	}
}

func TestOpen_SQLiteInMemory(t *testing.T) {
	s, err := Open(context.Background(), nil, config.StoreConfig{Driver: "sqlite3", DSN: "file::memory:?cache=shared"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.Upsert(ctx, "0xAAA", 150_000); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.Upsert(ctx, "0xaaa", 50_000); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.Upsert(ctx, "0xbbb", 900_000); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	whales, err := s.LoadTopAddresses(ctx, 10)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(whales) != 2 {
		t.Fatalf("expected 2 whales, got %d", len(whales))
	}
	if whales[0].Address != "0xbbb" || whales[1].Address != "0xaaa" {
		t.Errorf("expected volume ordering, got %+v", whales)
	}
	if whales[1].Volume != 200_000 {
		t.Errorf("expected accumulated volume, got %f", whales[1].Volume)
	}

	n, err := s.Count(ctx)
	if err != nil || n != 2 {
		t.Errorf("expected count 2, got %d (%v)", n, err)
	}
}

func TestMigrate(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS whales`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.Migrate(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestUpsert(t *testing.T) {
	tests := []struct {
		name        string
		address     string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError bool
	}{
		{
			name:    "success lower-cases address",
			address: "0xABCDEF",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO whales`).
					WithArgs("0xabcdef", 250_000.0, time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name:    "database error",
			address: "0x1",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO whales`).
					WithArgs("0x1", 250_000.0, sqlmock.AnyArg()).
					WillReturnError(errors.New("connection refused"))
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			tt.mockSetup(mock)

			err := s.Upsert(context.Background(), tt.address, 250_000)
			if tt.expectError && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestLoadTopAddresses(t *testing.T) {
	s, mock := newMockStore(t)

	seen := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT address, volume, first_seen, last_seen FROM whales`).
		WithArgs(100).
		WillReturnRows(sqlmock.NewRows([]string{"address", "volume", "first_seen", "last_seen"}).
			AddRow("0xbig", 5_000_000.0, seen, seen).
			AddRow("0xsmall", 120_000.0, seen, seen))

	whales, err := s.LoadTopAddresses(context.Background(), 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(whales) != 2 {
		t.Fatalf("expected 2 whales, got %d", len(whales))
	}
	if whales[0].Address != "0xbig" || whales[0].Volume != 5_000_000 {
		t.Errorf("unexpected first whale: %+v", whales[0])
	}
	if !whales[1].LastSeen.Equal(seen) {
		t.Errorf("unexpected last seen: %v", whales[1].LastSeen)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestLoadTopAddresses_QueryError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT address`).
		WithArgs(10).
		WillReturnError(errors.New("boom"))

	if _, err := s.LoadTopAddresses(context.Background(), 10); err == nil {
		t.Error("expected error")
	}
}

func TestLoadTopAddresses_ScanError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT address`).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"address", "volume", "first_seen", "last_seen"}).
			AddRow("0xbad", "not-a-number", time.Now(), time.Now()))

	if _, err := s.LoadTopAddresses(context.Background(), 10); err == nil {
		t.Error("expected scan error")
	}
}

func TestClose(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectClose()

	if err := s.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
