package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/rowmill/rowmill/pkg/observability/logger"
)

func newMockAdapter(t *testing.T) (*Adapter, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewAdapterFromDB(db, Config{}, logger.NewNop()), mock
}

func TestNewAdapter_RequiresURL(t *testing.T) {
	if _, err := NewAdapter(Config{}, logger.NewNop()); err == nil {
		t.Fatal("expected error for empty URL")
	}
}

func TestWithTransaction_Commits(t *testing.T) {
	adapter, mock := newMockAdapter(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE widgets").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := adapter.WithTransaction(context.Background(), func(ctx context.Context) error {
		if _, ok := GetTx(ctx); !ok {
			t.Error("transaction missing from context")
		}
		_, err := adapter.ExecContext(ctx, "UPDATE widgets SET n = 1")
		return err
	})
	if err != nil {
		t.Fatalf("WithTransaction() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	adapter, mock := newMockAdapter(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	wantErr := errors.New("boom")
	err := adapter.WithTransaction(context.Background(), func(ctx context.Context) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("WithTransaction() error = %v, want %v", err, wantErr)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestQueryContext_OutsideTransaction(t *testing.T) {
	adapter, mock := newMockAdapter(t)

	rows := sqlmock.NewRows([]string{"n"}).AddRow(1)
	mock.ExpectQuery("SELECT n FROM widgets").WillReturnRows(rows)

	got, err := adapter.QueryContext(context.Background(), "SELECT n FROM widgets")
	if err != nil {
		t.Fatalf("QueryContext() error = %v", err)
	}
	defer got.Close()
	if !got.Next() {
		t.Fatal("expected one row")
	}
}
