package export

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	pgcontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/rowmill/rowmill/pkg/export/migrations"
	"github.com/rowmill/rowmill/pkg/observability/logger"
	"github.com/rowmill/rowmill/pkg/query"
	"github.com/rowmill/rowmill/pkg/store/postgres"
	"github.com/rowmill/rowmill/pkg/testutil"
)

const ordersSchema = `
CREATE TABLE orders (
	id SERIAL PRIMARY KEY,
	customer_name TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)
`

func TestStoreIntegration(t *testing.T) {
	testutil.RequireIntegration(t)

	ctx := context.Background()

	container, err := pgcontainer.Run(ctx,
		"postgres:17-alpine",
		pgcontainer.WithDatabase("testdb"),
		pgcontainer.WithUsername("testuser"),
		pgcontainer.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start PostgreSQL container: %v", err)
	}
	defer func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}()

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	adapter, err := postgres.NewAdapter(postgres.Config{
		URL:          connStr,
		MaxOpenConns: 5,
		MaxIdleConns: 2,
		QueryTimeout: 10 * time.Second,
	}, logger.NewNop())
	if err != nil {
		t.Fatalf("failed to create adapter: %v", err)
	}
	defer adapter.Close()

	applied, err := migrations.Apply(ctx, adapter.DB())
	if err != nil {
		t.Fatalf("failed to apply migrations: %v", err)
	}
	if applied != 1 {
		t.Fatalf("applied %d migrations, want 1", applied)
	}
	if _, err := adapter.DB().ExecContext(ctx, ordersSchema); err != nil {
		t.Fatalf("failed to create orders table: %v", err)
	}

	store := NewStore(adapter, logger.NewNop())

	t.Run("JobLifecycle", func(t *testing.T) {
		file := &File{ID: uuid.New(), Name: "orders", Type: "orders", Format: "csv"}
		job := &Job{ID: uuid.New(), FileID: file.ID, Status: StatusQueued, OperationName: "orders-export"}
		file.Location = ArtifactLocation(file.Type, job.ID, file.Name, file.Format)

		if err := store.CreateFileWithJob(ctx, file, job); err != nil {
			t.Fatalf("CreateFileWithJob: %v", err)
		}

		view, err := store.GetJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if view.Status != StatusQueued || view.FileLocation != file.Location {
			t.Errorf("view = %+v", view)
		}

		if err := store.UpdateJobStatus(ctx, job.ID, StatusProcessing, nil); err != nil {
			t.Fatalf("Queued->Processing: %v", err)
		}
		counters := &Counters{Processed: 7, Imported: 7}
		if err := store.UpdateJobStatus(ctx, job.ID, StatusCompleted, counters); err != nil {
			t.Fatalf("Processing->Completed: %v", err)
		}

		// Terminal means terminal, even against a concurrent writer.
		err = store.UpdateJobStatus(ctx, job.ID, StatusFailed, nil)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("terminal transition error = %v, want ErrInvalidTransition", err)
		}

		view, err = store.GetJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if view.Status != StatusCompleted || view.Processed != 7 {
			t.Errorf("final view = %+v", view)
		}
	})

	t.Run("AtomicCreate", func(t *testing.T) {
		first := &File{ID: uuid.New(), Name: "orders", Format: "csv"}
		job := &Job{ID: uuid.New(), FileID: first.ID, Status: StatusQueued, OperationName: "orders-export"}
		if err := store.CreateFileWithJob(ctx, first, job); err != nil {
			t.Fatalf("CreateFileWithJob: %v", err)
		}

		// Reusing the job id violates the primary key on the second insert,
		// which must also roll the file insert back.
		file := &File{ID: uuid.New(), Name: "orders", Format: "csv"}
		dup := &Job{ID: job.ID, FileID: file.ID, Status: StatusQueued, OperationName: "orders-export"}

		if err := store.CreateFileWithJob(ctx, file, dup); err == nil {
			t.Fatal("expected create to fail")
		}
		var count int
		if err := adapter.DB().QueryRowContext(ctx,
			"SELECT COUNT(*) FROM export_files WHERE id = $1", file.ID).Scan(&count); err != nil {
			t.Fatalf("count files: %v", err)
		}
		if count != 0 {
			t.Error("file row survived a failed joint create")
		}
	})

	t.Run("CompiledQueryStream", func(t *testing.T) {
		_, err := adapter.DB().ExecContext(ctx, `
			INSERT INTO orders (customer_name, status) VALUES
				('Ada', 'open'), ('Grace', 'open'), ('Edsger', 'closed')`)
		if err != nil {
			t.Fatalf("seed orders: %v", err)
		}

		spec := query.FilterSpec{
			"status": {Type: query.ColumnTypeArray, Operators: []query.Operator{query.OpEqual}},
		}
		predicate, err := spec.Compile(query.FilterDocument{
			"status": {Value: []any{"open"}},
		})
		if err != nil {
			t.Fatalf("compile filter: %v", err)
		}

		src, err := NewSQLRowSource(adapter, SourceSpec{
			Table: "orders",
			Columns: []SourceColumn{
				{Header: "Customer", Expr: "customer_name"},
			},
			Where:   predicate.SQL,
			Args:    predicate.Args,
			OrderBy: "customer_name ASC",
		})
		if err != nil {
			t.Fatalf("NewSQLRowSource: %v", err)
		}

		count, err := src.Count(ctx, 100)
		if err != nil {
			t.Fatalf("Count: %v", err)
		}
		if count != 2 {
			t.Errorf("count = %d, want 2", count)
		}

		var customers []string
		if err := src.Stream(ctx, func(row []string) error {
			customers = append(customers, row[0])
			return nil
		}); err != nil {
			t.Fatalf("Stream: %v", err)
		}
		if len(customers) != 2 || customers[0] != "Ada" || customers[1] != "Grace" {
			t.Errorf("customers = %v", customers)
		}
	})
}
