package sink

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"pixdesk/internal/pix"
)

var testPool *pgxpool.Pool

const testSchema = `
CREATE TABLE IF NOT EXISTS submissions (
    id UUID PRIMARY KEY,
    owner_id TEXT NOT NULL,
    display_name TEXT NOT NULL,
    key_type TEXT NOT NULL,
    pix_key TEXT NOT NULL,
    image_ref TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'PENDING',
    reason TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

func TestMain(m *testing.M) {
	if os.Getenv("SKIP_INTEGRATION") != "" {
		os.Exit(0)
	}
	if os.Getenv("CI") == "" && !isDockerAvailable() {
		os.Exit(0)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := postgres.Run(
		ctx,
		"postgres:latest",
		postgres.WithDatabase("pixdesk_test"),
		postgres.WithUsername("pixdesk"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		os.Exit(0)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(context.Background())
		os.Exit(0)
	}

	testPool, err = pgxpool.New(ctx, connStr)
	if err != nil {
		container.Terminate(context.Background())
		os.Exit(0)
	}
	if _, err := testPool.Exec(ctx, testSchema); err != nil {
		container.Terminate(context.Background())
		os.Exit(1)
	}

	code := m.Run()

	testPool.Close()
	container.Terminate(context.Background())
	os.Exit(code)
}

func isDockerAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		return false
	}
	defer provider.Close()

	_, err = provider.DaemonHost(ctx)
	return err == nil
}

func testRecord(t *testing.T, owner string) Record {
	t.Helper()
	key, err := pix.Validate(pix.KeyPhone, "(11) 98888-7777")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	return Record{
		OwnerID:     owner,
		DisplayName: "viewer1",
		KeyType:     pix.KeyPhone,
		Key:         key,
		ImageRef:    "att://proof.png",
	}
}

func TestPostgresStore_SubmitAndList(t *testing.T) {
	store := NewPostgresStore(testPool, nil)
	ctx := context.Background()

	id, err := store.Submit(ctx, testRecord(t, "owner-submit"))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if id == "" {
		t.Fatal("Submit() returned empty id")
	}

	subs, err := store.List(ctx, StatusPending, 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	var found *Submission
	for i := range subs {
		if subs[i].ID == id {
			found = &subs[i]
			break
		}
	}
	if found == nil {
		t.Fatalf("submission %s not in pending list", id)
	}
	if found.PixKey != "11988887777" {
		t.Errorf("stored key = %q, want normalized %q", found.PixKey, "11988887777")
	}
	if found.Status != StatusPending {
		t.Errorf("status = %q, want %q", found.Status, StatusPending)
	}
}

func TestPostgresStore_Review(t *testing.T) {
	store := NewPostgresStore(testPool, nil)
	ctx := context.Background()

	id, err := store.Submit(ctx, testRecord(t, "owner-review"))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	t.Run("approve", func(t *testing.T) {
		sub, err := store.Review(ctx, id, true, "")
		if err != nil {
			t.Fatalf("Review() error = %v", err)
		}
		if sub.Status != StatusApproved {
			t.Errorf("status = %q, want %q", sub.Status, StatusApproved)
		}
	})

	t.Run("reject with reason", func(t *testing.T) {
		sub, err := store.Review(ctx, id, false, "screenshot unreadable")
		if err != nil {
			t.Fatalf("Review() error = %v", err)
		}
		if sub.Status != StatusRejected || sub.Reason != "screenshot unreadable" {
			t.Errorf("review = %+v", sub)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		if _, err := store.Review(ctx, "00000000-0000-0000-0000-000000000000", true, ""); err != ErrNotFound {
			t.Errorf("Review() error = %v, want ErrNotFound", err)
		}
	})
}
