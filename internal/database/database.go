package database

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/joho/godotenv/autoload"
)

// Service wraps the Postgres connection pool that backs the submission store.
type Service interface {
	// Pool exposes the underlying pgx pool for repositories.
	Pool() *pgxpool.Pool

	// Health reports connectivity and pool statistics.
	Health() map[string]string

	Close() error
}

type service struct {
	pool *pgxpool.Pool
}

var (
	database   = os.Getenv("PIXDESK_DB_DATABASE")
	password   = os.Getenv("PIXDESK_DB_PASSWORD")
	username   = os.Getenv("PIXDESK_DB_USERNAME")
	port       = os.Getenv("PIXDESK_DB_PORT")
	host       = os.Getenv("PIXDESK_DB_HOST")
	schema     = os.Getenv("PIXDESK_DB_SCHEMA")
	dbInstance *service
)

func New() Service {
	if dbInstance != nil {
		return dbInstance
	}

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		username, password, host, port, database, schemaOrPublic())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("[DB] Invalid connection config: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("[DB] Connection failed: %v", err)
	}

	log.Println("[DB] Postgres connected successfully")

	dbInstance = &service{pool: pool}
	return dbInstance
}

func schemaOrPublic() string {
	if schema == "" {
		return "public"
	}
	return schema
}

func (s *service) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	stats := make(map[string]string)

	if err := s.pool.Ping(ctx); err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		return stats
	}

	stats["status"] = "up"
	stats["message"] = "It's healthy"

	poolStats := s.pool.Stat()
	stats["total_conns"] = strconv.FormatInt(int64(poolStats.TotalConns()), 10)
	stats["idle_conns"] = strconv.FormatInt(int64(poolStats.IdleConns()), 10)
	stats["acquired_conns"] = strconv.FormatInt(int64(poolStats.AcquiredConns()), 10)
	stats["acquire_count"] = strconv.FormatInt(poolStats.AcquireCount(), 10)

	return stats
}

func (s *service) Close() error {
	log.Printf("[DB] Disconnecting from database: %s", database)
	s.pool.Close()
	dbInstance = nil
	return nil
}
