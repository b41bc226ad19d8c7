//go:build integration

package integration

import (
	"context"
	"log"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/bissquit/oncall-garden/internal/app"
	"github.com/bissquit/oncall-garden/internal/config"
	"github.com/bissquit/oncall-garden/internal/testutil"
)

const (
	adminEmail    = "admin@example.com"
	adminPassword = "admin123"
)

var (
	testServer  *httptest.Server
	testApp     *app.App
	testDB      *pgxpool.Pool
	adminUserID string

	mailpitClient *MailpitClient
)

// newTestClient creates a fresh unauthenticated client for one test.
func newTestClient() *testutil.Client {
	return testutil.NewClient(testServer.URL)
}

// newAdminClient creates a client logged in as the seeded admin.
func newAdminClient(t *testing.T) *testutil.Client {
	t.Helper()
	client := newTestClient()
	client.LoginAs(t, adminEmail, adminPassword)
	return client
}

func TestMain(m *testing.M) {
	ctx := context.Background()

	pgContainer, err := testutil.NewPostgresContainer(ctx)
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	mailpitContainer, err := testutil.NewMailpitContainer(ctx)
	if err != nil {
		log.Fatalf("start mailpit: %v", err)
	}
	defer func() {
		if err := mailpitContainer.Terminate(ctx); err != nil {
			log.Printf("terminate mailpit: %v", err)
		}
	}()

	mailpitClient = NewMailpitClient(mailpitContainer.APIHost, mailpitContainer.APIPort)

	cfg := &config.Config{
		Server: config.ServerConfig{
			Host:         "127.0.0.1",
			Port:         "0",
			MetricsPort:  "0",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Database: config.DatabaseConfig{
			URL:             pgContainer.ConnectionString,
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 3,
			MigrationsPath:  "../../migrations",
		},
		Log: config.LogConfig{
			Level:  "error",
			Format: "text",
		},
		JWT: config.JWTConfig{
			SecretKey:           "test-secret-key",
			AccessTokenDuration: 15 * time.Minute,
		},
		Ingest: config.IngestConfig{
			// Low burst so the rate limit test trips it with a handful
			// of requests. Each integration key is limited separately.
			RateLimitPerMinute: 60,
			RateLimitBurst:     3,
			ReopenWindow:       30 * time.Minute,
		},
		// Background loops stay parked on long intervals; tests drive
		// sweeps through app.Scheduler() and app.Monitor() directly.
		Escalation: config.EscalationConfig{
			Enabled:         true,
			SweepInterval:   time.Hour,
			NumWorkers:      2,
			BatchSize:       100,
			StaleClaimAfter: 5 * time.Minute,
		},
		SLA: config.SLAConfig{
			Enabled:              false,
			SweepInterval:        time.Hour,
			AckWarningWindow:     5 * time.Minute,
			ResolveWarningWindow: 15 * time.Minute,
		},
		Notifications: config.NotificationsConfig{
			Enabled:            true,
			RateLimitPerMinute: 600,
			RateLimitBurst:     100,
			Retry: config.RetryConfig{
				MaxAttempts:  3,
				InitialDelay: 10 * time.Millisecond,
				MaxDelay:     100 * time.Millisecond,
				Multiplier:   2.0,
			},
			Email: config.EmailConfig{
				Enabled: true,
				Host:    mailpitContainer.SMTPHost,
				Port:    mailpitContainer.SMTPPort,
				From:    "oncall@example.com",
			},
		},
	}

	testApp, err = app.New(cfg)
	if err != nil {
		log.Fatalf("create app: %v", err)
	}

	testDB, err = pgxpool.New(ctx, pgContainer.ConnectionString)
	if err != nil {
		log.Fatalf("create test db pool: %v", err)
	}

	if err := seedAdmin(ctx); err != nil {
		log.Fatalf("seed admin user: %v", err)
	}

	testServer = httptest.NewServer(testApp.Router())

	code := m.Run()

	testServer.Close()
	testDB.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := testApp.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown app: %v", err)
	}

	os.Exit(code)
}

func seedAdmin(ctx context.Context) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.MinCost)
	if err != nil {
		return err
	}

	adminUserID = uuid.NewString()
	_, err = testDB.Exec(ctx,
		`INSERT INTO users (id, name, email, role, password_hash) VALUES ($1, $2, $3, $4, $5)`,
		adminUserID, "Admin", adminEmail, "admin", string(hash))
	return err
}
