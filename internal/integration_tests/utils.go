package integrationtests

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"netguard-backend/internal/bridge"
	"netguard-backend/internal/database"
	"netguard-backend/internal/messaging"
	"netguard-backend/internal/storage"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/minio"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"
)

const (
	jobBucket = "test-training-jobs"

	minioUsername = "admin"
	minioPassword = "password"
)

func createDB(t *testing.T) *gorm.DB {
	uri := setupPostgresContainer(t, context.Background())
	db, err := database.NewDatabase(uri)
	require.NoError(t, err)

	return db
}

func setupPostgresContainer(t *testing.T, ctx context.Context) string {
	testcontainers.SkipIfProviderIsNotHealthy(t)

	dbName, dbUser, dbPassword := "test_db", "test_user", "test_password"

	postgresContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	t.Cleanup(func() {
		err := postgresContainer.Terminate(context.Background())
		require.NoError(t, err, "Failed to terminate PostgreSQL container")
	})

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "Failed to get PostgreSQL connection string")

	return connStr
}

func setupMinioContainer(t *testing.T, ctx context.Context) *storage.S3Provider {
	testcontainers.SkipIfProviderIsNotHealthy(t)

	minioContainer, err := minio.Run(
		ctx,
		"minio/minio:RELEASE.2024-01-16T16-07-38Z",
		minio.WithUsername(minioUsername),
		minio.WithPassword(minioPassword),
	)
	require.NoError(t, err, "Failed to start MinIO container")

	t.Cleanup(func() {
		err := minioContainer.Terminate(context.Background())
		require.NoError(t, err, "Failed to terminate MinIO container")
	})

	connStr, err := minioContainer.ConnectionString(ctx)
	require.NoError(t, err, "Failed to get MinIO connection string")

	s3p, err := storage.NewS3Provider(ctx, storage.S3ProviderConfig{
		S3EndpointURL:     "http://" + connStr,
		S3AccessKeyID:     minioUsername,
		S3SecretAccessKey: minioPassword,
		S3Region:          "us-east-1",
	})
	require.NoError(t, err, "Failed to create S3 provider")

	return s3p
}

func setupRabbitMQContainer(t *testing.T, ctx context.Context) (*messaging.RabbitMQPublisher, *messaging.RabbitMQReceiver) {
	testcontainers.SkipIfProviderIsNotHealthy(t)

	rabbitmqContainer, err := rabbitmq.Run(ctx, "rabbitmq:3.12.11-management-alpine")
	require.NoError(t, err, "Failed to start RabbitMQ container")

	t.Cleanup(func() {
		err := rabbitmqContainer.Terminate(context.Background())
		require.NoError(t, err, "Failed to terminate RabbitMQ container")
	})

	connStr, err := rabbitmqContainer.AmqpURL(ctx)
	require.NoError(t, err, "Failed to get RabbitMQ AMQP URL")

	publisher, err := messaging.NewRabbitMQPublisher(connStr)
	require.NoError(t, err)
	t.Cleanup(publisher.Close)

	receiver, err := messaging.NewRabbitMQReceiver(connStr)
	require.NoError(t, err)
	t.Cleanup(receiver.Close)

	return publisher, receiver
}

// stubRunners returns specs whose runners answer every command with payload.
func stubRunners(t *testing.T, payload string) map[bridge.ModelKind]bridge.RunnerSpec {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}

	path := filepath.Join(t.TempDir(), "runner.sh")
	script := fmt.Sprintf("read -r line\necho '%s'\n", payload)
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))

	specs := make(map[bridge.ModelKind]bridge.RunnerSpec)
	for _, kind := range bridge.Kinds {
		specs[kind] = bridge.RunnerSpec{Path: sh, Args: []string{path}, Timeout: 10 * time.Second}
	}
	return specs
}

func httpRequest(api http.Handler, method, endpoint string, payload any, wantStatus int, dest any) error {
	var body io.Reader
	if payload != nil {
		requestBody, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(requestBody)
	}

	req := httptest.NewRequest(method, endpoint, body)
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	api.ServeHTTP(rr, req)

	if rr.Code != wantStatus {
		return fmt.Errorf("expected status code %d, got %d: %v", wantStatus, rr.Code, rr.Body.String())
	}

	if dest != nil {
		if err := json.Unmarshal(rr.Body.Bytes(), dest); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}
