// Package testcontainers starts throwaway PostgreSQL, Redis and MinIO containers for
// integration tests.
package testcontainers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/database"
)

const (
	postgresUser     = "user"
	postgresPassword = "password"
	postgresDB       = "consumer_data"

	minioUser     = "minioadmin"
	minioPassword = "minioadmin"
)

// ServiceManager tracks the containers started for a test run
type ServiceManager struct {
	ctx context.Context

	postgres testcontainers.Container
	redis    testcontainers.Container
	minio    testcontainers.Container

	Postgres  database.Config
	RedisAddr string

	// MinioEndpoint is host:port of the S3 API; the credentials are the server's root user.
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
}

// NewServiceManager creates a new service manager
func NewServiceManager(ctx context.Context) *ServiceManager {
	return &ServiceManager{ctx: ctx}
}

// StartPostgres starts a PostgreSQL container and records its connection settings
func (sm *ServiceManager) StartPostgres() error {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     postgresUser,
			"POSTGRES_PASSWORD": postgresPassword,
			"POSTGRES_DB":       postgresDB,
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(sm.ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return fmt.Errorf("failed to start postgres: %w", err)
	}
	sm.postgres = container

	host, err := container.Host(sm.ctx)
	if err != nil {
		return err
	}
	port, err := container.MappedPort(sm.ctx, "5432")
	if err != nil {
		return err
	}

	sm.Postgres = database.Config{
		Host:     host,
		Port:     port.Port(),
		User:     postgresUser,
		Password: postgresPassword,
		Name:     postgresDB,
		SSLMode:  "disable",
	}
	return nil
}

// StartRedis starts a Redis container
func (sm *ServiceManager) StartRedis() error {
	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor: wait.ForLog("Ready to accept connections").
			WithStartupTimeout(30 * time.Second),
	}

	container, err := testcontainers.GenericContainer(sm.ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return fmt.Errorf("failed to start redis: %w", err)
	}
	sm.redis = container

	host, err := container.Host(sm.ctx)
	if err != nil {
		return err
	}
	port, err := container.MappedPort(sm.ctx, "6379")
	if err != nil {
		return err
	}

	sm.RedisAddr = fmt.Sprintf("%s:%s", host, port.Port())
	return nil
}

// StartMinio starts a MinIO server exposing the S3 API
func (sm *ServiceManager) StartMinio() error {
	req := testcontainers.ContainerRequest{
		Image:        "minio/minio:RELEASE.2024-01-16T16-07-38Z",
		ExposedPorts: []string{"9000/tcp"},
		Cmd:          []string{"server", "/data"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     minioUser,
			"MINIO_ROOT_PASSWORD": minioPassword,
		},
		WaitingFor: wait.ForHTTP("/minio/health/live").
			WithPort("9000/tcp").
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(sm.ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return fmt.Errorf("failed to start minio: %w", err)
	}
	sm.minio = container

	host, err := container.Host(sm.ctx)
	if err != nil {
		return err
	}
	port, err := container.MappedPort(sm.ctx, "9000")
	if err != nil {
		return err
	}

	sm.MinioEndpoint = fmt.Sprintf("%s:%s", host, port.Port())
	sm.MinioAccessKey = minioUser
	sm.MinioSecretKey = minioPassword
	return nil
}

// Cleanup terminates every started container
func (sm *ServiceManager) Cleanup() error {
	var errs []error
	for _, container := range []testcontainers.Container{sm.postgres, sm.redis, sm.minio} {
		if container == nil {
			continue
		}
		if err := container.Terminate(sm.ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
