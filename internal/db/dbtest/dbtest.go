// Package dbtest provisions a PostgreSQL database for integration tests.
//
// An existing server is used when DB_HOST_TEST is set. With DB_TEST_DOCKER=1 a
// throwaway postgres container is started through the Docker Engine API.
// Otherwise Start returns ErrNotConfigured and callers skip.
package dbtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mthsnx/caffe-diem/internal/config"
	"github.com/mthsnx/caffe-diem/internal/db"
	"github.com/rs/zerolog/log"
)

const (
	postgresImage    = "postgres:16-alpine"
	postgresPassword = "123456"
	postgresDB       = "cafe_diem_test"
	readyTimeout     = 30 * time.Second
)

var ErrNotConfigured = errors.New("dbtest: neither DB_HOST_TEST nor DB_TEST_DOCKER=1 is set")

// Start returns a migrated database config and a cleanup func.
func Start(ctx context.Context) (config.PostgresConfig, func(), error) {
	cfg := config.PostgresConfig{
		Host:            os.Getenv("DB_HOST_TEST"),
		Port:            getEnv("DB_PORT_TEST", "5432"),
		User:            getEnv("DB_USER_TEST", "postgres"),
		Password:        getEnv("DB_PASSWORD_TEST", postgresPassword),
		DBName:          getEnv("DB_NAME_TEST", postgresDB),
		SSLMode:         "disable",
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: 30 * time.Minute,
		MigrationsPath:  MigrationsPath(),
	}
	cleanup := func() {}

	switch {
	case cfg.Host != "":
	case os.Getenv("DB_TEST_DOCKER") == "1":
		var err error
		cfg, cleanup, err = startContainer(ctx, cfg)
		if err != nil {
			return cfg, nil, err
		}
	default:
		return cfg, nil, ErrNotConfigured
	}

	if err := waitReady(ctx, cfg); err != nil {
		cleanup()
		return cfg, nil, err
	}
	if err := db.Migrate(cfg); err != nil {
		cleanup()
		return cfg, nil, err
	}

	return cfg, cleanup, nil
}

// MigrationsPath locates the repository's migrations directory.
func MigrationsPath() string {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "migrations"
	}
	return filepath.Join(filepath.Dir(filename), "..", "..", "..", "migrations")
}

func startContainer(ctx context.Context, cfg config.PostgresConfig) (config.PostgresConfig, func(), error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return cfg, nil, fmt.Errorf("dbtest: failed to create docker client: %w", err)
	}

	reader, err := cli.ImagePull(ctx, postgresImage, image.PullOptions{})
	if err != nil {
		_ = cli.Close()
		return cfg, nil, fmt.Errorf("dbtest: failed to pull %s: %w", postgresImage, err)
	}
	_, _ = io.Copy(io.Discard, reader)
	_ = reader.Close()

	port := nat.Port("5432/tcp")
	created, err := cli.ContainerCreate(ctx,
		&container.Config{
			Image: postgresImage,
			Env: []string{
				"POSTGRES_USER=" + cfg.User,
				"POSTGRES_PASSWORD=" + cfg.Password,
				"POSTGRES_DB=" + cfg.DBName,
			},
			ExposedPorts: nat.PortSet{port: struct{}{}},
		},
		&container.HostConfig{
			PortBindings: nat.PortMap{port: []nat.PortBinding{{HostIP: "127.0.0.1"}}},
		},
		nil, nil, "")
	if err != nil {
		_ = cli.Close()
		return cfg, nil, fmt.Errorf("dbtest: failed to create container: %w", err)
	}

	cleanup := func() {
		rmCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := cli.ContainerRemove(rmCtx, created.ID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
			log.Warn().Err(err).Str("container_id", created.ID).Msg("dbtest: failed to remove container")
		}
		_ = cli.Close()
	}

	if err := cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		cleanup()
		return cfg, nil, fmt.Errorf("dbtest: failed to start container: %w", err)
	}

	inspect, err := cli.ContainerInspect(ctx, created.ID)
	if err != nil {
		cleanup()
		return cfg, nil, fmt.Errorf("dbtest: failed to inspect container: %w", err)
	}
	bindings := inspect.NetworkSettings.Ports[port]
	if len(bindings) == 0 {
		cleanup()
		return cfg, nil, errors.New("dbtest: postgres port is not published")
	}

	cfg.Host = "127.0.0.1"
	cfg.Port = bindings[0].HostPort
	log.Info().Str("container_id", created.ID[:12]).Str("port", cfg.Port).Msg("dbtest: postgres container started")

	return cfg, cleanup, nil
}

func waitReady(ctx context.Context, cfg config.PostgresConfig) error {
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	var lastErr error
	for {
		pool, err := pgxpool.New(ctx, cfg.DSN())
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return fmt.Errorf("dbtest: postgres not ready: %w", lastErr)
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
