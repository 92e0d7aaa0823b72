package startup

import (
	"fmt"
	"os"
	"path/filepath"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"

	"github.com/jobchat/internal/config"
	"github.com/jobchat/internal/logger"
)

// StartEmbeddedPostgres поднимает локальный PostgreSQL в ./.pgdata (режим --dev)
// и направляет на него cfg.Database.URL. Остановка — на стороне вызывающего.
func StartEmbeddedPostgres(cfg *config.Config, port uint32) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		user     = "jobchat"
		password = "jobchat_secret"
		database = "jobchat"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "jobchat-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
