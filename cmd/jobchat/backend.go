package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jobchat/internal/broker"
	"github.com/jobchat/internal/config"
	"github.com/jobchat/internal/fileserver"
	"github.com/jobchat/internal/handler"
	"github.com/jobchat/internal/logger"
	"github.com/jobchat/internal/repository"
	"github.com/jobchat/internal/service"
	"github.com/jobchat/internal/startup"
	"github.com/jobchat/internal/storage"
	"github.com/jobchat/internal/storage/memory"
	redisstorage "github.com/jobchat/internal/storage/redis"
)

const embeddedPostgresPort = 5433

// closers выполняются при остановке в обратном порядке.
type closers []func()

func (c *closers) add(f func()) { *c = append(*c, f) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

type repos struct {
	chats   service.ChatRepo
	posts   service.PostRepo
	markers service.MarkerRepo
	users   service.UserRepo
}

// openStore подключает хранилище из конфига. При migrateOnly возвращается
// после миграций с done == true.
func openStore(ctx context.Context, cfg *config.Config, dev, migrateOnly bool, cl *closers) (r repos, done bool, err error) {
	if cfg.Store == "memory" {
		logger.Info("store: in-memory (data is lost on restart)")
		s := memory.NewStore()
		return repos{chats: s.Chats(), posts: s.Posts(), markers: s.Markers(), users: s.Users()}, migrateOnly, nil
	}

	if dev {
		db, err := startup.StartEmbeddedPostgres(cfg, embeddedPostgresPort)
		if err != nil {
			return r, false, fmt.Errorf("embedded postgres: %w", err)
		}
		cl.add(func() {
			logger.Info("stopping embedded postgres...")
			if err := db.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		})
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return r, false, fmt.Errorf("parse db config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 2

	pool, err := startup.ConnectDBWithRetry(ctx, poolCfg, 60*time.Second)
	if err != nil {
		return r, false, err
	}
	cl.add(pool.Close)

	if err := startup.RunMigrations(ctx, pool); err != nil {
		return r, false, err
	}
	logger.Info("database connected, migrations applied")
	if migrateOnly && !dev {
		return r, true, nil
	}
	return repos{
		chats:   repository.NewChatRepository(pool),
		posts:   repository.NewPostRepository(pool),
		markers: repository.NewReadMarkerRepository(pool),
		users:   repository.NewUserRepository(pool),
	}, false, nil
}

// openKV возвращает хранилище токенов и подписок, а для Redis ещё и клиент,
// чтобы брокер использовал то же соединение.
func openKV(ctx context.Context, cfg *config.Config, cl *closers) (storage.KV, *redisstorage.Client, error) {
	if cfg.KV != "redis" {
		return memory.New(), nil, nil
	}
	cli, err := startup.ConnectRedisWithRetry(ctx, cfg.RedisURL, 60*time.Second)
	if err != nil {
		return nil, nil, err
	}
	cl.add(func() { _ = cli.Close() })
	return cli, cli, nil
}

func openBroker(ctx context.Context, cfg *config.Config, dev bool, rds *redisstorage.Client, cl *closers) (broker.Broker, error) {
	switch cfg.Broker {
	case "redis":
		if rds == nil {
			var err error
			rds, err = startup.ConnectRedisWithRetry(ctx, cfg.RedisURL, 60*time.Second)
			if err != nil {
				return nil, err
			}
			cl.add(func() { _ = rds.Close() })
		}
		logger.Info("broker: redis pub/sub")
		return broker.NewRedis(rds.Redis()), nil
	case "nats":
		url := cfg.NATSURL
		if dev {
			ns, err := broker.StartEmbeddedNATS()
			if err != nil {
				return nil, err
			}
			cl.add(ns.Shutdown)
			url = ns.ClientURL()
		}
		b, err := broker.ConnectNATS(url)
		if err != nil {
			return nil, err
		}
		cl.add(func() { _ = b.Close() })
		logger.Infof("broker: nats at %s", url)
		return b, nil
	default:
		return broker.NewLocal(), nil
	}
}

// openUploader выбирает Cloudinary, если он настроен. Второй результат не nil,
// когда файлы хранятся локально и нужен маршрут для их раздачи.
func openUploader(cfg *config.Config) (fileserver.Uploader, *fileserver.Local, error) {
	if cfg.Cloudinary.Enabled() {
		c, err := fileserver.NewCloudinary(cfg.Cloudinary.CloudName, cfg.Cloudinary.APIKey, cfg.Cloudinary.APISecret, cfg.Cloudinary.Folder)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("attachments: cloudinary")
		return c, nil, nil
	}
	local := fileserver.NewLocal(cfg.UploadDir, handler.FilesPath(cfg))
	return local, local, nil
}
