package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/pricetrack/storemesh"
	"github.com/pricetrack/storemesh/store"
	"github.com/pricetrack/storemesh/store/memory"
	mongostore "github.com/pricetrack/storemesh/store/mongo"
	"github.com/pricetrack/storemesh/store/postgres"
	redisstore "github.com/pricetrack/storemesh/store/redis"
	"github.com/pricetrack/storemesh/store/sqlite"
)

// backendFlags selects the backends. An empty address means the in-memory
// backend for that concern.
type backendFlags struct {
	MongoURI    string
	MongoDB     string
	PostgresDSN string
	SQLitePath  string
	RedisAddr   string
	RedisDB     int
}

func defaultBackendFlags() backendFlags {
	return backendFlags{
		MongoURI:    getenv("MONGO_URI", ""),
		MongoDB:     getenv("MONGO_DB", "pricetrack"),
		PostgresDSN: getenv("POSTGRES_DSN", ""),
		SQLitePath:  getenv("SQLITE_PATH", ""),
		RedisAddr:   getenv("REDIS_ADDR", ""),
		RedisDB:     atoienv("REDIS_DB", 0),
	}
}

// openBackends connects the selected backends. On error, whatever was
// already opened is closed.
func openBackends(ctx context.Context, f backendFlags, cfg storemesh.Config, logger *slog.Logger) (_ *store.Set, err error) {
	if f.PostgresDSN != "" && f.SQLitePath != "" {
		return nil, errors.New("choose one of --postgres-dsn and --sqlite-path")
	}

	set := &store.Set{}
	defer func() {
		if err != nil {
			_ = set.Close()
		}
	}()

	var mem *memory.Store
	inMemory := func() *memory.Store {
		if mem == nil {
			mem = memory.New()
		}
		return mem
	}

	switch {
	case f.PostgresDSN != "":
		pg, err := postgres.New(ctx, f.PostgresDSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		set.OnClose(pg.Close)
		set.Refs, set.Notifier = pg, pg
	case f.SQLitePath != "":
		sl, err := sqlite.Open(f.SQLitePath, sqlite.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		set.OnClose(sl.Close)
		set.Refs, set.Notifier = sl, sl
	default:
		logger.Warn("no reference store configured, using in-memory store")
		set.Refs, set.Notifier = inMemory(), inMemory()
	}

	if f.MongoURI != "" {
		client, err := mongod.Connect(options.Client().ApplyURI(f.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		set.OnClose(func() error { return client.Disconnect(context.Background()) })
		set.Records = mongostore.New(client.Database(f.MongoDB), mongostore.WithLogger(logger))
	} else {
		logger.Warn("no record store configured, using in-memory store")
		set.Records = inMemory()
	}

	if f.RedisAddr != "" {
		rdb := goredis.NewClient(&goredis.Options{Addr: f.RedisAddr, DB: f.RedisDB})
		set.OnClose(rdb.Close)
		set.Cache = redisstore.NewCache(rdb, redisstore.WithLogger(logger))
		set.Queue = redisstore.NewQueue(rdb,
			redisstore.WithLogger(logger),
			redisstore.WithVisibilityTimeout(cfg.VisibilityTimeout),
		)
	} else {
		logger.Warn("no redis configured, using in-memory cache and queue")
		set.Cache = memory.NewCache()
		set.Queue = memory.NewQueue(memory.WithVisibilityTimeout(cfg.VisibilityTimeout))
	}

	return set, set.Validate()
}
