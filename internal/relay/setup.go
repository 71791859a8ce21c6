package relay

import (
	"context"
	"fmt"

	"github.com/binacloud/relay/internal/config"
	"github.com/binacloud/relay/internal/storage"
	"github.com/binacloud/relay/internal/transport"
)

const redisKeyPrefix = "relay:"

// OpenStore opens the storage backend selected by cfg.
func OpenStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	var (
		store storage.Store
		err   error
	)
	switch cfg.Store {
	case config.StoreSQLite:
		var s *storage.SQLiteStore
		if s, err = storage.OpenSQLite(cfg.StorePath); err == nil {
			store = s
		}
	case config.StoreRedis:
		var s *storage.RedisStore
		if s, err = storage.OpenRedis(ctx, cfg.RedisAddr, "", 0, redisKeyPrefix); err == nil {
			store = s
		}
	case config.StoreFile:
		var s *storage.FileStore
		if s, err = storage.NewFileStore(cfg.StorePath); err == nil {
			store = s
		}
	case config.StoreMemory:
		store = storage.NewMemoryStore()
	default:
		err = fmt.Errorf("unknown store %q", cfg.Store)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}

// NewDialer returns the transport selected by cfg.
func NewDialer(cfg *config.Config) transport.Dialer {
	if cfg.Transport == config.TransportSocketIO {
		return &transport.SocketIODialer{}
	}
	return &transport.StompDialer{
		UpgradePath: cfg.UpgradePath,
		HeartBeat:   cfg.HeartBeat,
	}
}

// FromConfig builds Options from cfg around an already opened store.
func FromConfig(cfg *config.Config, store storage.Store) Options {
	return Options{
		Store:            store,
		Dialer:           NewDialer(cfg),
		Topic:            cfg.Topic,
		DefaultServerURL: cfg.ServerURL,
		ReconnectDelay:   cfg.ReconnectDelay,
	}
}
