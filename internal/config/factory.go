package config

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pfrederiksen/homegames/internal/calendar"
	"github.com/pfrederiksen/homegames/internal/crypto"
	"github.com/pfrederiksen/homegames/internal/export"
	"github.com/pfrederiksen/homegames/internal/notifier"
	"github.com/pfrederiksen/homegames/internal/scraper"
	"github.com/pfrederiksen/homegames/internal/storage"
)

// State backends.
const (
	BackendDir   = "dir"
	BackendBolt  = "bolt"
	BackendRedis = "redis"
	BackendGist  = "gist"
)

// Backend is an opened remote store together with the run lock that guards
// it.
type Backend struct {
	Store  storage.Store
	Locker storage.Locker
	close  func() error
}

// Close releases connections and file handles held by the store.
func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// OpenBackend opens the configured state backend. The dir and gist backends
// are guarded by a file lock, redis by a lock key with a TTL. bbolt holds an
// exclusive lock on its file while open, which covers the whole run.
func (c *Config) OpenBackend(ctx context.Context) (*Backend, error) {
	s := c.State
	switch s.Backend {
	case BackendDir:
		store, err := storage.NewDirStore(s.Dir)
		if err != nil {
			return nil, err
		}
		lock, err := storage.NewFileLock(s.Lock.Path)
		if err != nil {
			return nil, err
		}
		return &Backend{Store: store, Locker: lock}, nil

	case BackendBolt:
		store, err := storage.NewBoltStore(s.Bolt.Path, seconds(s.Bolt.TimeoutSeconds))
		if err != nil {
			return nil, err
		}
		return &Backend{Store: store, Locker: storage.NopLock{}, close: store.Close}, nil

	case BackendRedis:
		store, err := storage.NewRedisStore(ctx, storage.RedisOptions{
			Address:  s.Redis.Address,
			Password: s.Redis.Password,
			DB:       s.Redis.DB,
			Prefix:   s.Redis.Prefix,
		})
		if err != nil {
			return nil, err
		}
		lock := storage.NewRedisLock(store.Client(), s.Redis.Prefix+"lock", seconds(s.Lock.TTLSeconds))
		return &Backend{Store: store, Locker: lock, close: store.Close}, nil

	case BackendGist:
		store, err := storage.NewGistStore(s.Gist.ID, s.Gist.Token)
		if err != nil {
			return nil, err
		}
		lock, err := storage.NewFileLock(s.Lock.Path)
		if err != nil {
			return nil, err
		}
		return &Backend{Store: store, Locker: lock}, nil
	}
	return nil, fmt.Errorf("unknown state backend %q", s.Backend)
}

// Encryptor returns nil when no encryption key is configured.
func (c *Config) Encryptor() *crypto.Encryptor {
	return crypto.NewEncryptor(c.State.EncryptionKey)
}

// Notifier returns the message transport. In dry-run mode messages are
// printed to out instead of being sent.
func (c *Config) Notifier(ctx context.Context, dryRun bool, out io.Writer) (notifier.Notifier, error) {
	if dryRun || c.Transport.DryRun {
		return notifier.NewDryRunNotifier(out), nil
	}
	return notifier.NewAWSRouter(ctx, notifier.AWSOptions{
		Region:      c.Transport.Region,
		FromEmail:   c.Transport.FromEmail,
		SMSSenderID: c.Transport.SMSSenderID,
	})
}

// Scraper returns the fetcher for the season that today falls into.
func (c *Config) Scraper(today time.Time) *scraper.Scraper {
	return scraper.New(scraper.Options{
		URL:     c.Source.URL,
		ClubID:  c.Club.ID,
		Halls:   c.Club.Halls,
		Season:  c.Season(today),
		Timeout: seconds(c.Source.TimeoutSeconds),
	})
}

// Sinks returns the enabled export sinks.
func (c *Config) Sinks(today time.Time, clock func() time.Time) []export.Sink {
	var sinks []export.Sink
	if c.Export.XLSX {
		sinks = append(sinks, export.NewXLSX(c.Season(today), c.Roles))
	}
	if c.Export.ICS {
		labels := make(map[string]string, len(c.Roles))
		for _, r := range c.Roles {
			if r.Label != "" {
				labels[r.Name] = r.Label
			}
		}
		sinks = append(sinks, export.NewICS(c.Export.ICSKey, calendar.Options{
			Club:       c.Club.Name,
			Location:   c.Location(),
			RoleLabels: labels,
		}, clock))
	}
	return sinks
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
