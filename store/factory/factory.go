// Package factory opens the persistence backends named by the settings.
package factory

import (
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/PipeOpsHQ/opsbrain/internal/config"
	redisclaim "github.com/PipeOpsHQ/opsbrain/store/redis"
	"github.com/PipeOpsHQ/opsbrain/store/sqlite"
)

// Stores holds the durable sqlite store and, when REDIS_ADDR is set and
// reachable, the notification claimer.
type Stores struct {
	SQLite  *sqlite.Store
	Claimer *redisclaim.Claimer
}

// Open opens DB_PATH. An unreachable redis is logged and skipped so the
// process keeps best-effort dedup instead of failing to start.
func Open(s config.Settings) (*Stores, error) {
	db, err := sqlite.New(s.DBPath)
	if err != nil {
		return nil, err
	}
	out := &Stores{SQLite: db}

	addr := strings.TrimSpace(s.RedisAddr)
	if addr == "" {
		return out, nil
	}
	claimer, err := redisclaim.New(addr,
		redisclaim.WithPassword(s.RedisPassword),
		redisclaim.WithDB(s.RedisDB),
	)
	if err != nil {
		log.Warn().Str("component", "store").Str("addr", addr).Err(err).Msg("redis_unavailable")
		return out, nil
	}
	out.Claimer = claimer
	return out, nil
}

func (s *Stores) Close() error {
	var errs []error
	if s.Claimer != nil {
		errs = append(errs, s.Claimer.Close())
	}
	if s.SQLite != nil {
		errs = append(errs, s.SQLite.Close())
	}
	return errors.Join(errs...)
}
