package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/anitier/anitier/internal/utils"
	"github.com/anitier/anitier/pkg/board"
	"github.com/anitier/anitier/pkg/images"
	"github.com/anitier/anitier/pkg/storage"
	"github.com/anitier/anitier/pkg/tiers"
	"github.com/spf13/viper"
)

// session is one opened board. Writers hold the DB lock until Close.
type session struct {
	board *board.Board
	db    *storage.DB
	lock  *utils.DBLock
}

func (s *session) Close() error {
	var errs []error
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	if s.lock != nil {
		errs = append(errs, s.lock.Unlock())
	}
	return errors.Join(errs...)
}

func resolveDBPath() (string, error) {
	return utils.GetAbsDBPath(viper.GetString("dbpath"))
}

func storageOptions() []storage.Option {
	opts := []storage.Option{
		storage.WithQuota(viper.GetInt64("storage.quota_bytes")),
		storage.WithLogger(utils.Log),
	}
	if viper.GetBool("storage.compress") {
		opts = append(opts, storage.WithCompression())
	}
	return opts
}

func fingerprintFromConfig(name string, prefixBytes int) (images.Fingerprint, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sha256":
		return images.SHA256, nil
	case "prefix":
		if prefixBytes <= 0 {
			return nil, fmt.Errorf("images.prefix_bytes must be positive, got %d", prefixBytes)
		}
		utils.Log.Warn("Prefix fingerprints can merge distinct images that share their first bytes")
		return images.PrefixSHA256(prefixBytes), nil
	default:
		return nil, fmt.Errorf("unknown images.fingerprint %q (available: sha256, prefix)", name)
	}
}

func boardConfig(write bool) (board.Config, error) {
	labels, err := tiers.ParseLabels(viper.GetStringSlice("tiers"))
	if err != nil {
		return board.Config{}, fmt.Errorf("bad tiers setting: %w", err)
	}
	fp, err := fingerprintFromConfig(viper.GetString("images.fingerprint"), viper.GetInt("images.prefix_bytes"))
	if err != nil {
		return board.Config{}, err
	}
	return board.Config{
		Labels:      labels,
		Fingerprint: fp,
		Logger:      utils.Log,
		// Reconciling may rewrite the image store, so only writers do it.
		Reconcile: write && viper.GetBool("reconcile"),
	}, nil
}

// openSession opens the configured database and loads the board from it.
func openSession(ctx context.Context, write bool) (*session, error) {
	dbPath, err := resolveDBPath()
	if err != nil {
		return nil, err
	}

	s := &session{}
	if write {
		lock, err := utils.NewDBLock(dbPath)
		if err != nil {
			return nil, err
		}
		if err := lock.Lock(); err != nil {
			return nil, err
		}
		s.lock = lock
	} else if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("database not found: %s", dbPath)
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		s.Close()
		return nil, err
	}
	db, err := storage.Open(dbPath, storageOptions()...)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.db = db

	cfg, err := boardConfig(write)
	if err != nil {
		s.Close()
		return nil, err
	}
	b, err := board.Open(ctx, db, cfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.board = b
	utils.Log.WithField("dbpath", dbPath).Debugf("Opened %s", b)
	return s, nil
}

// withBoard runs fn against a freshly opened board and closes it afterwards.
func withBoard(ctx context.Context, write bool, fn func(b *board.Board) error) (err error) {
	s, err := openSession(ctx, write)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, s.Close())
	}()
	return fn(s.board)
}
