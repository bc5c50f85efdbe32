package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/keenhq/keen/internal/config"
	"github.com/keenhq/keen/internal/logging"
	"github.com/keenhq/keen/internal/state"
)

// errNoState is returned when a command needs the session mirror and it
// has never been written.
var errNoState = errors.New("no session state recorded; run 'keen simulate' first")

// env is the resolved repository, configuration and logger for a command.
type env struct {
	repo     string
	cfg      *config.Config
	logger   *zap.Logger
	closeLog func() error
}

func loadEnv() (*env, error) {
	repo, err := filepath.Abs(repoFlag)
	if err != nil {
		return nil, fmt.Errorf("resolving repository path: %w", err)
	}

	cfg, err := config.LoadFor(repo)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, closeLog, err := logging.ForRepo(repo, logging.Config{
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
		Console: (cfg.Log.Console || verboseFlag) && !simulateTUI,
	})
	if err != nil {
		return nil, err
	}

	return &env{repo: repo, cfg: cfg, logger: logger, closeLog: closeLog}, nil
}

func (e *env) Close() {
	_ = e.logger.Sync()
	_ = e.closeLog()
}

// statePath returns the session database location.
func (e *env) statePath() string {
	if e.cfg.State.Path == "" {
		if e.cfg.State.Scope == "global" {
			return state.GlobalDBPath()
		}
		return state.ProjectDBPath(e.repo)
	}
	if filepath.IsAbs(e.cfg.State.Path) {
		return e.cfg.State.Path
	}
	return filepath.Join(e.repo, e.cfg.State.Path)
}

// openState opens and migrates the session database. With mustExist set it
// returns errNoState instead of creating a new database.
func (e *env) openState(mustExist bool) (*state.DB, error) {
	path := e.statePath()
	if mustExist {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, errNoState
		}
	}

	db, err := state.Open(e.cfg.State.Driver, path)
	if err != nil {
		return nil, fmt.Errorf("open session state: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate session state: %w", err)
	}
	e.logger.Debug("session state opened", zap.String("path", path), zap.String("driver", db.Driver()))
	return db, nil
}

// printStatus prints a status line with color
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}
