// Package seed installs a rubric catalog into an observation database.
package seed

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/chalkline/chalkline/internal/observation/catalog"
	"github.com/chalkline/chalkline/internal/observation/storage/sqlite"
)

// Config holds seed command configuration.
type Config struct {
	DBPath      string        `env:"CHALKLINE_DB_PATH"`
	CatalogPath string
	Timeout     time.Duration `env:"CHALKLINE_SEED_TIMEOUT" envDefault:"1m"`
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join("data", "observation.db")
	}

	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "path to observation sqlite database (default: CHALKLINE_DB_PATH or data/observation.db)")
	fs.StringVar(&cfg.CatalogPath, "catalog", "", "path to rubric catalog YAML file")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall timeout")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run loads the catalog file, validates it, and installs its forms.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}
	if cfg.CatalogPath == "" {
		return errors.New("-catalog is required")
	}

	cat, err := catalog.LoadFile(cfg.CatalogPath)
	if err != nil {
		return err
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			fmt.Fprintf(errOut, "close store: %v\n", cerr)
		}
	}()

	if err := catalog.Install(ctx, cat, store, time.Now().UTC()); err != nil {
		return err
	}

	indicators := 0
	for _, form := range cat.Forms {
		indicators += len(form.Indicators)
	}
	fmt.Fprintf(out, "installed %d form(s), %d indicator(s) from %s\n", len(cat.Forms), indicators, cfg.CatalogPath)
	return nil
}
