package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// config is read from HALCORE_* environment variables, optionally
// seeded from a .env file. Variables already set in the environment win
// over the file.
type config struct {
	Backends []string   // HALCORE_BACKENDS, comma separated
	LogLevel slog.Level // HALCORE_LOG
	CacheDir string     // HALCORE_CACHE_DIR; empty disables the pipeline cache
	Workers  int        // HALCORE_BULK_WORKERS
	Buffers  int        // HALCORE_BULK_BUFFERS, per worker
	BufSize  uint64     // HALCORE_BULK_SIZE, bytes per buffer
}

func defaultConfig() config {
	return config{
		LogLevel: slog.LevelWarn,
		Workers:  4,
		Buffers:  2,
		BufSize:  256 << 20,
	}
}

// loadConfig reads envFile (if present) and the environment.
func loadConfig(envFile string) (config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return parseConfig(os.LookupEnv)
}

func parseConfig(lookup func(string) (string, bool)) (config, error) {
	c := defaultConfig()

	if v, ok := lookup("HALCORE_BACKENDS"); ok {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				c.Backends = append(c.Backends, name)
			}
		}
	}
	if v, ok := lookup("HALCORE_LOG"); ok {
		if err := c.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return config{}, fmt.Errorf("HALCORE_LOG: %w", err)
		}
	}
	if v, ok := lookup("HALCORE_CACHE_DIR"); ok {
		c.CacheDir = v
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"HALCORE_BULK_WORKERS", &c.Workers},
		{"HALCORE_BULK_BUFFERS", &c.Buffers},
	}
	for _, f := range ints {
		v, ok := lookup(f.name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return config{}, fmt.Errorf("%s: want a positive integer, got %q", f.name, v)
		}
		*f.dst = n
	}
	if v, ok := lookup("HALCORE_BULK_SIZE"); ok {
		n, err := parseSize(v)
		if err != nil {
			return config{}, fmt.Errorf("HALCORE_BULK_SIZE: %w", err)
		}
		c.BufSize = n
	}
	return c, nil
}

// parseSize accepts a byte count with an optional K, M or G suffix
// (binary multiples).
func parseSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	mult := uint64(1)
	if n := len(s); n > 0 {
		switch s[n-1] {
		case 'K', 'k':
			mult = 1 << 10
		case 'M', 'm':
			mult = 1 << 20
		case 'G', 'g':
			mult = 1 << 30
		}
		if mult != 1 {
			s = s[:n-1]
		}
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return n * mult, nil
}
