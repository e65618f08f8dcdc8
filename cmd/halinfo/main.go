// Command halinfo inspects the GPU adapters halcore can see.
//
// Usage:
//
//	halinfo [-env FILE] adapters
//	halinfo [-env FILE] validate FILE.spv...
//	halinfo [-env FILE] bulk
//
// Configuration comes from HALCORE_* environment variables, optionally
// loaded from a .env file.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/gogpu/halcore"
	_ "github.com/gogpu/halcore/backend/soft"
	_ "github.com/gogpu/halcore/backend/wgpuhal"
	"github.com/gogpu/halcore/pipecache"
	_ "github.com/gogpu/wgpu/hal/allbackends"
)

func main() {
	envFile := flag.String("env", ".env", "optional .env file with HALCORE_* settings")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: halinfo [-env FILE] adapters|validate FILE...|bulk\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := loadConfig(*envFile)
	if err != nil {
		log.Fatalf("halinfo: %v", err)
	}
	halcore.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	cmd := "adapters"
	if flag.NArg() > 0 {
		cmd = flag.Arg(0)
	}
	switch cmd {
	case "adapters":
		err = listAdapters(os.Stdout, cfg)
	case "validate":
		if flag.NArg() < 2 {
			flag.Usage()
			os.Exit(2)
		}
		err = validateFiles(os.Stdout, flag.Args()[1:])
	case "bulk":
		err = runBulk(os.Stdout, cfg)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("halinfo: %s: %v", cmd, err)
	}
}

func enumerate(cfg config) ([]*halcore.Adapter, error) {
	var opts []halcore.InstanceOption
	if len(cfg.Backends) > 0 {
		opts = append(opts, halcore.WithBackends(cfg.Backends...))
	}
	return halcore.Enumerate(opts...)
}

func openCache(cfg config) (*pipecache.Store, error) {
	if cfg.CacheDir == "" {
		return nil, nil
	}
	return pipecache.Open(cfg.CacheDir)
}
