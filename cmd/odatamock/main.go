package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sophialabs/odatamock/internal/app"
)

func main() {
	cfg := app.DefaultConfig()

	// -config is applied before the other flags so that they override the file.
	if path := configPath(os.Args[1:]); path != "" {
		if err := app.LoadConfigFile(path, &cfg); err != nil {
			fail("failed to load config: %v", err)
		}
	}

	flag.String("config", "", "optional YAML config file")
	flag.StringVar(&cfg.ManifestURL, "manifest", cfg.ManifestURL, "application manifest (path, file:// or http(s):// URL)")
	flag.StringVar(&cfg.DataSource, "data-source", cfg.DataSource, "manifest data source to mock")
	flag.StringVar(&cfg.MockdataDir, "mockdata", cfg.MockdataDir, "mock data directory (default: mockdata next to the metadata document)")
	flag.BoolVar(&cfg.GenerateMissing, "generate", cfg.GenerateMissing, "generate entities for entity sets without a mock data file")
	flag.IntVar(&cfg.GeneratedEntries, "generated-entries", cfg.GeneratedEntries, "entities generated per entity set")
	flag.Func("delay", "auto-respond delay (e.g. 200ms, or plain milliseconds)", func(s string) error {
		d, err := parseDelay(s)
		if err != nil {
			return err
		}
		cfg.Delay = &d
		return nil
	})
	flag.BoolFunc("metadata-error", "answer $metadata requests with an error", func(s string) error {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		cfg.MetadataError = &v
		return nil
	})
	flag.Func("error-type", "answer every request with an error (badRequest, or anything else for 500)", func(s string) error {
		cfg.ErrorType = &s
		return nil
	})
	flag.StringVar(&cfg.Query, "query", cfg.Query, "page query string, e.g. serverDelay=100&errorType=badRequest")
	flag.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	flag.IntVar(&cfg.TraceSize, "trace-size", cfg.TraceSize, "number of trace entries to keep")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	flag.Float64Var(&cfg.RateLimit, "rate-limit", cfg.RateLimit, "requests per second per route (0 disables throttling)")
	flag.IntVar(&cfg.RateBurst, "rate-burst", cfg.RateBurst, "throttling burst size")
	flag.BoolVar(&cfg.Watch, "watch", cfg.Watch, "reload when files next to the manifest change")
	flag.Parse()

	a, err := app.New(cfg)
	if err != nil {
		fail("failed to initialize: %v", err)
	}

	if err := a.Run(context.Background()); err != nil {
		fail("error: %v", err)
	}
}

// configPath finds -config ahead of flag.Parse.
func configPath(args []string) string {
	for i, a := range args {
		a = strings.TrimPrefix(a, "-")
		switch {
		case a == "-config" || a == "config":
			if i+1 < len(args) {
				return args[i+1]
			}
		case strings.HasPrefix(a, "config="):
			return strings.TrimPrefix(a, "config=")
		case strings.HasPrefix(a, "-config="):
			return strings.TrimPrefix(a, "-config=")
		}
	}
	return ""
}

func parseDelay(s string) (time.Duration, error) {
	if ms, err := strconv.Atoi(s); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(s)
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
