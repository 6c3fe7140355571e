package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/dshills/nodegraph-go/config"
)

// ExitError carries a process exit code.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

// parseFlags loads the config file named by -config, if any, and applies
// the flags that were set on top of it. It returns ok=false when -help was
// requested.
func parseFlags(args []string, output io.Writer) (cfg config.Config, ok bool, err error) {
	fs := flag.NewFlagSet("nodegraphd", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprint(output, `
nodegraphd - node graph execution server.

Usage:
  nodegraphd [options]

Options:
`)
		fs.PrintDefaults()
	}

	path := fs.String("config", "", "Path to an HCL configuration file.")
	addr := fs.String("addr", "", "Listen address, e.g. :8000.")
	logLevel := fs.String("log-level", "", "Logging level: debug, info, warn or error.")
	logFormat := fs.String("log-format", "", "Log format: text or json.")
	origins := fs.String("allowed-origins", "", "Comma separated CORS origins.")
	driver := fs.String("cache-driver", "", "Large-object store: sqlite, mysql or memory.")
	cachePath := fs.String("cache-path", "", "SQLite database file for the large-object store.")
	provider := fs.String("llm-provider", "", "Chat model provider: anthropic, openai or google.")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return config.Config{}, false, nil
		}
		return config.Config{}, false, &ExitError{Code: 2, Message: err.Error()}
	}

	cfg = config.Default()
	if *path != "" {
		cfg, err = config.Load(*path)
		if err != nil {
			return config.Config{}, false, err
		}
	}

	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&cfg.ListenAddr, *addr)
	override(&cfg.LogLevel, strings.ToLower(*logLevel))
	override(&cfg.LogFormat, strings.ToLower(*logFormat))
	override(&cfg.Cache.Driver, *driver)
	override(&cfg.Cache.Path, *cachePath)
	override(&cfg.LLM.Provider, *provider)
	if *origins != "" {
		cfg.AllowedOrigins = strings.Split(*origins, ",")
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, false, err
	}
	return cfg, true, nil
}
