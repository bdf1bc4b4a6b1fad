// Command swrprobe polls API resources through a swrcache engine and the SWR
// reader, logging every read's cache state so cache behaviour against a live
// backend can be watched (and scraped as Prometheus metrics).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"
	"time"
)

type cliOptions struct {
	configPath string
	checkOnly  bool
	namespace  string
	paths      []string
	interval   time.Duration
	rounds     int // 0 => until interrupted
	invalidate *regexp.Regexp
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, opts))
}

func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("swrprobe", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		opts       cliOptions
		invalidate string
	)
	fs.StringVar(&opts.configPath, "config", "", "config file (TOML); defaults to $SWRPROBE_CONFIG, then built-in defaults")
	fs.BoolVar(&opts.checkOnly, "check-config", false, "validate the config and exit")
	fs.StringVar(&opts.namespace, "namespace", "api", "cache key namespace")
	fs.DurationVar(&opts.interval, "interval", 10*time.Second, "delay between polling rounds")
	fs.IntVar(&opts.rounds, "rounds", 0, "number of polling rounds; 0 polls until interrupted")
	fs.StringVar(&invalidate, "invalidate", "", "regexp of keys to invalidate after each round")
	fs.Func("path", "resource path to poll, relative to Request.BaseURL (repeatable)", func(v string) error {
		v = strings.TrimSpace(v)
		if v == "" {
			return errors.New("empty path")
		}
		if !strings.HasPrefix(v, "/") {
			v = "/" + v
		}
		opts.paths = append(opts.paths, v)
		return nil
	})

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("parse flags: %w", err)
	}
	if opts.configPath == "" {
		opts.configPath = os.Getenv("SWRPROBE_CONFIG")
	}
	if opts.interval <= 0 {
		return cliOptions{}, errors.New("-interval must be > 0")
	}
	if opts.rounds < 0 {
		return cliOptions{}, errors.New("-rounds must not be negative")
	}
	if invalidate != "" {
		re, err := regexp.Compile(invalidate)
		if err != nil {
			return cliOptions{}, fmt.Errorf("-invalidate: %w", err)
		}
		opts.invalidate = re
	}
	return opts, nil
}
