package main

import (
	"fmt"
	"os"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/unkn0wn-root/chunkstream"
	cslogrus "github.com/unkn0wn-root/chunkstream/log/logrus"
	"github.com/unkn0wn-root/chunkstream/provider/redis"
)

var logger = logrus.New()

// openStreams builds the Streams behind every command. Tests replace it.
var openStreams = func(c *cli.Context) (chunkstream.Streams, error) {
	opts, err := optionsFromFlags(c)
	if err != nil {
		return nil, err
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: c.String("redis")})
	p, err := redis.New(redis.Config{Client: rdb, CloseClient: true, LockTTL: c.Duration("lock-ttl")})
	if err != nil {
		return nil, err
	}
	opts.Provider = p
	return chunkstream.New(opts)
}

func optionsFromFlags(c *cli.Context) (chunkstream.Options, error) {
	var cfg chunkstream.Config
	if path := c.String("config"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return chunkstream.Options{}, err
		}
		if cfg, err = chunkstream.ParseConfig(b); err != nil {
			return chunkstream.Options{}, err
		}
	}
	if c.IsSet("namespace") || cfg.Namespace == "" {
		cfg.Namespace = c.String("namespace")
	}
	if c.IsSet("mode") {
		cfg.Mode = c.String("mode")
	}
	if c.IsSet("timeout") {
		cfg.Timeout = c.Duration("timeout")
	}
	if c.IsSet("compression") {
		cfg.Compression = c.String("compression")
	}
	opts, err := cfg.Options(nil)
	if err != nil {
		return chunkstream.Options{}, err
	}
	opts.Logger = cslogrus.LogrusLogger{E: logrus.NewEntry(logger).WithField("ns", opts.Namespace)}
	return opts, nil
}

func setLoggerLevel(c *cli.Context) {
	if c.Bool("debug") {
		logger.SetLevel(logrus.DebugLevel)
	} else if c.Bool("quiet") {
		logger.SetLevel(logrus.WarnLevel)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "chunkstream",
		Usage: "store and read chunked byte streams in redis",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "redis",
				Value:   "localhost:6379",
				EnvVars: []string{"CHUNKSTREAM_REDIS_ADDR"},
				Usage:   "redis address",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML config file",
			},
			&cli.StringFlag{
				Name:    "namespace",
				Aliases: []string{"n"},
				Value:   "default",
				Usage:   "stream namespace",
			},
			&cli.StringFlag{
				Name:  "mode",
				Usage: "write-priority, read-committed or read-committed-locked",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "admission timeout",
			},
			&cli.StringFlag{
				Name:  "compression",
				Usage: "chunk compression: none or zstd",
			},
			&cli.DurationFlag{
				Name:  "lock-ttl",
				Value: time.Minute,
				Usage: "expiry of redis lock hashes in read-committed-locked mode",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug log",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "only warning and errors",
			},
		},
		Before: func(c *cli.Context) error {
			setLoggerLevel(c)
			return nil
		},
		Commands: []*cli.Command{
			putFlags(),
			getFlags(),
			statFlags(),
			rmFlags(),
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
