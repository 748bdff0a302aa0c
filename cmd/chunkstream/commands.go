package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"

	"github.com/unkn0wn-root/chunkstream"
)

func withStreams(c *cli.Context, fn func(ctx context.Context, s chunkstream.Streams, key string) error) error {
	if c.Args().Len() < 1 {
		return fmt.Errorf("KEY is needed")
	}
	s, err := openStreams(c)
	if err != nil {
		return err
	}
	defer s.Close(context.Background())
	return fn(c.Context, s, c.Args().Get(0))
}

func put(c *cli.Context) error {
	return withStreams(c, func(ctx context.Context, s chunkstream.Streams, key string) error {
		var src io.Reader = os.Stdin
		if path := c.Args().Get(1); path != "" && path != "-" {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			src = f
		}

		start := time.Now()
		w, err := s.OpenWriter(ctx, key, !c.Bool("append"))
		if err != nil {
			return err
		}
		n, err := io.Copy(w, src)
		if cerr := w.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
		logger.Infof("wrote %s to %q in %s", humanize.IBytes(uint64(n)), key, time.Since(start).Round(time.Millisecond))
		return nil
	})
}

func putFlags() *cli.Command {
	return &cli.Command{
		Name:      "put",
		Usage:     "write a stream from FILE or stdin",
		ArgsUsage: "KEY [FILE]",
		Action:    put,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "append",
				Aliases: []string{"a"},
				Usage:   "append to the existing stream instead of replacing it",
			},
		},
	}
}

func get(c *cli.Context) error {
	return withStreams(c, func(ctx context.Context, s chunkstream.Streams, key string) error {
		var dst io.Writer = c.App.Writer
		if path := c.String("output"); path != "" && path != "-" {
			f, err := os.Create(path)
			if err != nil {
				return err
			}
			defer f.Close()
			dst = f
		} else if f, ok := dst.(*os.File); ok && isatty.IsTerminal(f.Fd()) && !c.Bool("force") {
			return fmt.Errorf("refusing to write stream bytes to a terminal; use --output or --force")
		}

		r, err := s.OpenReader(ctx, key)
		if err != nil {
			return err
		}
		defer r.Close()
		n, err := io.Copy(dst, r)
		if err != nil {
			return err
		}
		logger.Debugf("read %s from %q", humanize.IBytes(uint64(n)), key)
		return nil
	})
}

func getFlags() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "read a stream to stdout or a file",
		ArgsUsage: "KEY",
		Action:    get,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "write to file instead of stdout",
			},
			&cli.BoolFlag{
				Name:  "force",
				Usage: "write to stdout even if it is a terminal",
			},
		},
	}
}

type statOutput struct {
	Key         string `json:"key"`
	Chunks      int64  `json:"chunks"`
	Size        string `json:"size"`
	Bytes       int64  `json:"bytes"`
	Readers     int32  `json:"readers"`
	Writers     int32  `json:"writers"`
	Version     uint64 `json:"version"`
	LastWritten string `json:"last_written,omitempty"`
	LastRead    string `json:"last_read,omitempty"`
}

func since(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return humanize.Time(t)
}

func stat(c *cli.Context) error {
	return withStreams(c, func(ctx context.Context, s chunkstream.Streams, key string) error {
		rec, ok, err := s.Stat(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%q: %w", key, chunkstream.ErrNotFound)
		}
		out := statOutput{
			Key:         key,
			Chunks:      rec.Count(),
			Size:        humanize.IBytes(uint64(rec.Len())),
			Bytes:       rec.Len(),
			Readers:     rec.Readers,
			Writers:     rec.Writers,
			Version:     rec.Version,
			LastWritten: since(rec.LastWrittenAt),
			LastRead:    since(rec.LastReadAt),
		}
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	})
}

func statFlags() *cli.Command {
	return &cli.Command{
		Name:      "stat",
		Usage:     "show the master record of a stream",
		ArgsUsage: "KEY",
		Action:    stat,
	}
}

func rm(c *cli.Context) error {
	return withStreams(c, func(ctx context.Context, s chunkstream.Streams, key string) error {
		if err := s.Delete(ctx, key); err != nil {
			return err
		}
		logger.Infof("removed %q", key)
		return nil
	})
}

func rmFlags() *cli.Command {
	return &cli.Command{
		Name:      "rm",
		Usage:     "delete a stream and its chunks",
		ArgsUsage: "KEY",
		Action:    rm,
	}
}
