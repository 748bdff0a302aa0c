package chunkstream

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/unkn0wn-root/chunkstream/backoff"
	c "github.com/unkn0wn-root/chunkstream/codec"
	pr "github.com/unkn0wn-root/chunkstream/provider"
)

// Config is the file form of Options. Durations use Go syntax ("250ms", "10s").
//
//	namespace: uploads
//	mode: read-committed
//	chunk_size: 262144
//	timeout: 5s
//	compression: zstd
//	record_codec: msgpack
//	backoff:
//	  kind: exponential
//	  base: 1ms
//	  cap: 200ms
//	  jitter: true
type Config struct {
	Namespace    string        `yaml:"namespace"`
	Mode         string        `yaml:"mode"`
	ChunkSize    int           `yaml:"chunk_size"`
	Timeout      time.Duration `yaml:"timeout"`
	ChunkRetries int           `yaml:"chunk_retries"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
	Compression  string        `yaml:"compression"`
	RecordCodec  string        `yaml:"record_codec"`
	MaxRecord    int           `yaml:"max_record_bytes"`
	Backoff      BackoffConfig `yaml:"backoff"`
}

type BackoffConfig struct {
	Kind   string        `yaml:"kind"` // "constant" | "exponential"
	Base   time.Duration `yaml:"base"`
	Cap    time.Duration `yaml:"cap"`
	Jitter bool          `yaml:"jitter"`
}

// ParseConfig decodes YAML, rejecting unknown fields.
func ParseConfig(b []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("chunkstream: parse config: %w", err)
	}
	return cfg, nil
}

// Options converts cfg into Options bound to p. Logger and Hooks are left
// for the caller to set.
func (cfg Config) Options(p pr.Provider) (Options, error) {
	mode, err := ParseMode(cfg.Mode)
	if err != nil {
		return Options{}, err
	}
	comp, err := ParseCompression(cfg.Compression)
	if err != nil {
		return Options{}, err
	}
	rc, err := recordCodec(cfg.RecordCodec)
	if err != nil {
		return Options{}, err
	}
	if cfg.MaxRecord > 0 {
		rc = c.Sized[Record]{Codec: rc, Max: cfg.MaxRecord}
	}
	bo, err := cfg.Backoff.strategy()
	if err != nil {
		return Options{}, err
	}
	return Options{
		Namespace:    cfg.Namespace,
		Provider:     p,
		Mode:         mode,
		ChunkSize:    cfg.ChunkSize,
		Timeout:      cfg.Timeout,
		Backoff:      bo,
		ChunkRetries: cfg.ChunkRetries,
		RetryDelay:   cfg.RetryDelay,
		RecordCodec:  rc,
		Compression:  comp,
	}, nil
}

func recordCodec(name string) (c.Codec[Record], error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "msgpack":
		return c.Msgpack[Record]{}, nil
	case "json":
		return c.JSON[Record]{}, nil
	case "cbor":
		return c.CBOR[Record]{}, nil
	}
	return nil, fmt.Errorf("chunkstream: unknown record codec %q", name)
}

// strategy returns nil for an empty kind so Options falls back to the default.
func (b BackoffConfig) strategy() (backoff.Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(b.Kind)) {
	case "":
		return nil, nil
	case "constant":
		return backoff.Constant(b.Base), nil
	case "exponential":
		return backoff.Exponential{Base: b.Base, Cap: b.Cap, Jitter: b.Jitter}, nil
	}
	return nil, fmt.Errorf("chunkstream: unknown backoff kind %q", b.Kind)
}
