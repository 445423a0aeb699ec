// Package persist keeps store state across restarts.
//
// State is written inside a versioned envelope. On load, state written by a
// different major schema version is discarded and the caller starts fresh.
package persist

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/mod/semver"
)

// SchemaVersion is the version stamped on every saved envelope.
// Bump the major version when a persisted shape changes incompatibly.
const SchemaVersion = "v1.0.0"

// Storage loads and saves named JSON state.
type Storage interface {
	// Load decodes the state saved under name into v. It reports false, with
	// v untouched, when nothing usable is stored.
	Load(ctx context.Context, name string, v any) (bool, error)
	Save(ctx context.Context, name string, v any) error
	Delete(ctx context.Context, name string) error
}

// Kind selects a Storage backend.
type Kind string

const (
	KindMemory Kind = "memory"
	KindFile   Kind = "file"
	KindRedis  Kind = "redis"
)

// Config selects and configures a backend.
type Config struct {
	Kind      Kind
	Dir       string // file
	RedisURL  string // redis
	KeyPrefix string // redis
}

// Open builds the configured backend. Redis backends are pinged before return.
func Open(ctx context.Context, cfg Config) (Storage, error) {
	switch cfg.Kind {
	case "", KindMemory:
		return NewMemory(), nil
	case KindFile:
		return NewFile(cfg.Dir)
	case KindRedis:
		return OpenRedis(ctx, cfg.RedisURL, cfg.KeyPrefix)
	default:
		return nil, fmt.Errorf("unknown storage kind %q", cfg.Kind)
	}
}

type envelope struct {
	Version string          `json:"version"`
	State   json.RawMessage `json:"state"`
}

func encode(v any) ([]byte, error) {
	state, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding state: %w", err)
	}
	return json.Marshal(envelope{Version: SchemaVersion, State: state})
}

// decode unpacks data into v. It reports false when the envelope's major
// version differs from SchemaVersion.
func decode(data []byte, v any) (bool, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return false, fmt.Errorf("decoding envelope: %w", err)
	}
	if !compatible(env.Version) {
		return false, nil
	}
	if err := json.Unmarshal(env.State, v); err != nil {
		return false, fmt.Errorf("decoding state: %w", err)
	}
	return true, nil
}

func compatible(version string) bool {
	return semver.IsValid(version) && semver.Major(version) == semver.Major(SchemaVersion)
}
