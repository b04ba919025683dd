package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"schoolbell/internal/fswatch"
	logx "schoolbell/pkg/logx"
)

// ValidateTimeout bounds the validator hook during hot reload.
const ValidateTimeout = 5 * time.Second

// committed pairs a config with the fingerprint of its decoded content.
type committed struct {
	cfg  *Config
	hash uint64
}

// ConfigManager owns the config file: initial load, hot reload on change and
// fan-out of accepted configs to subscribers.
type ConfigManager struct {
	path string
	cur  atomic.Pointer[committed]

	log       logx.Logger
	validator func(ctx context.Context, cfg *Config) error

	subsMu sync.Mutex
	nextID int
	subs   map[int]chan *Config
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{path: path, subs: make(map[int]chan *Config)}
}

func (m *ConfigManager) Path() string { return m.path }

func (m *ConfigManager) SetLogger(log logx.Logger) { m.log = log }

// SetValidator installs an extra check run by Watch after Validate and
// before a new config is committed.
func (m *ConfigManager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validator = fn
}

// Parse reads and decodes the file without validating or committing it.
func (m *ConfigManager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	return parseBytes(m.path, b)
}

// Load parses and validates the file, then commits it.
func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

func (m *ConfigManager) Commit(cfg *Config) {
	m.cur.Store(&committed{cfg: cfg, hash: fingerprint(cfg)})
}

func (m *ConfigManager) Get() *Config {
	if c := m.cur.Load(); c != nil {
		return c.cfg
	}
	return nil
}

func fingerprint(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	return fswatch.Hash(b)
}

// Subscribe returns a channel that always holds the latest accepted config
// not yet received. Intermediate configs are replaced, not queued.
// The returned func unsubscribes and closes the channel.
func (m *ConfigManager) Subscribe() (<-chan *Config, func()) {
	ch := make(chan *Config, 1)
	m.subsMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = ch
	m.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subsMu.Lock()
			delete(m.subs, id)
			m.subsMu.Unlock()
			close(ch)
		})
	}
}

func (m *ConfigManager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		// Replace a stale pending config. Only publish sends, under subsMu,
		// so the second send cannot block.
		select {
		case <-ch:
		default:
		}
		ch <- cfg
	}
}

func (m *ConfigManager) logger() logx.Logger {
	if m.log.IsZero() {
		return logx.Nop()
	}
	return m.log
}

// Watch reloads the file on change until ctx is done. A new config is
// published only when it parses, differs from the committed one and passes
// both Validate and the validator hook.
func (m *ConfigManager) Watch(ctx context.Context) error {
	return fswatch.Watch(ctx, m.path, fswatch.Options{Log: m.logger()}, func() {
		if err := m.reload(ctx); err != nil {
			m.logger().Warn("config rejected", logx.String("path", m.path), logx.Err(err))
		}
	})
}

func (m *ConfigManager) reload(ctx context.Context) error {
	cfg, err := m.Parse()
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	h := fingerprint(cfg)
	if c := m.cur.Load(); c != nil && h != 0 && h == c.hash {
		m.logger().Debug("config unchanged", logx.String("path", m.path))
		return nil
	}
	if err := Validate(cfg); err != nil {
		return err
	}
	if m.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, ValidateTimeout)
		err := m.validator(vctx, cfg)
		cancel()
		if err != nil {
			return err
		}
	}
	m.cur.Store(&committed{cfg: cfg, hash: h})
	m.publish(cfg)
	m.logger().Debug("config published", logx.String("path", m.path), logx.String("hash", fmt.Sprintf("%016x", h)))
	return nil
}
