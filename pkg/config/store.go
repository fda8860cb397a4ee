package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/entrhq/shutter/pkg/logging"
)

// Publisher delivers configuration change events. bus.MessageBus satisfies it.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Store provides persistence for launch options.
type Store interface {
	// Load reads the configuration from disk, creating it with defaults if
	// it does not exist yet.
	Load() (LaunchOptions, error)

	// Get returns the last loaded or saved configuration.
	Get() LaunchOptions

	// Save persists opts and announces the change.
	Save(ctx context.Context, opts LaunchOptions) error

	// Update merges partial over the current configuration and saves it.
	Update(ctx context.Context, partial LaunchOptions) (LaunchOptions, error)
}

// FileStore implements Store using a JSON or YAML file. The format follows the
// file extension; anything other than .yaml/.yml is JSON.
type FileStore struct {
	fs        afero.Fs
	path      string
	mu        sync.RWMutex
	current   LaunchOptions
	raw       []byte
	publisher Publisher
	logger    *logging.Logger
}

// StoreOption customizes a FileStore.
type StoreOption func(*FileStore)

// WithFs sets the filesystem the store reads and writes. Defaults to the OS.
func WithFs(fs afero.Fs) StoreOption {
	return func(s *FileStore) { s.fs = fs }
}

// WithPublisher sets where change events are sent.
func WithPublisher(p Publisher) StoreOption {
	return func(s *FileStore) { s.publisher = p }
}

// WithLogger sets the store logger.
func WithLogger(l *logging.Logger) StoreOption {
	return func(s *FileStore) { s.logger = l }
}

var _ Store = (*FileStore)(nil)

// DefaultPath returns <user config dir>/shutter/config.json.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(dir, "shutter", "config.json"), nil
}

// NewFileStore creates a file-based store and loads it. If path is empty,
// DefaultPath is used.
func NewFileStore(path string, opts ...StoreOption) (*FileStore, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	s := &FileStore{
		fs:      afero.NewOsFs(),
		path:    path,
		current: Defaults(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.NewNullLogger()
	}

	if _, err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the configuration file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the file. A missing file is created with defaults. A file that
// cannot be read or parsed yields defaults, matching a fresh install.
func (s *FileStore) Load() (LaunchOptions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warnf("failed to read config %s, using defaults: %v", s.path, err)
			s.current = Defaults()
			return s.current, nil
		}
		defaults := Defaults()
		raw, err := s.write(defaults)
		if err != nil {
			return LaunchOptions{}, fmt.Errorf("failed to initialize config %s: %w", s.path, err)
		}
		s.logger.Infof("created default config at %s", s.path)
		s.current, s.raw = defaults, raw
		return s.current, nil
	}

	opts, err := s.decode(data)
	if err != nil {
		s.logger.Warnf("failed to parse config %s, using defaults: %v", s.path, err)
		s.current = Defaults()
		return s.current, nil
	}
	s.current = Defaults().Apply(opts)
	s.raw = data
	return s.current, nil
}

// Reload re-reads the file and publishes the new configuration when its
// contents differ from what the store last saw. It reports whether a change
// was published.
func (s *FileStore) Reload(ctx context.Context) (bool, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		return false, fmt.Errorf("failed to read config: %w", err)
	}

	s.mu.Lock()
	if bytes.Equal(data, s.raw) {
		s.mu.Unlock()
		return false, nil
	}
	opts, err := s.decode(data)
	if err != nil {
		s.mu.Unlock()
		return false, fmt.Errorf("failed to parse config: %w", err)
	}
	s.current = Defaults().Apply(opts)
	s.raw = data
	current := s.current
	s.mu.Unlock()

	return true, s.publish(ctx, current)
}

// Get returns a copy of the current configuration.
func (s *FileStore) Get() LaunchOptions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Defaults().Apply(s.current)
}

// Save writes opts atomically and publishes them on HMRSubject.
func (s *FileStore) Save(ctx context.Context, opts LaunchOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	raw, err := s.write(opts)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.current, s.raw = Defaults().Apply(opts), raw
	s.mu.Unlock()

	return s.publish(ctx, opts)
}

// Update merges partial over the current configuration and saves the result.
func (s *FileStore) Update(ctx context.Context, partial LaunchOptions) (LaunchOptions, error) {
	merged := s.Get().Apply(partial)
	if err := s.Save(ctx, merged); err != nil {
		return LaunchOptions{}, err
	}
	return merged, nil
}

func (s *FileStore) publish(ctx context.Context, opts LaunchOptions) error {
	if s.publisher == nil {
		return nil
	}
	payload, err := json.Marshal(opts)
	if err != nil {
		return fmt.Errorf("failed to encode config event: %w", err)
	}
	if err := s.publisher.Publish(ctx, HMRSubject, payload); err != nil {
		return fmt.Errorf("failed to publish config event: %w", err)
	}
	return nil
}

func (s *FileStore) isYAML() bool {
	ext := strings.ToLower(filepath.Ext(s.path))
	return ext == ".yaml" || ext == ".yml"
}

// decode parses either format. YAML goes through a generic map so the null
// types only ever see JSON.
func (s *FileStore) decode(data []byte) (LaunchOptions, error) {
	var opts LaunchOptions
	if s.isYAML() {
		var doc map[string]interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return opts, err
		}
		converted, err := json.Marshal(doc)
		if err != nil {
			return opts, err
		}
		data = converted
	}
	if err := json.Unmarshal(data, &opts); err != nil {
		return opts, err
	}
	return opts, opts.Validate()
}

func (s *FileStore) encode(opts LaunchOptions) ([]byte, error) {
	data, err := json.MarshalIndent(opts, "", "  ")
	if err != nil {
		return nil, err
	}
	if !s.isYAML() {
		return append(data, '\n'), nil
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return yaml.Marshal(doc)
}

// write must be called with s.mu held.
func (s *FileStore) write(opts LaunchOptions) ([]byte, error) {
	data, err := s.encode(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}

	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	// Temp file plus rename keeps readers from seeing a partial document
	tempPath := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tempPath, data, 0600); err != nil {
		_ = s.fs.Remove(tempPath)
		return nil, fmt.Errorf("failed to write temp config file: %w", err)
	}
	if err := s.fs.Rename(tempPath, s.path); err != nil {
		_ = s.fs.Remove(tempPath)
		return nil, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return data, nil
}
