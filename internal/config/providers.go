package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"mcphub/pkg/logging"
)

// ProviderCredentials is the per-provider OAuth app configuration from
// providers.yaml. API-key providers need no entry.
type ProviderCredentials struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes,omitempty"`
	AuthURL      string   `yaml:"auth_url,omitempty"`
	TokenURL     string   `yaml:"token_url,omitempty"`
	Disabled     bool     `yaml:"disabled,omitempty"`
}

type providersFile struct {
	Providers map[string]ProviderCredentials `yaml:"providers"`
}

// ProviderRegistry serves provider credentials and hot-reloads them when
// the underlying yaml file changes.
type ProviderRegistry struct {
	mu    sync.RWMutex
	path  string
	creds map[string]ProviderCredentials

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	running bool
}

// NewProviderRegistry loads the overlay file. A missing file is fine:
// the registry starts empty and picks the file up if it appears later.
func NewProviderRegistry(path string) (*ProviderRegistry, error) {
	r := &ProviderRegistry{
		path:  path,
		creds: map[string]ProviderCredentials{},
	}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Credentials returns the configuration for one provider.
func (r *ProviderRegistry) Credentials(provider string) (ProviderCredentials, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.creds[provider]
	if !ok || c.Disabled {
		return ProviderCredentials{}, false
	}
	return c, true
}

func (r *ProviderRegistry) reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("Config", "No provider credentials file at %s, OAuth providers disabled until configured", r.path)
			r.mu.Lock()
			r.creds = map[string]ProviderCredentials{}
			r.mu.Unlock()
			return nil
		}
		return fmt.Errorf("read provider credentials: %w", err)
	}

	var file providersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse provider credentials: %w", err)
	}

	r.mu.Lock()
	r.creds = file.Providers
	if r.creds == nil {
		r.creds = map[string]ProviderCredentials{}
	}
	count := len(r.creds)
	r.mu.Unlock()

	logging.Info("Config", "Loaded credentials for %d providers from %s", count, r.path)
	return nil
}

// Watch reloads the file on change until the context is canceled. Reload
// is debounced because editors fire several events per save. A reload
// failure keeps the previous credentials.
func (r *ProviderRegistry) Watch(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory, not the file: editors replace files on save,
	// which drops a watch placed on the file itself.
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		watcher.Close()
		r.mu.Unlock()
		return fmt.Errorf("watch %s: %w", filepath.Dir(r.path), err)
	}
	r.watcher = watcher
	r.stopCh = make(chan struct{})
	r.running = true
	r.mu.Unlock()

	go r.processEvents(ctx)
	logging.Info("Config", "Watching %s for credential changes", r.path)
	return nil
}

func (r *ProviderRegistry) processEvents(ctx context.Context) {
	var timer *time.Timer
	const debounce = 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			r.Stop()
			return
		case <-r.stopCh:
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(r.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				if err := r.reload(); err != nil {
					logging.Warn("Config", "Provider credential reload failed, keeping previous set: %v", err)
				}
			})
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn("Config", "Credential watcher error: %v", err)
		}
	}
}

// Stop ends watching. Safe to call more than once.
func (r *ProviderRegistry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.running = false
	close(r.stopCh)
	_ = r.watcher.Close()
}
