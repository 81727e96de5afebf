// Package tlsreload serves a TLS certificate that is reloaded from disk
// whenever the certificate or key file changes.
package tlsreload

import (
	"crypto/tls"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceInterval = 500 * time.Millisecond

// Reloader holds the current key pair.
type Reloader struct {
	certPath string
	keyPath  string

	mu   sync.RWMutex
	cert *tls.Certificate

	watcher    *fsnotify.Watcher
	debounceMu sync.Mutex
	debounce   *time.Timer
	stopOnce   sync.Once
	stop       chan struct{}
}

// New loads the key pair once. Call Start to follow changes.
func New(certPath, keyPath string) (*Reloader, error) {
	r := &Reloader{certPath: certPath, keyPath: keyPath, stop: make(chan struct{})}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload reads the key pair from disk. A broken pair keeps the previous
// certificate in service.
func (r *Reloader) Reload() error {
	cert, err := tls.LoadX509KeyPair(r.certPath, r.keyPath)
	if err != nil {
		return fmt.Errorf("load TLS key pair: %w", err)
	}
	r.mu.Lock()
	r.cert = &cert
	r.mu.Unlock()
	return nil
}

// GetCertificate plugs into tls.Config.
func (r *Reloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cert, nil
}

// TLSConfig returns a server config backed by the reloader.
func (r *Reloader) TLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: r.GetCertificate,
	}
}

// Start watches the directories holding the certificate and key.
func (r *Reloader) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	dirs := map[string]bool{filepath.Dir(r.certPath): true, filepath.Dir(r.keyPath): true}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	r.watcher = watcher
	go r.processEvents(watcher.Events, watcher.Errors)
	log.Printf("🔒 [TLS] Watching %s for certificate changes", r.certPath)
	return nil
}

// Stop ends the watch. Safe to call more than once.
func (r *Reloader) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
		if r.watcher != nil {
			r.watcher.Close()
		}
		r.debounceMu.Lock()
		if r.debounce != nil {
			r.debounce.Stop()
		}
		r.debounceMu.Unlock()
	})
}

func (r *Reloader) processEvents(events <-chan fsnotify.Event, errs <-chan error) {
	for {
		select {
		case <-r.stop:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if !r.relevant(event) {
				continue
			}
			r.reloadDebounced()
		case err, ok := <-errs:
			if !ok {
				return
			}
			log.Printf("⚠️ [TLS] Watcher error: %v", err)
		}
	}
}

func (r *Reloader) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	name := filepath.Clean(event.Name)
	return name == filepath.Clean(r.certPath) || name == filepath.Clean(r.keyPath)
}

// reloadDebounced waits for the cert and key writes to settle, since they
// are usually replaced together.
func (r *Reloader) reloadDebounced() {
	r.debounceMu.Lock()
	defer r.debounceMu.Unlock()
	if r.debounce != nil {
		r.debounce.Stop()
	}
	r.debounce = time.AfterFunc(debounceInterval, func() {
		if err := r.Reload(); err != nil {
			log.Printf("⚠️ [TLS] Keeping previous certificate: %v", err)
			return
		}
		log.Printf("🔄 [TLS] Reloaded certificate from %s", r.certPath)
	})
}
