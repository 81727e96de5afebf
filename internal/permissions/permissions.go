// Package permissions keeps the named permission flags and the accounts
// holding them in a YAML file.
package permissions

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Built-in permission names.
const (
	Admin         = "admin"
	CharactersAdd = "characters.add"
)

// Permission is one flag and its holders.
type Permission struct {
	Name        string   `yaml:"-" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Accounts    []string `yaml:"accounts" json:"accounts"`
}

type fileFormat struct {
	Permissions map[string]*Permission `yaml:"permissions"`
}

// Registry is safe for concurrent use. Every mutation is written through to
// the backing file.
type Registry struct {
	path string

	mu          sync.RWMutex
	permissions map[string]*Permission
}

// Open loads the registry from path, creating an empty file if needed.
// An empty path keeps the registry in memory only.
func Open(path string) (*Registry, error) {
	r := &Registry{path: path, permissions: map[string]*Permission{}}
	if path == "" {
		return r, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := r.save(); err != nil {
			return nil, err
		}
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read permissions file: %w", err)
	}

	var cfg fileFormat
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse permissions file %s: %w", path, err)
	}
	for name, p := range cfg.Permissions {
		if p == nil {
			p = &Permission{}
		}
		p.Name = name
		r.permissions[name] = p
	}
	log.Printf("📋 [Permissions] Loaded %d permissions from %s", len(r.permissions), path)
	return r, nil
}

// Register adds a permission, or updates its description when non-empty.
func (r *Registry) Register(name, description string) error {
	if name == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.permissions[name]
	if !ok {
		r.permissions[name] = &Permission{Name: name, Description: description, Accounts: []string{}}
		return r.save()
	}
	if description != "" && existing.Description != description {
		existing.Description = description
		return r.save()
	}
	return nil
}

// SetAccountPermission grants or revokes a permission for an account name.
// Unknown permissions are created on grant.
func (r *Registry) SetAccountPermission(name, accountName string, enabled bool) error {
	if name == "" || accountName == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.permissions[name]
	if !ok {
		if !enabled {
			return nil
		}
		p = &Permission{Name: name}
		r.permissions[name] = p
	}

	has := slices.Contains(p.Accounts, accountName)
	switch {
	case enabled && !has:
		p.Accounts = append(p.Accounts, accountName)
	case !enabled && has:
		p.Accounts = slices.DeleteFunc(p.Accounts, func(a string) bool { return a == accountName })
	default:
		return nil
	}
	verb := "Revoked"
	if enabled {
		verb = "Granted"
	}
	log.Printf("[Permissions] %s %s for %s", verb, name, accountName)
	return r.save()
}

// IsAdmin reports whether the account holds the admin permission.
func (r *Registry) IsAdmin(accountName string) bool {
	if accountName == "" {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.holdsLocked(Admin, accountName)
}

// HasPermission reports whether the account holds the permission. Admins hold
// every permission.
func (r *Registry) HasPermission(accountName, name string) bool {
	if name == "" || accountName == "" {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.holdsLocked(Admin, accountName) || r.holdsLocked(name, accountName)
}

// List returns copies of all permissions sorted by name.
func (r *Registry) List() []Permission {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Permission, 0, len(r.permissions))
	for name, p := range r.permissions {
		out = append(out, Permission{Name: name, Description: p.Description, Accounts: slices.Clone(p.Accounts)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) holdsLocked(name, accountName string) bool {
	p, ok := r.permissions[name]
	return ok && slices.Contains(p.Accounts, accountName)
}

// save must be called with mu held.
func (r *Registry) save() error {
	if r.path == "" {
		return nil
	}
	data, err := yaml.Marshal(fileFormat{Permissions: r.permissions})
	if err != nil {
		return fmt.Errorf("encode permissions: %w", err)
	}
	if dir := filepath.Dir(r.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create permissions dir: %w", err)
		}
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write permissions file: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replace permissions file: %w", err)
	}
	return nil
}

// String is used by the admin CLI.
func (p Permission) String() string {
	return fmt.Sprintf("%s (%s): %s", p.Name, p.Description, strings.Join(p.Accounts, ", "))
}
