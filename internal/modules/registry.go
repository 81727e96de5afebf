// Package modules holds the compiled-in feature modules, their admin
// settings and the account modifier pipeline they contribute to.
package modules

import (
	"encoding/json"
	"fmt"
	"log"
	"maps"
	"sort"
	"sync"

	"github.com/fineauth/fineauth/internal/auth/token"
	"github.com/fineauth/fineauth/internal/db"
	"github.com/fineauth/fineauth/internal/permissions"
	"gorm.io/gorm"
)

const (
	Characters = "characters"

	// AllowAllMembers lets every member add characters regardless of the
	// characters.add permission.
	AllowAllMembers = "allowAllMembers"

	settingsKeyPrefix = "module_settings:"
)

// PermissionDef is a permission a module needs registered.
type PermissionDef struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// SettingField is one admin-editable setting with its default.
type SettingField struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Type    string `json:"type"`
	Default any    `json:"default"`
}

// Module describes a feature module.
type Module struct {
	Name          string          `json:"name"`
	DisplayName   string          `json:"displayName"`
	Description   string          `json:"description"`
	MainPage      string          `json:"mainPage"`
	Permissions   []PermissionDef `json:"permissions"`
	AdminSettings []SettingField  `json:"adminSettings"`
	BuiltIn       bool            `json:"builtIn"`
}

// PermissionStore is the subset of the permission registry modules use.
type PermissionStore interface {
	Register(name, description string) error
	HasPermission(accountName, name string) bool
	IsAdmin(accountName string) bool
}

// Registry is safe for concurrent use.
type Registry struct {
	db    *gorm.DB
	perms PermissionStore

	mu        sync.RWMutex
	modules   map[string]Module
	modifiers []token.Modifier
	listeners []func()
}

// NewRegistry creates an empty registry.
func NewRegistry(database *gorm.DB, perms PermissionStore) *Registry {
	return &Registry{db: database, perms: perms, modules: map[string]Module{}}
}

// BuiltIn returns the modules shipped with the service.
func BuiltIn() []Module {
	return []Module{
		{
			Name:        "home",
			DisplayName: "Home",
			Description: "Account overview",
			MainPage:    "index.html",
			BuiltIn:     true,
		},
		{
			Name:        Characters,
			DisplayName: "Characters",
			Description: "Manage the characters linked to your account",
			MainPage:    "index.html",
			Permissions: []PermissionDef{{Name: permissions.CharactersAdd, Description: "Add characters to an account"}},
			AdminSettings: []SettingField{
				{ID: AllowAllMembers, Label: "Allow all members to add characters", Type: "checkbox", Default: false},
			},
			BuiltIn: true,
		},
	}
}

// Register adds or replaces a module and registers its permissions.
func (r *Registry) Register(m Module) error {
	if m.Name == "" {
		return fmt.Errorf("module has no name")
	}
	for _, p := range m.Permissions {
		if err := r.perms.Register(p.Name, p.Description); err != nil {
			return fmt.Errorf("register permission %s for module %s: %w", p.Name, m.Name, err)
		}
	}

	r.mu.Lock()
	r.modules[m.Name] = m
	r.mu.Unlock()

	log.Printf("🧩 [Modules] Registered %s", m.Name)
	r.notify()
	return nil
}

// GetModule returns a registered module.
func (r *Registry) GetModule(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[name]
	return m, ok
}

// List returns all modules sorted by name.
func (r *Registry) List() []Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Module, 0, len(r.modules))
	for _, m := range r.modules {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RegisterAccountModifier appends a transform applied to new accounts.
func (r *Registry) RegisterAccountModifier(fn token.Modifier) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.modifiers = append(r.modifiers, fn)
	r.mu.Unlock()
}

// AccountModifiers returns the modifier pipeline in registration order.
func (r *Registry) AccountModifiers() []token.Modifier {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]token.Modifier(nil), r.modifiers...)
}

// OnChange registers a callback fired when modules or settings change.
func (r *Registry) OnChange(fn func()) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Settings returns the module's defaults overlaid with stored values.
// Missing defaults are written back so the stored copy stays complete.
func (r *Registry) Settings(name string) (map[string]any, error) {
	m, ok := r.GetModule(name)
	if !ok {
		return nil, fmt.Errorf("module %s not found", name)
	}

	defaults := defaultsFor(m)
	stored := map[string]any{}
	if raw, ok := db.GetSetting(r.db, settingsKeyPrefix+name); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			log.Printf("⚠️ [Modules] Ignoring corrupt settings for %s: %v", name, err)
			stored = map[string]any{}
		}
	}

	merged := maps.Clone(defaults)
	maps.Copy(merged, stored)

	for key := range defaults {
		if _, ok := stored[key]; !ok {
			if err := r.saveSettings(name, merged); err != nil {
				return nil, err
			}
			break
		}
	}
	return merged, nil
}

// UpdateSettings stores new settings for a module on top of its defaults.
func (r *Registry) UpdateSettings(name string, settings map[string]any) (map[string]any, error) {
	m, ok := r.GetModule(name)
	if !ok {
		return nil, fmt.Errorf("module %s not found", name)
	}
	next := defaultsFor(m)
	maps.Copy(next, settings)
	if err := r.saveSettings(name, next); err != nil {
		return nil, err
	}
	log.Printf("🧩 [Modules] Updated settings for %s", name)
	r.notify()
	return next, nil
}

// CanAddCharacters reports whether an account may link more characters.
func (r *Registry) CanAddCharacters(accountName string) bool {
	if _, ok := r.GetModule(Characters); ok {
		settings, err := r.Settings(Characters)
		if err != nil {
			log.Printf("⚠️ [Modules] Failed to read %s settings: %v", Characters, err)
		} else if allow, _ := settings[AllowAllMembers].(bool); allow {
			return true
		}
	}
	return r.perms.HasPermission(accountName, permissions.CharactersAdd)
}

// IsAdmin reports whether the account holds the admin permission.
func (r *Registry) IsAdmin(accountName string) bool {
	return r.perms.IsAdmin(accountName)
}

func (r *Registry) saveSettings(name string, settings map[string]any) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings for %s: %w", name, err)
	}
	return db.SetSetting(r.db, settingsKeyPrefix+name, string(raw))
}

func (r *Registry) notify() {
	r.mu.RLock()
	listeners := append([]func(){}, r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		fn()
	}
}

func defaultsFor(m Module) map[string]any {
	out := map[string]any{}
	for _, f := range m.AdminSettings {
		if f.ID != "" && f.Default != nil {
			out[f.ID] = f.Default
		}
	}
	return out
}
