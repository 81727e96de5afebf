package db

import (
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func TestSettings_RoundTripAndOverwrite(t *testing.T) {
	db := newTestDB(t)

	if _, ok := GetSetting(db, "module:characters"); ok {
		t.Fatalf("expected missing setting")
	}
	if err := SetSetting(db, "module:characters", `{"allowAllMembers":false}`); err != nil {
		t.Fatalf("set setting: %v", err)
	}
	if err := SetSetting(db, "module:characters", `{"allowAllMembers":true}`); err != nil {
		t.Fatalf("overwrite setting: %v", err)
	}

	got, ok := GetSetting(db, "module:characters")
	if !ok || got != `{"allowAllMembers":true}` {
		t.Fatalf("unexpected setting %q (found=%v)", got, ok)
	}
}

func TestWithPragmas(t *testing.T) {
	if got := withPragmas("fineauth.db"); got != "fineauth.db?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)" {
		t.Fatalf("unexpected dsn %q", got)
	}
	if got := withPragmas("file:x?mode=memory"); got[:19] != "file:x?mode=memory&" {
		t.Fatalf("expected pragmas appended with &, got %q", got)
	}
}
