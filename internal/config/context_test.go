package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestContext_String(t *testing.T) {
	tests := []struct {
		name string
		ctx  Context
		want string
	}{
		{
			name: "empty",
			ctx:  Context{},
			want: "(not connected)",
		},
		{
			name: "account only",
			ctx:  Context{Self: "0xaa"},
			want: "account:0xaa",
		},
		{
			name: "with partner and chain",
			ctx:  Context{Self: "0x1234567890abcdef", Partner: "0xbb", ChainID: "e476"},
			want: "account:0x1234...cdef partner:0xbb chain:e476",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ctx.String(); got != tt.want {
				t.Errorf("Context.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestContext_ConnectClearsPartner(t *testing.T) {
	ctx := &Context{}
	ctx.Connect("AA", "e476")
	ctx.Focus("0xBB")
	if ctx.Partner != "0xbb" {
		t.Fatalf("Partner = %v, want 0xbb", ctx.Partner)
	}

	ctx.Connect("0xcc", "e476")
	if ctx.Self != "0xcc" {
		t.Errorf("Self = %v, want 0xcc", ctx.Self)
	}
	if ctx.Partner != "" {
		t.Errorf("Partner = %v, want empty", ctx.Partner)
	}

	ctx.Disconnect()
	if !ctx.IsEmpty() {
		t.Error("Disconnect() should leave an empty context")
	}
}

func TestContextStore_SaveLoad(t *testing.T) {
	store := NewContextStore(filepath.Join(t.TempDir(), "nested", "context.yaml"))

	ctx := &Context{}
	ctx.Connect("0xaa", "e476")
	ctx.Focus("0xbb")

	if err := store.Save(ctx); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Self != "0xaa" || loaded.Partner != "0xbb" || loaded.ChainID != "e476" {
		t.Errorf("Load() = %+v, want self 0xaa partner 0xbb chain e476", loaded)
	}
}

func TestContextStore_LoadEmpty(t *testing.T) {
	store := NewContextStore(filepath.Join(t.TempDir(), "context.yaml"))

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !loaded.IsEmpty() {
		t.Error("Load() should return empty context for non-existent file")
	}
}

func TestContextStore_LoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "context.yaml")
	if err := os.WriteFile(path, []byte("self: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewContextStore(path).Load(); err == nil {
		t.Error("Load() should fail on malformed yaml")
	}
}

func TestContextStore_Clear(t *testing.T) {
	contextPath := filepath.Join(t.TempDir(), "context.yaml")
	store := NewContextStore(contextPath)

	if err := store.Save(&Context{Self: "0xaa"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, err := os.Stat(contextPath); !os.IsNotExist(err) {
		t.Error("context file should be removed after clear")
	}
	if err := store.Clear(); err != nil {
		t.Errorf("second Clear() error = %v", err)
	}
}
