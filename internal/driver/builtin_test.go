package driver

import (
	"context"
	"path/filepath"
	"testing"

	"tgmedia/internal/remote/httpfetch"
	"tgmedia/internal/remote/telegram"
	"tgmedia/internal/storage/boltstore"
	"tgmedia/internal/storage/kvstore"
	"tgmedia/internal/storage/sqlstore"
	"tgmedia/pkg/media"

	"github.com/google/go-cmp/cmp"
)

func TestNewStorageRegistryTypes(t *testing.T) {
	t.Parallel()

	registry, err := NewStorageRegistry()
	if err != nil {
		t.Fatalf("new storage registry failed: %v", err)
	}

	want := []string{boltstore.Type, MemoryStorageType, kvstore.TypeRedis, sqlstore.Type, kvstore.TypeValkey}
	if diff := cmp.Diff(want, registry.Types()); diff != "" {
		t.Fatalf("storage types mismatch (-want +got):\n%s", diff)
	}
}

func TestStorageRegistryBuildsFileBackends(t *testing.T) {
	t.Parallel()

	registry, err := NewStorageRegistry()
	if err != nil {
		t.Fatalf("new storage registry failed: %v", err)
	}

	dir := t.TempDir()
	definitions := []Definition{
		{Name: "hot", Type: MemoryStorageType, Enabled: true},
		{
			Name:    "disk",
			Type:    boltstore.Type,
			Enabled: true,
			Config:  []byte(`{"path":"` + filepath.ToSlash(filepath.Join(dir, "media.db")) + `"}`),
		},
		{
			Name:    "db",
			Type:    sqlstore.Type,
			Enabled: true,
			Config:  []byte(`{"path":"` + filepath.ToSlash(filepath.Join(dir, "media.sqlite")) + `"}`),
		},
		{Name: "shared", Type: kvstore.TypeValkey, Enabled: false},
	}

	built, err := registry.BuildEnabled(context.Background(), definitions, nil)
	if err != nil {
		t.Fatalf("build enabled storage failed: %v", err)
	}
	if len(built) != 3 {
		t.Fatalf("built = %d stores, want 3", len(built))
	}

	for _, entry := range built {
		store := entry.Value
		payload := media.Payload{Data: []byte(entry.Name), MIMEType: "image/webp"}
		if err := store.Save(context.Background(), "stickers", "document1", media.CacheTypeBlob, payload); err != nil {
			t.Fatalf("%s save failed: %v", entry.Name, err)
		}
		got, ok, err := store.Fetch(context.Background(), "stickers", "document1", media.CacheTypeBlob, false)
		if err != nil || !ok {
			t.Fatalf("%s fetch = (%v, %v), want hit", entry.Name, ok, err)
		}
		if diff := cmp.Diff(payload, got); diff != "" {
			t.Fatalf("%s payload mismatch (-want +got):\n%s", entry.Name, diff)
		}
		if err := store.Close(); err != nil {
			t.Fatalf("%s close failed: %v", entry.Name, err)
		}
	}
}

func TestStorageRegistryRejectsBadConfig(t *testing.T) {
	t.Parallel()

	registry, err := NewStorageRegistry()
	if err != nil {
		t.Fatalf("new storage registry failed: %v", err)
	}

	definitions := []Definition{{Name: "db", Type: sqlstore.Type, Enabled: true, Config: []byte(`{"driver":"oracle"}`)}}
	if _, err := registry.BuildEnabled(context.Background(), definitions, nil); err == nil {
		t.Fatal("expected unsupported sql driver error")
	}
}

func TestNewFetcherRegistry(t *testing.T) {
	t.Parallel()

	registry, err := NewFetcherRegistry()
	if err != nil {
		t.Fatalf("new fetcher registry failed: %v", err)
	}
	if diff := cmp.Diff([]string{httpfetch.Type, telegram.Type}, registry.Types()); diff != "" {
		t.Fatalf("fetcher types mismatch (-want +got):\n%s", diff)
	}

	built, err := registry.BuildEnabled(context.Background(), []Definition{
		{Name: "web", Type: httpfetch.Type, Enabled: true, Config: []byte(`{"base_url":"https://cdn.example.com/"}`)},
	}, nil)
	if err != nil {
		t.Fatalf("build http fetcher failed: %v", err)
	}
	runtime := built[0].Value
	if runtime.Fetcher == nil || runtime.Shutdown == nil {
		t.Fatalf("runtime = %+v, want fetcher with shutdown", runtime)
	}
	if diff := cmp.Diff([]string{"http://", "https://"}, runtime.Prefixes); diff != "" {
		t.Fatalf("prefixes mismatch (-want +got):\n%s", diff)
	}
	if err := runtime.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
}

func TestFetcherRegistryRejectsTelegramWithoutCredentials(t *testing.T) {
	t.Parallel()

	registry, err := NewFetcherRegistry()
	if err != nil {
		t.Fatalf("new fetcher registry failed: %v", err)
	}

	definitions := []Definition{{Name: "tg", Type: telegram.Type, Enabled: true, Config: []byte(`{"app_id":0}`)}}
	if _, err := registry.BuildEnabled(context.Background(), definitions, nil); err == nil {
		t.Fatal("expected telegram config error")
	}
}
