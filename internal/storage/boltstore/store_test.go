package boltstore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tgmedia/pkg/media"

	"github.com/google/go-cmp/cmp"
)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()

	store, err := Open(Config{Path: path, OpenTimeout: time.Second})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	return store
}

func TestStoreRoundTripAcrossReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "media.db")
	payload := media.Payload{Data: []byte{0x52, 0x49, 0x46, 0x46}, MIMEType: "image/webp"}

	store := openTestStore(t, path)
	if err := store.Save(ctx, media.BucketMedia, "document10?size=m", media.CacheTypeBlob, payload); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	reopened := openTestStore(t, path)
	t.Cleanup(func() { _ = reopened.Close() })

	got, found, err := reopened.Fetch(ctx, media.BucketMedia, "document10?size=m", media.CacheTypeBlob, false)
	if err != nil || !found {
		t.Fatalf("fetch = (%v, %v), want hit", found, err)
	}
	if diff := cmp.Diff(payload, got); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestStoreMisses(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTestStore(t, filepath.Join(t.TempDir(), "media.db"))
	t.Cleanup(func() { _ = store.Close() })

	if _, found, err := store.Fetch(ctx, media.BucketAvatars, "avatar1", media.CacheTypeBlob, false); err != nil || found {
		t.Fatalf("missing bucket fetch = (%v, %v), want clean miss", found, err)
	}

	if err := store.Save(ctx, media.BucketMedia, "page", media.CacheTypeText, media.Payload{Data: []byte("<p>"), MIMEType: "text/html"}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if _, found, err := store.Fetch(ctx, media.BucketMedia, "page", media.CacheTypeText, false); err != nil || found {
		t.Fatalf("unsafe fetch = (%v, %v), want miss", found, err)
	}
	if _, found, err := store.Fetch(ctx, media.BucketMedia, "page", media.CacheTypeText, true); err != nil || !found {
		t.Fatalf("opt-in fetch = (%v, %v), want hit", found, err)
	}
	if _, found, err := store.Fetch(ctx, media.BucketMedia, "page", media.CacheTypeRaw, true); err != nil || found {
		t.Fatalf("other type fetch = (%v, %v), want miss", found, err)
	}
	if _, found, err := store.Fetch(ctx, media.BucketMedia, "absent", media.CacheTypeText, false); err != nil || found {
		t.Fatalf("absent key fetch = (%v, %v), want miss", found, err)
	}
}

func TestParseConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    Config
		wantErr bool
	}{
		{name: "defaults", raw: "", want: Config{Path: defaultPath, OpenTimeout: defaultOpenTimeout}},
		{name: "custom", raw: `{"path":" /tmp/m.db ","open_timeout":"2s"}`, want: Config{Path: "/tmp/m.db", OpenTimeout: 2 * time.Second}},
		{name: "bad timeout", raw: `{"open_timeout":"soon"}`, wantErr: true},
		{name: "negative timeout", raw: `{"open_timeout":"-1s"}`, wantErr: true},
		{name: "bad json", raw: `{`, wantErr: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseConfig([]byte(testCase.raw))
			if testCase.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if got != testCase.want {
				t.Fatalf("config = %+v, want %+v", got, testCase.want)
			}
		})
	}
}

func TestStoreConcurrentSaves(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTestStore(t, filepath.Join(t.TempDir(), "media.db"))
	t.Cleanup(func() { _ = store.Close() })

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for index := 0; index < writers; index++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			bucket := media.BucketMedia
			if index%2 == 1 {
				bucket = media.BucketAvatars
			}
			key := media.Key(fmt.Sprintf("document%d", index))
			payload := media.Payload{Data: []byte(key), MIMEType: "image/webp"}
			errs <- store.Save(ctx, bucket, key, media.CacheTypeBlob, payload)
		}(index)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent save failed: %v", err)
		}
	}

	for index := 0; index < writers; index++ {
		bucket := media.BucketMedia
		if index%2 == 1 {
			bucket = media.BucketAvatars
		}
		key := media.Key(fmt.Sprintf("document%d", index))
		got, found, err := store.Fetch(ctx, bucket, key, media.CacheTypeBlob, false)
		if err != nil || !found {
			t.Fatalf("fetch %s = (%v, %v), want hit", key, found, err)
		}
		if string(got.Data) != string(key) {
			t.Fatalf("data = %q, want %q", got.Data, key)
		}
	}
}
