package blob

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestKeyIsContentAddressed(t *testing.T) {
	a := Key("myapp", "rec-1", "html", []byte("content"))
	b := Key("myapp", "rec-1", "html", []byte("content"))
	if a != b {
		t.Errorf("Expected identical keys for identical content: %q vs %q", a, b)
	}

	c := Key("myapp", "rec-1", "html", []byte("other content"))
	if a == c {
		t.Error("Expected different keys for different content")
	}

	if !strings.HasPrefix(a, "myapp/pk=rec-1/attr=html/sha256=") {
		t.Errorf("Unexpected key layout: %q", a)
	}
}

func TestKeyPrefixTrimmed(t *testing.T) {
	k := Key("/myapp/", "rec-1", "html", []byte("x"))
	if strings.HasPrefix(k, "/") || strings.Contains(k, "//") {
		t.Errorf("Expected trimmed prefix, got %q", k)
	}

	noPrefix := Key("", "rec-1", "html", []byte("x"))
	if !strings.HasPrefix(noPrefix, "pk=rec-1/") {
		t.Errorf("Expected no leading prefix segment, got %q", noPrefix)
	}
}

func TestPutLargeUploadsAndSkips(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	res, err := PutLarge(ctx, st, "myapp", "rec-1", map[string][]byte{
		"html":  []byte("<html>"),
		"image": []byte{0x89, 0x50},
	})
	if err != nil {
		t.Fatalf("PutLarge failed: %v", err)
	}
	if len(res.Actions) != 2 {
		t.Fatalf("Expected 2 actions, got %d", len(res.Actions))
	}
	for _, a := range res.Actions {
		if !a.PutExecuted {
			t.Errorf("Expected first upload of %s to execute", a.Attr)
		}
		if ok, _ := st.Exists(ctx, a.Key); !ok {
			t.Errorf("Expected blob at %s", a.Key)
		}
	}

	// Same content again: nothing uploads.
	res2, err := PutLarge(ctx, st, "myapp", "rec-1", map[string][]byte{
		"html":  []byte("<html>"),
		"image": []byte{0x89, 0x50},
	})
	if err != nil {
		t.Fatalf("PutLarge failed: %v", err)
	}
	for _, a := range res2.Actions {
		if a.PutExecuted {
			t.Errorf("Expected unchanged %s to skip upload", a.Attr)
		}
	}
}

func TestPutResultAttributes(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	res, err := PutLarge(ctx, st, "", "rec-1", map[string][]byte{"html": []byte("x")})
	if err != nil {
		t.Fatalf("PutLarge failed: %v", err)
	}
	attrs := res.Attributes()
	if len(attrs) != 1 || attrs["html"] == "" {
		t.Errorf("Expected html attribute key, got %v", attrs)
	}
}

func TestCleanupOnCreateFailure(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	res, err := PutLarge(ctx, st, "", "rec-1", map[string][]byte{
		"html": []byte("a"), "image": []byte("b"),
	})
	if err != nil {
		t.Fatalf("PutLarge failed: %v", err)
	}

	if err := res.CleanupOnCreateFailure(ctx, st); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if st.Len() != 0 {
		t.Errorf("Expected all created blobs removed, %d left", st.Len())
	}
}

func TestCleanupOnUpdateSuccess(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	first, err := PutLarge(ctx, st, "", "rec-1", map[string][]byte{
		"html": []byte("v1"), "image": []byte("img"),
	})
	if err != nil {
		t.Fatalf("PutLarge failed: %v", err)
	}
	old := first.Attributes()

	// html changes, image does not.
	second, err := PutLarge(ctx, st, "", "rec-1", map[string][]byte{
		"html": []byte("v2"), "image": []byte("img"),
	})
	if err != nil {
		t.Fatalf("PutLarge failed: %v", err)
	}

	if err := second.CleanupOnUpdateSuccess(ctx, st, old); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}

	// Old html gone, new html and shared image intact.
	if ok, _ := st.Exists(ctx, old["html"]); ok {
		t.Error("Expected superseded html blob removed")
	}
	if ok, _ := st.Exists(ctx, second.Attributes()["html"]); !ok {
		t.Error("Expected new html blob kept")
	}
	if ok, _ := st.Exists(ctx, old["image"]); !ok {
		t.Error("Expected unchanged image blob kept")
	}
}

func TestCleanupOnUpdateFailure(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	first, err := PutLarge(ctx, st, "", "rec-1", map[string][]byte{"html": []byte("v1")})
	if err != nil {
		t.Fatalf("PutLarge failed: %v", err)
	}
	second, err := PutLarge(ctx, st, "", "rec-1", map[string][]byte{"html": []byte("v2")})
	if err != nil {
		t.Fatalf("PutLarge failed: %v", err)
	}

	if err := second.CleanupOnUpdateFailure(ctx, st); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if ok, _ := st.Exists(ctx, second.Attributes()["html"]); ok {
		t.Error("Expected abandoned new blob removed")
	}
	if ok, _ := st.Exists(ctx, first.Attributes()["html"]); !ok {
		t.Error("Expected current blob kept")
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	if err := st.Put(ctx, "k", []byte("data")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, err := st.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "data" {
		t.Errorf("Expected data, got %q", got)
	}

	// Mutating the returned slice must not affect the store.
	got[0] = 'X'
	again, _ := st.Get(ctx, "k")
	if string(again) != "data" {
		t.Errorf("Expected stored blob isolated from callers, got %q", again)
	}

	if _, err := st.Get(ctx, "absent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := st.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := st.Delete(ctx, "k"); err != nil {
		t.Errorf("Expected idempotent delete, got %v", err)
	}
}
