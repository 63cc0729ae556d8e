package blob

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestError_UnwrapKindAndCause(t *testing.T) {
	cause := errors.New("backend exploded")
	err := newError("fetch", "pfx/reports.csv", ErrAccessDenied, cause)

	if !errors.Is(err, ErrAccessDenied) {
		t.Error("errors.Is(err, ErrAccessDenied) = false")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("errors.Is(err, ErrNotFound) = true")
	}
	want := "fetch pfx/reports.csv: access denied: backend exploded"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

// storeContract exercises the behavior every Store must share.
func storeContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	key := "boston-housing-regression/reports.csv"

	if _, err := s.Fetch(ctx, key); !IsNotFound(err) {
		t.Fatalf("Fetch missing: err = %v, want ErrNotFound", err)
	}
	ok, err := s.Exists(ctx, key)
	if err != nil || ok {
		t.Fatalf("Exists missing = %v, %v; want false, nil", ok, err)
	}

	if err := s.Put(ctx, key, []byte("v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, key, []byte("v2")); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}

	data, err := s.Fetch(ctx, key)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(data) != "v2" {
		t.Errorf("Fetch = %q, want v2", data)
	}
	ok, err = s.Exists(ctx, key)
	if err != nil || !ok {
		t.Errorf("Exists = %v, %v; want true, nil", ok, err)
	}
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestMemoryStore_FetchReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.Put(ctx, "k", []byte("abc"))

	data, _ := s.Fetch(ctx, "k")
	data[0] = 'X'

	again, _ := s.Fetch(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("stored object mutated through Fetch result: %q", again)
	}

	s.Delete("k")
	if _, err := s.Fetch(ctx, "k"); !IsNotFound(err) {
		t.Errorf("Fetch after Delete: err = %v, want ErrNotFound", err)
	}
}

func TestFileStore(t *testing.T) {
	storeContract(t, NewFileStore(t.TempDir()))
}

func TestFileStore_FileURIRoot(t *testing.T) {
	root := t.TempDir()
	s := NewFileStore("file://" + root)
	if err := s.Put(context.Background(), "a/b.csv", []byte("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "a", "b.csv")); err != nil {
		t.Errorf("object not written under root: %v", err)
	}
}

func TestFileStore_RejectsEscapingKeys(t *testing.T) {
	s := NewFileStore(t.TempDir())
	for _, key := range []string{"../outside.csv", "", "."} {
		if err := s.Put(context.Background(), key, []byte("x")); err == nil {
			t.Errorf("Put(%q) succeeded, want error", key)
		}
	}
}

func TestFileStore_AccessDenied(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits not enforced")
	}
	root := t.TempDir()
	s := NewFileStore(root)
	ctx := context.Background()
	if err := s.Put(ctx, "locked.csv", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(filepath.Join(root, "locked.csv"), 0o000); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chmod(filepath.Join(root, "locked.csv"), 0o644) })

	_, err := s.Fetch(ctx, "locked.csv")
	if !IsAccessDenied(err) {
		t.Errorf("Fetch: err = %v, want ErrAccessDenied", err)
	}
}
