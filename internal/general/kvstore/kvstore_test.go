package kvstore

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestSetGetPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "identity.json")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Set("driver_id", "driver-42"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	// reopen from disk
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := s2.Get("driver_id")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "driver-42" {
		t.Errorf("Get = %q, want driver-42", got)
	}
}

func TestGetMissingKey(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "identity.json"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get("absent"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("err = %v, want ErrKeyNotFound", err)
	}
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set("driver_id", "d1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove("driver_id"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := s.Get("driver_id"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("key survived Remove: %v", err)
	}
	// removing again is a no-op
	if err := s.Remove("driver_id"); err != nil {
		t.Errorf("second Remove: %v", err)
	}
}
