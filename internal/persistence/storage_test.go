// SPDX-License-Identifier: Apache-2.0

package persistence

import (
	"context"
	"testing"
)

func TestMemoryStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	if _, found, err := s.GetItem(ctx, "missing"); err != nil || found {
		t.Fatalf("expected missing key, found=%v err=%v", found, err)
	}

	if err := s.SetItem(ctx, "k", "v1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.SetItem(ctx, "k", "v2"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	got, found, err := s.GetItem(ctx, "k")
	if err != nil || !found || got != "v2" {
		t.Fatalf("expected v2 got %q found=%v err=%v", got, found, err)
	}

	if err := s.RemoveItem(ctx, "k"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := s.RemoveItem(ctx, "k"); err != nil {
		t.Fatalf("remove of missing key must succeed: %v", err)
	}
	if _, found, _ := s.GetItem(ctx, "k"); found {
		t.Fatal("expected key removed")
	}
}
