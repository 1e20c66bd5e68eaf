package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/wastelandfi/wasteland/internal/hunter"
	"github.com/wastelandfi/wasteland/pkg/types"
)

const (
	addrA = "0x52908400098527886E0F7030069857D2E4169EE7"
	addrB = "0x8617E340B3D01FA5F11F306F4090FD50E238070D"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()
	level, err := OpenLevelStore(filepath.Join(t.TempDir(), "hunters"))
	if err != nil {
		t.Fatalf("OpenLevelStore: %v", err)
	}
	t.Cleanup(func() { level.Close() })

	return map[string]Store{
		BackendMemory:  NewMemoryStore(),
		BackendLevelDB: level,
	}
}

func TestStore_GetPutList(t *testing.T) {
	ctx := context.Background()

	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Get(ctx, addrA); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}

			recA := hunter.Record{Address: addrA, TotalReferrals: 5, SuccessfulReferrals: 4, SuccessRate: 80, Tier: types.HunterTierSilver, RewardMultiplier: 1.2}
			recB := hunter.Record{Address: addrB, TotalReferrals: 1, Tier: types.HunterTierBronze, RewardMultiplier: 1}
			for _, rec := range []hunter.Record{recA, recB} {
				if err := s.Put(ctx, rec); err != nil {
					t.Fatalf("Put: %v", err)
				}
			}

			// lookups are case-insensitive
			got, err := s.Get(ctx, "0x52908400098527886e0f7030069857d2e4169ee7")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.TotalReferrals != 5 || got.Tier != types.HunterTierSilver || got.RewardMultiplier != 1.2 {
				t.Errorf("unexpected record: %+v", got)
			}

			all, err := s.List(ctx)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(all) != 2 {
				t.Errorf("expected 2 records, got %d", len(all))
			}

			if err := s.Put(ctx, hunter.Record{}); err == nil {
				t.Error("expected error for record without address")
			}
		})
	}
}

func TestLevelStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "hunters")

	s, err := OpenLevelStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, hunter.Record{Address: addrA, TotalReferrals: 7}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = OpenLevelStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	got, err := s.Get(ctx, addrA)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.TotalReferrals != 7 {
		t.Errorf("expected 7 referrals, got %d", got.TotalReferrals)
	}
}

func TestOpen(t *testing.T) {
	s, err := Open(BackendMemory, "")
	if err != nil {
		t.Fatalf("Open(memory): %v", err)
	}
	s.Close()

	if _, err := Open(BackendLevelDB, ""); err == nil {
		t.Error("expected error for leveldb without a directory")
	}
	if _, err := Open("postgres", ""); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestNormalizeAddress(t *testing.T) {
	got, err := NormalizeAddress(" 0x52908400098527886e0f7030069857d2e4169ee7 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != addrA {
		t.Errorf("expected checksummed %s, got %s", addrA, got)
	}
	for _, bad := range []string{"", "0x123", "not-an-address"} {
		if _, err := NormalizeAddress(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}
