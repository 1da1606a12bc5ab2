package main

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountryForCurrency(t *testing.T) {
	c, ok := CountryForCurrency("usd")
	assert.True(t, ok)
	assert.Equal(t, "US", c)

	c, ok = CountryForCurrency("CNY")
	assert.True(t, ok)
	assert.Equal(t, "CN", c)

	_, ok = CountryForCurrency("XXX")
	assert.False(t, ok)
}

func TestMemoryRegionStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRegionStore()

	got, err := s.Get(ctx, "Main")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.Set(ctx, "Main", "de"))
	got, _ = s.Get(ctx, "main")
	assert.Equal(t, "DE", got)

	require.NoError(t, s.Delete(ctx, "MAIN"))
	got, _ = s.Get(ctx, "main")
	assert.Empty(t, got)

	require.NoError(t, s.Set(ctx, "a", "fr"))
	require.NoError(t, s.Close())
	got, _ = s.Get(ctx, "a")
	assert.Empty(t, got)
}

func TestMemoryRegionStoreConcurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRegionStore()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = s.Set(ctx, "shared", "US")
				_, _ = s.Get(ctx, "shared")
			}
		}()
	}
	wg.Wait()

	got, _ := s.Get(ctx, "shared")
	assert.Equal(t, "US", got)
}

type failingRegionStore struct{ MemoryRegionStore }

func (failingRegionStore) Get(context.Context, string) (string, error) {
	return "", errors.New("store offline")
}

func TestRegionResolverOrder(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.DefaultCountry = "GB"
	cfg.RegionOverrides = map[string]string{"pinned": "ar"}

	r, err := NewRegionResolver(ctx, NewMemoryRegionStore(), cfg)
	require.NoError(t, err)

	assert.Equal(t, "AR", r.CountryCode(ctx, &Session{Name: "Pinned", WalletCurrency: "USD"}))
	assert.Equal(t, "BR", r.CountryCode(ctx, &Session{Name: "b", WalletCurrency: "BRL"}))
	assert.Equal(t, "GB", r.CountryCode(ctx, &Session{Name: "c"}))

	require.NoError(t, r.SetOverride(ctx, "b", "tr"))
	assert.Equal(t, "TR", r.CountryCode(ctx, &Session{Name: "b", WalletCurrency: "BRL"}))

	require.NoError(t, r.SetOverride(ctx, "b", ""))
	assert.Equal(t, "BR", r.CountryCode(ctx, &Session{Name: "b", WalletCurrency: "BRL"}))

	broken, err := NewRegionResolver(ctx, &failingRegionStore{}, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, "JP", broken.CountryCode(ctx, &Session{Name: "x", WalletCurrency: "JPY"}))

	var none *RegionResolver
	assert.Empty(t, none.CountryCode(ctx, &Session{}))
}

func TestNewRegionStore(t *testing.T) {
	s, err := NewRegionStore(RegionStoreConfig{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryRegionStore{}, s)

	_, err = NewRegionStore(RegionStoreConfig{Backend: "etcd"})
	assert.Error(t, err)
}

// Set CARTPILOT_TEST_REDIS=host:port to run against a live server.
func TestRedisRegionStore(t *testing.T) {
	addr := os.Getenv("CARTPILOT_TEST_REDIS")
	if addr == "" {
		t.Skip("CARTPILOT_TEST_REDIS not set")
	}

	ctx := context.Background()
	s, err := NewRegionStore(RegionStoreConfig{Backend: "redis", RedisAddr: addr, KeyPrefix: "cartpilot:test:"})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Set(ctx, "Main", "pl"))
	got, err := s.Get(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, "PL", got)

	require.NoError(t, s.Delete(ctx, "main"))
	got, err = s.Get(ctx, "main")
	require.NoError(t, err)
	assert.Empty(t, got)
}
