package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// currencyCountries maps a wallet currency to the country used when talking
// to the storefront on the account's behalf.
var currencyCountries = map[string]string{
	"USD": "US", "GBP": "GB", "EUR": "EU", "CHF": "CH", "RUB": "RU",
	"PLN": "PL", "BRL": "BR", "JPY": "JP", "NOK": "NO", "IDR": "ID",
	"MYR": "MY", "PHP": "PH", "SGD": "SG", "THB": "TH", "VND": "VN",
	"KRW": "KR", "TRY": "TR", "UAH": "UA", "MXN": "MX", "CAD": "CA",
	"AUD": "CX", "NZD": "CK", "CNY": "CN", "INR": "IN", "CLP": "CL",
	"PEN": "PE", "COP": "CO", "ZAR": "ZA", "HKD": "HK", "TWD": "TW",
	"SAR": "SA", "AED": "AE", "ARS": "AR", "ILS": "IL", "BYN": "BY",
	"KZT": "KZ", "KWD": "KW", "QAR": "QA", "CRC": "CT", "UYU": "UY",
	"BGN": "BG", "HRK": "HR", "CZK": "CZ", "DKK": "DK", "HUF": "HU",
	"RON": "RO",
}

// CountryForCurrency returns the mapped country and whether one exists.
func CountryForCurrency(currency string) (string, bool) {
	c, ok := currencyCountries[strings.ToUpper(currency)]
	return c, ok
}

// RegionStore keeps per-account country overrides.
type RegionStore interface {
	Get(ctx context.Context, account string) (string, error)
	Set(ctx context.Context, account, country string) error
	Delete(ctx context.Context, account string) error
	Close() error
}

func NewRegionStore(cfg RegionStoreConfig) (RegionStore, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryRegionStore(), nil
	case "redis":
		return NewRedisRegionStore(cfg)
	default:
		return nil, fmt.Errorf("unknown region store backend %q", cfg.Backend)
	}
}

func regionKey(account string) string {
	return strings.ToLower(account)
}

// MemoryRegionStore is process scoped. Reads take no lock.
type MemoryRegionStore struct {
	m sync.Map
}

func NewMemoryRegionStore() *MemoryRegionStore {
	return &MemoryRegionStore{}
}

func (s *MemoryRegionStore) Get(_ context.Context, account string) (string, error) {
	v, ok := s.m.Load(regionKey(account))
	if !ok {
		return "", nil
	}
	return v.(string), nil
}

func (s *MemoryRegionStore) Set(_ context.Context, account, country string) error {
	s.m.Store(regionKey(account), strings.ToUpper(country))
	return nil
}

func (s *MemoryRegionStore) Delete(_ context.Context, account string) error {
	s.m.Delete(regionKey(account))
	return nil
}

func (s *MemoryRegionStore) Close() error {
	s.m.Clear()
	return nil
}

// RedisRegionStore shares overrides between processes.
type RedisRegionStore struct {
	client *redis.Client
	prefix string
}

func NewRedisRegionStore(cfg RegionStoreConfig) (*RedisRegionStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})
	return &RedisRegionStore{client: client, prefix: cfg.KeyPrefix}, nil
}

func (s *RedisRegionStore) key(account string) string {
	return s.prefix + regionKey(account)
}

func (s *RedisRegionStore) Get(ctx context.Context, account string) (string, error) {
	v, err := s.client.Get(ctx, s.key(account)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("region get %s: %w", account, err)
	}
	return v, nil
}

func (s *RedisRegionStore) Set(ctx context.Context, account, country string) error {
	if err := s.client.Set(ctx, s.key(account), strings.ToUpper(country), 0).Err(); err != nil {
		return fmt.Errorf("region set %s: %w", account, err)
	}
	return nil
}

func (s *RedisRegionStore) Delete(ctx context.Context, account string) error {
	if err := s.client.Del(ctx, s.key(account)).Err(); err != nil {
		return fmt.Errorf("region delete %s: %w", account, err)
	}
	return nil
}

func (s *RedisRegionStore) Close() error {
	return s.client.Close()
}

// RegionResolver picks the country code sent with cart and checkout calls.
type RegionResolver struct {
	store          RegionStore
	defaultCountry string
}

// NewRegionResolver seeds store with the static overrides from config.
func NewRegionResolver(ctx context.Context, store RegionStore, cfg *Config) (*RegionResolver, error) {
	for account, country := range cfg.RegionOverrides {
		if country == "" {
			continue
		}
		if err := store.Set(ctx, account, country); err != nil {
			return nil, err
		}
	}
	return &RegionResolver{store: store, defaultCountry: cfg.DefaultCountry}, nil
}

// CountryCode resolves override, then wallet currency, then the default.
// A failing store falls through to the currency mapping.
func (r *RegionResolver) CountryCode(ctx context.Context, sess *Session) string {
	if r == nil {
		return ""
	}
	if r.store != nil {
		if c, err := r.store.Get(ctx, sess.Name); err == nil && c != "" {
			return c
		}
	}
	if c, ok := CountryForCurrency(sess.WalletCurrency); ok {
		return c
	}
	return r.defaultCountry
}

func (r *RegionResolver) SetOverride(ctx context.Context, account, country string) error {
	if country == "" {
		return r.store.Delete(ctx, account)
	}
	return r.store.Set(ctx, account, country)
}
