package main

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	koanfyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

const envPrefix = "CARTPILOT_"

type Config struct {
	StoreURL    string `yaml:"store_url"`
	CheckoutURL string `yaml:"checkout_url"`
	APIURL      string `yaml:"api_url"`

	UserAgent          string  `yaml:"user_agent"`
	RequestTimeout     int     `yaml:"request_timeout"`
	RequestsPerSecond  float64 `yaml:"requests_per_second"`
	RequestBurst       int     `yaml:"request_burst"`
	AccountConcurrency int     `yaml:"account_concurrency"`

	DefaultCountry  string            `yaml:"default_country"`
	RegionOverrides map[string]string `yaml:"region_overrides"`
	RegionStore     RegionStoreConfig `yaml:"region_store"`

	Address   *AddressConfig  `yaml:"address"`
	Addresses []AddressConfig `yaml:"addresses"`

	DefaultPaymentMethod   string   `yaml:"default_payment_method"`
	ExternalPaymentMethods []string `yaml:"external_payment_methods"`

	Gift        GiftConfig        `yaml:"gift"`
	BrowserInfo BrowserInfoConfig `yaml:"browser_info"`

	Accounts []AccountConfig `yaml:"accounts"`

	BrowserProfilePath string `yaml:"browser_profile_path"`
	Headless           bool   `yaml:"headless"`

	JournalPath string `yaml:"journal_path"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogFile     string `yaml:"log_file"`
	LogLevel    string `yaml:"log_level"`

	TimeServers []string `yaml:"time_servers"`

	DevFeature       bool     `yaml:"dev_feature"`
	DisabledCommands []string `yaml:"disabled_commands"`
	DebugMode        bool     `yaml:"debug_mode"`
}

// AddressConfig fills the billing fields of a transaction.
type AddressConfig struct {
	FirstName string `yaml:"first_name"`
	LastName  string `yaml:"last_name"`
	Address   string `yaml:"address"`
	City      string `yaml:"city"`
	Country   string `yaml:"country"`
	State     string `yaml:"state"`
	PostCode  string `yaml:"post_code"`
}

type AccountConfig struct {
	Name           string            `yaml:"name"`
	WalletCurrency string            `yaml:"wallet_currency"`
	AccessToken    string            `yaml:"access_token"`
	SteamID        uint64            `yaml:"steam_id"`
	Cookies        map[string]string `yaml:"cookies"`
	ProfilePath    string            `yaml:"profile_path"`
}

type RegionStoreConfig struct {
	Backend   string `yaml:"backend"`
	RedisAddr string `yaml:"redis_addr"`
	RedisPass string `yaml:"redis_password"`
	RedisDB   int    `yaml:"redis_db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type GiftConfig struct {
	GifteeName string `yaml:"giftee_name"`
	Message    string `yaml:"message"`
	Sentiment  string `yaml:"sentiment"`
	Signature  string `yaml:"signature"`
}

// BrowserInfoConfig is the fingerprint stub sent with finalize.
type BrowserInfoConfig struct {
	Language     string `yaml:"language"`
	ColorDepth   int    `yaml:"color_depth"`
	ScreenHeight int    `yaml:"screen_height"`
	ScreenWidth  int    `yaml:"screen_width"`
}

func DefaultConfig() *Config {
	userDataDir := getUserDataDir()

	return &Config{
		StoreURL:               "https://store.steampowered.com",
		CheckoutURL:            "https://checkout.steampowered.com",
		APIURL:                 "https://api.steampowered.com",
		UserAgent:              "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		RequestTimeout:         30,
		RequestsPerSecond:      4,
		RequestBurst:           2,
		AccountConcurrency:     4,
		DefaultCountry:         "US",
		RegionOverrides:        map[string]string{},
		RegionStore:            RegionStoreConfig{Backend: "memory", KeyPrefix: "cartpilot:region:"},
		DefaultPaymentMethod:   "alipay",
		ExternalPaymentMethods: []string{"alipay", "wechat", "unionpay", "paypal"},
		Gift: GiftConfig{
			GifteeName: "Friend",
			Message:    "Enjoy!",
			Sentiment:  "Best Wishes",
			Signature:  "cartpilot",
		},
		BrowserInfo: BrowserInfoConfig{
			Language:     "en-US",
			ColorDepth:   24,
			ScreenHeight: 1080,
			ScreenWidth:  1920,
		},
		BrowserProfilePath: filepath.Join(userDataDir, "browser-profile"),
		Headless:           false,
		JournalPath:        filepath.Join(userDataDir, "journal.db"),
		LogFile:            filepath.Join(userDataDir, "logs", "cartpilot.log"),
		LogLevel:           "info",
		TimeServers: []string{
			"https://www.google.com",
			"https://www.cloudflare.com",
			"https://store.steampowered.com",
		},
		DevFeature: false,
		DebugMode:  false,
	}
}

// LoadConfig reads path, writing the defaults first when it does not exist,
// and applies CARTPILOT_ environment overrides (CARTPILOT_REGION_STORE__BACKEND).
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := config.Save(path); err != nil {
			return nil, err
		}
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), koanfyaml.Parser()); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ReplaceAll(s, "__", ".")
		return strings.ToLower(s)
	}), nil); err != nil {
		return nil, fmt.Errorf("env overlay: %w", err)
	}

	if err := k.UnmarshalWithConf("", config, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	if config.BrowserProfilePath != "" {
		if err := os.MkdirAll(config.BrowserProfilePath, 0755); err != nil {
			return nil, err
		}
	}

	return config, nil
}

func (c *Config) Validate() error {
	for name, raw := range map[string]string{
		"store_url":    c.StoreURL,
		"checkout_url": c.CheckoutURL,
		"api_url":      c.APIURL,
	} {
		if raw == "" {
			return fmt.Errorf("%s required", name)
		}
	}
	if c.RequestsPerSecond <= 0 {
		return errors.New("requests_per_second must be positive")
	}
	if c.AccountConcurrency <= 0 {
		return errors.New("account_concurrency must be positive")
	}
	switch c.RegionStore.Backend {
	case "", "memory":
	case "redis":
		if c.RegionStore.RedisAddr == "" {
			return errors.New("region_store.redis_addr required for redis backend")
		}
	default:
		return fmt.Errorf("unknown region_store.backend %q", c.RegionStore.Backend)
	}
	seen := make(map[string]bool, len(c.Accounts))
	for _, acc := range c.Accounts {
		if acc.Name == "" {
			return errors.New("account name required")
		}
		key := strings.ToLower(acc.Name)
		if seen[key] {
			return fmt.Errorf("duplicate account %q", acc.Name)
		}
		seen[key] = true
	}
	return nil
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return os.WriteFile(path, data, 0644)
}

// IsExternalPayment reports whether method leaves the site to pay.
func (c *Config) IsExternalPayment(method string) bool {
	for _, m := range c.ExternalPaymentMethods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

func (c *Config) IsCommandDisabled(cmd string) bool {
	for _, d := range c.DisabledCommands {
		if strings.EqualFold(d, cmd) {
			return true
		}
	}
	return false
}

func (c *Config) Account(name string) (AccountConfig, bool) {
	for _, acc := range c.Accounts {
		if strings.EqualFold(acc.Name, name) {
			return acc, true
		}
	}
	return AccountConfig{}, false
}

// AddressBook lists address followed by addresses.
func (c *Config) AddressBook() []AddressConfig {
	book := make([]AddressConfig, 0, len(c.Addresses)+1)
	if c.Address != nil {
		book = append(book, *c.Address)
	}
	return append(book, c.Addresses...)
}

// PickAddress returns entry n (1-based) of the address book, or a random entry
// when n is 0. An empty book yields nil.
func (c *Config) PickAddress(n int) (*AddressConfig, error) {
	book := c.AddressBook()
	if n < 0 || n > len(book) {
		return nil, fmt.Errorf("address %d not configured (%d available)", n, len(book))
	}
	if len(book) == 0 {
		return nil, nil
	}
	if n == 0 {
		n = rand.IntN(len(book)) + 1
	}
	return &book[n-1], nil
}
