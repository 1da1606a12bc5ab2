package main

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed lang/*.yaml
var bundledLocales embed.FS

const fallbackLocale = "en_US"

type Locale struct {
	translations map[string]string
	locale       string
}

var (
	localeMu     sync.RWMutex
	globalLocale *Locale
)

// InitLocale selects the operator language. override wins over the
// environment; unknown locales fall back to en_US.
func InitLocale(override string) error {
	locale := override
	if locale == "" {
		locale = DetectSystemLocale()
	}

	l, err := LoadLocale(locale)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to load locale '%s', falling back to %s: %v\n", locale, fallbackLocale, err)
		l, err = LoadLocale(fallbackLocale)
		if err != nil {
			return fmt.Errorf("failed to load fallback locale %s: %w", fallbackLocale, err)
		}
	}

	setLocale(l)
	return nil
}

func setLocale(l *Locale) {
	localeMu.Lock()
	globalLocale = l
	localeMu.Unlock()
}

func currentLocale() *Locale {
	localeMu.RLock()
	l := globalLocale
	localeMu.RUnlock()
	if l != nil {
		return l
	}

	l, err := LoadLocale(fallbackLocale)
	if err != nil {
		return nil
	}
	localeMu.Lock()
	if globalLocale == nil {
		globalLocale = l
	}
	l = globalLocale
	localeMu.Unlock()
	return l
}

// DetectSystemLocale reads LANG, LC_ALL and LC_MESSAGES in that order.
func DetectSystemLocale() string {
	for _, key := range []string{"LANG", "LC_ALL", "LC_MESSAGES"} {
		if locale := os.Getenv(key); locale != "" {
			// "en_US.UTF-8"
			if name, _, _ := strings.Cut(locale, "."); name != "" && name != "C" && name != "POSIX" {
				return name
			}
		}
	}
	return fallbackLocale
}

// LoadLocale reads lang/<locale>.yaml next to the executable, then the copy
// built into the binary.
func LoadLocale(locale string) (*Locale, error) {
	data, err := readLocaleFile(locale)
	if err != nil {
		return nil, err
	}

	var translations map[string]string
	if err := yaml.Unmarshal(data, &translations); err != nil {
		return nil, fmt.Errorf("failed to parse locale file %s: %w", locale, err)
	}

	return &Locale{translations: translations, locale: locale}, nil
}

func readLocaleFile(locale string) ([]byte, error) {
	if exePath, err := os.Executable(); err == nil {
		localeFile := filepath.Join(filepath.Dir(exePath), "lang", locale+".yaml")
		if data, err := os.ReadFile(localeFile); err == nil {
			return data, nil
		}
	}

	data, err := bundledLocales.ReadFile("lang/" + locale + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to read locale file %s: %w", locale, err)
	}
	return data, nil
}

// T translates key and applies fmt style params. Missing keys come back
// unchanged.
func T(key string, params ...interface{}) string {
	l := currentLocale()
	if l == nil {
		return key
	}

	translation, ok := l.translations[key]
	if !ok {
		return key
	}

	if len(params) > 0 {
		return fmt.Sprintf(translation, params...)
	}
	return translation
}

func GetLocale() string {
	l := currentLocale()
	if l == nil {
		return fallbackLocale
	}
	return l.locale
}
