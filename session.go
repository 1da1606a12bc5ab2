package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Session is one authenticated storefront account.
type Session struct {
	Name           string
	AccessToken    string
	SteamID        uint64
	WalletCurrency string
	Gateway        Gateway
}

// RequireAccessToken fails before any request when the session cannot call
// the cart service.
func (s *Session) RequireAccessToken() error {
	if s == nil || s.AccessToken == "" {
		name := ""
		if s != nil {
			name = s.Name
		}
		return fmt.Errorf("%s: %w", name, ErrMissingAccessToken)
	}
	return nil
}

const loginCookie = "steamLoginSecure"

// sessionFromCookies derives the account id and access token from the login
// cookie, which has the form "<steamid>||<jwt>" (url encoded). The last login
// cookie wins.
func sessionFromCookies(cookies []*http.Cookie) (steamID uint64, token string, ok bool) {
	for i := len(cookies) - 1; i >= 0; i-- {
		c := cookies[i]
		if c.Name != loginCookie {
			continue
		}

		raw, err := url.QueryUnescape(c.Value)
		if err != nil {
			raw = c.Value
		}

		id, tok, found := strings.Cut(raw, "||")
		if !found || tok == "" {
			return 0, "", false
		}

		steamID, err = strconv.ParseUint(id, 10, 64)
		if err != nil {
			return 0, "", false
		}
		return steamID, tok, true
	}
	return 0, "", false
}

// NewSessionFromAccount builds a session from the static account entry in
// the config.
func NewSessionFromAccount(cfg *Config, acc AccountConfig, extra []*http.Cookie) (*Session, error) {
	cookies := make([]*http.Cookie, 0, len(acc.Cookies)+len(extra))
	for name, value := range acc.Cookies {
		cookies = append(cookies, &http.Cookie{Name: name, Value: value, Path: "/"})
	}
	cookies = append(cookies, extra...)

	sess := &Session{
		Name:           acc.Name,
		AccessToken:    acc.AccessToken,
		SteamID:        acc.SteamID,
		WalletCurrency: acc.WalletCurrency,
	}

	if id, tok, ok := sessionFromCookies(cookies); ok {
		if sess.SteamID == 0 {
			sess.SteamID = id
		}
		if sess.AccessToken == "" {
			sess.AccessToken = tok
		}
	}

	gw, err := NewHTTPGateway(cfg, cookies, nil)
	if err != nil {
		return nil, err
	}
	sess.Gateway = gw
	return sess, nil
}
