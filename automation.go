package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

var errLoginCancelled = errors.New("user canceled operation")

// Automation captures a storefront session from a real browser profile. The
// operator logs in by hand; cookies are read once they confirm.
type Automation struct {
	config      *Config
	profilePath string
	log         *slog.Logger
	in          io.Reader

	browser  *rod.Browser
	page     *rod.Page
	launcher *launcher.Launcher
}

func NewAutomation(config *Config, profilePath string, log *slog.Logger) *Automation {
	if profilePath == "" {
		profilePath = config.BrowserProfilePath
	}
	if log == nil {
		log = discardLogger()
	}
	return &Automation{
		config:      config,
		profilePath: profilePath,
		log:         log,
		in:          os.Stdin,
	}
}

func (a *Automation) Close() {
	if a.page != nil {
		_ = a.page.Close()
	}
	if a.browser != nil {
		_ = a.browser.Close()
	}
	if a.launcher != nil {
		a.launcher.Cleanup()
	}
	a.log.Debug("browser closed")
}

func (a *Automation) setupBrowser() error {
	fmt.Println(T("browser_launching"))

	// Leakless deadlocks on Windows, see go-rod/rod#853.
	useLeakless := runtime.GOOS != "windows"

	a.launcher = launcher.New().
		Leakless(useLeakless).
		Headless(a.config.Headless)

	// must be set before Bin
	if a.profilePath != "" {
		a.launcher = a.launcher.UserDataDir(a.profilePath)
		a.log.Debug("browser profile", "path", a.profilePath)
	}

	if chromePath, ok := launcher.LookPath(); ok {
		a.launcher = a.launcher.Bin(chromePath)
		fmt.Println(T("browser_using_system_chrome"))
	} else {
		fmt.Println(T("browser_chrome_not_found"))
	}

	controlURL, err := a.launcher.Launch()
	if err != nil {
		msg := err.Error()
		if strings.Contains(msg, "ProcessSingleton") || strings.Contains(msg, "SingletonLock") ||
			strings.Contains(msg, "Opening in existing browser session") {
			fmt.Println(T("error_chrome_already_running"))
			return fmt.Errorf("browser profile %s is in use: %w", a.profilePath, err)
		}
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	a.browser = rod.New().ControlURL(controlURL)
	if err := a.browser.Connect(); err != nil {
		return fmt.Errorf("failed to connect to browser: %w", err)
	}

	fmt.Println(T("browser_launched"))
	return nil
}

// CaptureSession opens the login page, waits for the operator and returns the
// store and checkout cookies.
func (a *Automation) CaptureSession(ctx context.Context) ([]*http.Cookie, error) {
	if a.browser == nil {
		if err := a.setupBrowser(); err != nil {
			return nil, err
		}
	}

	var err error
	a.page, err = stealth.Page(a.browser)
	if err != nil {
		return nil, fmt.Errorf("failed to create stealth page: %w", err)
	}
	page := a.page.Context(ctx)

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: a.config.UserAgent}); err != nil {
		a.log.Debug("user agent override failed", "error", err)
	}

	loginURL := a.config.StoreURL + "/login/"
	fmt.Printf(T("loading_login_page")+"\n", loginURL)
	if err := page.Navigate(loginURL); err != nil {
		return nil, fmt.Errorf("failed to navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("page failed to load: %w", err)
	}

	fmt.Println()
	fmt.Println(T("login_instructions"))
	fmt.Print(T("login_prompt"))

	if err := waitForConfirm(a.in); err != nil {
		return nil, err
	}
	fmt.Println(T("user_confirmed_ready"))

	cookies, err := page.Cookies([]string{a.config.StoreURL, a.config.CheckoutURL})
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}

	out := toHTTPCookies(cookies)
	if _, _, ok := sessionFromCookies(out); !ok {
		return out, fmt.Errorf("no %s cookie, is the account logged in?", loginCookie)
	}
	return out, nil
}

// waitForConfirm blocks until Enter, or fails on ESC.
func waitForConfirm(in io.Reader) error {
	reader := bufio.NewReader(in)
	for {
		b, err := reader.ReadByte()
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		switch b {
		case '\n', '\r':
			return nil
		case 27:
			return errLoginCancelled
		}
	}
}

func toHTTPCookies(cookies []*proto.NetworkCookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		out = append(out, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		})
	}
	return out
}
