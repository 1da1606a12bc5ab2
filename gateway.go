package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"
)

// RawResponse is what a Gateway hands back for every call.
type RawResponse struct {
	StatusCode int
	Body       []byte
	FinalURL   *url.URL
}

// Gateway performs authenticated calls for one session. Non-2xx responses are
// returned together with a *TransportError.
type Gateway interface {
	Get(ctx context.Context, target, referer string) (*RawResponse, error)
	PostForm(ctx context.Context, target string, form url.Values, referer string) (*RawResponse, error)
	Cookie(target, name string) string
}

func getJSON[T any](ctx context.Context, gw Gateway, target, referer string) (*Envelope[T], error) {
	resp, err := gw.Get(ctx, target, referer)
	if err != nil {
		return nil, err
	}
	return &Envelope[T]{StatusCode: resp.StatusCode, Payload: decodePayload[T](resp.Body), FinalURL: resp.FinalURL}, nil
}

func postJSON[T any](ctx context.Context, gw Gateway, target string, form url.Values, referer string) (*Envelope[T], error) {
	resp, err := gw.PostForm(ctx, target, form, referer)
	if err != nil {
		return nil, err
	}
	return &Envelope[T]{StatusCode: resp.StatusCode, Payload: decodePayload[T](resp.Body), FinalURL: resp.FinalURL}, nil
}

// getAPI and postAPI unwrap the {"response": ...} envelope of the web API.
func getAPI[T any](ctx context.Context, gw Gateway, target, referer string) (*Envelope[T], error) {
	env, err := getJSON[apiResponse[T]](ctx, gw, target, referer)
	if err != nil {
		return nil, err
	}
	return unwrapAPI(env), nil
}

func postAPI[T any](ctx context.Context, gw Gateway, target string, form url.Values, referer string) (*Envelope[T], error) {
	env, err := postJSON[apiResponse[T]](ctx, gw, target, form, referer)
	if err != nil {
		return nil, err
	}
	return unwrapAPI(env), nil
}

func unwrapAPI[T any](env *Envelope[apiResponse[T]]) *Envelope[T] {
	out := &Envelope[T]{StatusCode: env.StatusCode, FinalURL: env.FinalURL}
	if env.Payload != nil {
		out.Payload = env.Payload.Response
	}
	return out
}

func getHTML(ctx context.Context, gw Gateway, target, referer string) (*Envelope[goquery.Document], error) {
	resp, err := gw.Get(ctx, target, referer)
	if err != nil {
		return nil, err
	}
	return htmlEnvelope(resp), nil
}

func postHTML(ctx context.Context, gw Gateway, target string, form url.Values, referer string) (*Envelope[goquery.Document], error) {
	resp, err := gw.PostForm(ctx, target, form, referer)
	if err != nil {
		return nil, err
	}
	return htmlEnvelope(resp), nil
}

func htmlEnvelope(resp *RawResponse) *Envelope[goquery.Document] {
	env := &Envelope[goquery.Document]{StatusCode: resp.StatusCode, FinalURL: resp.FinalURL}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return env
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err == nil {
		env.Payload = doc
	}
	return env
}

// The store expects the sessionid cookie echoed as a form field. The field
// name differs per endpoint.
const (
	sessionCookie      = "sessionid"
	sessionFieldLower  = "sessionid"
	sessionFieldPascal = "SessionID"
	sessionFieldCamel  = "sessionID"
)

// withSessionID returns a copy of form carrying the sessionid cookie the jar
// holds for target under field.
func withSessionID(gw Gateway, target string, form url.Values, field string) (url.Values, error) {
	id := gw.Cookie(target, sessionCookie)
	if id == "" {
		return nil, ErrMissingSessionID
	}
	out := make(url.Values, len(form)+1)
	for k, v := range form {
		out[k] = v
	}
	out.Set(field, id)
	return out, nil
}

// resolveFinalURL submits form to target and reports where the redirects ended.
func resolveFinalURL(ctx context.Context, gw Gateway, target string, form url.Values) (*url.URL, error) {
	resp, err := gw.PostForm(ctx, target, form, "")
	if err != nil {
		return nil, err
	}
	return resp.FinalURL, nil
}

// HTTPGateway is the net/http backed Gateway.
type HTTPGateway struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	log       *slog.Logger
}

func NewHTTPGateway(cfg *Config, cookies []*http.Cookie, log *slog.Logger) (*HTTPGateway, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	for _, raw := range []string{cfg.StoreURL, cfg.CheckoutURL, cfg.APIURL} {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", raw, err)
		}
		jar.SetCookies(u, cookies)
	}

	if log == nil {
		log = discardLogger()
	}

	return &HTTPGateway{
		client: &http.Client{
			Timeout: time.Duration(cfg.RequestTimeout) * time.Second,
			Jar:     jar,
		},
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(cfg.RequestBurst, 1)),
		userAgent: cfg.UserAgent,
		log:       log,
	}, nil
}

func (g *HTTPGateway) Get(ctx context.Context, target, referer string) (*RawResponse, error) {
	return g.do(ctx, http.MethodGet, target, nil, referer)
}

func (g *HTTPGateway) PostForm(ctx context.Context, target string, form url.Values, referer string) (*RawResponse, error) {
	return g.do(ctx, http.MethodPost, target, form, referer)
}

func (g *HTTPGateway) Cookie(target, name string) string {
	u, err := url.Parse(target)
	if err != nil {
		return ""
	}
	for _, c := range g.client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// Cookies lists the cookies the jar would send to target.
func (g *HTTPGateway) Cookies(target string) []*http.Cookie {
	u, err := url.Parse(target)
	if err != nil {
		return nil
	}
	return g.client.Jar.Cookies(u)
}

func (g *HTTPGateway) do(ctx context.Context, method, target string, form url.Values, referer string) (*RawResponse, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, &TransportError{Method: method, URL: redactURL(target), Err: err}
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", g.userAgent)
	req.Header.Set("Accept", "application/json, text/html;q=0.9, */*;q=0.8")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	}
	if referer != "" {
		req.Header.Set("Referer", referer)
	}

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &TransportError{Method: method, URL: redactURL(target), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Method: method, URL: redactURL(target), Err: fmt.Errorf("failed to read response: %w", err)}
	}

	g.log.Debug("upstream call",
		"method", method,
		"url", redactURL(target),
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	raw := &RawResponse{StatusCode: resp.StatusCode, Body: data, FinalURL: resp.Request.URL}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return raw, &TransportError{Method: method, URL: redactURL(target), StatusCode: resp.StatusCode}
	}
	return raw, nil
}

// redactURL strips the access token from URLs before they reach logs or errors.
func redactURL(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	if q.Has("access_token") {
		q.Set("access_token", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
