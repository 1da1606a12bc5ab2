package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const (
	stepGetCart    = "getCart"
	stepAddItems   = "addItems"
	stepModifyItem = "modifyLineItem"
	stepRemoveItem = "removeLineItem"
	stepClearCart  = "clearCart"
	stepCountries  = "cartCountries"
)

// CartLineItem is one entry submitted to the cart. Exactly one of PackageID
// and BundleID is set.
type CartLineItem struct {
	PackageID uint32        `json:"packageid,omitempty"`
	BundleID  uint32        `json:"bundleid,omitempty"`
	GiftInfo  *GiftInfo     `json:"gift_info,omitempty"`
	Flags     LineItemFlags `json:"flags"`
}

func (i CartLineItem) Validate() error {
	if (i.PackageID == 0) == (i.BundleID == 0) {
		return ErrInvalidLineItem
	}
	return nil
}

// LineItemFromIdentifier maps a parsed identifier to a cart line. Apps and
// errors cannot be added directly.
func LineItemFromIdentifier(id CatalogIdentifier, isPrivate bool, gift *GiftInfo) (CartLineItem, error) {
	item := CartLineItem{
		GiftInfo: gift,
		Flags:    LineItemFlags{IsPrivate: isPrivate, IsGift: gift != nil},
	}
	switch {
	case !id.Valid():
		return item, fmt.Errorf("%s: %w", id.Raw, ErrInvalidLineItem)
	case id.Kind == KindSub:
		item.PackageID = id.ID
	case id.Kind == KindBundle:
		item.BundleID = id.ID
	default:
		return item, fmt.Errorf("%s: %w", id.Raw, ErrInvalidLineItem)
	}
	return item, nil
}

type navData struct {
	Domain      string      `json:"domain"`
	Controller  string      `json:"controller"`
	Method      string      `json:"method"`
	SubMethod   string      `json:"submethod"`
	Feature     string      `json:"feature"`
	Depth       int         `json:"depth"`
	CountryCode string      `json:"countrycode"`
	WebKey      int         `json:"webkey"`
	IsClient    bool        `json:"is_client"`
	CuratorData curatorData `json:"curator_data"`
	IsLikelyBot bool        `json:"is_likely_bot"`
	IsUTM       bool        `json:"is_utm"`
}

type curatorData struct {
	ClanID *uint64 `json:"clanid"`
	ListID *uint64 `json:"listid"`
}

type addItemsRequest struct {
	Items       []CartLineItem `json:"items"`
	UserCountry string         `json:"user_country"`
	NavData     navData        `json:"navdata"`
}

type modifyLineItemRequest struct {
	LineItemID  LineItemID     `json:"line_item_id"`
	UserCountry string         `json:"user_country"`
	GiftInfo    *GiftInfo      `json:"gift_info,omitempty"`
	Flags       *LineItemFlags `json:"flags,omitempty"`
}

// CartManager performs cart calls for one session. Every mutation is a round
// trip; nothing is cached.
type CartManager struct {
	sess       *Session
	cfg        *Config
	regions    *RegionResolver
	metrics    *Metrics
	log        *slog.Logger
	navCountry string
}

func NewCartManager(sess *Session, cfg *Config, regions *RegionResolver, metrics *Metrics, log *slog.Logger) *CartManager {
	return &CartManager{
		sess:       sess,
		cfg:        cfg,
		regions:    regions,
		metrics:    metrics,
		log:        accountLogger(log, sess.Name),
		navCountry: cfg.DefaultCountry,
	}
}

func (m *CartManager) serviceURL(method string, extra url.Values) string {
	q := url.Values{}
	q.Set("access_token", m.sess.AccessToken)
	for k, v := range extra {
		q[k] = v
	}
	return fmt.Sprintf("%s/IAccountCartService/%s/v1/?%s", m.cfg.APIURL, method, q.Encode())
}

func (m *CartManager) referer() string {
	return m.cfg.StoreURL + "/"
}

// GetCart returns nil with no error when the service sent no usable body.
func (m *CartManager) GetCart(ctx context.Context) (*Cart, error) {
	if err := m.sess.RequireAccessToken(); err != nil {
		return nil, err
	}

	started := time.Now()
	extra := url.Values{"user_country": {m.regions.CountryCode(ctx, m.sess)}}
	env, err := getAPI[Cart](ctx, m.sess.Gateway, m.serviceURL("GetCart", extra), m.referer())
	return finishStep(m.log, m.metrics, stepGetCart, started, env, err)
}

// CartCountries reads the countries the cart page offers. It needs the
// session cookies only.
func (m *CartManager) CartCountries(ctx context.Context) (*CartCountries, error) {
	if m.sess.Gateway == nil {
		return nil, ErrNoSession
	}

	started := time.Now()
	env, err := getHTML(ctx, m.sess.Gateway, m.cfg.StoreURL+"/cart/", m.referer())
	doc, err := finishStep(m.log, m.metrics, stepCountries, started, env, err)
	if err != nil || doc == nil {
		return nil, err
	}

	countries := ParseCartCountries(doc)
	if countries == nil {
		m.log.Warn("empty response", "step", stepCountries, "field", "usercountrycurrency")
	}
	return countries, nil
}

// AddItems submits every item in one call. The service decides per item.
func (m *CartManager) AddItems(ctx context.Context, items []CartLineItem) (*CartMutationResult, error) {
	if err := m.sess.RequireAccessToken(); err != nil {
		return nil, err
	}
	for _, item := range items {
		if err := item.Validate(); err != nil {
			return nil, err
		}
	}

	country := m.regions.CountryCode(ctx, m.sess)
	payload := addItemsRequest{
		Items:       items,
		UserCountry: country,
		NavData: navData{
			Domain:      "store.steampowered.com",
			Controller:  "default",
			Method:      "default",
			Feature:     "spotlight",
			Depth:       1,
			CountryCode: m.navCountry,
		},
	}

	return m.mutate(ctx, stepAddItems, "AddItemsToCart", payload)
}

// AddIdentifiers parses nothing itself: it converts already parsed ids and
// reports the ones it skipped.
func (m *CartManager) AddIdentifiers(ctx context.Context, ids []CatalogIdentifier, isPrivate bool, gift *GiftInfo) (*CartMutationResult, []CatalogIdentifier, error) {
	var items []CartLineItem
	var skipped []CatalogIdentifier
	for _, id := range ids {
		item, err := LineItemFromIdentifier(id, isPrivate, gift)
		if err != nil {
			skipped = append(skipped, id)
			continue
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return nil, skipped, nil
	}

	res, err := m.AddItems(ctx, items)
	return res, skipped, err
}

// ModifyLineItem rewrites flags and gift data of an existing line.
func (m *CartManager) ModifyLineItem(ctx context.Context, id LineItemID, isPrivate bool, gift *GiftInfo) (*CartMutationResult, error) {
	if err := m.sess.RequireAccessToken(); err != nil {
		return nil, err
	}

	payload := modifyLineItemRequest{
		LineItemID:  id,
		UserCountry: m.regions.CountryCode(ctx, m.sess),
		GiftInfo:    gift,
		Flags:       &LineItemFlags{IsPrivate: isPrivate, IsGift: gift != nil},
	}
	return m.mutate(ctx, stepModifyItem, "ModifyLineItem", payload)
}

func (m *CartManager) RemoveLineItem(ctx context.Context, id LineItemID) (*CartMutationResult, error) {
	if err := m.sess.RequireAccessToken(); err != nil {
		return nil, err
	}

	payload := modifyLineItemRequest{
		LineItemID:  id,
		UserCountry: m.regions.CountryCode(ctx, m.sess),
	}
	return m.mutate(ctx, stepRemoveItem, "RemoveItemFromCart", payload)
}

// ClearCart reports whether the service answered 200. The endpoint has no
// body.
func (m *CartManager) ClearCart(ctx context.Context) (bool, error) {
	if err := m.sess.RequireAccessToken(); err != nil {
		return false, err
	}

	started := time.Now()
	resp, err := m.sess.Gateway.PostForm(ctx, m.serviceURL("DeleteCart", nil), url.Values{}, m.referer())

	var te *TransportError
	if errors.As(err, &te) && te.StatusCode != 0 {
		m.metrics.observeStep(stepClearCart, outcomeEmpty, started)
		m.log.Warn("cart not cleared", "step", stepClearCart, "status", te.StatusCode)
		return false, nil
	}
	if err != nil {
		m.metrics.observeStep(stepClearCart, outcomeFailed, started)
		return false, err
	}

	if resp.StatusCode != http.StatusOK {
		m.metrics.observeStep(stepClearCart, outcomeEmpty, started)
		m.log.Warn("cart not cleared", "step", stepClearCart, "status", resp.StatusCode)
		return false, nil
	}
	m.metrics.observeStep(stepClearCart, outcomeOK, started)
	return true, nil
}

func (m *CartManager) mutate(ctx context.Context, step, method string, payload any) (*CartMutationResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: encode payload: %w", step, err)
	}

	started := time.Now()
	form := url.Values{"input_json": {string(body)}}
	env, err := postAPI[CartMutationResult](ctx, m.sess.Gateway, m.serviceURL(method, nil), form, m.referer())
	return finishStep(m.log, m.metrics, step, started, env, err)
}

// finishStep applies the three way outcome: transport errors propagate, an
// empty payload is logged and returned as nil, anything else is success.
func finishStep[T any](log *slog.Logger, metrics *Metrics, step string, started time.Time, env *Envelope[T], err error) (*T, error) {
	if err != nil {
		metrics.observeStep(step, outcomeFailed, started)
		return nil, fmt.Errorf("%s: %w", step, err)
	}
	if !env.HasPayload() {
		metrics.observeStep(step, outcomeEmpty, started)
		log.Warn("empty response", "step", step, "status", env.StatusCode)
		return nil, nil
	}
	metrics.observeStep(step, outcomeOK, started)
	return env.Payload, nil
}
