package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	stepGiftCardOptions = "giftCardOptions"
	stepSubmitGiftCard  = "submitGiftCard"
	stepSubmitAddFunds  = "submitAddFunds"

	checkoutCartCookie = "beginCheckoutCart"
)

// FundingResult is the outcome of a gift card or top-up flow. PaymentURL is
// set when the payment continues off-site.
type FundingResult struct {
	Context    *TransactionContext
	Checkout   *CheckoutResult
	PaymentURL *url.URL
}

// Funding seeds carts for the two wallet funding paths and hands them to the
// Checkout for the rest of the protocol.
type Funding struct {
	sess     *Session
	cfg      *Config
	checkout *Checkout
	metrics  *Metrics
	log      *slog.Logger
}

func NewFunding(sess *Session, cfg *Config, checkout *Checkout, metrics *Metrics, log *slog.Logger) *Funding {
	return &Funding{
		sess:     sess,
		cfg:      cfg,
		checkout: checkout,
		metrics:  metrics,
		log:      accountLogger(log, sess.Name),
	}
}

func (f *Funding) storeURL(path string) string {
	return f.cfg.StoreURL + path
}

func (f *Funding) GiftCardOptions(ctx context.Context) ([]GiftCardOption, error) {
	if f.sess.Gateway == nil {
		return nil, ErrNoSession
	}

	started := time.Now()
	env, err := getHTML(ctx, f.sess.Gateway, f.storeURL("/digitalgiftcards/selectgiftcard"), "")
	doc, err := finishStep(f.log, f.metrics, stepGiftCardOptions, started, env, err)
	if err != nil || doc == nil {
		return nil, err
	}
	return ParseGiftCardOptions(doc), nil
}

// SubmitGiftCard puts a gift card of amount in the wallet currency into a
// fresh checkout cart.
func (f *Funding) SubmitGiftCard(ctx context.Context, amount uint32) (*Envelope[goquery.Document], error) {
	if f.sess.Gateway == nil {
		return nil, ErrNoSession
	}

	form := url.Values{}
	form.Set("action", "add_to_cart")
	form.Set("currency", f.sess.WalletCurrency)
	form.Set("amount", strconv.FormatUint(uint64(amount), 10))

	target := f.storeURL("/digitalgiftcards/submitgiftcard")
	form, err := withSessionID(f.sess.Gateway, target, form, sessionFieldPascal)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	env, err := postHTML(ctx, f.sess.Gateway, target, form, f.storeURL("/digitalgiftcards/selectgiftcard"))
	if _, err := finishStep(f.log, f.metrics, stepSubmitGiftCard, started, env, err); err != nil {
		return nil, err
	}
	return env, nil
}

// SeedGiftCard submits the gift card and returns the seeded context. A nil
// context means the cart id could not be found.
func (f *Funding) SeedGiftCard(ctx context.Context, amount uint32, giftee uint64) (*TransactionContext, error) {
	env, err := f.SubmitGiftCard(ctx, amount)
	if err != nil {
		return nil, err
	}

	cartID := f.cartID(env)
	if cartID == "" {
		f.log.Warn("empty response", "step", stepSubmitGiftCard, "field", checkoutCartCookie)
		return nil, nil
	}

	return &TransactionContext{ShoppingCartID: cartID, GifteeAccountID: ToSteamID64(giftee)}, nil
}

// BuyGiftCard sends a gift card of amount to giftee, paying with method.
func (f *Funding) BuyGiftCard(ctx context.Context, amount uint32, giftee uint64, method string) (*FundingResult, error) {
	if method == "" {
		method = f.cfg.DefaultPaymentMethod
	}
	c := f.checkout
	c.begin(ctx, "giftcard")

	seed, err := f.SeedGiftCard(ctx, amount, giftee)
	if err != nil || seed == nil {
		res, err := c.fail(ctx, &CheckoutResult{AttemptID: c.attemptID}, stepSubmitGiftCard, err)
		return &FundingResult{Checkout: res}, err
	}

	started, err := c.InitTransactionGift(ctx, seed, method)
	if err != nil || started == nil {
		res, err := c.fail(ctx, &CheckoutResult{AttemptID: c.attemptID}, stepInitTransaction, err)
		return &FundingResult{Context: seed, Checkout: res}, err
	}

	return f.settle(ctx, method)
}

// SubmitAddFunds creates a wallet top-up cart of amount and returns its id.
func (f *Funding) SubmitAddFunds(ctx context.Context, amount uint64) (*TransactionContext, error) {
	if f.sess.Gateway == nil {
		return nil, ErrNoSession
	}

	form := url.Values{}
	form.Set("action", "add_to_cart")
	form.Set("currency", f.sess.WalletCurrency)
	form.Set("amount", strconv.FormatUint(amount, 10))
	form.Set("mtreturnurl", "")

	target := f.storeURL("/steamaccount/addfundssubmit")
	form, err := withSessionID(f.sess.Gateway, target, form, sessionFieldCamel)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	env, err := postHTML(ctx, f.sess.Gateway, target, form, f.storeURL("/steamaccount/addfunds"))
	if _, err := finishStep(f.log, f.metrics, stepSubmitAddFunds, started, env, err); err != nil {
		return nil, err
	}

	cartID := f.cartID(env)
	if cartID == "" {
		f.log.Warn("empty response", "step", stepSubmitAddFunds, "field", "gidShoppingCart")
		return nil, nil
	}
	return &TransactionContext{ShoppingCartID: cartID}, nil
}

// TopUp adds amount to the wallet. Methods listed as external end with a
// payment URL for the operator instead of an in-session finalize.
func (f *Funding) TopUp(ctx context.Context, amount uint64, method string) (*FundingResult, error) {
	if method == "" {
		method = f.cfg.DefaultPaymentMethod
	}
	c := f.checkout
	c.begin(ctx, "topup")

	seed, err := f.SubmitAddFunds(ctx, amount)
	if err != nil || seed == nil {
		res, err := c.fail(ctx, &CheckoutResult{AttemptID: c.attemptID}, stepSubmitAddFunds, err)
		return &FundingResult{Checkout: res}, err
	}

	started, err := c.InitTransactionAddFunds(ctx, seed.ShoppingCartID, method)
	if err != nil || started == nil {
		res, err := c.fail(ctx, &CheckoutResult{AttemptID: c.attemptID}, stepInitTransaction, err)
		return &FundingResult{Context: seed, Checkout: res}, err
	}

	return f.settle(ctx, method)
}

func (f *Funding) settle(ctx context.Context, method string) (*FundingResult, error) {
	c := f.checkout
	out := &FundingResult{Context: c.Transaction()}

	var err error
	if f.cfg.IsExternalPayment(method) {
		out.Checkout, err = c.ExternalPayment(ctx)
		if out.Checkout != nil {
			out.PaymentURL = out.Checkout.PaymentURL
		}
	} else {
		out.Checkout, err = c.Complete(ctx)
	}
	if err != nil {
		return out, fmt.Errorf("%s: %w", method, err)
	}
	return out, nil
}

// cartID looks for the new cart in the redirect target, then the page, then
// the checkout cookie.
func (f *Funding) cartID(env *Envelope[goquery.Document]) string {
	if env != nil && env.FinalURL != nil {
		if id := env.FinalURL.Query().Get("cart"); id != "" && id != "-1" {
			return id
		}
	}
	if env != nil {
		if id := ParseShoppingCartID(env.Payload); id != "" {
			return id
		}
	}
	return f.sess.Gateway.Cookie(f.cfg.CheckoutURL+"/checkout/", checkoutCartCookie)
}
