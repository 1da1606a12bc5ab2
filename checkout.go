package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/segmentio/ksuid"
)

type CheckoutState int

const (
	StateIdle CheckoutState = iota
	StateCartOpened
	StateTransactionInitiated
	StatePriceQueried
	StateFinalized
	StateStatusPolled
	StateComplete
	StateFailed
	StateExternalRedirectObtained
	StateRealPaymentURLResolved
	StateCancelled
)

var stateNames = map[CheckoutState]string{
	StateIdle:                     "Idle",
	StateCartOpened:               "CartOpened",
	StateTransactionInitiated:     "TransactionInitiated",
	StatePriceQueried:             "PriceQueried",
	StateFinalized:                "Finalized",
	StateStatusPolled:             "StatusPolled",
	StateComplete:                 "Complete",
	StateFailed:                   "Failed",
	StateExternalRedirectObtained: "ExternalRedirectObtained",
	StateRealPaymentURLResolved:   "RealPaymentURLResolved",
	StateCancelled:                "Cancelled",
}

func (s CheckoutState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

func parseCheckoutState(name string) CheckoutState {
	for s, n := range stateNames {
		if n == name {
			return s
		}
	}
	return StateFailed
}

const (
	stepOpenCheckout    = "openCheckout"
	stepInitTransaction = "initTransaction"
	stepFinalPrice      = "getFinalPrice"
	stepFinalize        = "finalizeTransaction"
	stepStatus          = "getTransactionStatus"
	stepCancel          = "cancelTransaction"
	stepExternalLink    = "resolveExternalRedirect"
	stepRealPaymentURL  = "resolveRealPaymentUrl"
)

// TransactionContext carries the ids one checkout attempt threads between
// steps. TransID is only ever set from an init transaction response.
type TransactionContext struct {
	TransID         string
	ShoppingCartID  string
	GifteeAccountID uint64
	PaymentMethod   string
	Referer         string
}

// FinalizeOutcome keeps both halves of the finalize call. The status poll is
// issued even when finalize returns nothing.
type FinalizeOutcome struct {
	Finalize *FinalizeResult
	Status   *TransactionStatus
}

func (o FinalizeOutcome) Confirmed() bool {
	return o.Finalize != nil && o.Status != nil
}

// FailedStep names the half that did not confirm.
func (o FinalizeOutcome) FailedStep() string {
	switch {
	case o.Finalize == nil:
		return stepFinalize
	case o.Status == nil:
		return stepStatus
	default:
		return ""
	}
}

type CheckoutResult struct {
	AttemptID  string
	State      CheckoutState
	FailedStep string
	TransID    string
	Price      *FinalPrice
	Finalize   FinalizeOutcome
	PaymentURL *url.URL
}

// Checkout drives the transaction protocol for one session. Calls are strictly
// sequential and a Checkout must not be shared between goroutines.
type Checkout struct {
	sess    *Session
	cfg     *Config
	regions *RegionResolver
	metrics *Metrics
	journal *Journal
	base    *slog.Logger
	log     *slog.Logger

	attemptID string
	state     CheckoutState
	tx        *TransactionContext
}

func NewCheckout(sess *Session, cfg *Config, regions *RegionResolver, metrics *Metrics, journal *Journal, log *slog.Logger) *Checkout {
	l := accountLogger(log, sess.Name)
	return &Checkout{
		sess:    sess,
		cfg:     cfg,
		regions: regions,
		metrics: metrics,
		journal: journal,
		base:    l,
		log:     l,
		state:   StateIdle,
	}
}

func (c *Checkout) State() CheckoutState { return c.state }

// Transaction returns the current context, nil before a successful init.
func (c *Checkout) Transaction() *TransactionContext { return c.tx }

func (c *Checkout) AttemptID() string { return c.attemptID }

// begin starts a new attempt and forgets any previous transaction.
func (c *Checkout) begin(ctx context.Context, flow string) {
	c.attemptID = ksuid.New().String()
	c.state = StateIdle
	c.tx = nil
	c.log = c.base.With("attempt", c.attemptID)
	if err := c.journal.Begin(ctx, c.attemptID, c.sess.Name, flow); err != nil {
		c.log.Warn("journal unavailable", "error", err)
	}
}

func (c *Checkout) transition(ctx context.Context, state CheckoutState, step string) {
	c.state = state
	if c.attemptID == "" {
		return
	}
	var transID, cartID string
	if c.tx != nil {
		transID, cartID = c.tx.TransID, c.tx.ShoppingCartID
	}
	if err := c.journal.Record(ctx, c.attemptID, state, step, transID, cartID); err != nil {
		c.log.Warn("journal unavailable", "error", err)
	}
}

func (c *Checkout) requireSession() error {
	if c.sess == nil || c.sess.Gateway == nil {
		return ErrNoSession
	}
	return nil
}

func (c *Checkout) checkoutURL(path string) string {
	return c.cfg.CheckoutURL + path
}

func (c *Checkout) defaultReferer() string {
	return c.checkoutURL("/checkout/")
}

// OpenCheckout loads the checkout page for the account cart.
func (c *Checkout) OpenCheckout(ctx context.Context) (*goquery.Document, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}

	started := time.Now()
	env, err := getHTML(ctx, c.sess.Gateway, c.checkoutURL("/checkout/?accountcart=1"), c.cfg.StoreURL+"/cart/")
	doc, err := finishStep(c.log, c.metrics, stepOpenCheckout, started, env, err)
	if doc != nil {
		c.transition(ctx, StateCartOpened, stepOpenCheckout)
	}
	return doc, err
}

// transactionForm is the fixed field set every init variant posts.
type transactionForm struct {
	CartID          string
	UseAccountCart  bool
	PaymentMethod   string
	Address         *AddressConfig
	Country         string
	Gift            *GiftConfig
	GifteeAccountID string
	UseRemaining    bool
}

func (f transactionForm) values() url.Values {
	addr := f.Address
	if addr == nil {
		addr = &AddressConfig{}
	}
	lastName := addr.LastName
	if lastName == "" {
		lastName = addr.FirstName
	}
	country := addr.Country
	if country == "" {
		country = f.Country
	}

	cartID := f.CartID
	if cartID == "" {
		cartID = "-1"
	}

	v := url.Values{}
	v.Set("gidShoppingCart", cartID)
	v.Set("gidReplayOfTransID", "-1")
	v.Set("bUseAccountCart", boolField(f.UseAccountCart))
	v.Set("PaymentMethod", f.PaymentMethod)
	v.Set("abortPendingTransactions", "0")
	v.Set("bHasCardInfo", "0")
	v.Set("CardNumber", "")
	v.Set("CardExpirationYear", "")
	v.Set("CardExpirationMonth", "")
	v.Set("FirstName", addr.FirstName)
	v.Set("LastName", lastName)
	v.Set("Address", addr.Address)
	v.Set("AddressTwo", "")
	v.Set("Country", country)
	v.Set("City", addr.City)
	v.Set("State", addr.State)
	v.Set("PostalCode", addr.PostCode)
	v.Set("Phone", "")
	v.Set("ShippingFirstName", "")
	v.Set("ShippingLastName", "")
	v.Set("ShippingAddress", "")
	v.Set("ShippingAddressTwo", "")
	v.Set("ShippingCountry", country)
	v.Set("ShippingCity", "")
	v.Set("ShippingState", "")
	v.Set("ShippingPostalCode", "")
	v.Set("ShippingPhone", "")
	v.Set("bIsGift", boolField(f.Gift != nil))
	v.Set("GifteeAccountID", f.GifteeAccountID)
	v.Set("GifteeEmail", "")
	if f.Gift != nil {
		v.Set("GifteeName", f.Gift.GifteeName)
		v.Set("GiftMessage", f.Gift.Message)
		v.Set("Sentiment", f.Gift.Sentiment)
		v.Set("Signature", f.Gift.Signature)
	} else {
		v.Set("GifteeName", "")
		v.Set("GiftMessage", "")
		v.Set("Sentiment", "")
		v.Set("Signature", "")
	}
	v.Set("ScheduledSendOnDate", "0")
	v.Set("BankAccount", "")
	v.Set("BankCode", "")
	v.Set("BankIBAN", "")
	v.Set("BankBIC", "")
	v.Set("TPBankID", "")
	v.Set("BankAccountID", "")
	v.Set("bSaveBillingAddress", "1")
	v.Set("gidPaymentID", "")
	v.Set("bUseRemainingSteamAccount", boolField(f.UseRemaining))
	v.Set("bPreAuthOnly", "0")
	return v
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// InitTransaction opens a wallet transaction over the account cart. It is the
// only source of a transaction id and replaces any previous context.
func (c *Checkout) InitTransaction(ctx context.Context, addr *AddressConfig) (*InitTransactionResult, error) {
	form := transactionForm{
		UseAccountCart: true,
		PaymentMethod:  "steamaccount",
		Address:        addr,
		UseRemaining:   true,
	}
	return c.initTransaction(ctx, form, &TransactionContext{PaymentMethod: form.PaymentMethod, Referer: c.defaultReferer()})
}

// InitTransactionAddFunds opens a transaction for a wallet top-up cart.
func (c *Checkout) InitTransactionAddFunds(ctx context.Context, cartID, method string) (*InitTransactionResult, error) {
	if method == "" {
		method = c.cfg.DefaultPaymentMethod
	}
	referer := c.checkoutURL("/checkout?cart=" + url.QueryEscape(cartID) + "&microtxn=-1")
	form := transactionForm{
		CartID:          cartID,
		PaymentMethod:   method,
		Country:         c.regions.CountryCode(ctx, c.sess),
		GifteeAccountID: "0",
	}
	return c.initTransaction(ctx, form, &TransactionContext{ShoppingCartID: cartID, PaymentMethod: method, Referer: referer})
}

// InitTransactionGift opens a gift transaction for a seeded gift card cart.
func (c *Checkout) InitTransactionGift(ctx context.Context, seed *TransactionContext, method string) (*InitTransactionResult, error) {
	if method == "" {
		method = c.cfg.DefaultPaymentMethod
	}
	gift := c.cfg.Gift
	referer := c.checkoutURL("/checkout?cart=" + url.QueryEscape(seed.ShoppingCartID) + "&purchasetype=gift")
	form := transactionForm{
		PaymentMethod:   method,
		Country:         c.regions.CountryCode(ctx, c.sess),
		Gift:            &gift,
		GifteeAccountID: strconv.FormatUint(ToSteamID32(seed.GifteeAccountID), 10),
	}
	next := &TransactionContext{
		ShoppingCartID:  seed.ShoppingCartID,
		GifteeAccountID: seed.GifteeAccountID,
		PaymentMethod:   method,
		Referer:         referer,
	}
	return c.initTransaction(ctx, form, next)
}

func (c *Checkout) initTransaction(ctx context.Context, form transactionForm, next *TransactionContext) (*InitTransactionResult, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}
	c.tx = nil

	target := c.checkoutURL("/checkout/inittransaction/")
	values, err := withSessionID(c.sess.Gateway, target, form.values(), sessionFieldLower)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	env, err := postJSON[InitTransactionResult](ctx, c.sess.Gateway, target, values, next.Referer)
	res, err := finishStep(c.log, c.metrics, stepInitTransaction, started, env, err)
	if err != nil || res == nil {
		return nil, err
	}
	if res.TransID == "" {
		c.log.Warn("empty response", "step", stepInitTransaction, "field", "transid", "success", res.Success)
		return nil, nil
	}

	next.TransID = res.TransID
	c.tx = next
	c.transition(ctx, StateTransactionInitiated, stepInitTransaction)
	return res, nil
}

func (c *Checkout) referer() string {
	if c.tx != nil && c.tx.Referer != "" {
		return c.tx.Referer
	}
	return c.defaultReferer()
}

// GetFinalPrice is read only.
func (c *Checkout) GetFinalPrice(ctx context.Context, transID string) (*FinalPrice, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("count", "1")
	q.Set("transid", transID)
	q.Set("purchasetype", "self")
	q.Set("microtxnid", "-1")
	q.Set("cart", "-1")
	q.Set("gidReplayOfTransID", "-1")

	started := time.Now()
	env, err := getJSON[FinalPrice](ctx, c.sess.Gateway, c.checkoutURL("/checkout/getfinalprice/?"+q.Encode()), c.defaultReferer())
	price, err := finishStep(c.log, c.metrics, stepFinalPrice, started, env, err)
	if price != nil {
		c.transition(ctx, StatePriceQueried, stepFinalPrice)
	}
	return price, err
}

func (c *Checkout) browserInfo() string {
	info := struct {
		Language     string `json:"language"`
		JavaEnabled  string `json:"javaEnabled"`
		ColorDepth   int    `json:"colorDepth"`
		ScreenHeight int    `json:"screenHeight"`
		ScreenWidth  int    `json:"screenWidth"`
	}{
		Language:     c.cfg.BrowserInfo.Language,
		JavaEnabled:  "false",
		ColorDepth:   c.cfg.BrowserInfo.ColorDepth,
		ScreenHeight: c.cfg.BrowserInfo.ScreenHeight,
		ScreenWidth:  c.cfg.BrowserInfo.ScreenWidth,
	}
	data, _ := json.Marshal(info)
	return string(data)
}

// FinalizeTransaction confirms the charge and then always polls the status.
// Each missing half is logged under its own step.
func (c *Checkout) FinalizeTransaction(ctx context.Context, transID string) (FinalizeOutcome, error) {
	var out FinalizeOutcome
	if err := c.requireSession(); err != nil {
		return out, err
	}

	form := url.Values{}
	form.Set("transid", transID)
	form.Set("CardCVV2", "")
	form.Set("browserInfo", c.browserInfo())

	target := c.checkoutURL("/checkout/finalizetransaction/")
	form, err := withSessionID(c.sess.Gateway, target, form, sessionFieldLower)
	if err != nil {
		return out, err
	}

	started := time.Now()
	env, err := postJSON[FinalizeResult](ctx, c.sess.Gateway, target, form, c.defaultReferer())
	out.Finalize, err = finishStep(c.log, c.metrics, stepFinalize, started, env, err)
	if err != nil {
		return out, err
	}
	if out.Finalize != nil {
		c.transition(ctx, StateFinalized, stepFinalize)
	}

	out.Status, err = c.GetTransactionStatus(ctx, transID)
	return out, err
}

func (c *Checkout) GetTransactionStatus(ctx context.Context, transID string) (*TransactionStatus, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("count", "1")
	q.Set("transid", transID)

	started := time.Now()
	env, err := getJSON[TransactionStatus](ctx, c.sess.Gateway, c.checkoutURL("/checkout/transactionstatus/?"+q.Encode()), c.referer())
	status, err := finishStep(c.log, c.metrics, stepStatus, started, env, err)
	if status != nil {
		c.transition(ctx, StateStatusPolled, stepStatus)
	}
	return status, err
}

// CancelTransaction aborts transID. Repeating it is harmless. Only a
// success code of 1 marks the transaction cancelled; any other code is
// returned as is.
func (c *Checkout) CancelTransaction(ctx context.Context, transID string) (*BaseResult, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("transid", transID)

	target := c.checkoutURL("/checkout/canceltransaction/")
	form, err := withSessionID(c.sess.Gateway, target, form, sessionFieldLower)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	env, err := postJSON[BaseResult](ctx, c.sess.Gateway, target, form, c.defaultReferer())
	res, err := finishStep(c.log, c.metrics, stepCancel, started, env, err)
	if res == nil {
		return res, err
	}
	if res.Success != 1 {
		c.log.Warn("cancel rejected", "step", stepCancel, "transid", transID, "success", res.Success)
		return res, nil
	}

	if c.tx != nil && c.tx.TransID == transID {
		c.transition(ctx, StateCancelled, stepCancel)
	}
	if jerr := c.journal.MarkCancelled(ctx, c.sess.Name, transID); jerr != nil {
		c.log.Warn("journal unavailable", "error", jerr)
	}
	return res, nil
}

// ResolveExternalRedirect fetches the off-site payment form for transID.
func (c *Checkout) ResolveExternalRedirect(ctx context.Context, cartID, transID string) (*ExternalPaymentRedirect, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}

	referer := c.defaultReferer()
	switch {
	case c.tx != nil && c.tx.TransID == transID && c.tx.Referer != "":
		referer = c.tx.Referer
	case cartID != "":
		referer = c.checkoutURL("/checkout?cart=" + url.QueryEscape(cartID) + "&microtxn=-1")
	}

	started := time.Now()
	env, err := getHTML(ctx, c.sess.Gateway, c.checkoutURL("/checkout/externallink/?transid="+url.QueryEscape(transID)), referer)
	doc, err := finishStep(c.log, c.metrics, stepExternalLink, started, env, err)
	if err != nil || doc == nil {
		return nil, err
	}

	redirect := ParseExternalRedirect(doc)
	if redirect == nil {
		c.log.Warn("empty response", "step", stepExternalLink, "field", "externalForm")
		return nil, nil
	}
	c.transition(ctx, StateExternalRedirectObtained, stepExternalLink)
	return redirect, nil
}

// ResolveRealPaymentURL submits the redirect form once and returns where it
// landed. The form is single use, so this is never retried.
func (c *Checkout) ResolveRealPaymentURL(ctx context.Context, redirect *ExternalPaymentRedirect) (*url.URL, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}
	if redirect == nil {
		return nil, stepEmpty(stepRealPaymentURL)
	}

	started := time.Now()
	final, err := resolveFinalURL(ctx, c.sess.Gateway, redirect.TargetURL.String(), redirect.Values())
	if err != nil {
		c.metrics.observeStep(stepRealPaymentURL, outcomeFailed, started)
		return nil, fmt.Errorf("%s: %w", stepRealPaymentURL, err)
	}
	if final == nil {
		c.metrics.observeStep(stepRealPaymentURL, outcomeEmpty, started)
		c.log.Warn("empty response", "step", stepRealPaymentURL)
		return nil, nil
	}
	c.metrics.observeStep(stepRealPaymentURL, outcomeOK, started)
	c.transition(ctx, StateRealPaymentURLResolved, stepRealPaymentURL)
	return final, nil
}

func (c *Checkout) fail(ctx context.Context, res *CheckoutResult, step string, err error) (*CheckoutResult, error) {
	res.State = StateFailed
	res.FailedStep = step
	c.transition(ctx, StateFailed, step)
	c.metrics.observeCheckout(resultFailed)
	c.log.Warn("checkout failed", "step", step, "error", err)
	if err != nil {
		var se *StepError
		if !errors.As(err, &se) {
			err = &StepError{Step: step, Err: err}
		}
	}
	return res, err
}

// Purchase runs open, init, price and finalize for the account cart. It stops
// at the first step without a usable result and never retries a step.
func (c *Checkout) Purchase(ctx context.Context, addr *AddressConfig) (*CheckoutResult, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}

	c.begin(ctx, "purchase")
	res := &CheckoutResult{AttemptID: c.attemptID}

	doc, err := c.OpenCheckout(ctx)
	if err != nil || doc == nil {
		return c.fail(ctx, res, stepOpenCheckout, err)
	}

	started, err := c.InitTransaction(ctx, addr)
	if err != nil || started == nil {
		return c.fail(ctx, res, stepInitTransaction, err)
	}
	res.TransID = started.TransID

	res.Price, err = c.GetFinalPrice(ctx, started.TransID)
	if err != nil || res.Price == nil {
		return c.fail(ctx, res, stepFinalPrice, err)
	}

	return c.finish(ctx, res)
}

// Complete finalizes an already initialised transaction.
func (c *Checkout) Complete(ctx context.Context) (*CheckoutResult, error) {
	if c.tx == nil {
		return nil, ErrNoTransaction
	}
	return c.finish(ctx, &CheckoutResult{AttemptID: c.attemptID, TransID: c.tx.TransID})
}

func (c *Checkout) finish(ctx context.Context, res *CheckoutResult) (*CheckoutResult, error) {
	outcome, err := c.FinalizeTransaction(ctx, res.TransID)
	res.Finalize = outcome
	if err != nil {
		return c.fail(ctx, res, outcome.FailedStep(), err)
	}
	if !outcome.Confirmed() {
		return c.fail(ctx, res, outcome.FailedStep(), nil)
	}

	res.State = StateComplete
	c.transition(ctx, StateComplete, stepStatus)
	c.metrics.observeCheckout(resultComplete)
	c.log.Info("checkout complete", "transid", res.TransID)
	return res, nil
}

// ExternalPayment hands the current transaction to the off-site processor and
// returns the page the operator must open.
func (c *Checkout) ExternalPayment(ctx context.Context) (*CheckoutResult, error) {
	if c.tx == nil {
		return nil, ErrNoTransaction
	}
	res := &CheckoutResult{AttemptID: c.attemptID, TransID: c.tx.TransID}

	redirect, err := c.ResolveExternalRedirect(ctx, c.tx.ShoppingCartID, c.tx.TransID)
	if err != nil || redirect == nil {
		return c.fail(ctx, res, stepExternalLink, err)
	}

	res.PaymentURL, err = c.ResolveRealPaymentURL(ctx, redirect)
	if err != nil || res.PaymentURL == nil {
		return c.fail(ctx, res, stepRealPaymentURL, err)
	}

	res.State = StateRealPaymentURLResolved
	c.metrics.observeCheckout(resultRedirect)
	return res, nil
}
