package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	pathCheckout    = "/checkout/"
	pathInit        = "/checkout/inittransaction/"
	pathFinalPrice  = "/checkout/getfinalprice/"
	pathFinalize    = "/checkout/finalizetransaction/"
	pathStatus      = "/checkout/transactionstatus/"
	pathCancel      = "/checkout/canceltransaction/"
	pathExternal    = "/checkout/externallink/"
	pathGiftCards   = "/digitalgiftcards/selectgiftcard"
	pathSubmitGift  = "/digitalgiftcards/submitgiftcard"
	pathAddFundsSub = "/steamaccount/addfundssubmit"
)

// happyCheckout answers every checkout step with a usable payload.
func happyCheckout(store *fakeStorefront) {
	store.html(pathCheckout, `<html><body><div id="checkout">cart</div></body></html>`)
	store.json(pathInit, `{"success":1,"transid":"T1","paymentmethod":4}`)
	store.json(pathFinalPrice, `{"success":1,"base":999,"total":999,"formattedTotal":"$9.99"}`)
	store.json(pathFinalize, `{"success":22}`)
	store.json(pathStatus, `{"success":1,"purchaseresultdetail":0}`)
	store.json(pathCancel, `{"success":1}`)
}

func newTestCheckout(t *testing.T, store *fakeStorefront, journal *Journal) (*Checkout, *Metrics) {
	t.Helper()
	cfg := newTestConfig(t, store.URL())
	metrics := NewMetrics()
	sess := newTestSession(t, cfg, "main")
	return NewCheckout(sess, cfg, newTestRegions(t, cfg), metrics, journal, testLogger()), metrics
}

func TestPurchaseComplete(t *testing.T) {
	store := newFakeStorefront(t)
	happyCheckout(store)
	c, metrics := newTestCheckout(t, store, nil)

	res, err := c.Purchase(context.Background(), &AddressConfig{FirstName: "Ann", Country: "DE", City: "Berlin"})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, StateComplete, res.State)
	assert.Equal(t, StateComplete, c.State())
	assert.Empty(t, res.FailedStep)
	assert.Equal(t, "T1", res.TransID)
	assert.NotEmpty(t, res.AttemptID)
	assert.Equal(t, "$9.99", res.Price.FormattedTotal)
	assert.True(t, res.Finalize.Confirmed())

	assert.Equal(t, []string{pathCheckout, pathInit, pathFinalPrice, pathFinalize, pathStatus}, store.calls())
	assert.Equal(t, "1", store.query(pathCheckout).Get("accountcart"))

	form := store.form(pathInit)
	assert.Equal(t, "1", form.Get("bUseAccountCart"))
	assert.Equal(t, "steamaccount", form.Get("PaymentMethod"))
	assert.Equal(t, "-1", form.Get("gidShoppingCart"))
	assert.Equal(t, "Ann", form.Get("LastName"))
	assert.Equal(t, "DE", form.Get("Country"))
	assert.Equal(t, "DE", form.Get("ShippingCountry"))
	assert.Equal(t, "0", form.Get("bIsGift"))
	assert.GreaterOrEqual(t, len(form), 40)
	assert.Equal(t, "sid-main", form.Get("sessionid"))
	assert.Equal(t, "sid-main", store.form(pathFinalize).Get("sessionid"))

	assert.Equal(t, "T1", store.query(pathFinalPrice).Get("transid"))
	assert.Equal(t, "T1", store.form(pathFinalize).Get("transid"))
	assert.Equal(t, "T1", store.query(pathStatus).Get("transid"))

	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(store.form(pathFinalize).Get("browserInfo")), &info))
	assert.Equal(t, "en-US", info["language"])

	assert.Equal(t, 1.0, counterValue(t, metrics.Checkouts.WithLabelValues(resultComplete)))
}

func TestPurchaseStopsWhenInitIsEmpty(t *testing.T) {
	for name, body := range map[string]string{
		"no body":     "",
		"null":        "null",
		"no transid":  `{"success":2}`,
		"not json":    "<html>",
		"blank trans": `{"success":1,"transid":""}`,
	} {
		t.Run(name, func(t *testing.T) {
			store := newFakeStorefront(t)
			happyCheckout(store)
			store.json(pathInit, body)
			c, metrics := newTestCheckout(t, store, nil)

			res, err := c.Purchase(context.Background(), nil)
			require.NoError(t, err)
			assert.Equal(t, StateFailed, res.State)
			assert.Equal(t, stepInitTransaction, res.FailedStep)
			assert.Empty(t, res.TransID)
			assert.Nil(t, c.Transaction())

			assert.Zero(t, store.count(pathFinalPrice))
			assert.Zero(t, store.count(pathFinalize))
			assert.Zero(t, store.count(pathStatus))
			assert.Equal(t, 1.0, counterValue(t, metrics.Checkouts.WithLabelValues(resultFailed)))
		})
	}
}

func TestPurchaseInitTransportError(t *testing.T) {
	store := newFakeStorefront(t)
	happyCheckout(store)
	store.handle(pathInit, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	c, _ := newTestCheckout(t, store, nil)

	res, err := c.Purchase(context.Background(), nil)
	require.Error(t, err)

	var se *StepError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, stepInitTransaction, se.Step)

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusInternalServerError, te.StatusCode)

	assert.Equal(t, StateFailed, res.State)
	assert.Zero(t, store.count(pathFinalize))
}

func TestPurchaseEmptyPriceFails(t *testing.T) {
	store := newFakeStorefront(t)
	happyCheckout(store)
	store.json(pathFinalPrice, "")
	c, _ := newTestCheckout(t, store, nil)

	res, err := c.Purchase(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, stepFinalPrice, res.FailedStep)
	assert.Equal(t, "T1", res.TransID)
	assert.Zero(t, store.count(pathFinalize))
}

func TestFinalizeEmptyStillPollsStatus(t *testing.T) {
	store := newFakeStorefront(t)
	happyCheckout(store)
	store.json(pathFinalize, "null")
	c, _ := newTestCheckout(t, store, nil)

	res, err := c.Purchase(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, stepFinalize, res.FailedStep)
	assert.Nil(t, res.Finalize.Finalize)
	assert.NotNil(t, res.Finalize.Status)
	assert.Equal(t, 1, store.count(pathStatus))
}

func TestStatusEmptyFailsPurchase(t *testing.T) {
	store := newFakeStorefront(t)
	happyCheckout(store)
	store.json(pathStatus, "")
	c, _ := newTestCheckout(t, store, nil)

	res, err := c.Purchase(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, stepStatus, res.FailedStep)
	assert.NotNil(t, res.Finalize.Finalize)
}

func TestFinalizeTransportErrorSkipsStatus(t *testing.T) {
	store := newFakeStorefront(t)
	happyCheckout(store)
	store.handle(pathFinalize, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	c, _ := newTestCheckout(t, store, nil)

	res, err := c.Purchase(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, stepFinalize, res.FailedStep)
	assert.Zero(t, store.count(pathStatus))
}

func TestCancelTransactionTwice(t *testing.T) {
	store := newFakeStorefront(t)
	happyCheckout(store)
	c, _ := newTestCheckout(t, store, nil)
	ctx := context.Background()

	started, err := c.InitTransaction(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, started)
	assert.Equal(t, StateTransactionInitiated, c.State())

	for i := 0; i < 2; i++ {
		res, err := c.CancelTransaction(ctx, "T1")
		require.NoError(t, err)
		require.NotNil(t, res)
		assert.Equal(t, 1, res.Success)
		assert.Equal(t, StateCancelled, c.State())
		assert.Equal(t, "T1", store.form(pathCancel).Get("transid"))
		assert.Equal(t, "sid-main", store.form(pathCancel).Get("sessionid"))
	}
	assert.Equal(t, 2, store.count(pathCancel))
}

func TestCancelRejected(t *testing.T) {
	store := newFakeStorefront(t)
	happyCheckout(store)
	store.json(pathCancel, `{"success":2}`)
	c, _ := newTestCheckout(t, store, nil)
	ctx := context.Background()

	_, err := c.InitTransaction(ctx, nil)
	require.NoError(t, err)

	res, err := c.CancelTransaction(ctx, "T1")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 2, res.Success)
	assert.Equal(t, StateTransactionInitiated, c.State())
}

func TestCheckoutRequiresSessionCookie(t *testing.T) {
	store := newFakeStorefront(t)
	happyCheckout(store)
	cfg := newTestConfig(t, store.URL())
	gw, err := NewHTTPGateway(cfg, nil, nil)
	require.NoError(t, err)
	sess := &Session{Name: "main", AccessToken: "token-main", SteamID: 76561198000000001, WalletCurrency: "USD", Gateway: gw}
	c := NewCheckout(sess, cfg, newTestRegions(t, cfg), nil, nil, testLogger())

	res, err := c.Purchase(context.Background(), nil)
	require.ErrorIs(t, err, ErrMissingSessionID)
	assert.Equal(t, stepInitTransaction, res.FailedStep)
	assert.Zero(t, store.count(pathInit))

	_, err = c.CancelTransaction(context.Background(), "T1")
	assert.ErrorIs(t, err, ErrMissingSessionID)
	assert.Zero(t, store.count(pathCancel))
}

func TestCancelUnconfirmed(t *testing.T) {
	store := newFakeStorefront(t)
	store.json(pathCancel, "")
	c, _ := newTestCheckout(t, store, nil)

	res, err := c.CancelTransaction(context.Background(), "T9")
	assert.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, StateIdle, c.State())
}

func TestPurchaseCancelledContext(t *testing.T) {
	store := newFakeStorefront(t)
	happyCheckout(store)
	c, _ := newTestCheckout(t, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := c.Purchase(ctx, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, stepOpenCheckout, res.FailedStep)
	assert.Empty(t, store.calls())
}

func TestCheckoutWithoutSession(t *testing.T) {
	cfg := newTestConfig(t, "http://127.0.0.1:1")
	c := NewCheckout(&Session{Name: "ghost"}, cfg, newTestRegions(t, cfg), nil, nil, nil)

	_, err := c.Purchase(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = c.Complete(context.Background())
	assert.ErrorIs(t, err, ErrNoTransaction)

	_, err = c.ExternalPayment(context.Background())
	assert.ErrorIs(t, err, ErrNoTransaction)
}

func TestNewAttemptForgetsTransaction(t *testing.T) {
	store := newFakeStorefront(t)
	happyCheckout(store)
	c, _ := newTestCheckout(t, store, nil)
	ctx := context.Background()

	_, err := c.Purchase(ctx, nil)
	require.NoError(t, err)
	first := c.AttemptID()
	require.NotNil(t, c.Transaction())

	store.json(pathInit, `{"success":2}`)
	res, err := c.Purchase(ctx, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first, res.AttemptID)
	assert.Nil(t, c.Transaction())
}

func TestTransactionFormDefaults(t *testing.T) {
	v := transactionForm{PaymentMethod: "alipay", Country: "CN"}.values()
	assert.Equal(t, "-1", v.Get("gidShoppingCart"))
	assert.Equal(t, "-1", v.Get("gidReplayOfTransID"))
	assert.Equal(t, "0", v.Get("bUseAccountCart"))
	assert.Equal(t, "CN", v.Get("Country"))
	assert.Equal(t, "CN", v.Get("ShippingCountry"))
	assert.Equal(t, "", v.Get("FirstName"))
	assert.Equal(t, "0", v.Get("bUseRemainingSteamAccount"))
	assert.True(t, v.Has("CardNumber"))

	gift := GiftConfig{GifteeName: "Bob", Message: "hi", Sentiment: "Best", Signature: "me"}
	v = transactionForm{
		CartID:          "555",
		PaymentMethod:   "alipay",
		Address:         &AddressConfig{FirstName: "Ann", LastName: "Lee", Country: "US"},
		Country:         "CN",
		Gift:            &gift,
		GifteeAccountID: "39734273",
	}.values()
	assert.Equal(t, "555", v.Get("gidShoppingCart"))
	assert.Equal(t, "Lee", v.Get("LastName"))
	assert.Equal(t, "US", v.Get("Country"))
	assert.Equal(t, "1", v.Get("bIsGift"))
	assert.Equal(t, "39734273", v.Get("GifteeAccountID"))
	assert.Equal(t, "Bob", v.Get("GifteeName"))
	assert.Equal(t, "hi", v.Get("GiftMessage"))
}

func TestCheckoutStateString(t *testing.T) {
	assert.Equal(t, "RealPaymentURLResolved", StateRealPaymentURLResolved.String())
	assert.Equal(t, StatePriceQueried, parseCheckoutState("PriceQueried"))
	assert.Equal(t, StateFailed, parseCheckoutState("bogus"))
	assert.Equal(t, "State(99)", CheckoutState(99).String())
}
