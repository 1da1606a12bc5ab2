package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
)

var (
	// ErrMissingAccessToken is returned before any request is made when the
	// session carries no access token.
	ErrMissingAccessToken = errors.New("access token missing")

	// ErrEmptyResponse marks a successful transport round trip that did not
	// carry a usable payload.
	ErrEmptyResponse = errors.New("empty response")

	// ErrInvalidLineItem is returned for line items that do not name exactly
	// one of package or bundle.
	ErrInvalidLineItem = errors.New("line item must reference exactly one package or bundle")

	// ErrMissingSessionID is returned before a form post when the jar holds no
	// sessionid cookie for the target host.
	ErrMissingSessionID = errors.New("sessionid cookie missing")

	ErrNoSession     = errors.New("session not established")
	ErrNoTransaction = errors.New("no transaction in progress")
)

// TransportError is a network failure or a non-2xx response.
type TransportError struct {
	Method     string
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StepError names the checkout step that stopped an attempt.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func stepEmpty(step string) error {
	return &StepError{Step: step, Err: ErrEmptyResponse}
}

// Envelope carries the transport status of an upstream call and its payload.
// A nil Payload is a soft failure, not a transport failure.
type Envelope[T any] struct {
	StatusCode int
	Payload    *T
	FinalURL   *url.URL
}

func (e *Envelope[T]) HasPayload() bool {
	return e != nil && e.Payload != nil
}

// apiResponse is the {"response": ...} wrapper used by the web API.
type apiResponse[T any] struct {
	Response *T `json:"response"`
}

// decodePayload decodes body into T. Blank, null and malformed bodies decode to
// a nil payload.
func decodePayload[T any](body []byte) *T {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil
	}

	var payload T
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}
	return &payload
}

// LineItemID is the opaque cart line handle. The API sends 64-bit ids as
// strings; plain numbers are accepted too.
type LineItemID uint64

func (id *LineItemID) UnmarshalJSON(data []byte) error {
	raw := string(bytes.Trim(data, `"`))
	if raw == "" || raw == "null" {
		*id = 0
		return nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("line item id %q: %w", raw, err)
	}
	*id = LineItemID(v)
	return nil
}

func (id LineItemID) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(strconv.FormatUint(uint64(id), 10))), nil
}

func (id LineItemID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

type Money struct {
	AmountInCents   string `json:"amount_in_cents"`
	CurrencyCode    int    `json:"currency_code"`
	FormattedAmount string `json:"formatted_amount"`
}

type GiftMessage struct {
	GifteeName string `json:"gifteename"`
	Message    string `json:"message"`
	Sentiment  string `json:"sentiment"`
	Signature  string `json:"signature"`
}

type GiftInfo struct {
	AccountIDGiftee   uint32       `json:"accountid_giftee"`
	GiftMessage       *GiftMessage `json:"gift_message,omitempty"`
	TimeScheduledSend int64        `json:"time_scheduled_send"`
}

type LineItemFlags struct {
	IsGift    bool `json:"is_gift"`
	IsPrivate bool `json:"is_private"`
}

// CartLineItemView is a line item as reported by the cart service.
type CartLineItemView struct {
	LineItemID     LineItemID    `json:"line_item_id"`
	Type           int           `json:"type"`
	PackageID      uint32        `json:"packageid"`
	BundleID       uint32        `json:"bundleid"`
	PriceWhenAdded Money         `json:"price_when_added"`
	TimeAdded      int64         `json:"time_added"`
	Flags          LineItemFlags `json:"flags"`
	GiftInfo       *GiftInfo     `json:"gift_info,omitempty"`
}

type CartSnapshot struct {
	LineItems []CartLineItemView `json:"line_items"`
	Subtotal  Money              `json:"subtotal"`
	IsValid   bool               `json:"is_valid"`
}

// Cart is the advisory snapshot returned by GetCart.
type Cart struct {
	Cart CartSnapshot `json:"cart"`
}

// CartMutationResult is returned by add, modify and remove.
type CartMutationResult struct {
	LineItemIDs []LineItemID  `json:"line_item_ids"`
	Cart        *CartSnapshot `json:"cart"`
}

type InitTransactionResult struct {
	Success             int    `json:"success"`
	TransID             string `json:"transid"`
	PaymentMethod       int    `json:"paymentmethod"`
	TransactionProvider int    `json:"transactionprovider"`
	PaymentLink         string `json:"paymentlink"`
}

type FinalPrice struct {
	Success        int    `json:"success"`
	Base           int64  `json:"base"`
	Tax            int64  `json:"tax"`
	Discount       int64  `json:"discount"`
	Shipping       int64  `json:"shipping"`
	Total          int64  `json:"total"`
	FormattedTotal string `json:"formattedTotal"`
}

type FinalizeResult struct {
	Success int `json:"success"`
}

type TransactionStatus struct {
	Success              int             `json:"success"`
	PurchaseResultDetail int             `json:"purchaseresultdetail"`
	PurchaseReceipt      json.RawMessage `json:"purchasereceipt,omitempty"`
}

type BaseResult struct {
	Success int `json:"success"`
}
