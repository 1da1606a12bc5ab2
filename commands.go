package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

// App owns the process wide collaborators and the known sessions.
type App struct {
	cfg     *Config
	log     *slog.Logger
	metrics *Metrics
	journal *Journal
	store   RegionStore
	regions *RegionResolver

	sessions []*Session
}

func NewApp(ctx context.Context, cfg *Config, log *slog.Logger) (*App, error) {
	store, err := NewRegionStore(cfg.RegionStore)
	if err != nil {
		return nil, err
	}

	regions, err := NewRegionResolver(ctx, store, cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	journal, err := OpenJournal(cfg.JournalPath)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	app := &App{
		cfg:     cfg,
		log:     log,
		metrics: NewMetrics(),
		journal: journal,
		store:   store,
		regions: regions,
	}

	for _, acc := range cfg.Accounts {
		sess, err := NewSessionFromAccount(cfg, acc, nil)
		if err != nil {
			_ = app.Close()
			return nil, fmt.Errorf("account %s: %w", acc.Name, err)
		}
		app.sessions = append(app.sessions, sess)
	}

	return app, nil
}

func (a *App) Close() error {
	return errors.Join(a.journal.Close(), a.store.Close())
}

// ReplaceSession swaps in a freshly captured session for the same account.
func (a *App) ReplaceSession(sess *Session) {
	for i, s := range a.sessions {
		if strings.EqualFold(s.Name, sess.Name) {
			a.sessions[i] = sess
			return
		}
	}
	a.sessions = append(a.sessions, sess)
}

// SelectSessions resolves a comma separated account list. "all" selects
// every account.
func (a *App) SelectSessions(names string) ([]*Session, error) {
	if strings.EqualFold(names, "all") {
		return a.sessions, nil
	}

	var out []*Session
	for _, name := range strings.Split(names, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		sess := a.session(name)
		if sess == nil {
			return nil, fmt.Errorf("unknown account %q", name)
		}
		out = append(out, sess)
	}
	if len(out) == 0 {
		return nil, errors.New("no accounts selected")
	}
	return out, nil
}

func (a *App) session(name string) *Session {
	for _, s := range a.sessions {
		if strings.EqualFold(s.Name, name) {
			return s
		}
	}
	return nil
}

func (a *App) knownAccounts() map[uint64]string {
	known := make(map[uint64]string, len(a.sessions))
	for _, s := range a.sessions {
		if s.SteamID != 0 {
			known[ToSteamID64(s.SteamID)] = s.Name
		}
	}
	return known
}

func (a *App) cart(sess *Session) *CartManager {
	return NewCartManager(sess, a.cfg, a.regions, a.metrics, a.log)
}

func (a *App) checkout(sess *Session) *Checkout {
	return NewCheckout(sess, a.cfg, a.regions, a.metrics, a.journal, a.log)
}

func (a *App) funding(sess *Session) *Funding {
	return NewFunding(sess, a.cfg, a.checkout(sess), a.metrics, a.log)
}

type accountCommand func(a *App, ctx context.Context, sess *Session, args []string) (string, error)

type command struct {
	args  int
	dev   bool
	usage string
	run   accountCommand
}

var commands = map[string]command{
	"CART":        {args: 0, usage: "CART <accounts>", run: cmdCart},
	"ADDCART":     {args: 1, usage: "ADDCART <accounts> <sub/id,bundle/id,...>", run: cmdAddCart},
	"MODIFYITEM":  {args: 1, usage: "MODIFYITEM <accounts> <lineItemId> [private] [giftee]", run: cmdModifyItem},
	"REMOVEITEM":  {args: 1, usage: "REMOVEITEM <accounts> <lineItemId,...>", run: cmdRemoveItem},
	"CLEARCART":   {args: 0, usage: "CLEARCART <accounts>", run: cmdClearCart},
	"PURCHASE":    {args: 0, usage: "PURCHASE <accounts> [address#]", run: cmdPurchase},
	"CANCELTX":    {args: 1, usage: "CANCELTX <accounts> <transid>", run: cmdCancelTx},
	"PENDINGTX":   {args: 0, usage: "PENDINGTX <accounts>", run: cmdPendingTx},
	"GIFTCARDS":   {args: 0, usage: "GIFTCARDS <accounts>", run: cmdGiftCards},
	"BUYGIFTCARD": {args: 2, usage: "BUYGIFTCARD <accounts> <amount> <giftee> [method]", run: cmdBuyGiftCard},
	"ADDFUNDS":    {args: 1, usage: "ADDFUNDS <accounts> <amount> [method]", run: cmdAddFunds},
	"SETREGION":   {args: 1, usage: "SETREGION <accounts> <country|->", run: cmdSetRegion},
	"COUNTRIES":   {args: 0, usage: "COUNTRIES <accounts>", run: cmdCountries},
	"COOKIES":     {args: 0, dev: true, usage: "COOKIES <accounts>", run: cmdCookies},
	"ACCESSTOKEN": {args: 0, dev: true, usage: "ACCESSTOKEN <accounts>", run: cmdAccessToken},
}

// CommandNames lists every command in alphabetical order.
func CommandNames() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs "COMMAND accounts [args...]" and returns the tagged output
// lines. ok is false when the command was refused or any account failed.
func (a *App) Execute(ctx context.Context, argv []string) ([]string, bool) {
	refuse := func(key string, arg any) ([]string, bool) {
		return []string{FormatStaticResponse(T(key), arg)}, false
	}

	if len(argv) == 0 {
		return refuse("usage_commands", strings.Join(CommandNames(), ", "))
	}

	name := strings.ToUpper(argv[0])
	cmd, found := commands[name]
	if !found {
		return refuse("unknown_command", name)
	}
	if a.cfg.IsCommandDisabled(name) {
		return refuse("command_disabled", name)
	}
	if cmd.dev && !a.cfg.DevFeature {
		return refuse("dev_feature_disabled", name)
	}
	if len(argv) < 2+cmd.args {
		return refuse("usage", cmd.usage)
	}

	sessions, err := a.SelectSessions(argv[1])
	if err != nil {
		return refuse("error_prefix", err)
	}

	args := argv[2:]
	a.log.Info("command", "name", name, "accounts", len(sessions))
	lines, failed := RunForAccounts(ctx, sessions, a.cfg.AccountConcurrency, func(ctx context.Context, sess *Session) (string, error) {
		return cmd.run(a, ctx, sess, args)
	})
	return lines, failed == 0
}

func itemLabel(item CartLineItemView) string {
	if item.BundleID != 0 {
		return "bundle/" + strconv.FormatUint(uint64(item.BundleID), 10)
	}
	return "sub/" + strconv.FormatUint(uint64(item.PackageID), 10)
}

func cmdCart(a *App, ctx context.Context, sess *Session, _ []string) (string, error) {
	cart, err := a.cart(sess).GetCart(ctx)
	if err != nil {
		return "", err
	}
	if cart == nil {
		return T("cart_unreadable"), nil
	}
	if len(cart.Cart.LineItems) == 0 {
		return T("cart_empty"), nil
	}

	var b strings.Builder
	known := a.knownAccounts()
	for i, item := range cart.Cart.LineItems {
		fmt.Fprintf(&b, T("cart_line")+"\n", i+1, itemLabel(item), item.LineItemID, item.PriceWhenAdded.FormattedAmount)
		if item.GiftInfo != nil && item.GiftInfo.AccountIDGiftee != 0 {
			fmt.Fprintf(&b, T("cart_line_gift")+"\n", GifteeLabel(uint64(item.GiftInfo.AccountIDGiftee), known))
		}
	}
	fmt.Fprintf(&b, T("cart_subtotal"), cart.Cart.Subtotal.FormattedAmount, cart.Cart.IsValid)
	return b.String(), nil
}

func cmdAddCart(a *App, ctx context.Context, sess *Session, args []string) (string, error) {
	ids := ParseIdentifiers(strings.Join(args, ","), KindSub|KindBundle, KindSub)

	res, skipped, err := a.cart(sess).AddIdentifiers(ctx, ids, false, nil)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, id := range skipped {
		fmt.Fprintf(&b, T("identifier_invalid")+"\n", id.Raw)
	}
	switch {
	case res == nil && len(skipped) == len(ids):
	case res == nil:
		b.WriteString(T("cart_add_unconfirmed"))
	default:
		fmt.Fprintf(&b, T("cart_add_result"), len(res.LineItemIDs), len(ids)-len(skipped))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (a *App) resolveGiftee(arg string) (uint64, error) {
	if id, err := strconv.ParseUint(arg, 10, 64); err == nil {
		if !IsAccountID(id) {
			return 0, fmt.Errorf("invalid account id %d", id)
		}
		return id, nil
	}
	if s := a.session(arg); s != nil && s.SteamID != 0 {
		return s.SteamID, nil
	}
	return 0, fmt.Errorf("unknown giftee %q", arg)
}

func (a *App) giftInfo(giftee uint64) *GiftInfo {
	return &GiftInfo{
		AccountIDGiftee: uint32(ToSteamID32(giftee)),
		GiftMessage: &GiftMessage{
			GifteeName: a.cfg.Gift.GifteeName,
			Message:    a.cfg.Gift.Message,
			Sentiment:  a.cfg.Gift.Sentiment,
			Signature:  a.cfg.Gift.Signature,
		},
	}
}

func cmdModifyItem(a *App, ctx context.Context, sess *Session, args []string) (string, error) {
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil || id == 0 {
		return "", fmt.Errorf("invalid line item id %q", args[0])
	}

	isPrivate := false
	var gift *GiftInfo
	for _, arg := range args[1:] {
		if b, err := strconv.ParseBool(arg); err == nil {
			isPrivate = b
			continue
		}
		if strings.EqualFold(arg, "private") {
			isPrivate = true
			continue
		}
		giftee, err := a.resolveGiftee(arg)
		if err != nil {
			return "", err
		}
		gift = a.giftInfo(giftee)
	}

	res, err := a.cart(sess).ModifyLineItem(ctx, LineItemID(id), isPrivate, gift)
	if err != nil {
		return "", err
	}
	if res == nil {
		return T("cart_modify_unconfirmed"), nil
	}
	return fmt.Sprintf(T("cart_modified"), id), nil
}

func cmdRemoveItem(a *App, ctx context.Context, sess *Session, args []string) (string, error) {
	m := a.cart(sess)

	var b strings.Builder
	for _, raw := range strings.Split(strings.Join(args, ","), ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || id == 0 {
			fmt.Fprintf(&b, T("identifier_invalid")+"\n", raw)
			continue
		}
		res, err := m.RemoveLineItem(ctx, LineItemID(id))
		if err != nil {
			return b.String(), err
		}
		if res == nil {
			fmt.Fprintf(&b, T("cart_remove_unconfirmed")+"\n", id)
			continue
		}
		fmt.Fprintf(&b, T("cart_removed")+"\n", id)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func cmdClearCart(a *App, ctx context.Context, sess *Session, _ []string) (string, error) {
	ok, err := a.cart(sess).ClearCart(ctx)
	if err != nil {
		return "", err
	}
	if !ok {
		return T("cart_clear_failed"), nil
	}
	return T("cart_cleared"), nil
}

// checkoutFailure reports an attempt that stopped at a soft-empty step.
type checkoutFailure struct {
	res *CheckoutResult
}

func (e *checkoutFailure) Error() string {
	return describeResult(e.res)
}

func checkoutOutcome(res *CheckoutResult) (string, error) {
	if res == nil {
		return "", nil
	}
	if res.State == StateFailed {
		return "", &checkoutFailure{res: res}
	}
	return describeResult(res), nil
}

func describeResult(res *CheckoutResult) string {
	switch res.State {
	case StateComplete:
		price := ""
		if res.Price != nil {
			price = res.Price.FormattedTotal
		}
		return fmt.Sprintf(T("checkout_complete"), res.TransID, price)
	case StateRealPaymentURLResolved:
		return fmt.Sprintf(T("checkout_external"), res.PaymentURL)
	default:
		return fmt.Sprintf(T("checkout_failed"), res.FailedStep, res.AttemptID)
	}
}

func cmdPurchase(a *App, ctx context.Context, sess *Session, args []string) (string, error) {
	n := 0
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return "", fmt.Errorf("invalid address number %q", args[0])
		}
		n = v
	}
	addr, err := a.cfg.PickAddress(n)
	if err != nil {
		return "", err
	}

	res, err := a.checkout(sess).Purchase(ctx, addr)
	if err != nil {
		return "", err
	}
	return checkoutOutcome(res)
}

func cmdCancelTx(a *App, ctx context.Context, sess *Session, args []string) (string, error) {
	res, err := a.checkout(sess).CancelTransaction(ctx, args[0])
	if err != nil {
		return "", err
	}
	if res == nil {
		return fmt.Sprintf(T("cancel_unconfirmed"), args[0]), nil
	}
	return fmt.Sprintf(T("cancel_result"), args[0], res.Success), nil
}

func cmdPendingTx(a *App, ctx context.Context, sess *Session, _ []string) (string, error) {
	pending, err := a.journal.Pending(ctx, sess.Name)
	if err != nil {
		return "", err
	}
	if len(pending) == 0 {
		return T("pending_none"), nil
	}

	var b strings.Builder
	for _, e := range pending {
		fmt.Fprintf(&b, T("pending_line")+"\n", e.TransID, e.Flow, e.State, e.Step, e.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func cmdGiftCards(a *App, ctx context.Context, sess *Session, _ []string) (string, error) {
	f := a.funding(sess)
	options, err := f.GiftCardOptions(ctx)
	if err != nil {
		return "", err
	}
	if len(options) == 0 {
		return T("giftcards_none"), nil
	}

	labels := make([]string, 0, len(options))
	for _, o := range options {
		labels = append(labels, fmt.Sprintf("%s (%d)", o.Label, o.Amount))
	}
	return fmt.Sprintf(T("giftcards_available"), strings.Join(labels, ", ")), nil
}

func cmdBuyGiftCard(a *App, ctx context.Context, sess *Session, args []string) (string, error) {
	amount, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil || amount == 0 {
		return "", fmt.Errorf("invalid amount %q", args[0])
	}
	giftee, err := a.resolveGiftee(args[1])
	if err != nil {
		return "", err
	}
	method := ""
	if len(args) > 2 {
		method = args[2]
	}

	f := a.funding(sess)
	res, err := f.BuyGiftCard(ctx, uint32(amount), giftee, method)
	if err != nil {
		return "", err
	}
	out, err := checkoutOutcome(res.Checkout)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(T("giftcard_for"), GifteeLabel(giftee, a.knownAccounts()), out), nil
}

func cmdAddFunds(a *App, ctx context.Context, sess *Session, args []string) (string, error) {
	amount, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil || amount == 0 {
		return "", fmt.Errorf("invalid amount %q", args[0])
	}
	method := ""
	if len(args) > 1 {
		method = args[1]
	}

	f := a.funding(sess)
	res, err := f.TopUp(ctx, amount, method)
	if err != nil {
		return "", err
	}
	return checkoutOutcome(res.Checkout)
}

func cmdSetRegion(a *App, ctx context.Context, sess *Session, args []string) (string, error) {
	country := strings.ToUpper(strings.TrimSpace(args[0]))
	if country == "-" {
		country = ""
	}
	if err := a.regions.SetOverride(ctx, sess.Name, country); err != nil {
		return "", err
	}
	return fmt.Sprintf(T("region_set"), a.regions.CountryCode(ctx, sess)), nil
}

func cmdCountries(a *App, ctx context.Context, sess *Session, _ []string) (string, error) {
	countries, err := a.cart(sess).CartCountries(ctx)
	if err != nil {
		return "", err
	}
	if countries == nil || len(countries.Available) == 0 {
		return T("countries_none"), nil
	}

	names := make([]string, 0, len(countries.Available))
	for _, c := range countries.Available {
		names = append(names, fmt.Sprintf("%s (%s)", c.Code, c.Name))
	}
	return fmt.Sprintf(T("countries_available"), countries.Current, strings.Join(names, ", ")), nil
}

type cookieLister interface {
	Cookies(target string) []*http.Cookie
}

func cmdCookies(a *App, _ context.Context, sess *Session, _ []string) (string, error) {
	lister, ok := sess.Gateway.(cookieLister)
	if !ok {
		return fmt.Sprintf(T("fetch_data_failed"), "cookies"), nil
	}

	var parts []string
	for _, c := range lister.Cookies(a.cfg.StoreURL + "/") {
		parts = append(parts, c.Name+"="+c.Value)
	}
	if len(parts) == 0 {
		return fmt.Sprintf(T("fetch_data_failed"), "cookies"), nil
	}
	return strings.Join(parts, "; "), nil
}

func cmdAccessToken(_ *App, _ context.Context, sess *Session, _ []string) (string, error) {
	if sess.AccessToken == "" {
		return fmt.Sprintf(T("fetch_data_failed"), "access token"), nil
	}
	return sess.AccessToken, nil
}

// PrintLines writes every output line to w.
func PrintLines(w io.Writer, lines []string) {
	for _, l := range lines {
		fmt.Fprintln(w, l)
	}
}
