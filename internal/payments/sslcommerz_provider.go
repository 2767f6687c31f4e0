package payments

import (
	"context"
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	sslcommerzSandboxEndpoint = "https://sandbox.sslcommerz.com"
	sslcommerzSessionPath     = "/gwprocess/v4/api.php"
	sslcommerzValidationPath  = "/validator/api/validationserverAPI.php"
	sslcommerzRefundPath      = "/validator/api/merchantTransIDvalidationAPI.php"
)

// SSLCommerzLogger defines the logging contract for SSLCommerz provider operations.
type SSLCommerzLogger func(ctx context.Context, event string, fields map[string]any)

// SSLCommerzConfig configures the SSLCommerzProvider.
type SSLCommerzConfig struct {
	StoreID       string
	StorePassword string
	Endpoint      string
	IPNURL        string
	HTTPClient    *http.Client
	Logger        SSLCommerzLogger
	Clock         func() time.Time
}

// SSLCommerzProvider implements the Provider interface against the SSLCommerz
// hosted checkout and IPN APIs. The merchant transaction id sent at session
// creation doubles as the intent reference the IPN reports back.
type SSLCommerzProvider struct {
	storeID   string
	storePass string
	endpoint  string
	ipnURL    string
	client    *http.Client
	clock     func() time.Time
	logger    SSLCommerzLogger
}

// NewSSLCommerzProvider constructs an SSLCommerz Provider using the given configuration.
func NewSSLCommerzProvider(cfg SSLCommerzConfig) (*SSLCommerzProvider, error) {
	storeID := strings.TrimSpace(cfg.StoreID)
	storePass := strings.TrimSpace(cfg.StorePassword)
	if storeID == "" || storePass == "" {
		return nil, errors.New("sslcommerz: store id and store password are required")
	}

	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		endpoint = sslcommerzSandboxEndpoint
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &SSLCommerzProvider{
		storeID:   storeID,
		storePass: storePass,
		endpoint:  endpoint,
		ipnURL:    strings.TrimSpace(cfg.IPNURL),
		client:    httpClient,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

type sslcommerzSessionResponse struct {
	Status         string `json:"status"`
	FailedReason   string `json:"failedreason"`
	SessionKey     string `json:"sessionkey"`
	GatewayPageURL string `json:"GatewayPageURL"`
}

// CreateCheckoutSession initialises a hosted checkout session. The order
// reference is sent as tran_id so the IPN can be matched back to the order.
func (p *SSLCommerzProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	if p == nil {
		return CheckoutSession{}, errors.New("sslcommerz: provider is nil")
	}
	if strings.TrimSpace(req.OrderRef) == "" {
		return CheckoutSession{}, errors.New("sslcommerz: order reference is required")
	}

	form := url.Values{}
	form.Set("store_id", p.storeID)
	form.Set("store_passwd", p.storePass)
	form.Set("total_amount", strconv.FormatFloat(minorToMajor(req.Amount), 'f', 2, 64))
	form.Set("currency", strings.ToUpper(defaultString(req.Currency, "BDT")))
	form.Set("tran_id", req.OrderRef)
	form.Set("success_url", req.SuccessURL)
	form.Set("fail_url", req.CancelURL)
	form.Set("cancel_url", req.CancelURL)
	if p.ipnURL != "" {
		form.Set("ipn_url", p.ipnURL)
	}
	form.Set("shipping_method", "NO")
	form.Set("product_name", sslcommerzProductSummary(req.Items))
	form.Set("product_category", "general")
	form.Set("product_profile", "general")
	form.Set("cus_name", defaultString(req.CustomerID, "guest"))
	form.Set("cus_email", defaultString(req.CustomerEmail, "unknown@example.com"))
	form.Set("cus_add1", "n/a")
	form.Set("cus_city", "n/a")
	form.Set("cus_country", "Bangladesh")
	form.Set("cus_phone", "n/a")
	for k, v := range req.Metadata {
		switch k {
		case "value_a", "value_b", "value_c", "value_d":
			form.Set(k, v)
		}
	}

	var resp sslcommerzSessionResponse
	if err := p.postForm(ctx, p.endpoint+sslcommerzSessionPath, form, &resp); err != nil {
		return CheckoutSession{}, fmt.Errorf("sslcommerz: create session: %w", err)
	}
	if !strings.EqualFold(resp.Status, "SUCCESS") {
		return CheckoutSession{}, fmt.Errorf("sslcommerz: create session rejected: %s", defaultString(resp.FailedReason, resp.Status))
	}

	p.logger(ctx, "payments.sslcommerz.session.created", map[string]any{
		"sessionKey": resp.SessionKey,
		"tranId":     req.OrderRef,
	})

	return CheckoutSession{
		ID:          resp.SessionKey,
		Provider:    "sslcommerz",
		RedirectURL: resp.GatewayPageURL,
		IntentID:    req.OrderRef,
		ExpiresAt:   p.clock().Add(30 * time.Minute),
		Raw: map[string]any{
			"sessionkey": resp.SessionKey,
		},
	}, nil
}

type sslcommerzRefundResponse struct {
	APIConnect   string `json:"APIConnect"`
	Status       string `json:"status"`
	RefundRefID  string `json:"refund_ref_id"`
	ErrorReason  string `json:"errorReason"`
	TransID      string `json:"tran_id"`
	BankTranID   string `json:"bank_tran_id"`
	RefundAmount string `json:"refund_amount"`
}

// Refund requests a refund against the bank transaction id reported by the IPN.
func (p *SSLCommerzProvider) Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("sslcommerz: provider is nil")
	}
	if strings.TrimSpace(req.TransactionID) == "" {
		return PaymentDetails{}, errors.New("sslcommerz: bank transaction id is required for refunds")
	}
	if req.Amount == nil {
		return PaymentDetails{}, errors.New("sslcommerz: refund amount is required")
	}

	query := url.Values{}
	query.Set("store_id", p.storeID)
	query.Set("store_passwd", p.storePass)
	query.Set("bank_tran_id", req.TransactionID)
	query.Set("refund_amount", strconv.FormatFloat(minorToMajor(*req.Amount), 'f', 2, 64))
	query.Set("refund_remarks", defaultString(req.Reason, "merchant refund"))
	query.Set("format", "json")
	query.Set("v", "1")

	var resp sslcommerzRefundResponse
	if err := p.getJSON(ctx, p.endpoint+sslcommerzRefundPath, query, &resp); err != nil {
		return PaymentDetails{}, fmt.Errorf("sslcommerz: refund: %w", err)
	}
	if !strings.EqualFold(resp.APIConnect, "DONE") || strings.EqualFold(resp.Status, "failed") {
		return PaymentDetails{}, fmt.Errorf("sslcommerz: refund rejected: %s", defaultString(resp.ErrorReason, resp.Status))
	}

	p.logger(ctx, "payments.sslcommerz.refund.accepted", map[string]any{
		"bankTranId":  req.TransactionID,
		"refundRefId": resp.RefundRefID,
	})

	now := p.clock()
	return PaymentDetails{
		Provider:      "sslcommerz",
		IntentID:      req.IntentID,
		TransactionID: req.TransactionID,
		Status:        StatusRefunded,
		Amount:        *req.Amount,
		RefundedAt:    &now,
		Raw: map[string]any{
			"refund_ref_id": resp.RefundRefID,
		},
	}, nil
}

type sslcommerzValidationResponse struct {
	Status     string `json:"status"`
	TranID     string `json:"tran_id"`
	ValID      string `json:"val_id"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	BankTranID string `json:"bank_tran_id"`
	TranDate   string `json:"tran_date"`
	RiskLevel  string `json:"risk_level"`
}

// LookupPayment revalidates a transaction via the validation API.
func (p *SSLCommerzProvider) LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("sslcommerz: provider is nil")
	}

	query := url.Values{}
	query.Set("store_id", p.storeID)
	query.Set("store_passwd", p.storePass)
	query.Set("tran_id", req.IntentID)
	query.Set("format", "json")

	var resp sslcommerzValidationResponse
	if err := p.getJSON(ctx, p.endpoint+sslcommerzValidationPath, query, &resp); err != nil {
		return PaymentDetails{}, fmt.Errorf("sslcommerz: lookup: %w", err)
	}

	status := StatusPending
	switch strings.ToUpper(resp.Status) {
	case "VALID", "VALIDATED":
		status = StatusSucceeded
	case "FAILED", "CANCELLED", "EXPIRED":
		status = StatusFailed
	}

	amount, _ := strconv.ParseFloat(resp.Amount, 64)
	return PaymentDetails{
		Provider:      "sslcommerz",
		IntentID:      resp.TranID,
		TransactionID: resp.BankTranID,
		Status:        status,
		Amount:        int64(amount * 100),
		Currency:      strings.ToUpper(resp.Currency),
		Captured:      status == StatusSucceeded,
	}, nil
}

// ParseNotification verifies the IPN digest and maps the notification into
// the provider-neutral gateway event shape. The digest covers the fields the
// gateway names in verify_key plus the MD5 of the store password.
func (p *SSLCommerzProvider) ParseNotification(ctx context.Context, n Notification) (GatewayEvent, error) {
	if p == nil {
		return GatewayEvent{}, errors.New("sslcommerz: provider is nil")
	}
	if len(n.Form) == 0 {
		return GatewayEvent{}, fmt.Errorf("%w: empty IPN form", ErrMalformedNotification)
	}

	if err := p.verifyIPNDigest(n.Form); err != nil {
		return GatewayEvent{}, err
	}

	status := strings.ToUpper(strings.TrimSpace(n.Form.Get("status")))
	out := GatewayEvent{
		EventID:       n.Form.Get("val_id"),
		IntentID:      n.Form.Get("tran_id"),
		TransactionID: n.Form.Get("bank_tran_id"),
		Currency:      strings.ToUpper(n.Form.Get("currency")),
		OccurredAt:    p.parseTranDate(n.Form.Get("tran_date")),
		Raw:           n.Body,
	}
	if amount, err := strconv.ParseFloat(n.Form.Get("amount"), 64); err == nil {
		out.Amount = amount
	}
	if cardNo := n.Form.Get("card_no"); len(cardNo) >= 4 {
		out.CardLast4 = cardNo[len(cardNo)-4:]
	}
	if cardType := n.Form.Get("card_type"); cardType != "" {
		brand := cardType
		if idx := strings.Index(cardType, "-"); idx > 0 {
			brand = cardType[:idx]
		}
		out.CardBrand = strings.ToLower(strings.TrimSpace(brand))
	}
	if out.EventID == "" {
		out.EventID = out.TransactionID
	}

	switch status {
	case "VALID", "VALIDATED":
		out.Kind = EventCaptured
	case "FAILED":
		out.Kind = EventFailed
		out.FailureReason = defaultString(n.Form.Get("error"), "payment failed")
	case "CANCELLED":
		out.Kind = EventFailed
		out.FailureReason = "payment cancelled by customer"
	default:
		p.logger(ctx, "payments.sslcommerz.ipn.ignored", map[string]any{
			"tranId": out.IntentID,
			"status": status,
		})
		return GatewayEvent{}, fmt.Errorf("%w: status %s", ErrEventIgnored, status)
	}

	p.logger(ctx, "payments.sslcommerz.ipn.parsed", map[string]any{
		"tranId":     out.IntentID,
		"bankTranId": out.TransactionID,
		"status":     status,
	})
	return out, nil
}

// verifyIPNDigest recomputes verify_sign: the fields listed in verify_key
// plus store_passwd=md5(password), sorted by key, joined with '&' and hashed
// with MD5. The comparison is constant time and the expected digest is never
// included in errors.
func (p *SSLCommerzProvider) verifyIPNDigest(form url.Values) error {
	signature := strings.ToLower(strings.TrimSpace(form.Get("verify_sign")))
	verifyKey := strings.TrimSpace(form.Get("verify_key"))
	if signature == "" || verifyKey == "" {
		return fmt.Errorf("%w: missing verify_sign or verify_key", ErrSignatureInvalid)
	}

	keys := strings.Split(verifyKey, ",")
	pairs := make([]string, 0, len(keys)+1)
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		pairs = append(pairs, key+"="+form.Get(key))
	}
	passDigest := md5.Sum([]byte(p.storePass))
	pairs = append(pairs, "store_passwd="+hex.EncodeToString(passDigest[:]))
	sort.Strings(pairs)

	digest := md5.Sum([]byte(strings.Join(pairs, "&")))
	expected := hex.EncodeToString(digest[:])
	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return fmt.Errorf("%w: verify_sign mismatch", ErrSignatureInvalid)
	}
	return nil
}

func (p *SSLCommerzProvider) parseTranDate(value string) time.Time {
	if t, err := time.Parse("2006-01-02 15:04:05", strings.TrimSpace(value)); err == nil {
		return t.UTC()
	}
	return p.clock()
}

func (p *SSLCommerzProvider) postForm(ctx context.Context, endpoint string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return p.doJSON(req, out)
}

func (p *SSLCommerzProvider) getJSON(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}
	return p.doJSON(req, out)
}

func (p *SSLCommerzProvider) doJSON(req *http.Request, out any) error {
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func sslcommerzProductSummary(items []CheckoutLineItem) string {
	if len(items) == 0 {
		return "Order"
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item.Name) != "" {
			names = append(names, item.Name)
		}
		if len(names) == 3 {
			break
		}
	}
	if len(names) == 0 {
		return "Order"
	}
	return strings.Join(names, ", ")
}
