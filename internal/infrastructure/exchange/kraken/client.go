package kraken

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"xledger/internal/application/port"
	"xledger/internal/domain/model"
)

const (
	DefaultBaseURL = "https://api.kraken.com"

	pathTradesHistory = "/0/private/TradesHistory"
	pathLedgers       = "/0/private/Ledgers"

	phaseTrades  = "trades"
	phaseLedgers = "ledgers"
)

type Config struct {
	BaseURL           string
	APIKey            string
	APISecret         string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

// Client walks the private trade history and then the ledger of one
// account. It implements port.ExchangeClient.
type Client struct {
	baseURL     string
	credentials *Credentials
	httpClient  *http.Client
	limiter     *rate.Limiter
	nonces      *nonceSource
}

func New(cfg Config) (*Client, error) {
	creds, err := NewCredentials(cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 0.5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		credentials: creds,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		limiter:     rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		nonces:      newNonceSource(),
	}, nil
}

func (c *Client) Name() string {
	return "kraken"
}

// FetchPage returns one page of trades or ledger entries. The cursor is
// "trades:<ofs>" or "ledgers:<ofs>"; an empty cursor starts at the first
// trade page.
func (c *Client) FetchPage(ctx context.Context, req port.PageRequest) (*port.ActivityPage, error) {
	phase, ofs, err := parseCursor(req.Cursor)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("ofs", strconv.Itoa(ofs))
	if !req.Since.IsZero() {
		// start is exclusive on Kraken's side
		params.Set("start", strconv.FormatInt(req.Since.Unix()-1, 10))
	}

	var (
		records []map[string]any
		count   int
		rows    int
	)
	switch phase {
	case phaseTrades:
		var res tradesResult
		if err := c.signedRequest(ctx, pathTradesHistory, params, &res); err != nil {
			return nil, err
		}
		records, count, rows = res.records(), res.Count, len(res.Trades)
	case phaseLedgers:
		var res ledgersResult
		if err := c.signedRequest(ctx, pathLedgers, params, &res); err != nil {
			return nil, err
		}
		records, count, rows = res.records(), res.Count, len(res.Ledger)
	}

	page := &port.ActivityPage{Records: records}
	next := ofs + rows
	switch {
	case rows > 0 && next < count:
		page.NextCursor = formatCursor(phase, next)
	case phase == phaseTrades:
		page.NextCursor = formatCursor(phaseLedgers, 0)
	}

	log.Debug().
		Str("exchange", c.Name()).
		Str("phase", phase).
		Int("ofs", ofs).
		Int("rows", rows).
		Int("records", len(records)).
		Int("count", count).
		Str("next", page.NextCursor).
		Msg("kraken page fetched")
	return page, nil
}

// signedRequest posts a signed form to a private endpoint and decodes the
// result member of the response into out.
func (c *Client) signedRequest(ctx context.Context, path string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if params == nil {
		params = url.Values{}
	}
	nonce := c.nonces.Next()
	params.Set("nonce", nonce)
	postData := params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(postData))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", model.ErrPermanent, err)
	}
	req.Header.Set("API-Key", c.credentials.APIKey())
	req.Header.Set("API-Sign", c.credentials.Sign(path, nonce, postData))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: kraken %s: %v", model.ErrTransient, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: kraken %s: read body: %v", model.ErrTransient, path, err)
	}

	if resp.StatusCode != http.StatusOK {
		return statusError(path, resp, body)
	}

	var env envelope
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return fmt.Errorf("%w: kraken %s: decode response: %v", model.ErrPermanent, path, err)
	}
	if len(env.Error) > 0 {
		return apiError(path, env.Error)
	}
	if len(env.Result) == 0 {
		return fmt.Errorf("%w: kraken %s: empty result", model.ErrPermanent, path)
	}
	dec = json.NewDecoder(bytes.NewReader(env.Result))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: kraken %s: decode result: %v", model.ErrPermanent, path, err)
	}
	return nil
}

func statusError(path string, resp *http.Response, body []byte) error {
	err := fmt.Errorf("kraken %s http %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &model.RetryAfterError{
			After: retryAfter(resp.Header.Get("Retry-After")),
			Err:   fmt.Errorf("%w: %v", model.ErrTransient, err),
		}
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %v", model.ErrTransient, err)
	}
	return fmt.Errorf("%w: %v", model.ErrPermanent, err)
}

// transientAPIErrors are Kraken error prefixes after which a retry may succeed.
var transientAPIErrors = []string{
	"EAPI:Rate limit",
	"EGeneral:Temporary lockout",
	"EGeneral:Internal error",
	"EService:",
}

func apiError(path string, msgs []string) error {
	joined := strings.Join(msgs, "; ")
	for _, m := range msgs {
		for _, prefix := range transientAPIErrors {
			if strings.HasPrefix(m, prefix) {
				return fmt.Errorf("%w: kraken %s: %s", model.ErrTransient, path, joined)
			}
		}
	}
	return fmt.Errorf("%w: kraken %s: %s", model.ErrPermanent, path, joined)
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date.
func retryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func parseCursor(cursor string) (string, int, error) {
	if cursor == "" {
		return phaseTrades, 0, nil
	}
	phase, raw, ok := strings.Cut(cursor, ":")
	if !ok || (phase != phaseTrades && phase != phaseLedgers) {
		return "", 0, fmt.Errorf("%w: kraken cursor %q", model.ErrPermanent, cursor)
	}
	ofs, err := strconv.Atoi(raw)
	if err != nil || ofs < 0 {
		return "", 0, fmt.Errorf("%w: kraken cursor %q", model.ErrPermanent, cursor)
	}
	return phase, ofs, nil
}

func formatCursor(phase string, ofs int) string {
	return phase + ":" + strconv.Itoa(ofs)
}

type envelope struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

type tradesResult struct {
	Trades map[string]map[string]any `json:"trades"`
	Count  int                       `json:"count"`
}

// records maps trade rows to the normalizer vocabulary, oldest first.
func (r tradesResult) records() []map[string]any {
	out := make([]map[string]any, 0, len(r.Trades))
	for _, id := range sortedIDs(r.Trades) {
		row := r.Trades[id]
		out = append(out, map[string]any{
			"txid":      id,
			"type":      "trade",
			"direction": row["type"],
			"pair":      row["pair"],
			"price":     row["price"],
			"vol":       row["vol"],
			"cost":      row["cost"],
			"fee":       row["fee"],
			"time":      row["time"],
		})
	}
	return out
}

type ledgersResult struct {
	Ledger map[string]map[string]any `json:"ledger"`
	Count  int                       `json:"count"`
}

// records maps ledger rows to the normalizer vocabulary, oldest first.
// Trade legs are skipped since TradesHistory already reports them.
func (r ledgersResult) records() []map[string]any {
	out := make([]map[string]any, 0, len(r.Ledger))
	for _, id := range sortedIDs(r.Ledger) {
		row := r.Ledger[id]
		typ := strings.ToLower(fmt.Sprint(row["type"]))
		if typ == "trade" {
			continue
		}
		if typ == "transfer" {
			typ = "deposit"
			if strings.HasPrefix(strings.TrimSpace(fmt.Sprint(row["amount"])), "-") {
				typ = "withdrawal"
			}
		}
		rec := map[string]any{
			"txid":   id,
			"type":   typ,
			"asset":  row["asset"],
			"amount": row["amount"],
			"fee":    row["fee"],
			"time":   row["time"],
		}
		if st, ok := row["subtype"]; ok {
			rec["subtype"] = st
		}
		out = append(out, rec)
	}
	return out
}

// sortedIDs orders rows by time, then id, so a page always has the same
// record order.
func sortedIDs(rows map[string]map[string]any) []string {
	ids := make([]string, 0, len(rows))
	for id := range rows {
		ids = append(ids, id)
	}
	ts := func(id string) float64 {
		f, _ := strconv.ParseFloat(fmt.Sprint(rows[id]["time"]), 64)
		return f
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := ts(ids[i]), ts(ids[j])
		if a != b {
			return a < b
		}
		return ids[i] < ids[j]
	})
	return ids
}
