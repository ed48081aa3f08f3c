package kraken

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xledger/internal/application/port"
	"xledger/internal/domain/model"
	domainservice "xledger/internal/domain/service"
)

var testSecret = base64.StdEncoding.EncodeToString([]byte("kraken-test-secret"))

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL, APIKey: "key", APISecret: testSecret, RequestsPerSecond: 1000, Burst: 10})
	require.NoError(t, err)
	return c
}

func TestCredentialsSign(t *testing.T) {
	creds, err := NewCredentials("key", testSecret)
	require.NoError(t, err)

	sum := sha256.Sum256([]byte("1616492376594" + "nonce=1616492376594&ofs=0"))
	mac := hmac.New(sha512.New, []byte("kraken-test-secret"))
	mac.Write([]byte("/0/private/TradesHistory"))
	mac.Write(sum[:])
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	assert.Equal(t, want, creds.Sign("/0/private/TradesHistory", "1616492376594", "nonce=1616492376594&ofs=0"))
}

func TestNewCredentialsRejectsNonBase64Secret(t *testing.T) {
	_, err := NewCredentials("key", "not base64!!")
	assert.Error(t, err)
}

func TestNonceStrictlyIncreasing(t *testing.T) {
	n := newNonceSource()
	fixed := time.UnixMilli(1_700_000_000_000)
	n.now = func() time.Time { return fixed }

	assert.Equal(t, "1700000000000", n.Next())
	assert.Equal(t, "1700000000001", n.Next())
	assert.Equal(t, "1700000000002", n.Next())
}

func TestFetchPageWalksTradesThenLedgers(t *testing.T) {
	var calls []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		form, _ := url.ParseQuery(string(body))
		calls = append(calls, r.URL.Path+"?ofs="+form.Get("ofs")+"&start="+form.Get("start"))

		assert.Equal(t, "key", r.Header.Get("API-Key"))
		creds, _ := NewCredentials("key", testSecret)
		assert.Equal(t, creds.Sign(r.URL.Path, form.Get("nonce"), string(body)), r.Header.Get("API-Sign"))

		switch r.URL.Path {
		case pathTradesHistory:
			if form.Get("ofs") == "0" {
				_, _ = io.WriteString(w, `{"error":[],"result":{"count":3,"trades":{
					"T2":{"pair":"XXBTZEUR","type":"sell","price":"30100.0","vol":"0.5","cost":"15050.0","fee":"24.08","time":1700000100.5},
					"T1":{"pair":"XXBTZEUR","type":"buy","price":"30000.0","vol":"0.5","cost":"15000.0","fee":"24.00","time":1700000000.25}}}}`)
				return
			}
			_, _ = io.WriteString(w, `{"error":[],"result":{"count":3,"trades":{
				"T3":{"pair":"XETHZEUR","type":"buy","price":"2000","vol":"1","cost":"2000","fee":"3.2","time":1700000200}}}}`)
		case pathLedgers:
			_, _ = io.WriteString(w, `{"error":[],"result":{"count":3,"ledger":{
				"L1":{"refid":"R1","type":"deposit","asset":"ZEUR","amount":"1000.0","fee":"0","time":1699990000},
				"L2":{"refid":"T1","type":"trade","asset":"XXBT","amount":"0.5","fee":"0","time":1700000000.25},
				"L3":{"refid":"R3","type":"staking","asset":"DOT.S","amount":"0.12","fee":"0","time":1700000300}}}}`)
		}
	})

	since := time.Unix(1_699_000_000, 0).UTC()
	ctx := context.Background()

	p1, err := c.FetchPage(ctx, port.PageRequest{Since: since})
	require.NoError(t, err)
	require.Len(t, p1.Records, 2)
	assert.Equal(t, "T1", p1.Records[0]["txid"])
	assert.Equal(t, "buy", p1.Records[0]["direction"])
	assert.Equal(t, "trades:2", p1.NextCursor)

	p2, err := c.FetchPage(ctx, port.PageRequest{Since: since, Cursor: p1.NextCursor})
	require.NoError(t, err)
	require.Len(t, p2.Records, 1)
	assert.Equal(t, "ledgers:0", p2.NextCursor)

	p3, err := c.FetchPage(ctx, port.PageRequest{Since: since, Cursor: p2.NextCursor})
	require.NoError(t, err)
	require.Len(t, p3.Records, 2, "trade legs are skipped")
	assert.Equal(t, "L1", p3.Records[0]["txid"])
	assert.Equal(t, "L3", p3.Records[1]["txid"])
	assert.Empty(t, p3.NextCursor)

	assert.Equal(t, []string{
		"/0/private/TradesHistory?ofs=0&start=1698999999",
		"/0/private/TradesHistory?ofs=2&start=1698999999",
		"/0/private/Ledgers?ofs=0&start=1698999999",
	}, calls)

	norm := domainservice.NewNormalizer("EUR")
	tx, err := norm.Normalize(p1.Records[1])
	require.NoError(t, err)
	assert.Equal(t, model.TxSell, tx.Type)
	assert.Equal(t, "BTC/EUR", tx.Pair)
	assert.Equal(t, "ref:T2", tx.NaturalKey)
	assert.Equal(t, time.Unix(1700000100, 500_000_000).UTC(), tx.Timestamp)

	stake, err := norm.Normalize(p3.Records[1])
	require.NoError(t, err)
	assert.Equal(t, model.TxStaking, stake.Type)
	assert.Equal(t, "DOT/EUR", stake.Pair)
}

func TestFetchPageErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		header    string
		body      string
		transient bool
		after     time.Duration
	}{
		{name: "rate limited http", status: http.StatusTooManyRequests, header: "7", transient: true, after: 7 * time.Second},
		{name: "server error", status: http.StatusBadGateway, body: "bad gateway", transient: true},
		{name: "forbidden", status: http.StatusForbidden, body: "nope"},
		{name: "api rate limit", status: http.StatusOK, body: `{"error":["EAPI:Rate limit exceeded"]}`, transient: true},
		{name: "service busy", status: http.StatusOK, body: `{"error":["EService:Busy"]}`, transient: true},
		{name: "invalid key", status: http.StatusOK, body: `{"error":["EAPI:Invalid key"]}`},
		{name: "invalid nonce", status: http.StatusOK, body: `{"error":["EAPI:Invalid nonce"]}`},
		{name: "undecodable", status: http.StatusOK, body: `<html>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.header != "" {
					w.Header().Set("Retry-After", tt.header)
				}
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			_, err := c.FetchPage(context.Background(), port.PageRequest{})
			require.Error(t, err)
			assert.Equal(t, tt.transient, model.IsTransient(err), err.Error())
			if !tt.transient {
				assert.ErrorIs(t, err, model.ErrPermanent)
			}
			if tt.after > 0 {
				var ra *model.RetryAfterError
				require.True(t, errors.As(err, &ra))
				assert.Equal(t, tt.after, ra.After)
			}
		})
	}
}

func TestFetchPageRejectsUnknownCursor(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	_, err := c.FetchPage(context.Background(), port.PageRequest{Cursor: "orders:1"})
	assert.ErrorIs(t, err, model.ErrPermanent)
}

func TestFetchPageHonoursCancellation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.FetchPage(ctx, port.PageRequest{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, model.IsTransient(err))
}
