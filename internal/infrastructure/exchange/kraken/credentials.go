package kraken

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"
)

// Credentials holds the API key pair and signs private requests.
type Credentials struct {
	apiKey string
	secret []byte
}

// NewCredentials decodes the base64 API secret issued by Kraken.
func NewCredentials(apiKey, apiSecret string) (*Credentials, error) {
	secret, err := base64.StdEncoding.DecodeString(apiSecret)
	if err != nil {
		return nil, fmt.Errorf("kraken api secret is not base64: %w", err)
	}
	return &Credentials{apiKey: apiKey, secret: secret}, nil
}

func (c *Credentials) APIKey() string {
	return c.apiKey
}

// Sign computes API-Sign: base64(HMAC-SHA512(secret, path + SHA256(nonce + postData))).
func (c *Credentials) Sign(path, nonce, postData string) string {
	sum := sha256.Sum256([]byte(nonce + postData))
	mac := hmac.New(sha512.New, c.secret)
	mac.Write([]byte(path))
	mac.Write(sum[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// nonceSource hands out strictly increasing millisecond nonces, even for
// requests issued within the same millisecond.
type nonceSource struct {
	last atomic.Int64
	now  func() time.Time
}

func newNonceSource() *nonceSource {
	return &nonceSource{now: time.Now}
}

func (n *nonceSource) Next() string {
	for {
		prev := n.last.Load()
		next := n.now().UnixMilli()
		if next <= prev {
			next = prev + 1
		}
		if n.last.CompareAndSwap(prev, next) {
			return strconv.FormatInt(next, 10)
		}
	}
}
