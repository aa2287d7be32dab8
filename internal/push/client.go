// Package push sends Web Push notifications to one delivery endpoint and
// classifies the outcome. Payloads are encrypted per RFC 8291 and
// authenticated with VAPID by the webpush library; this package adds the
// transport-safe topic, the send timeout and the outcome taxonomy the
// sweep acts on.
package push

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"golang.org/x/time/rate"

	"remindd/internal/reminder"
)

// Message is one rendered notification.
type Message struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
	Topic string `json:"-"`
}

// Outcome classifies a push service response.
type Outcome int

const (
	// OutcomeOK: accepted by the push service.
	OutcomeOK Outcome = iota
	// OutcomeRetryable: failed, but the subscription may still be alive.
	OutcomeRetryable
	// OutcomeGone: the subscription no longer exists; stop sending to it.
	OutcomeGone
)

// Classify maps a push service status code to an outcome. Anything outside
// 2xx is failure; 404 and 410 mean the endpoint is dead.
func Classify(statusCode int) Outcome {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return OutcomeOK
	case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
		return OutcomeGone
	default:
		return OutcomeRetryable
	}
}

// Result is the classified response of one send.
type Result struct {
	OK         bool `json:"ok"`
	StatusCode int  `json:"status_code"`
	Gone       bool `json:"gone"`
}

type Config struct {
	Subscriber      string // mailto: contact required by VAPID
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	TTL             time.Duration
	Timeout         time.Duration
	RatePerSec      int
}

type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
}

func New(cfg Config) *Client {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 20
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

// Send delivers one message to one endpoint. A returned error means the
// send never produced a push service response (payload build or transport
// exception); otherwise the Result carries the classification.
func (c *Client) Send(ctx context.Context, ep reminder.Endpoint, msg Message) (Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Result{}, err
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return Result{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: ep.Endpoint,
		Keys: webpush.Keys{
			Auth:   ep.Auth,
			P256dh: ep.P256dh,
		},
	}, &webpush.Options{
		HTTPClient:      c.http,
		Subscriber:      c.cfg.Subscriber,
		VAPIDPublicKey:  c.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: c.cfg.VAPIDPrivateKey,
		TTL:             int(c.cfg.TTL / time.Second),
		Topic:           TransportTopic(msg.Topic),
		Urgency:         webpush.UrgencyNormal,
	})
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	out := Classify(resp.StatusCode)
	return Result{
		OK:         out == OutcomeOK,
		StatusCode: resp.StatusCode,
		Gone:       out == OutcomeGone,
	}, nil
}

// TransportTopic hashes an arbitrary-length logical topic into the
// fixed-size base64url token the push wire format allows.
func TransportTopic(topic string) string {
	sum := sha256.Sum256([]byte(topic))
	return base64.RawURLEncoding.EncodeToString(sum[:])[:32]
}
