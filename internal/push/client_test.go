package push

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindd/internal/reminder"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		code int
		want Outcome
	}{
		{200, OutcomeOK},
		{201, OutcomeOK},
		{204, OutcomeOK},
		{400, OutcomeRetryable},
		{404, OutcomeGone},
		{410, OutcomeGone},
		{429, OutcomeRetryable},
		{500, OutcomeRetryable},
		{503, OutcomeRetryable},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Classify(tc.code), "status %d", tc.code)
	}
}

func TestTransportTopic(t *testing.T) {
	a := TransportTopic("rem:1:habit:42:habit_time:0420")
	b := TransportTopic("rem:1:habit:42:habit_time:0421")

	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, TransportTopic("rem:1:habit:42:habit_time:0420"))
	assert.Regexp(t, regexp.MustCompile(`^[A-Za-z0-9_-]{32}$`), a)
}

// testEndpoint builds a subscription with real P-256 keys so the webpush
// library can run the full RFC 8291 encryption against a local server.
func testEndpoint(t *testing.T, url string) reminder.Endpoint {
	t.Helper()
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)
	return reminder.Endpoint{
		ID:       "ep-test",
		OwnerID:  1,
		Endpoint: url,
		P256dh:   base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes()),
		Auth:     base64.RawURLEncoding.EncodeToString(auth),
	}
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	priv, pub, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)
	return New(Config{
		Subscriber:      "mailto:ops@example.com",
		VAPIDPublicKey:  pub,
		VAPIDPrivateKey: priv,
		TTL:             2 * time.Minute,
		Timeout:         5 * time.Second,
		RatePerSec:      100,
	})
}

func TestSend_Accepted(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := newTestClient(t)
	msg := Message{Title: "Stretch", Body: "Check in at 07:00", URL: "/habits/1?day=2024-03-10", Topic: "rem:1:habit:1:habit_time:0420"}
	res, err := c.Send(context.Background(), testEndpoint(t, srv.URL), msg)
	require.NoError(t, err)

	assert.True(t, res.OK)
	assert.False(t, res.Gone)
	assert.Equal(t, http.StatusCreated, res.StatusCode)

	require.NotNil(t, got)
	assert.Equal(t, "120", got.Header.Get("TTL"))
	assert.Equal(t, TransportTopic(msg.Topic), got.Header.Get("Topic"))
	assert.Equal(t, "aes128gcm", got.Header.Get("Content-Encoding"))
	assert.Contains(t, got.Header.Get("Authorization"), "vapid")
}

func TestSend_GoneEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	c := newTestClient(t)
	res, err := c.Send(context.Background(), testEndpoint(t, srv.URL), Message{Title: "x", Topic: "t"})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.True(t, res.Gone)
	assert.Equal(t, http.StatusGone, res.StatusCode)
}

func TestSend_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t)
	res, err := c.Send(context.Background(), testEndpoint(t, srv.URL), Message{Title: "x", Topic: "t"})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.False(t, res.Gone)
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
}

func TestSend_UnreachableEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := newTestClient(t)
	_, err := c.Send(context.Background(), testEndpoint(t, url), Message{Title: "x", Topic: "t"})
	assert.Error(t, err)
}
