// Package webpush sends Web Push notifications with VAPID authentication and
// RFC 8291 payload encryption.
package webpush

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	"golang.org/x/time/rate"

	"github.com/qws941/safewallet/webpush/vapid"
)

const (
	// DefaultTTL is how long the push service keeps an undelivered message (1 day).
	DefaultTTL = 86400
	// DefaultUrgency is the Urgency header sent when none is requested.
	DefaultUrgency = "normal"

	maxErrorBody = 500
)

// ErrNoSigner is reported when a client has no VAPID signer configured.
var ErrNoSigner = errors.New("webpush: VAPID keys are not configured")

// Subscription represents a Web Push subscription from a client.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     Keys   `json:"keys"`
}

// Keys contains the client's encryption keys.
type Keys struct {
	P256dh string `json:"p256dh"` // Client's ECDH public key
	Auth   string `json:"auth"`   // Client's authentication secret
}

// Message is the notification payload delivered to the service worker.
type Message struct {
	Title   string         `json:"title"`
	Body    string         `json:"body"`
	Icon    string         `json:"icon,omitempty"`
	Badge   string         `json:"badge,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Actions []Action       `json:"actions,omitempty"`
}

// Action is a notification button.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// Options configures the web push notification.
type Options struct {
	TTL     int    // Time-to-live in seconds (default 86400)
	Urgency string // Urgency level: very-low, low, normal, high
	Topic   string // Topic for message replacement
}

// Client sends web push notifications. A Client is safe for concurrent use.
type Client struct {
	signer      vapid.Signer
	httpClient  *http.Client
	subject     string // VAPID subject (mailto: or https: URL)
	expiry      time.Duration
	limiter     *rate.Limiter
	concurrency int
}

// NewClient creates a new web push client. A nil signer yields a client that
// reports itself unconfigured and fails every send.
func NewClient(signer vapid.Signer, subject string) *Client {
	return &Client{
		signer:     signer,
		httpClient: http.DefaultClient,
		subject:    subject,
		expiry:     vapid.DefaultExpiry,
	}
}

// WithHTTPClient sets a custom HTTP client.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	c.httpClient = httpClient
	return c
}

// WithTokenExpiry sets the lifetime of VAPID tokens.
func (c *Client) WithTokenExpiry(d time.Duration) *Client {
	c.expiry = d
	return c
}

// WithRateLimiter makes every send wait on l before contacting the push service.
func (c *Client) WithRateLimiter(l *rate.Limiter) *Client {
	c.limiter = l
	return c
}

// WithConcurrency caps the number of in-flight sends in DeliverAll.
// Zero or less means no cap.
func (c *Client) WithConcurrency(n int) *Client {
	c.concurrency = n
	return c
}

// Configured reports whether the client has VAPID keys to sign with.
func (c *Client) Configured() bool {
	return c.signer != nil
}

// Deliver serializes msg as JSON and sends it to sub.
func (c *Client) Deliver(ctx context.Context, sub *Subscription, msg *Message) *Result {
	payload, err := json.Marshal(msg)
	if err != nil {
		return failed(endpointOf(sub), 0, fmt.Sprintf("marshaling message: %v", err))
	}
	return c.Send(ctx, sub, payload, nil)
}

// Send encrypts payload and posts it to the subscription's push service.
// Every failure is reported in the returned Result.
func (c *Client) Send(ctx context.Context, sub *Subscription, payload []byte, opts *Options) *Result {
	if sub == nil {
		return failed("", 0, "nil subscription")
	}
	if c.signer == nil {
		return failed(sub.Endpoint, 0, ErrNoSigner.Error())
	}
	log := clog.FromContext(ctx).With("endpoint", sub.Endpoint)

	req, err := c.newRequest(ctx, sub, payload, opts)
	if err != nil {
		log.Warnf("preparing push request: %v", err)
		return failed(sub.Endpoint, 0, err.Error())
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return failed(sub.Endpoint, 0, fmt.Sprintf("rate limiter: %v", err))
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Warnf("sending push request: %v", err)
		return failed(sub.Endpoint, 0, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		log.Debugf("push service accepted message (%d)", resp.StatusCode)
		return &Result{Success: true, StatusCode: resp.StatusCode, Endpoint: sub.Endpoint}
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := fmt.Sprintf("push service returned %d: %s", resp.StatusCode, strings.ToValidUTF8(string(body), ""))
	if IsExpired(resp.StatusCode) {
		msg = "subscription expired: " + msg
	}
	log.Infof("push rejected: %s", msg)
	return failed(sub.Endpoint, resp.StatusCode, msg)
}

func (c *Client) newRequest(ctx context.Context, sub *Subscription, payload []byte, opts *Options) (*http.Request, error) {
	ttl, urgency, topic := DefaultTTL, DefaultUrgency, ""
	if opts != nil {
		if opts.TTL > 0 {
			ttl = opts.TTL
		}
		if opts.Urgency != "" {
			urgency = opts.Urgency
		}
		topic = opts.Topic
	}

	// The audience is the push service origin, so each provider gets its own token.
	audience, err := vapid.Audience(sub.Endpoint)
	if err != nil {
		return nil, err
	}
	jwt, err := vapid.Token(ctx, c.signer, audience, c.subject, c.expiry)
	if err != nil {
		return nil, fmt.Errorf("creating VAPID token: %w", err)
	}

	body, _, err := Encrypt(payload, sub.Keys.P256dh, sub.Keys.Auth)
	if err != nil {
		return nil, fmt.Errorf("encrypting payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", vapid.AuthorizationHeader(jwt, c.signer.PublicKey()))
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Content-Encoding", "aes128gcm")
	req.Header.Set("TTL", strconv.Itoa(ttl))
	req.Header.Set("Urgency", urgency)
	if topic != "" {
		req.Header.Set("Topic", topic)
	}
	return req, nil
}

func endpointOf(sub *Subscription) string {
	if sub == nil {
		return ""
	}
	return sub.Endpoint
}

// ParseSubscription parses a subscription from JSON.
func ParseSubscription(data []byte) (*Subscription, error) {
	var sub Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("unmarshaling subscription: %w", err)
	}
	if sub.Endpoint == "" {
		return nil, errors.New("subscription endpoint is required")
	}
	if sub.Keys.P256dh == "" {
		return nil, errors.New("subscription p256dh key is required")
	}
	if sub.Keys.Auth == "" {
		return nil, errors.New("subscription auth key is required")
	}
	// Validate endpoint is HTTPS
	if !strings.HasPrefix(sub.Endpoint, "https://") {
		return nil, errors.New("subscription endpoint must use HTTPS")
	}
	return &sub, nil
}
