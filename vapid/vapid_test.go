package vapid

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/qws941/safewallet/webpush/b64url"
)

func newRawKey(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	scalar := make([]byte, 32)
	priv.D.FillBytes(scalar)
	return priv, b64url.Encode(scalar)
}

func TestApplicationServerKey(t *testing.T) {
	// Test with a sample 65-byte P-256 public key
	pubKey := make([]byte, 65)
	pubKey[0] = 0x04 // Uncompressed point indicator
	for i := 1; i < 65; i++ {
		pubKey[i] = byte(i)
	}

	encoded := ApplicationServerKey(pubKey)
	if strings.ContainsAny(encoded, "+/=") {
		t.Errorf("ApplicationServerKey() = %q, not URL-safe", encoded)
	}

	decoded, err := DecodeApplicationServerKey(encoded)
	if err != nil {
		t.Fatalf("DecodeApplicationServerKey() error = %v", err)
	}
	if string(decoded) != string(pubKey) {
		t.Error("DecodeApplicationServerKey() did not round-trip")
	}
}

func TestDecodeApplicationServerKey_Invalid(t *testing.T) {
	for _, in := range []string{"not-valid-base64!!!", b64url.Encode(make([]byte, 65)), b64url.Encode([]byte{0x04, 1, 2})} {
		if _, err := DecodeApplicationServerKey(in); err == nil {
			t.Errorf("DecodeApplicationServerKey(%q) expected error", in)
		}
	}
}

func TestParsePrivateKey(t *testing.T) {
	want, raw := newRawKey(t)

	got, err := ParsePrivateKey(raw)
	if err != nil {
		t.Fatalf("ParsePrivateKey() error = %v", err)
	}
	if !got.PublicKey.Equal(&want.PublicKey) {
		t.Error("ParsePrivateKey() derived a different public key")
	}

	pub, err := PublicKeyBytes(&got.PublicKey)
	if err != nil {
		t.Fatalf("PublicKeyBytes() error = %v", err)
	}
	if len(pub) != 65 || pub[0] != 0x04 {
		t.Errorf("PublicKeyBytes() = %d bytes, first %#x", len(pub), pub[0])
	}
}

func TestParsePrivateKey_Invalid(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{name: "bad base64", in: "***"},
		{name: "too short", in: "AAAA"},
		{name: "too long", in: b64url.Encode(make([]byte, 33))},
		{name: "above curve order", in: b64url.Encode([]byte(strings.Repeat("\xff", 32)))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePrivateKey(tt.in)
			if !errors.Is(err, ErrInvalidPrivateKey) {
				t.Errorf("ParsePrivateKey() error = %v, want ErrInvalidPrivateKey", err)
			}
		})
	}
}

func TestAudience(t *testing.T) {
	tests := []struct {
		endpoint string
		want     string
		wantErr  bool
	}{
		{endpoint: "https://fcm.googleapis.com/fcm/send/abc", want: "https://fcm.googleapis.com"},
		{endpoint: "https://updates.push.services.mozilla.com/wpush/v2/xyz?q=1", want: "https://updates.push.services.mozilla.com"},
		{endpoint: "https://127.0.0.1:8443/push", want: "https://127.0.0.1:8443"},
		{endpoint: "/relative/path", wantErr: true},
		{endpoint: "://bad", wantErr: true},
	}
	for _, tt := range tests {
		got, err := Audience(tt.endpoint)
		if (err != nil) != tt.wantErr {
			t.Errorf("Audience(%q) error = %v, wantErr %v", tt.endpoint, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("Audience(%q) = %q, want %q", tt.endpoint, got, tt.want)
		}
	}
}

func TestSign(t *testing.T) {
	priv, raw := newRawKey(t)
	const aud = "https://push.example.com"
	const sub = "mailto:safety@example.com"

	before := time.Now()
	token, err := Sign(aud, sub, raw, DefaultExpiry)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("Sign() returned %d segments, want 3", len(parts))
	}

	headerJSON, err := b64url.Decode(parts[0])
	if err != nil {
		t.Fatalf("decoding header: %v", err)
	}
	if string(headerJSON) != `{"typ":"JWT","alg":"ES256"}` {
		t.Errorf("header = %s", headerJSON)
	}

	sig, err := b64url.Decode(parts[2])
	if err != nil {
		t.Fatalf("decoding signature: %v", err)
	}
	if len(sig) != 64 {
		t.Errorf("signature length = %d, want 64", len(sig))
	}

	// Verify independently.
	parsed, err := jwt.Parse(token, func(*jwt.Token) (any, error) {
		return &priv.PublicKey, nil
	}, jwt.WithValidMethods([]string{"ES256"}), jwt.WithAudience(aud))
	if err != nil {
		t.Fatalf("jwt.Parse() error = %v", err)
	}
	claims := parsed.Claims.(jwt.MapClaims)
	if got, _ := claims.GetSubject(); got != sub {
		t.Errorf("sub = %q, want %q", got, sub)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		t.Fatalf("GetExpirationTime() error = %v", err)
	}
	wantExp := before.Add(DefaultExpiry)
	if d := exp.Sub(wantExp); d < -time.Second || d > 5*time.Second {
		t.Errorf("exp = %v, want about %v", exp.Time, wantExp)
	}
}

func TestSign_Errors(t *testing.T) {
	_, raw := newRawKey(t)
	if _, err := Sign("https://push.example.com", "", raw, 0); !errors.Is(err, ErrSubjectRequired) {
		t.Errorf("Sign() without subject error = %v, want ErrSubjectRequired", err)
	}
	if _, err := Sign("https://push.example.com", "mailto:a@b.c", "AAAA", 0); !errors.Is(err, ErrInvalidPrivateKey) {
		t.Errorf("Sign() with short key error = %v, want ErrInvalidPrivateKey", err)
	}
}

type badSigner struct{ sig []byte }

func (b badSigner) Sign(context.Context, []byte) ([]byte, error) { return b.sig, nil }
func (b badSigner) PublicKey() []byte                           { return nil }

func TestToken_RejectsNonRawSignature(t *testing.T) {
	// A DER signature is 70-72 bytes.
	_, err := Token(context.Background(), badSigner{sig: make([]byte, 71)}, "https://a.example", "mailto:a@b.c", time.Hour)
	if err == nil {
		t.Error("Token() expected error for a non-raw signature")
	}
}

func TestToken_Claims(t *testing.T) {
	token, err := Token(context.Background(), badSigner{sig: make([]byte, 64)}, "https://a.example", "mailto:a@b.c", time.Minute)
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	claimsJSON, err := b64url.Decode(strings.Split(token, ".")[1])
	if err != nil {
		t.Fatalf("decoding claims: %v", err)
	}
	var claims map[string]any
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if claims["aud"] != "https://a.example" {
		t.Errorf("aud = %v", claims["aud"])
	}
	if claims["sub"] != "mailto:a@b.c" {
		t.Errorf("sub = %v", claims["sub"])
	}
}

func TestAuthorizationHeader(t *testing.T) {
	pub := make([]byte, 65)
	pub[0] = 0x04
	got := AuthorizationHeader("a.b.c", pub)
	want := "vapid t=a.b.c, k=" + b64url.Encode(pub)
	if got != want {
		t.Errorf("AuthorizationHeader() = %q, want %q", got, want)
	}
}

func TestKeys_Configured(t *testing.T) {
	if (Keys{}).Configured() {
		t.Error("empty Keys reported configured")
	}
	if (Keys{PublicKey: "x"}).Configured() {
		t.Error("Keys without private half reported configured")
	}
	if !(Keys{PublicKey: "x", PrivateKey: "y"}).Configured() {
		t.Error("complete Keys reported unconfigured")
	}
}
