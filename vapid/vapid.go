// Package vapid provides VAPID (Voluntary Application Server Identification)
// utilities for Web Push.
package vapid

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/qws941/safewallet/webpush/b64url"
)

// DefaultExpiry is the lifetime of a VAPID token (12 hours).
const DefaultExpiry = 12 * time.Hour

var (
	// ErrInvalidPrivateKey is returned when a raw private scalar cannot be imported.
	ErrInvalidPrivateKey = errors.New("vapid: invalid private key")
	// ErrSubjectRequired is returned when a token is requested without a subject.
	ErrSubjectRequired = errors.New("vapid: subject is required")
)

var (
	oidPublicKeyECDSA = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
	oidNamedCurveP256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 3, 1, 7}
)

// Signer provides VAPID signing functionality.
type Signer interface {
	// Sign signs the given SHA-256 digest and returns the signature as r || s.
	Sign(ctx context.Context, digest []byte) ([]byte, error)
	// PublicKey returns the ECDSA public key in uncompressed format.
	PublicKey() []byte
}

// Keys is a VAPID key pair in its configured, base64url-encoded form.
type Keys struct {
	PublicKey  string `json:"publicKey"`  // uncompressed P-256 point
	PrivateKey string `json:"privateKey"` // 32-byte scalar
}

// Configured reports whether both halves of the key pair are present.
func (k Keys) Configured() bool {
	return k.PublicKey != "" && k.PrivateKey != ""
}

// ApplicationServerKey returns the VAPID public key formatted for use with
// the JavaScript PushManager.subscribe() method.
func ApplicationServerKey(publicKey []byte) string {
	return b64url.Encode(publicKey)
}

// DecodeApplicationServerKey decodes a base64 URL-encoded application server
// key and checks that it is an uncompressed P-256 point.
func DecodeApplicationServerKey(key string) ([]byte, error) {
	b, err := b64url.Decode(key)
	if err != nil {
		return nil, err
	}
	if len(b) != 65 || b[0] != 0x04 {
		return nil, fmt.Errorf("vapid: public key must be a 65-byte uncompressed point, got %d bytes", len(b))
	}
	return b, nil
}

type pkcs8 struct {
	Version    int
	Algo       pkix.AlgorithmIdentifier
	PrivateKey []byte
}

// ecPrivateKey is the RFC 5915 structure without the optional fields; the
// curve is named by the enclosing PKCS#8 algorithm parameters.
type ecPrivateKey struct {
	Version    int
	PrivateKey []byte
}

// ParsePrivateKey imports a raw base64url P-256 scalar. The scalar is wrapped
// in a minimal PKCS#8 envelope and parsed by crypto/x509, which validates the
// range and derives the public point.
func ParsePrivateKey(privateKeyB64 string) (*ecdsa.PrivateKey, error) {
	raw, err := b64url.Decode(privateKeyB64)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPrivateKey, err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("%w: must be 32 bytes, got %d", ErrInvalidPrivateKey, len(raw))
	}

	der, err := wrapPKCS8(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPrivateKey, err)
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPrivateKey, err)
	}
	priv, ok := key.(*ecdsa.PrivateKey)
	if !ok || priv.Curve != elliptic.P256() {
		return nil, fmt.Errorf("%w: not a P-256 key", ErrInvalidPrivateKey)
	}
	return priv, nil
}

func wrapPKCS8(scalar []byte) ([]byte, error) {
	inner, err := asn1.Marshal(ecPrivateKey{Version: 1, PrivateKey: scalar})
	if err != nil {
		return nil, err
	}
	curve, err := asn1.Marshal(oidNamedCurveP256)
	if err != nil {
		return nil, err
	}
	return asn1.Marshal(pkcs8{
		Version: 0,
		Algo: pkix.AlgorithmIdentifier{
			Algorithm:  oidPublicKeyECDSA,
			Parameters: asn1.RawValue{FullBytes: curve},
		},
		PrivateKey: inner,
	})
}

// SignDigest signs a SHA-256 digest with key and returns the fixed-width
// IEEE P1363 signature (r || s, 32 bytes each) that JWS requires.
func SignDigest(key *ecdsa.PrivateKey, digest []byte) ([]byte, error) {
	r, s, err := ecdsa.Sign(rand.Reader, key, digest)
	if err != nil {
		return nil, fmt.Errorf("signing: %w", err)
	}
	sig := make([]byte, 64)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])
	return sig, nil
}

// Audience returns the origin (scheme://host) of a push endpoint.
func Audience(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parsing endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("endpoint %q has no origin", endpoint)
	}
	return u.Scheme + "://" + u.Host, nil
}

// Token builds an ES256 JWT asserting subject to audience, signed by signer.
func Token(ctx context.Context, signer Signer, audience, subject string, expiry time.Duration) (string, error) {
	if subject == "" {
		return "", ErrSubjectRequired
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}

	// Struct fields keep the encoded member order fixed.
	header := struct {
		Typ string `json:"typ"`
		Alg string `json:"alg"`
	}{Typ: "JWT", Alg: "ES256"}
	claims := struct {
		Aud string `json:"aud"`
		Exp int64  `json:"exp"`
		Sub string `json:"sub"`
	}{Aud: audience, Exp: time.Now().Add(expiry).Unix(), Sub: subject}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("marshaling header: %w", err)
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshaling claims: %w", err)
	}

	signingInput := b64url.Encode(headerJSON) + "." + b64url.Encode(claimsJSON)
	digest := sha256.Sum256([]byte(signingInput))

	sig, err := signer.Sign(ctx, digest[:])
	if err != nil {
		return "", fmt.Errorf("signing JWT: %w", err)
	}
	if len(sig) != 64 {
		return "", fmt.Errorf("signing JWT: signature is %d bytes, want 64", len(sig))
	}
	return signingInput + "." + b64url.Encode(sig), nil
}

// Sign builds a VAPID JWT from a raw base64url private scalar. The signing key
// only lives for the duration of the call.
func Sign(audience, subject, privateKeyB64 string, expiry time.Duration) (string, error) {
	key, err := ParsePrivateKey(privateKeyB64)
	if err != nil {
		return "", err
	}
	return Token(context.Background(), ephemeralSigner{key}, audience, subject, expiry)
}

type ephemeralSigner struct {
	key *ecdsa.PrivateKey
}

func (e ephemeralSigner) Sign(_ context.Context, digest []byte) ([]byte, error) {
	return SignDigest(e.key, digest)
}

func (e ephemeralSigner) PublicKey() []byte {
	b, _ := PublicKeyBytes(&e.key.PublicKey)
	return b
}

// PublicKeyBytes returns pub as a 65-byte uncompressed point.
func PublicKeyBytes(pub *ecdsa.PublicKey) ([]byte, error) {
	k, err := pub.ECDH()
	if err != nil {
		return nil, fmt.Errorf("converting public key: %w", err)
	}
	return k.Bytes(), nil
}

// AuthorizationHeader formats the Authorization header value for a push request.
func AuthorizationHeader(jwt string, publicKey []byte) string {
	return "vapid t=" + jwt + ", k=" + b64url.Encode(publicKey)
}
