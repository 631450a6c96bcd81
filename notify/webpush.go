package notify

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

// Message encryption (RFC 8291, aes128gcm) and VAPID authorisation
// (RFC 8292) for Web Push.

const (
	recordSize  = 4096
	vapidExpiry = 12 * time.Hour
)

// VAPIDKeys holds the application server key pair, both base64url encoded:
// the public key as an uncompressed P-256 point, the private key as the raw
// 32-byte scalar.
type VAPIDKeys struct {
	PublicKey  string
	PrivateKey string
	Subject    string
}

type vapidSigner struct {
	key       *ecdsa.PrivateKey
	publicKey string
	subject   string
}

func newVAPIDSigner(keys VAPIDKeys) (*vapidSigner, error) {
	if keys.PrivateKey == "" {
		return nil, ErrNotConfigured
	}

	d, err := decodeB64(keys.PrivateKey)
	if err != nil || len(d) != 32 {
		return nil, fmt.Errorf("%w: invalid VAPID private key", ErrNotConfigured)
	}

	curve := elliptic.P256()
	x, y := curve.ScalarBaseMult(d)
	key := &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: curve, X: x, Y: y},
		D:         new(big.Int).SetBytes(d),
	}

	pub := keys.PublicKey
	if pub == "" {
		pub = base64.RawURLEncoding.EncodeToString(uncompressedPoint(x, y))
	}

	subject := keys.Subject
	if subject == "" {
		subject = "mailto:admin@watchdog.app"
	}
	return &vapidSigner{key: key, publicKey: pub, subject: subject}, nil
}

// authorization returns the Authorization header value for a push to endpoint.
func (v *vapidSigner) authorization(endpoint string, now time.Time) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid push endpoint %q", endpoint)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"aud": u.Scheme + "://" + u.Host,
		"exp": now.Add(vapidExpiry).Unix(),
		"sub": v.subject,
	})
	signed, err := token.SignedString(v.key)
	if err != nil {
		return "", fmt.Errorf("sign VAPID token: %w", err)
	}
	return "vapid t=" + signed + ", k=" + v.publicKey, nil
}

// encryptPayload encrypts plaintext for the subscription identified by its
// p256dh public key and auth secret.
func encryptPayload(plaintext []byte, p256dh, auth string, random io.Reader) ([]byte, error) {
	uaPubBytes, err := decodeB64(p256dh)
	if err != nil {
		return nil, fmt.Errorf("decode p256dh: %w", err)
	}
	authSecret, err := decodeB64(auth)
	if err != nil {
		return nil, fmt.Errorf("decode auth: %w", err)
	}
	if len(authSecret) == 0 {
		return nil, errors.New("empty auth secret")
	}

	curve := ecdh.P256()
	uaPub, err := curve.NewPublicKey(uaPubBytes)
	if err != nil {
		return nil, fmt.Errorf("parse p256dh: %w", err)
	}

	asPriv, err := curve.GenerateKey(random)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	asPub := asPriv.PublicKey().Bytes()

	secret, err := asPriv.ECDH(uaPub)
	if err != nil {
		return nil, fmt.Errorf("ecdh: %w", err)
	}

	salt := make([]byte, 16)
	if _, err := io.ReadFull(random, salt); err != nil {
		return nil, fmt.Errorf("salt: %w", err)
	}

	cek, nonce, err := deriveContentKeys(secret, authSecret, salt, uaPubBytes, asPub)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	// Single record: payload followed by the last-record delimiter.
	record := append(append([]byte{}, plaintext...), 0x02)
	if len(record)+gcm.Overhead() > recordSize {
		return nil, fmt.Errorf("payload too large: %d bytes", len(plaintext))
	}

	var buf bytes.Buffer
	buf.Write(salt)
	_ = binary.Write(&buf, binary.BigEndian, uint32(recordSize))
	buf.WriteByte(byte(len(asPub)))
	buf.Write(asPub)
	buf.Write(gcm.Seal(nil, nonce, record, nil))
	return buf.Bytes(), nil
}

func deriveContentKeys(secret, authSecret, salt, uaPub, asPub []byte) (cek, nonce []byte, err error) {
	keyInfo := make([]byte, 0, 14+len(uaPub)+len(asPub))
	keyInfo = append(keyInfo, "WebPush: info\x00"...)
	keyInfo = append(keyInfo, uaPub...)
	keyInfo = append(keyInfo, asPub...)

	ikm := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, authSecret, keyInfo), ikm); err != nil {
		return nil, nil, fmt.Errorf("derive ikm: %w", err)
	}

	cek = make([]byte, 16)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, salt, []byte("Content-Encoding: aes128gcm\x00")), cek); err != nil {
		return nil, nil, fmt.Errorf("derive cek: %w", err)
	}

	nonce = make([]byte, 12)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, salt, []byte("Content-Encoding: nonce\x00")), nonce); err != nil {
		return nil, nil, fmt.Errorf("derive nonce: %w", err)
	}
	return cek, nonce, nil
}

func uncompressedPoint(x, y *big.Int) []byte {
	out := make([]byte, 65)
	out[0] = 0x04
	x.FillBytes(out[1:33])
	y.FillBytes(out[33:])
	return out
}

// decodeB64 accepts base64url or standard base64, padded or not, as browsers
// and key generators disagree.
func decodeB64(s string) ([]byte, error) {
	s = strings.TrimRight(strings.TrimSpace(s), "=")
	if strings.ContainsAny(s, "+/") {
		return base64.RawStdEncoding.DecodeString(s)
	}
	return base64.RawURLEncoding.DecodeString(s)
}
