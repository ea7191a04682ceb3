package exchange

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Signer produces the three authentication headers required on every venue
// REST and stream request: access key ID, an RSA-PSS signature of
// ts_ms‖METHOD‖path, and the millisecond timestamp itself. Signatures are
// never cached — each call recomputes against the current clock.
type Signer struct {
	accessKeyID string
	privateKey  *rsa.PrivateKey
}

// NewSigner loads a PKCS#1 or PKCS#8 RSA private key, either from an inline PEM block
// or from a file path. Failure to load the key is fatal at startup — the
// caller should treat a non-nil error as unrecoverable.
func NewSigner(accessKeyID, pemBlock, path string) (*Signer, error) {
	if pemBlock == "" {
		if path == "" {
			return nil, fmt.Errorf("no private key configured")
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read private key file: %w", err)
		}
		pemBlock = string(raw)
	}

	block, _ := pem.Decode([]byte(pemBlock))
	if block == nil {
		return nil, fmt.Errorf("decode private key: no PEM block found")
	}

	key, err := parseRSAPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return &Signer{accessKeyID: accessKeyID, privateKey: key}, nil
}

func parseRSAPrivateKey(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	generic, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	key, ok := generic.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key is not RSA")
	}
	return key, nil
}

// Headers computes the signed headers for one request.
func (s *Signer) Headers(method, path string) (map[string]string, error) {
	tsMs := time.Now().UnixMilli()
	sig, err := s.sign(tsMs, method, path)
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}
	return map[string]string{
		"KALSHI-ACCESS-KEY":       s.accessKeyID,
		"KALSHI-ACCESS-SIGNATURE": sig,
		"KALSHI-ACCESS-TIMESTAMP": strconv.FormatInt(tsMs, 10),
	}, nil
}

// sign produces a base64 RSA-PSS signature (MGF1-SHA-256, max salt length)
// over ascii(ts_ms) ‖ METHOD ‖ path.
func (s *Signer) sign(tsMs int64, method, path string) (string, error) {
	message := strconv.FormatInt(tsMs, 10) + method + path

	digest := sha256.Sum256([]byte(message))
	sig, err := rsa.SignPSS(rand.Reader, s.privateKey, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
		Hash:       crypto.SHA256,
	})
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}
