package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidKey is returned when a secret, PEM block or key type is unusable.
var ErrInvalidKey = errors.New("invalid key")

// SigningKey pairs a JWT signing method with the keys used to sign and verify.
type SigningKey struct {
	method    jwt.SigningMethod
	signKey   interface{}
	verifyKey interface{}
}

// Alg returns the JWT alg header value for k.
func (k SigningKey) Alg() string {
	if k.method == nil {
		return ""
	}
	return k.method.Alg()
}

// HMACKey returns an HS256 key for a shared process-wide secret.
func HMACKey(secret []byte) (SigningKey, error) {
	if len(secret) == 0 {
		return SigningKey{}, ErrInvalidKey
	}
	return SigningKey{method: jwt.SigningMethodHS256, signKey: secret, verifyKey: secret}, nil
}

// KeyPair returns an RS256 or ES256 key depending on the public key type.
func KeyPair(private crypto.Signer, public crypto.PublicKey) (SigningKey, error) {
	if private == nil || public == nil {
		return SigningKey{}, ErrInvalidKey
	}
	switch KeyAlg(public) {
	case "RS256":
		return SigningKey{method: jwt.SigningMethodRS256, signKey: private, verifyKey: public}, nil
	case "ES256":
		return SigningKey{method: jwt.SigningMethodES256, signKey: private, verifyKey: public}, nil
	default:
		return SigningKey{}, ErrInvalidKey
	}
}

// LoadSigningKey prefers the PEM key pair when both halves are set and falls
// back to the HMAC secret otherwise.
func LoadSigningKey(secret, privatePEM, publicPEM string) (SigningKey, error) {
	if privatePEM == "" && publicPEM == "" {
		return HMACKey([]byte(secret))
	}
	priv, err := ParsePrivateKey(privatePEM)
	if err != nil {
		return SigningKey{}, err
	}
	pub, err := ParsePublicKey(publicPEM)
	if err != nil {
		return SigningKey{}, err
	}
	return KeyPair(priv, pub)
}

// LoadPEM reads content from path if s does not look like inline PEM; otherwise returns s as bytes.
// Literal "\n" sequences in inline PEM (common in .env files) are expanded.
func LoadPEM(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidKey
	}
	if strings.HasPrefix(s, "-----BEGIN") {
		return []byte(strings.ReplaceAll(s, `\n`, "\n")), nil
	}
	return os.ReadFile(s)
}

func decodePEM(s string) (*pem.Block, error) {
	b, err := LoadPEM(s)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, ErrInvalidKey
	}
	return block, nil
}

// ParsePrivateKey parses a PEM-encoded private key (RSA or ECDSA). s may be inline PEM or a file path.
func ParsePrivateKey(s string) (crypto.Signer, error) {
	block, err := decodePEM(s)
	if err != nil {
		return nil, err
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		if signer, ok := key.(crypto.Signer); ok {
			return signer, nil
		}
	}
	return nil, ErrInvalidKey
}

// ParsePublicKey parses a PEM-encoded public key (RSA or ECDSA). s may be inline PEM or a file path.
func ParsePublicKey(s string) (crypto.PublicKey, error) {
	block, err := decodePEM(s)
	if err != nil {
		return nil, err
	}
	switch block.Type {
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	case "PUBLIC KEY":
		return x509.ParsePKIXPublicKey(block.Bytes)
	}
	return nil, ErrInvalidKey
}

// KeyAlg returns "RS256" for RSA and "ES256" for ECDSA; empty otherwise.
func KeyAlg(pub crypto.PublicKey) string {
	switch pub.(type) {
	case *rsa.PublicKey:
		return "RS256"
	case *ecdsa.PublicKey:
		return "ES256"
	default:
		return ""
	}
}
