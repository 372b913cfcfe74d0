package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"sync"
	"time"
)

const testSecret = "kaldor-test-secret"

var (
	testKeyOnce sync.Once
	testPrivPEM string
	testPubPEM  string
	testKeyErr  error
)

// testKeyPEM returns a PKCS#8/PKIX PEM pair generated once per test binary.
func testKeyPEM() (privatePEM, publicPEM string, err error) {
	testKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			testKeyErr = err
			return
		}
		priv, err := x509.MarshalPKCS8PrivateKey(key)
		if err != nil {
			testKeyErr = err
			return
		}
		pub, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
		if err != nil {
			testKeyErr = err
			return
		}
		testPrivPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: priv}))
		testPubPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pub}))
	})
	return testPrivPEM, testPubPEM, testKeyErr
}

// NewTestTokenService returns an HS256 TokenService with a fixed secret.
// For unit tests only.
func NewTestTokenService() *TokenService {
	key, _ := HMACKey([]byte(testSecret))
	return NewTokenService(key, "kaldor-test", DefaultTTL)
}

// NewTestRSATokenService returns an RS256 TokenService backed by a throwaway
// key pair. For unit tests only.
func NewTestRSATokenService() (*TokenService, error) {
	priv, pub, err := testKeyPEM()
	if err != nil {
		return nil, err
	}
	key, err := LoadSigningKey("", priv, pub)
	if err != nil {
		return nil, err
	}
	return NewTokenService(key, "kaldor-test", time.Hour), nil
}
