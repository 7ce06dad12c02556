// Package receipt creates and verifies COSE Sign1 receipts over run
// reports, so a verification outcome can be published and checked later
// without trusting the registry.
package receipt

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// JWK represents a JSON Web Key (RFC 7517) for ES256 keys.
type JWK struct {
	Kty string `json:"kty"`           // Key type (always "EC")
	Crv string `json:"crv"`           // Curve (always "P-256")
	X   string `json:"x"`             // X coordinate (base64url)
	Y   string `json:"y"`             // Y coordinate (base64url)
	Kid string `json:"kid,omitempty"` // Key identifier
	Alg string `json:"alg,omitempty"` // Algorithm ("ES256")
	Use string `json:"use,omitempty"` // Key usage ("sig")
}

// ES256KeyPair holds an ECDSA P-256 key pair.
type ES256KeyPair struct {
	Private *ecdsa.PrivateKey
	Public  *ecdsa.PublicKey
}

// GenerateES256KeyPair generates a new ES256 (ECDSA P-256 with SHA-256)
// key pair.
func GenerateES256KeyPair() (*ES256KeyPair, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ES256 key pair: %w", err)
	}
	return &ES256KeyPair{
		Private: privateKey,
		Public:  &privateKey.PublicKey,
	}, nil
}

// KeyID derives a stable key identifier from the public key: the base64url
// encoded SHA-256 of the SPKI encoding.
func KeyID(publicKey *ecdsa.PublicKey) (string, error) {
	derBytes, err := x509.MarshalPKIXPublicKey(publicKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	sum := sha256.Sum256(derBytes)
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// ExportPublicKeyToJWK exports the public key to JWK format.
func ExportPublicKeyToJWK(publicKey *ecdsa.PublicKey) (*JWK, error) {
	if publicKey == nil {
		return nil, errors.New("public key is nil")
	}
	if publicKey.Curve != elliptic.P256() {
		return nil, errors.New("only P-256 curve is supported")
	}

	// P-256 coordinates are 32 bytes; pad after big.Int trimming.
	xBytes := padLeft(publicKey.X.Bytes(), 32)
	yBytes := padLeft(publicKey.Y.Bytes(), 32)

	kid, err := KeyID(publicKey)
	if err != nil {
		return nil, err
	}

	return &JWK{
		Kty: "EC",
		Crv: "P-256",
		X:   base64.RawURLEncoding.EncodeToString(xBytes),
		Y:   base64.RawURLEncoding.EncodeToString(yBytes),
		Kid: kid,
		Alg: "ES256",
		Use: "sig",
	}, nil
}

// ExportPrivateKeyToPEM exports the private key to PEM format (PKCS#8).
func ExportPrivateKeyToPEM(privateKey *ecdsa.PrivateKey) (string, error) {
	if privateKey == nil {
		return "", errors.New("private key is nil")
	}
	derBytes, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal private key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: derBytes})), nil
}

// ExportPublicKeyToPEM exports the public key to PEM format (SPKI).
func ExportPublicKeyToPEM(publicKey *ecdsa.PublicKey) (string, error) {
	if publicKey == nil {
		return "", errors.New("public key is nil")
	}
	derBytes, err := x509.MarshalPKIXPublicKey(publicKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: derBytes})), nil
}

// ImportPrivateKeyFromPEM imports a private key from PEM format (PKCS#8).
func ImportPrivateKeyFromPEM(pemData string) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	ecdsaKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.New("key is not an ECDSA private key")
	}
	if ecdsaKey.Curve != elliptic.P256() {
		return nil, errors.New("only P-256 curve is supported")
	}
	return ecdsaKey, nil
}

// ImportPublicKeyFromPEM imports a public key from PEM format (SPKI).
func ImportPublicKeyFromPEM(pemData string) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	ecdsaKey, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("key is not an ECDSA public key")
	}
	if ecdsaKey.Curve != elliptic.P256() {
		return nil, errors.New("only P-256 curve is supported")
	}
	return ecdsaKey, nil
}

// SaveKeyPair writes the key pair as PEM files.
func SaveKeyPair(pair *ES256KeyPair, privatePath, publicPath string) error {
	privatePEM, err := ExportPrivateKeyToPEM(pair.Private)
	if err != nil {
		return err
	}
	publicPEM, err := ExportPublicKeyToPEM(pair.Public)
	if err != nil {
		return err
	}

	if err := os.WriteFile(privatePath, []byte(privatePEM), 0600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	if err := os.WriteFile(publicPath, []byte(publicPEM), 0644); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}
	return nil
}

// LoadPrivateKey reads a PEM private key file.
func LoadPrivateKey(path string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	return ImportPrivateKeyFromPEM(string(data))
}

// LoadPublicKey reads a PEM public key file.
func LoadPublicKey(path string) (*ecdsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key: %w", err)
	}
	return ImportPublicKeyFromPEM(string(data))
}

// padLeft pads b with leading zeros to size bytes.
func padLeft(b []byte, size int) []byte {
	if len(b) >= size {
		return b
	}
	padded := make([]byte, size)
	copy(padded[size-len(b):], b)
	return padded
}
