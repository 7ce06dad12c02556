package receipt

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	gocose "github.com/veraison/go-cose"
)

// ContentType identifies the receipt payload encoding in the COSE protected
// headers.
const ContentType = "application/vnd.kerasbridge.receipt+cbor"

// COSE header labels used beyond the ones go-cose names.
const (
	headerLabelCWTClaims      = int64(15)  // CWT Claims Set (RFC 9597)
	headerLabelPayloadHashAlg = int64(258) // Hash algorithm for the report
	headerLabelPayloadLoc     = int64(260) // Location of the report
)

// cwtClaimIss is the issuer claim key within the CWT claims set (RFC 8392).
const cwtClaimIss = int64(1)

// HashAlgorithmSHA256 is the COSE identifier for SHA-256.
const HashAlgorithmSHA256 = int64(-16)

// Payload is the signed content of a receipt: a digest of the run report
// plus enough metadata to find the run again.
type Payload struct {
	RunID      string `cbor:"run_id"`
	ReportHash []byte `cbor:"report_hash"`
	HashAlg    int64  `cbor:"hash_alg"`
	ExecutedAt string `cbor:"executed_at,omitempty"`
}

// Options configures receipt signing.
type Options struct {
	// Issuer identifies who ran the verification (CWT iss claim).
	Issuer string
	// Location records where the full report is stored, e.g. a storage key.
	Location string
	// ExecutedAt is the run's RFC3339 timestamp.
	ExecutedAt string
}

// Sign hashes the report JSON and wraps the digest in a COSE Sign1
// structure signed with the given ES256 key. The full report stays outside
// the envelope; verifiers recompute its hash.
func Sign(reportJSON []byte, runID string, key *ecdsa.PrivateKey, opts Options) ([]byte, error) {
	if key == nil {
		return nil, errors.New("private key is nil")
	}

	sum := sha256.Sum256(reportJSON)
	payload, err := cbor.Marshal(Payload{
		RunID:      runID,
		ReportHash: sum[:],
		HashAlg:    HashAlgorithmSHA256,
		ExecutedAt: opts.ExecutedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode receipt payload: %w", err)
	}

	kid, err := KeyID(&key.PublicKey)
	if err != nil {
		return nil, err
	}

	signer, err := gocose.NewSigner(gocose.AlgorithmES256, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}

	protected := gocose.ProtectedHeader{
		gocose.HeaderLabelAlgorithm:   gocose.AlgorithmES256,
		gocose.HeaderLabelContentType: ContentType,
		gocose.HeaderLabelKeyID:       []byte(kid),
		headerLabelPayloadHashAlg:     HashAlgorithmSHA256,
	}
	if opts.Issuer != "" {
		protected[headerLabelCWTClaims] = map[interface{}]interface{}{
			cwtClaimIss: opts.Issuer,
		}
	}
	if opts.Location != "" {
		protected[headerLabelPayloadLoc] = opts.Location
	}

	msg := gocose.Sign1Message{
		Headers: gocose.Headers{Protected: protected},
		Payload: payload,
	}
	if err := msg.Sign(rand.Reader, nil, signer); err != nil {
		return nil, fmt.Errorf("failed to sign receipt: %w", err)
	}

	encoded, err := msg.MarshalCBOR()
	if err != nil {
		return nil, fmt.Errorf("failed to encode receipt: %w", err)
	}
	return encoded, nil
}

// VerificationResult holds the outcome of verifying a receipt against a
// report.
type VerificationResult struct {
	// SignatureValid is true when the COSE signature checks out.
	SignatureValid bool
	// HashValid is true when the report hash in the payload matches the
	// provided report bytes.
	HashValid bool
	// Payload is the decoded receipt content.
	Payload *Payload
	// Issuer is the CWT iss claim from the protected headers, if present.
	Issuer string
}

// Valid reports whether both the signature and the report hash verified.
func (r *VerificationResult) Valid() bool {
	return r.SignatureValid && r.HashValid
}

// Verify checks a receipt's signature with the given public key and
// recomputes the report hash against reportJSON.
func Verify(receiptBytes, reportJSON []byte, publicKey *ecdsa.PublicKey) (*VerificationResult, error) {
	if publicKey == nil {
		return nil, errors.New("public key is nil")
	}

	var msg gocose.Sign1Message
	if err := msg.UnmarshalCBOR(receiptBytes); err != nil {
		return nil, fmt.Errorf("failed to decode receipt: %w", err)
	}

	verifier, err := gocose.NewVerifier(gocose.AlgorithmES256, publicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create verifier: %w", err)
	}

	result := &VerificationResult{
		SignatureValid: msg.Verify(nil, verifier) == nil,
	}

	var payload Payload
	if err := cbor.Unmarshal(msg.Payload, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode receipt payload: %w", err)
	}
	result.Payload = &payload
	result.Issuer = extractIssuer(msg.Headers.Protected)

	if payload.HashAlg != HashAlgorithmSHA256 {
		return result, fmt.Errorf("unsupported hash algorithm %d", payload.HashAlg)
	}
	sum := sha256.Sum256(reportJSON)
	result.HashValid = bytes.Equal(sum[:], payload.ReportHash)

	return result, nil
}

// Decode extracts the payload and issuer from a receipt without verifying
// the signature. Used for display.
func Decode(receiptBytes []byte) (*Payload, string, error) {
	var msg gocose.Sign1Message
	if err := msg.UnmarshalCBOR(receiptBytes); err != nil {
		return nil, "", fmt.Errorf("failed to decode receipt: %w", err)
	}

	var payload Payload
	if err := cbor.Unmarshal(msg.Payload, &payload); err != nil {
		return nil, "", fmt.Errorf("failed to decode receipt payload: %w", err)
	}
	return &payload, extractIssuer(msg.Headers.Protected), nil
}

func extractIssuer(protected gocose.ProtectedHeader) string {
	claims, ok := protected[headerLabelCWTClaims]
	if !ok {
		return ""
	}
	claimsMap, ok := claims.(map[interface{}]interface{})
	if !ok {
		return ""
	}
	for key, value := range claimsMap {
		if labelEquals(key, cwtClaimIss) {
			if iss, ok := value.(string); ok {
				return iss
			}
		}
	}
	return ""
}

// labelEquals compares a decoded CBOR map key against an integer label.
// CBOR decoding may yield int64 or uint64 depending on sign.
func labelEquals(key interface{}, label int64) bool {
	switch k := key.(type) {
	case int64:
		return k == label
	case uint64:
		return label >= 0 && k == uint64(label)
	case int:
		return int64(k) == label
	}
	return false
}
