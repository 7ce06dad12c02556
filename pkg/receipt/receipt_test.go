package receipt_test

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/modelinterop/kerasbridge/pkg/receipt"
)

func TestGenerateES256KeyPair(t *testing.T) {
	pair, err := receipt.GenerateES256KeyPair()
	if err != nil {
		t.Fatalf("failed to generate key pair: %v", err)
	}
	if pair.Private == nil || pair.Public == nil {
		t.Fatal("key pair has nil component")
	}

	kid, err := receipt.KeyID(pair.Public)
	if err != nil {
		t.Fatalf("failed to derive key ID: %v", err)
	}
	if kid == "" {
		t.Error("expected non-empty key ID")
	}

	kid2, err := receipt.KeyID(pair.Public)
	if err != nil {
		t.Fatalf("failed to derive key ID again: %v", err)
	}
	if kid != kid2 {
		t.Error("key ID is not stable")
	}
}

func TestPEMRoundTrip(t *testing.T) {
	pair, err := receipt.GenerateES256KeyPair()
	if err != nil {
		t.Fatalf("failed to generate key pair: %v", err)
	}

	privatePEM, err := receipt.ExportPrivateKeyToPEM(pair.Private)
	if err != nil {
		t.Fatalf("failed to export private key: %v", err)
	}
	if !strings.Contains(privatePEM, "BEGIN PRIVATE KEY") {
		t.Errorf("unexpected private PEM format: %s", privatePEM[:40])
	}

	imported, err := receipt.ImportPrivateKeyFromPEM(privatePEM)
	if err != nil {
		t.Fatalf("failed to import private key: %v", err)
	}
	if imported.D.Cmp(pair.Private.D) != 0 {
		t.Error("private key changed in round trip")
	}

	publicPEM, err := receipt.ExportPublicKeyToPEM(pair.Public)
	if err != nil {
		t.Fatalf("failed to export public key: %v", err)
	}
	importedPub, err := receipt.ImportPublicKeyFromPEM(publicPEM)
	if err != nil {
		t.Fatalf("failed to import public key: %v", err)
	}
	if importedPub.X.Cmp(pair.Public.X) != 0 || importedPub.Y.Cmp(pair.Public.Y) != 0 {
		t.Error("public key changed in round trip")
	}
}

func TestSaveAndLoadKeyPair(t *testing.T) {
	pair, err := receipt.GenerateES256KeyPair()
	if err != nil {
		t.Fatalf("failed to generate key pair: %v", err)
	}

	dir := t.TempDir()
	privatePath := filepath.Join(dir, "receipt.key")
	publicPath := filepath.Join(dir, "receipt.pub")

	if err := receipt.SaveKeyPair(pair, privatePath, publicPath); err != nil {
		t.Fatalf("failed to save key pair: %v", err)
	}

	private, err := receipt.LoadPrivateKey(privatePath)
	if err != nil {
		t.Fatalf("failed to load private key: %v", err)
	}
	if private.D.Cmp(pair.Private.D) != 0 {
		t.Error("loaded private key does not match")
	}

	public, err := receipt.LoadPublicKey(publicPath)
	if err != nil {
		t.Fatalf("failed to load public key: %v", err)
	}
	if public.X.Cmp(pair.Public.X) != 0 {
		t.Error("loaded public key does not match")
	}
}

func TestExportPublicKeyToJWK(t *testing.T) {
	pair, err := receipt.GenerateES256KeyPair()
	if err != nil {
		t.Fatalf("failed to generate key pair: %v", err)
	}

	jwk, err := receipt.ExportPublicKeyToJWK(pair.Public)
	if err != nil {
		t.Fatalf("failed to export JWK: %v", err)
	}

	if jwk.Kty != "EC" || jwk.Crv != "P-256" || jwk.Alg != "ES256" {
		t.Errorf("unexpected JWK metadata: %+v", jwk)
	}
	if jwk.X == "" || jwk.Y == "" {
		t.Error("JWK missing coordinates")
	}
	if jwk.Kid == "" {
		t.Error("JWK missing key ID")
	}
}

func TestSignAndVerify(t *testing.T) {
	pair, err := receipt.GenerateES256KeyPair()
	if err != nil {
		t.Fatalf("failed to generate key pair: %v", err)
	}

	reportJSON := []byte(`{"report_id": "run-1", "total_models": 9, "passed_models": 9}`)
	opts := receipt.Options{
		Issuer:     "kerasbridge-ci",
		Location:   "reports/run-1/report.json",
		ExecutedAt: "2026-01-01T00:00:00Z",
	}

	encoded, err := receipt.Sign(reportJSON, "run-1", pair.Private, opts)
	if err != nil {
		t.Fatalf("failed to sign receipt: %v", err)
	}
	if len(encoded) == 0 {
		t.Fatal("empty receipt")
	}

	result, err := receipt.Verify(encoded, reportJSON, pair.Public)
	if err != nil {
		t.Fatalf("failed to verify receipt: %v", err)
	}
	if !result.SignatureValid {
		t.Error("expected valid signature")
	}
	if !result.HashValid {
		t.Error("expected valid report hash")
	}
	if !result.Valid() {
		t.Error("expected overall valid receipt")
	}
	if result.Payload.RunID != "run-1" {
		t.Errorf("unexpected run ID %q", result.Payload.RunID)
	}
	if result.Issuer != "kerasbridge-ci" {
		t.Errorf("unexpected issuer %q", result.Issuer)
	}
}

func TestVerifyTamperedReport(t *testing.T) {
	pair, err := receipt.GenerateES256KeyPair()
	if err != nil {
		t.Fatalf("failed to generate key pair: %v", err)
	}

	reportJSON := []byte(`{"report_id": "run-1", "passed_models": 9}`)
	encoded, err := receipt.Sign(reportJSON, "run-1", pair.Private, receipt.Options{})
	if err != nil {
		t.Fatalf("failed to sign receipt: %v", err)
	}

	tampered := []byte(`{"report_id": "run-1", "passed_models": 8}`)
	result, err := receipt.Verify(encoded, tampered, pair.Public)
	if err != nil {
		t.Fatalf("failed to verify receipt: %v", err)
	}
	if !result.SignatureValid {
		t.Error("signature should still be valid")
	}
	if result.HashValid {
		t.Error("hash should not match tampered report")
	}
	if result.Valid() {
		t.Error("receipt should not verify overall")
	}
}

func TestVerifyWrongKey(t *testing.T) {
	pair, err := receipt.GenerateES256KeyPair()
	if err != nil {
		t.Fatalf("failed to generate key pair: %v", err)
	}
	otherPair, err := receipt.GenerateES256KeyPair()
	if err != nil {
		t.Fatalf("failed to generate second key pair: %v", err)
	}

	reportJSON := []byte(`{"report_id": "run-1"}`)
	encoded, err := receipt.Sign(reportJSON, "run-1", pair.Private, receipt.Options{})
	if err != nil {
		t.Fatalf("failed to sign receipt: %v", err)
	}

	result, err := receipt.Verify(encoded, reportJSON, otherPair.Public)
	if err != nil {
		t.Fatalf("failed to verify receipt: %v", err)
	}
	if result.SignatureValid {
		t.Error("signature should not verify with wrong key")
	}
	if result.Valid() {
		t.Error("receipt should not verify overall")
	}
}

func TestDecode(t *testing.T) {
	pair, err := receipt.GenerateES256KeyPair()
	if err != nil {
		t.Fatalf("failed to generate key pair: %v", err)
	}

	reportJSON := []byte(`{"report_id": "run-7"}`)
	encoded, err := receipt.Sign(reportJSON, "run-7", pair.Private, receipt.Options{
		Issuer:     "tester",
		ExecutedAt: "2026-02-02T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("failed to sign receipt: %v", err)
	}

	payload, issuer, err := receipt.Decode(encoded)
	if err != nil {
		t.Fatalf("failed to decode receipt: %v", err)
	}
	if payload.RunID != "run-7" {
		t.Errorf("unexpected run ID %q", payload.RunID)
	}
	if payload.ExecutedAt != "2026-02-02T00:00:00Z" {
		t.Errorf("unexpected timestamp %q", payload.ExecutedAt)
	}
	if issuer != "tester" {
		t.Errorf("unexpected issuer %q", issuer)
	}
	if len(payload.ReportHash) != 32 {
		t.Errorf("unexpected hash length %d", len(payload.ReportHash))
	}

	if _, _, err := receipt.Decode([]byte("not cbor")); err == nil {
		t.Error("expected error decoding garbage")
	}
}

func TestImportRejectsGarbage(t *testing.T) {
	if _, err := receipt.ImportPrivateKeyFromPEM("not pem"); err == nil {
		t.Error("expected error importing garbage private key")
	}
	if _, err := receipt.ImportPublicKeyFromPEM("not pem"); err == nil {
		t.Error("expected error importing garbage public key")
	}
}
