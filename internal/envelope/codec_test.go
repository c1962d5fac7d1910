package envelope

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/PolarWolf314/muna/internal/cryptoprovider"
	kerrors "github.com/PolarWolf314/muna/internal/errors"
)

func TestArmor_RoundTrip(t *testing.T) {
	r := newRecipient(t, cryptoprovider.SuiteX25519)
	env, err := r.cipher.EncryptText("armored", r.pair.PublicKey, 1)
	if err != nil {
		t.Fatalf("EncryptText failed: %v", err)
	}

	text, err := Armor(env)
	if err != nil {
		t.Fatalf("Armor failed: %v", err)
	}
	if !strings.HasPrefix(text, ArmorPrefix) {
		t.Errorf("armor %q lacks prefix %q", text, ArmorPrefix)
	}
	if strings.ContainsAny(text, " \n+/=") {
		t.Errorf("armor %q is not a single url-safe token", text)
	}

	parsed, err := Dearmor("  " + text + "\n")
	if err != nil {
		t.Fatalf("Dearmor failed: %v", err)
	}
	if !bytes.Equal(parsed.Ciphertext, env.Ciphertext) || parsed.KeyVersion != env.KeyVersion {
		t.Error("Dearmor did not restore the envelope")
	}
	got, err := r.cipher.DecryptText(context.Background(), parsed)
	if err != nil {
		t.Fatalf("DecryptText failed: %v", err)
	}
	if got != "armored" {
		t.Errorf("DecryptText() = %q", got)
	}
}

func TestDearmor_RejectsMalformedInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"wrong prefix", "other1.abc"},
		{"bad base64", ArmorPrefix + "!!!"},
		{"not json", ArmorPrefix + "aGVsbG8"},
		{"incomplete envelope", ArmorPrefix + "eyJzdWl0ZSI6IngifQ"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Dearmor(tt.input); !errors.Is(err, kerrors.ErrInvalidEnvelope) {
				t.Errorf("expected ErrInvalidEnvelope, got %v", err)
			}
		})
	}
}

func TestUnmarshal_RejectsIncompleteEnvelope(t *testing.T) {
	if _, err := Unmarshal([]byte(`{"suite":"x","kind":"text","key_version":1}`)); !errors.Is(err, kerrors.ErrInvalidEnvelope) {
		t.Errorf("expected ErrInvalidEnvelope, got %v", err)
	}
}
