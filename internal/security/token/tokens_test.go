package token

import (
	"strings"
	"testing"
)

func TestGenerateOpaque(t *testing.T) {
	t.Parallel()
	a, err := GenerateOpaque(32)
	if err != nil {
		t.Fatalf("GenerateOpaque: %v", err)
	}
	if len(a) != 43 {
		t.Fatalf("32 bytes => 43 chars base64url, got %d", len(a))
	}
	b, _ := GenerateOpaque(32)
	if a == b {
		t.Fatal("dos tokens consecutivos idénticos")
	}
}

func TestNewSessionID(t *testing.T) {
	t.Parallel()
	id, err := NewSessionID()
	if err != nil {
		t.Fatalf("NewSessionID: %v", err)
	}
	parts := strings.SplitN(id, ".", 2)
	if len(parts) != 2 || len(parts[0]) != 43 || parts[1] == "" {
		t.Fatalf("formato inesperado: %q", id)
	}
}

func TestSHA256Base64URL(t *testing.T) {
	t.Parallel()
	h := SHA256Base64URL("AB12CD34")
	if len(h) != 43 {
		t.Fatalf("sha256 => 43 chars base64url, got %d", len(h))
	}
	if h != SHA256Base64URL("AB12CD34") {
		t.Fatal("el hash debe ser determinístico")
	}
	if h == SHA256Base64URL("AB12CD35") {
		t.Fatal("entradas distintas con el mismo hash")
	}
}
