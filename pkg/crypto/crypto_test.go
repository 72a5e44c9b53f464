package crypto

import "testing"

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if hash == "correct horse" {
		t.Fatal("expected password to be hashed")
	}
	if !VerifyPassword(hash, "correct horse") {
		t.Fatal("expected password to verify")
	}
	if VerifyPassword(hash, "battery staple") {
		t.Fatal("expected wrong password to fail")
	}
}

func TestGenerateToken(t *testing.T) {
	a, err := GenerateToken(32)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	b, err := GenerateToken(32)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	if a == b {
		t.Fatal("expected distinct tokens")
	}
	if len(a) != 43 {
		t.Fatalf("expected 43 url-safe characters, got %d", len(a))
	}
	if _, err := GenerateToken(0); err == nil {
		t.Fatal("expected error for zero length")
	}
}

func TestEqualTokens(t *testing.T) {
	if !EqualTokens("abc", "abc") {
		t.Fatal("expected equal tokens to match")
	}
	if EqualTokens("abc", "abd") {
		t.Fatal("expected different tokens not to match")
	}
	if EqualTokens("", "") {
		t.Fatal("expected empty tokens never to match")
	}
}
