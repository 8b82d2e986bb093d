package util

import "testing"

func TestHashOwnerKey(t *testing.T) {
	id := "proposal:12345"
	got := HashOwnerKey(id)
	if got != HashOwnerKey(id) {
		t.Fatalf("expected stable hash, got %s", got)
	}
	for _, ch := range got {
		if !((ch >= 'a' && ch <= 'f') || (ch >= '0' && ch <= '9')) {
			t.Fatalf("hash contains non-hex character: %c", ch)
		}
	}
	if len(got) != 64 {
		t.Fatalf("expected 64 hex characters, got %d", len(got))
	}
}

func TestHashCPFIgnoresPunctuation(t *testing.T) {
	tests := []struct {
		name   string
		secret string
	}{
		{name: "plain sha256", secret: ""},
		{name: "hmac", secret: "pepper"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := HashCPF(tt.secret, "123.456.789-09")
			b := HashCPF(tt.secret, "12345678909")
			if a == "" || a != b {
				t.Fatalf("expected equal non-empty hashes, got %q and %q", a, b)
			}
		})
	}
	if HashCPF("", "12345678909") == HashCPF("pepper", "12345678909") {
		t.Fatalf("secret should change the hash")
	}
	if HashCPF("", " - ") != "" {
		t.Fatalf("expected empty hash for input without digits")
	}
}

func TestDigitsOnly(t *testing.T) {
	if got := DigitsOnly("88010-000 SC"); got != "88010000" {
		t.Fatalf("unexpected digits: %q", got)
	}
}
