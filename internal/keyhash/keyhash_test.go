package keyhash

import (
	"strings"
	"testing"
)

func TestGenerateFormat(t *testing.T) {
	secret, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.HasPrefix(secret, Prefix) {
		t.Errorf("secret %q missing prefix %q", secret, Prefix)
	}
	if len(secret) != len(Prefix)+64 {
		t.Errorf("len = %d, want %d", len(secret), len(Prefix)+64)
	}
	if !WellFormed(secret) {
		t.Errorf("generated secret %q is not well formed", secret)
	}
}

func TestGenerateUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		s, err := Generate()
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if seen[s] {
			t.Fatalf("duplicate secret after %d draws", i)
		}
		seen[s] = true
	}
}

func TestHashDeterministic(t *testing.T) {
	secret, _ := Generate()
	h1 := Hash(secret)
	h2 := Hash(secret)
	if h1 != h2 {
		t.Errorf("hash not deterministic: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("hash len = %d, want 64", len(h1))
	}
	if strings.Contains(h1, secret[len(Prefix):]) {
		t.Error("hash contains the secret material")
	}
	if Hash(secret+"x") == h1 {
		t.Error("different secrets produced the same hash")
	}
}

func TestHashKnownVector(t *testing.T) {
	// sha256("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := Hash("abc"); got != want {
		t.Errorf("Hash(abc) = %s, want %s", got, want)
	}
}

func TestDisplayPrefix(t *testing.T) {
	secret := Prefix + strings.Repeat("ab", 32)
	if got := DisplayPrefix(secret); got != "kg_abababab" {
		t.Errorf("DisplayPrefix = %q", got)
	}
	if got := DisplayPrefix("short"); got != "short" {
		t.Errorf("DisplayPrefix(short) = %q", got)
	}
}

func TestWellFormed(t *testing.T) {
	valid := Prefix + strings.Repeat("0f", 32)
	tests := map[string]bool{
		valid:                                 true,
		"":                                    false,
		"kg_":                                 false,
		valid + "0":                           false,
		"xx_" + strings.Repeat("0f", 32):      false,
		Prefix + strings.Repeat("0F", 32):     false,
		Prefix + strings.Repeat("zz", 32):     false,
		"sk_" + strings.Repeat("0f", 32):     false,
	}
	for in, want := range tests {
		if got := WellFormed(in); got != want {
			t.Errorf("WellFormed(%q) = %v, want %v", in, got, want)
		}
	}
}
