package security

import (
	"errors"
	"testing"
)

func TestHasher_HashAndVerify(t *testing.T) {
	h := NewHasher(0)
	salt, err := h.GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt: %v", err)
	}
	hash, err := h.Hash("secret123", salt)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if len(hash) != KeyLen*2 {
		t.Fatalf("hash length = %d, want %d", len(hash), KeyLen*2)
	}
	ok, err := h.Verify("secret123", salt, hash)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatal("Verify with correct password should succeed")
	}
}

func TestHasher_VerifyRejectsSingleCharMutation(t *testing.T) {
	h := NewHasher(0)
	salt, _ := h.GenerateSalt()
	password := "correct horse"
	hash, _ := h.Hash(password, salt)

	for i := range password {
		mutated := []byte(password)
		mutated[i] ^= 0x01
		ok, err := h.Verify(string(mutated), salt, hash)
		if err != nil {
			t.Fatalf("Verify(%q): %v", mutated, err)
		}
		if ok {
			t.Errorf("Verify(%q) = true, want false", mutated)
		}
	}
	if ok, _ := h.Verify(password+"x", salt, hash); ok {
		t.Error("Verify with appended char should fail")
	}
	if ok, _ := h.Verify(password[:len(password)-1], salt, hash); ok {
		t.Error("Verify with truncated password should fail")
	}
}

func TestHasher_Deterministic(t *testing.T) {
	h := NewHasher(DefaultIterations)
	a, err := h.Hash("pw", "0011223344556677")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	b, _ := h.Hash("pw", "0011223344556677")
	if a != b {
		t.Errorf("Hash not deterministic: %q != %q", a, b)
	}
	c, _ := h.Hash("pw", "0011223344556678")
	if a == c {
		t.Error("different salts should give different hashes")
	}
}

func TestHasher_GenerateSaltUnique(t *testing.T) {
	h := NewHasher(0)
	seen := make(map[string]bool)
	for i := 0; i < 64; i++ {
		s, err := h.GenerateSalt()
		if err != nil {
			t.Fatalf("GenerateSalt: %v", err)
		}
		if len(s) != saltLen*2 {
			t.Fatalf("salt length = %d, want %d", len(s), saltLen*2)
		}
		if seen[s] {
			t.Fatalf("duplicate salt %q", s)
		}
		seen[s] = true
	}
}

func TestHasher_MalformedInput(t *testing.T) {
	h := NewHasher(0)
	if _, err := h.Hash("pw", ""); !errors.Is(err, ErrMissingSalt) {
		t.Errorf("Hash without salt: err = %v, want ErrMissingSalt", err)
	}
	if _, err := h.Verify("pw", "", "abcd"); !errors.Is(err, ErrMissingSalt) {
		t.Errorf("Verify without salt: err = %v, want ErrMissingSalt", err)
	}
	if _, err := h.Verify("pw", "salt", ""); !errors.Is(err, ErrMissingHash) {
		t.Errorf("Verify without hash: err = %v, want ErrMissingHash", err)
	}
}

func TestNewHasher_Iterations(t *testing.T) {
	if h := NewHasher(5000); h.Iterations != 5000 {
		t.Errorf("Iterations = %d, want 5000", h.Iterations)
	}
	if h := NewHasher(-3); h.Iterations != DefaultIterations {
		t.Errorf("negative iterations should fall back to %d, got %d", DefaultIterations, h.Iterations)
	}
}

func TestHasher_KnownDigests(t *testing.T) {
	testCases := []struct {
		name       string
		iterations int
		password   string
		salt       string
		want       string
	}{
		{"default iterations", 0, "pw", "0011223344556677", "a056aa35c61ce56c1a2ed40679970126410f3bec23a9550da30e0bf48df4811cb5458a03b037c44f021342a7056ba1e780227dd45f90ed4dc3c6baf702fc8e7f"},
		{"stored row", DefaultIterations, "secret123", "a1b2c3d4e5f60718", "6246874f647a382274d66a33be978ac39e140625eaf172a83df796c4fcf0757a0cfac562a212548f4bfff170cea2bcbec5eb32100cab1f4317c15d02f2490818"},
		{"custom iterations", 10, "pw", "0011223344556677", "e7244abb3230bafd25181b8ee5a45b52c85451449476070fd901a217bf8e61a81b2c0d52b911b96588b40677e977f4a54b4dd6cd4f4a00ebfed18d618cda7fde"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHasher(tc.iterations)
			got, err := h.Hash(tc.password, tc.salt)
			if err != nil {
				t.Fatalf("Hash: %v", err)
			}
			if got != tc.want {
				t.Errorf("Hash = %s, want %s", got, tc.want)
			}
			ok, err := h.Verify(tc.password, tc.salt, tc.want)
			if err != nil || !ok {
				t.Errorf("Verify = %v, %v; want true, nil", ok, err)
			}
		})
	}
}
