package crypto

import (
	"bytes"
	"strings"
	"testing"
)

var fastParams = Params{Time: 1, Memory: 8 * 1024, Threads: 1}

func TestRandBytes_LengthAndUniqueness(t *testing.T) {
	t.Parallel()

	const n = 64
	a, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes: %v", err)
	}
	if len(a) != n {
		t.Fatalf("len=%d, want=%d", len(a), n)
	}
	b, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes(2): %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatalf("two subsequent RandBytes(%d) are equal, looks non-random", n)
	}
}

func TestHasher_HashIsSaltedAndEncoded(t *testing.T) {
	t.Parallel()

	h := NewHasher(fastParams)
	h1, err := h.Hash("p@ssw0rd")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	h2, err := h.Hash("p@ssw0rd")
	if err != nil {
		t.Fatalf("Hash(2): %v", err)
	}
	if h1 == h2 {
		t.Fatalf("same password hashed twice must differ (per-record salt)")
	}
	if !strings.HasPrefix(h1, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected encoding: %s", h1)
	}
	if strings.Contains(h1, "p@ssw0rd") {
		t.Fatalf("hash leaks plaintext")
	}
}

func TestHasher_Verify(t *testing.T) {
	t.Parallel()

	h := NewHasher(fastParams)
	enc, err := h.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	ok, err := h.Verify("correct horse battery staple", enc)
	if err != nil || !ok {
		t.Fatalf("Verify correct: ok=%v err=%v", ok, err)
	}
	ok, err = h.Verify("wrong", enc)
	if err != nil || ok {
		t.Fatalf("Verify wrong: ok=%v err=%v", ok, err)
	}
	ok, err = h.Verify("", enc)
	if err != nil || ok {
		t.Fatalf("Verify empty: ok=%v err=%v", ok, err)
	}
}

func TestHasher_VerifyUsesParamsFromHash(t *testing.T) {
	t.Parallel()

	old := NewHasher(fastParams)
	enc, err := old.Hash("pw")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	tuned := NewHasher(Params{Time: 2, Memory: 16 * 1024, Threads: 2})
	ok, err := tuned.Verify("pw", enc)
	if err != nil || !ok {
		t.Fatalf("hash from older work factor must still verify: ok=%v err=%v", ok, err)
	}
}

func TestHasher_VerifyMalformed(t *testing.T) {
	t.Parallel()

	h := NewHasher(fastParams)
	cases := []string{
		"",
		"plain",
		"$bcrypt$v=19$m=8192,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$garbage$c2FsdA$a2V5",
		"$argon2id$v=19$m=0,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$a2V5",
		"$argon2id$v=19$m=8192,t=1,p=1$c2FsdA$",
	}
	for _, c := range cases {
		if ok, err := h.Verify("pw", c); err == nil || ok {
			t.Fatalf("want ErrInvalidHash for %q, got ok=%v err=%v", c, ok, err)
		}
	}
}

func TestNewHasher_DefaultsZeroFields(t *testing.T) {
	t.Parallel()

	h := NewHasher(Params{})
	if h.p != DefaultParams() {
		t.Fatalf("zero params must fall back to defaults, got %+v", h.p)
	}
}
