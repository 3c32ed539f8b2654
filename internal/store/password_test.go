package store

import (
	"testing"
	"time"
)

func TestHashVerifyPasswordRoundTrip(t *testing.T) {
	encoded, err := hashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !verifyPassword(encoded, "correct horse battery staple") {
		t.Fatal("verify rejected the correct password")
	}
	if verifyPassword(encoded, "wrong password") {
		t.Fatal("verify accepted an incorrect password")
	}
}

func TestVerifyPasswordRejectsMalformedHash(t *testing.T) {
	if verifyPassword("not-an-argon2-hash", "anything") {
		t.Fatal("verify accepted a malformed encoded hash")
	}
}

// TestDummyHashTimingEqualization exercises the invariant that verifying
// against the fixed dummy hash costs roughly the same wall-clock time as
// verifying against a real one, so an absent user can't be distinguished
// from a wrong password by timing. Thresholds are loose (generous multiple
// of either side) since CI hardware varies.
func TestDummyHashTimingEqualization(t *testing.T) {
	real, err := hashPassword("some-real-password")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	const samples = 5
	var realTotal, dummyTotal time.Duration
	for i := 0; i < samples; i++ {
		start := time.Now()
		verifyPassword(real, "wrong-guess")
		realTotal += time.Since(start)

		start = time.Now()
		verifyPassword(dummyHash, "wrong-guess")
		dummyTotal += time.Since(start)
	}

	ratio := float64(dummyTotal) / float64(realTotal)
	if ratio < 0.5 || ratio > 2.0 {
		t.Fatalf("dummy-hash verification diverges from real verification by more than 2x: real=%v dummy=%v ratio=%.2f",
			realTotal, dummyTotal, ratio)
	}
}
