package store

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters. Chosen for interactive, per-request verification
// rather than bulk KDF use: one request should complete in low tens of
// milliseconds even on modest hardware.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// hashPassword returns an encoded Argon2id hash in the standard
// $argon2id$v=...$m=...,t=...,p=...$salt$hash form.
func hashPassword(plaintext string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	sum := argon2.IDKey([]byte(plaintext), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return encodeArgon2(salt, sum), nil
}

func encodeArgon2(salt, sum []byte) string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum))
}

// verifyPassword checks plaintext against an encoded Argon2id hash produced
// by hashPassword, in constant time.
func verifyPassword(encoded, plaintext string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}
	var version int
	var memory, time_, threads uint32
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time_, &threads); err != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(plaintext), salt, time_, memory, uint8(threads), uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

// dummyHash is a fixed, precomputed Argon2id hash of a constant plaintext.
// verify_device_password runs an Argon2id verification against this hash for
// unknown users so wall-clock time does not leak whether a user id exists.
var dummyHash = mustDummyHash()

func mustDummyHash() string {
	// Fixed salt: this hash never needs to validate a real password, only to
	// cost the same CPU as a real verification.
	salt := []byte("calendar-dummy-salt-0123")[:argonSaltLen]
	sum := argon2.IDKey([]byte("dummy-password-for-timing-equalization"), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return encodeArgon2(salt, sum)
}
