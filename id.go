package sessionstore

import (
	"crypto/rand"
	"encoding/hex"
	"io"
)

const (
	idEntropyBytes = 16
	idLength       = idEntropyBytes * 2
)

// entropy is the source for session ids. Tests swap it to simulate failures.
var entropy io.Reader = rand.Reader

func generateID() (string, error) {
	b := idScratch.get()
	defer idScratch.put(b)

	raw := b[:idEntropyBytes]
	if _, err := io.ReadFull(entropy, raw); err != nil {
		return "", err
	}
	dst := b[idEntropyBytes:]
	hex.Encode(dst, raw)
	return string(dst), nil
}

// validIDChars is a lookup table for valid hex characters (0-9, a-f).
var validIDChars = [256]bool{}

func init() {
	for i := 0; i < len(validIDChars); i++ {
		c := byte(i)
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') {
			validIDChars[i] = true
		}
	}
}

func isValidID(id string) bool {
	if len(id) != idLength {
		return false
	}
	for i := 0; i < idLength; i++ {
		if !validIDChars[id[i]] {
			return false
		}
	}
	return true
}

// shortID trims an id for log output.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
