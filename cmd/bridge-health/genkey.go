package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const keyBytes = 32

// generateKeys returns count URL-safe random keys.
func generateKeys(count int) ([]string, error) {
	if count <= 0 {
		return nil, fmt.Errorf("count must be positive, got %d", count)
	}
	keys := make([]string, 0, count)
	buf := make([]byte, keyBytes)
	for i := 0; i < count; i++ {
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("read random bytes: %w", err)
		}
		keys = append(keys, base64.RawURLEncoding.EncodeToString(buf))
	}
	return keys, nil
}
