// Package id provides unique identifier generation for jobs.
package id

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// DefaultPrefix is used when Generate is called with an empty prefix.
const DefaultPrefix = "job"

// Generate creates a new unique job ID.
// Format: <prefix>-<timestamp>-<random>
// Example: concat-1701432000-a1b2c3d4
func Generate(prefix string) string {
	prefix = strings.ReplaceAll(strings.TrimSpace(prefix), "_", "-")
	if prefix == "" {
		prefix = DefaultPrefix
	}

	timestamp := time.Now().Unix()
	random := make([]byte, 4)
	if _, err := rand.Read(random); err != nil {
		// Fallback to nanoseconds if crypto/rand fails
		return fmt.Sprintf("%s-%d-%d", prefix, timestamp, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, timestamp, hex.EncodeToString(random))
}
