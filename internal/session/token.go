package session

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"time"
)

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// NewToken builds an attendance token: a timestamp segment for rough
// lookup ordering plus two independent CSPRNG segments for entropy.
func NewToken(now time.Time) (string, error) {
	first, err := randSegment(13)
	if err != nil {
		return "", err
	}
	second, err := randSegment(13)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("AT_%s_%s_%s", strconv.FormatInt(now.Unix(), 36), first, second), nil
}

func randSegment(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("token entropy: %w", err)
	}
	for i, b := range buf {
		buf[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return string(buf), nil
}
