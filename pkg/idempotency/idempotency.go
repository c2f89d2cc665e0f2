package idempotency

import (
	"errors"
	"net/http"
	"strings"
)

const Header = "Idempotency-Key"

// MaxKeyLength bounds keys accepted from clients.
const MaxKeyLength = 128

var ErrKeyTooLong = errors.New("idempotency key exceeds 128 characters")

func Key(r *http.Request) (string, error) {
	k := strings.TrimSpace(r.Header.Get(Header))
	if len(k) > MaxKeyLength {
		return "", ErrKeyTooLong
	}
	return k, nil
}
