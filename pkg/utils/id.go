package utils

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"sync/atomic"
	"time"
)

var objectIDCounter uint32

// GenerateID generates a 12-byte ObjectID-like string (24 hex characters).
// The first 4 bytes are the unix timestamp so IDs sort by creation time.
func GenerateID() string {
	var b [12]byte
	binary.BigEndian.PutUint32(b[0:4], uint32(time.Now().Unix()))
	_, _ = rand.Read(b[4:9])
	c := atomic.AddUint32(&objectIDCounter, 1) % 0xFFFFFF
	b[9] = byte(c >> 16)
	b[10] = byte(c >> 8)
	b[11] = byte(c)
	return hex.EncodeToString(b[:])
}

// NewExchangeID returns an id for one user exchange, e.g. "65cfda3f_9a1b2c3d".
// It names debug chunk files and tags log lines.
func NewExchangeID() string {
	id := GenerateID()
	return id[:8] + "_" + id[16:]
}

// NewCallID returns a tool call id for backends that do not assign one (Ollama, Gemini).
func NewCallID() string {
	return "call_" + GenerateID()[8:]
}

type exchangeIDKey struct{}

// WithExchangeID attaches the exchange id to ctx.
func WithExchangeID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, exchangeIDKey{}, id)
}

// ExchangeIDFromContext returns the exchange id carried by ctx, or "".
func ExchangeIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(exchangeIDKey{}).(string)
	return id
}
