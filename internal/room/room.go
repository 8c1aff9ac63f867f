// Package room maps clients to the room for their network and signs the
// identities they join with.
package room

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
)

const (
	// Prefix starts every network-derived room name.
	Prefix = "presence-room-"

	// DevNetwork is the address every client reports in dev mode, so all
	// local devices share one room.
	DevNetwork = "local-dev-network"

	fallbackIP = "127.0.0.1"
)

// Name derives the room for a network key, usually a client IP.
func Name(key string) string {
	sum := sha256.Sum256([]byte(key))
	return Prefix + hex.EncodeToString(sum[:])[:12]
}

// IsNetworkRoom reports whether name was derived by Name.
func IsNetworkRoom(name string) bool {
	return strings.HasPrefix(name, Prefix)
}

// ClientIP returns the address a request came from: the first
// X-Forwarded-For hop, then X-Real-IP, then the connection's remote address.
func ClientIP(r *http.Request, dev bool) string {
	if dev {
		return DevNetwork
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return fallbackIP
}

// Signer issues and checks "id.signature" identity tokens.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

func (s *Signer) mac(id string) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(id))
	return hex.EncodeToString(h.Sum(nil))
}

// Sign returns the token for id.
func (s *Signer) Sign(id string) string {
	return id + "." + s.mac(id)
}

// Verify returns the id a token was issued for.
func (s *Signer) Verify(token string) (string, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 || parts[0] == "" {
		return "", false
	}
	id, sig := parts[0], parts[1]
	if !hmac.Equal([]byte(sig), []byte(s.mac(id))) {
		return "", false
	}
	return id, true
}
