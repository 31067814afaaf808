package httpserver

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"

	obsctx "github.com/fairyhunter13/resume-analyzer/internal/observability"
)

// APIKeyHeader carries the caller's API key.
const APIKeyHeader = "X-API-Key"

// Argon2Params defines parameters for Argon2id key hashing.
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLen     uint32
	KeyLen      uint32
}

// DefaultArgon2Params are used by HashAPIKey callers that have no reason to differ.
var DefaultArgon2Params = Argon2Params{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 2,
	SaltLen:     16,
	KeyLen:      32,
}

// HashAPIKey returns the encoded Argon2id hash of key:
// argon2id$iterations$memory$parallelism$salt$hash (raw std base64).
func HashAPIKey(key string, params Argon2Params) (string, error) {
	salt := make([]byte, params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(key), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLen)
	return fmt.Sprintf("argon2id$%d$%d$%d$%s$%s",
		params.Iterations,
		params.Memory,
		params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyAPIKey checks key against an encoded Argon2id hash in constant time.
func VerifyAPIKey(key, encodedHash string) bool {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "argon2id" {
		return false
	}
	iters, err1 := parseUint32(parts[1])
	mem, err2 := parseUint32(parts[2])
	par, err3 := parseUint32(parts[3])
	if err1 != nil || err2 != nil || err3 != nil || iters == 0 || par == 0 {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(expected) == 0 {
		return false
	}
	if par > math.MaxUint8 {
		par = math.MaxUint8
	}
	actual := argon2.IDKey([]byte(key), salt, iters, mem, uint8(par), uint32(len(expected))) //nolint:gosec // bounded above
	return subtle.ConstantTimeCompare(actual, expected) == 1
}

func parseUint32(s string) (uint32, error) {
	x, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	return uint32(x), nil
}

type keyEntry struct {
	userID int64
	hash   string
}

// KeyRing maps API keys to user ids. Keys are stored as Argon2id hashes; a
// key that verified once is remembered by its SHA-256 digest.
type KeyRing struct {
	entries []keyEntry

	mu       sync.RWMutex
	verified map[[sha256.Size]byte]int64
}

// ParseKeyRing reads entries of the form "<user_id>:<argon2id hash>".
func ParseKeyRing(entries []string) (*KeyRing, error) {
	k := &KeyRing{verified: map[[sha256.Size]byte]int64{}}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		idStr, hash, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, errors.New("api key entry must be <user_id>:<argon2id hash>")
		}
		uid, err := strconv.ParseInt(strings.TrimSpace(idStr), 10, 64)
		if err != nil || uid <= 0 {
			return nil, fmt.Errorf("api key entry has invalid user id %q", idStr)
		}
		if !strings.HasPrefix(hash, "argon2id$") {
			return nil, fmt.Errorf("api key entry for user %d is not an argon2id hash", uid)
		}
		k.entries = append(k.entries, keyEntry{userID: uid, hash: strings.TrimSpace(hash)})
	}
	return k, nil
}

// Len returns the number of configured keys.
func (k *KeyRing) Len() int { return len(k.entries) }

// Lookup returns the user owning key.
func (k *KeyRing) Lookup(key string) (int64, bool) {
	if key == "" {
		return 0, false
	}
	digest := sha256.Sum256([]byte(key))
	k.mu.RLock()
	uid, ok := k.verified[digest]
	k.mu.RUnlock()
	if ok {
		return uid, true
	}
	for _, e := range k.entries {
		if VerifyAPIKey(key, e.hash) {
			k.mu.Lock()
			k.verified[digest] = e.userID
			k.mu.Unlock()
			return e.userID, true
		}
	}
	return 0, false
}

type userIDKey struct{}

// WithUserID binds the authenticated user to ctx.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFrom returns the authenticated user bound to ctx.
func UserIDFrom(ctx context.Context) (int64, bool) {
	uid, ok := ctx.Value(userIDKey{}).(int64)
	return uid, ok
}

// APIKeyAuth rejects requests without a known X-API-Key and binds the
// owning user to the request context.
func APIKeyAuth(keys *KeyRing) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			uid, ok := keys.Lookup(r.Header.Get(APIKeyHeader))
			if !ok {
				writeJSON(w, http.StatusUnauthorized, errorEnvelope{Error: apiError{Code: "UNAUTHENTICATED", Message: "missing or invalid api key"}})
				return
			}
			ctx := WithUserID(r.Context(), uid)
			lg := LoggerFrom(r).With("user_id", uid)
			next.ServeHTTP(w, r.WithContext(obsctx.ContextWithLogger(ctx, lg)))
		})
	}
}
