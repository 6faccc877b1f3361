package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/hkdf"
)

// ErrDecryption is returned by Codec.Decrypt for any ciphertext that cannot
// be authenticated: tampering, truncation, bad encoding, unknown key version
// or key mismatch. Callers treat it as "no session" (fail closed).
var ErrDecryption = errors.New("session: decryption failed")

// Ciphertext format: "v{version}:" prefix followed by
// base64url(nonce || AES-256-GCM sealed JSON).
const (
	keyVersionPrefix    = "v"
	keyVersionSeparator = ":"
)

// hkdfInfo binds derived keys to their purpose so the same master secret
// can never yield the session key for an unrelated subsystem.
const hkdfInfo = "healermy session cookie"

// DeriveKey derives the 32-byte AES-256 key for the session codec from an
// operator-supplied master secret using HKDF-SHA256.
func DeriveKey(secret string) ([]byte, error) {
	if secret == "" {
		return nil, fmt.Errorf("session: derive key: secret is empty")
	}
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("session: derive key: %w", err)
	}
	return key, nil
}

// sealer wraps a single AES-256-GCM key.
type sealer struct {
	aead cipher.AEAD
}

func newSealer(key []byte) (*sealer, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("session: key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("session: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("session: create GCM: %w", err)
	}
	return &sealer{aead: aead}, nil
}

func (s *sealer) seal(data []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("session: generate nonce: %w", err)
	}
	// Seal appends the ciphertext to nonce, so the result is nonce + ciphertext.
	return s.aead.Seal(nonce, nonce, data, nil), nil
}

func (s *sealer) open(data []byte) ([]byte, error) {
	nonceSize := s.aead.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	return s.aead.Open(nil, nonce, ciphertext, nil)
}

// Codec encrypts sessions to cookie-safe strings and back, with versioned
// key rotation: the current key seals, current and previous keys can open.
// Values without a version prefix are tried against the current key so
// cookies minted before rotation was introduced still decrypt.
type Codec struct {
	mu         sync.RWMutex
	current    *sealer
	currentVer int
	previous   map[int]*sealer
}

// NewCodec creates a codec sealing with the given 32-byte key under the
// given version number.
func NewCodec(key []byte, version int) (*Codec, error) {
	s, err := newSealer(key)
	if err != nil {
		return nil, fmt.Errorf("session codec: current key: %w", err)
	}
	if version < 1 {
		return nil, fmt.Errorf("session codec: version must be >= 1, got %d", version)
	}
	return &Codec{
		current:    s,
		currentVer: version,
		previous:   make(map[int]*sealer),
	}, nil
}

// AddPreviousKey registers a retired key so cookies sealed before the last
// rotation remain readable until they expire.
func (c *Codec) AddPreviousKey(key []byte, version int) error {
	s, err := newSealer(key)
	if err != nil {
		return fmt.Errorf("session codec: previous key v%d: %w", version, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.previous[version] = s
	return nil
}

// CurrentVersion returns the sealing key version.
func (c *Codec) CurrentVersion() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentVer
}

// Encrypt serializes the session and seals it with the current key. The
// result is safe to use as a cookie value.
func (c *Codec) Encrypt(s *Session) (string, error) {
	plaintext, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("session codec: marshal: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	sealed, err := c.current.seal(plaintext)
	if err != nil {
		return "", fmt.Errorf("session codec: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(sealed)
	return fmt.Sprintf("%s%d%s%s", keyVersionPrefix, c.currentVer, keyVersionSeparator, encoded), nil
}

// Decrypt opens a cookie value produced by Encrypt. Every failure mode is
// reported as ErrDecryption; wrong data is never silently returned.
func (c *Codec) Decrypt(value string) (*Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	version, data, err := parseVersionedValue(value)
	if err != nil {
		// No version prefix: legacy cookie, try the current key.
		version, data = c.currentVer, value
	}

	s := c.current
	if version != c.currentVer {
		var ok bool
		s, ok = c.previous[version]
		if !ok {
			return nil, fmt.Errorf("session codec: no key for version %d: %w", version, ErrDecryption)
		}
	}

	raw, err := base64.RawURLEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("session codec: decode: %w", ErrDecryption)
	}

	plaintext, err := s.open(raw)
	if err != nil {
		return nil, fmt.Errorf("session codec: open: %w", ErrDecryption)
	}

	var sess Session
	if err := json.Unmarshal(plaintext, &sess); err != nil {
		return nil, fmt.Errorf("session codec: unmarshal: %w", ErrDecryption)
	}
	return &sess, nil
}

func parseVersionedValue(v string) (int, string, error) {
	if !strings.HasPrefix(v, keyVersionPrefix) {
		return 0, "", fmt.Errorf("no version prefix")
	}
	idx := strings.Index(v, keyVersionSeparator)
	if idx < 0 {
		return 0, "", fmt.Errorf("no version separator")
	}
	var version int
	if _, err := fmt.Sscanf(v[len(keyVersionPrefix):idx], "%d", &version); err != nil {
		return 0, "", fmt.Errorf("invalid version: %w", err)
	}
	return version, v[idx+1:], nil
}
