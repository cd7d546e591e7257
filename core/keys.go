package core

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
)

// CipherSuite names the AEAD that drives the obfuscator
type CipherSuite string

const (
	// CipherAESGCM is AES in Galois/Counter Mode, 16, 24 or 32 byte keys
	CipherAESGCM CipherSuite = "aes-gcm"

	// CipherXChaCha20Poly1305 is XChaCha20-Poly1305, 32 byte keys
	CipherXChaCha20Poly1305 CipherSuite = "xchacha20-poly1305"
)

// KeySource defines where the obfuscation key is read from
type KeySource string

const (
	// KeySourceEnv reads a hex or base64 key from an environment variable
	KeySourceEnv KeySource = "env"

	// KeySourceFile reads a hex, base64 or raw key from a file
	KeySourceFile KeySource = "file"

	// KeySourceGenerate creates an ephemeral random key at startup
	KeySourceGenerate KeySource = "generate"
)

// DefaultKeyEnv is the variable read by KeySourceEnv when none is configured
const DefaultKeyEnv = "PII_FPE_KEY"

// KeyConfig specifies where to find the key and which cipher it feeds
type KeyConfig struct {
	Source KeySource
	Env    string
	Path   string
	Cipher CipherSuite
}

// KeyMetadata describes a loaded key without exposing it
type KeyMetadata struct {
	// ID is a fingerprint of the key, safe to log
	ID string `json:"id"`

	Source KeySource `json:"source"`

	// SourceID is the variable name or file path the key came from
	SourceID string `json:"source_id,omitempty"`

	LoadedAt time.Time `json:"loaded_at"`
}

// LoadKey resolves the key described by cfg and validates it against the
// configured cipher. The caller owns the returned slice.
func LoadKey(cfg KeyConfig) ([]byte, KeyMetadata, error) {
	suite := cfg.Cipher
	if suite == "" {
		suite = CipherAESGCM
	}

	meta := KeyMetadata{Source: cfg.Source, LoadedAt: time.Now()}

	var (
		key []byte
		err error
	)
	switch cfg.Source {
	case KeySourceEnv, "":
		meta.Source = KeySourceEnv
		meta.SourceID = cfg.Env
		if meta.SourceID == "" {
			meta.SourceID = DefaultKeyEnv
		}
		raw := strings.TrimSpace(os.Getenv(meta.SourceID))
		if raw == "" {
			return nil, meta, configErr("key.env", "environment variable %s is not set", meta.SourceID)
		}
		key, err = DecodeKey(raw)
		if err != nil {
			return nil, meta, configErr("key.env", "failed to decode %s: %v", meta.SourceID, err)
		}
	case KeySourceFile:
		if cfg.Path == "" {
			return nil, meta, configErr("key.path", "file key source requires a path")
		}
		meta.SourceID = cfg.Path
		data, readErr := os.ReadFile(cfg.Path)
		if readErr != nil {
			return nil, meta, fmt.Errorf("failed to read key file: %w", readErr)
		}
		key, err = DecodeKey(strings.TrimSpace(string(data)))
		wipe(data)
		if err != nil {
			return nil, meta, configErr("key.path", "failed to decode %s: %v", cfg.Path, err)
		}
	case KeySourceGenerate:
		key, err = GenerateKey(suite)
		if err != nil {
			return nil, meta, err
		}
	default:
		return nil, meta, configErr("key.source", "unsupported key source %q", cfg.Source)
	}

	if err := validateKey(suite, key); err != nil {
		wipe(key)
		return nil, meta, err
	}

	meta.ID = KeyID(key)
	return key, meta, nil
}

// GenerateKey returns a random key of the largest size the suite accepts.
func GenerateKey(suite CipherSuite) ([]byte, error) {
	size := 32
	if suite == CipherXChaCha20Poly1305 {
		size = chacha20poly1305.KeySize
	}
	key := make([]byte, size)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// KeyID creates a short fingerprint for a key
func KeyID(key []byte) string {
	hash := sha256.Sum256(key)
	return base64.RawURLEncoding.EncodeToString(hash[:12])
}

// EncodeKey renders a key the way LoadKey expects to read it.
func EncodeKey(key []byte) string {
	return hex.EncodeToString(key)
}

// Key encoding prefixes understood by DecodeKey
const (
	KeyPrefixHex    = "hex:"
	KeyPrefixBase64 = "base64:"
	KeyPrefixRaw    = "raw:"
)

// DecodeKey reads a key as written by EncodeKey. Unprefixed values must be
// hex. Standard base64 needs the "base64:" prefix and literal bytes the
// "raw:" prefix; there is no guessing between encodings.
func DecodeKey(s string) ([]byte, error) {
	switch {
	case strings.HasPrefix(s, KeyPrefixBase64):
		b, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, KeyPrefixBase64))
		if err != nil {
			return nil, fmt.Errorf("invalid base64 key: %w", err)
		}
		return b, nil
	case strings.HasPrefix(s, KeyPrefixRaw):
		return []byte(strings.TrimPrefix(s, KeyPrefixRaw)), nil
	default:
		b, err := hex.DecodeString(strings.TrimPrefix(s, KeyPrefixHex))
		if err != nil {
			return nil, fmt.Errorf("key is not hex; prefix it with %q or %q: %w", KeyPrefixBase64, KeyPrefixRaw, err)
		}
		return b, nil
	}
}

// WriteKeyFile stores a hex encoded key readable only by the owner.
func WriteKeyFile(path string, key []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create key directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(EncodeKey(key)+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

func validateKey(suite CipherSuite, key []byte) error {
	if len(key) == 0 {
		return configErr("key", "format-preserving encryption requires a key")
	}
	switch suite {
	case CipherAESGCM:
		switch len(key) {
		case 16, 24, 32:
			return nil
		}
		return configErr("key", "%s needs a 16, 24 or 32 byte key, got %d bytes", suite, len(key))
	case CipherXChaCha20Poly1305:
		if len(key) != chacha20poly1305.KeySize {
			return configErr("key", "%s needs a %d byte key, got %d bytes", suite, chacha20poly1305.KeySize, len(key))
		}
		return nil
	default:
		return configErr("cipher", "unsupported cipher suite %q", suite)
	}
}

func newAEAD(suite CipherSuite, key []byte) (cipher.AEAD, error) {
	switch suite {
	case CipherAESGCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create cipher: %w", err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCM: %w", err)
		}
		return gcm, nil
	case CipherXChaCha20Poly1305:
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create XChaCha20-Poly1305: %w", err)
		}
		return aead, nil
	default:
		return nil, configErr("cipher", "unsupported cipher suite %q", suite)
	}
}

// withAEAD runs fn with a cipher built from a private copy of key. The copy
// is zeroed when fn returns; the AEAD must not escape fn.
func withAEAD(suite CipherSuite, key []byte, fn func(aead cipher.AEAD, scopedKey []byte) error) error {
	scoped := make([]byte, len(key))
	copy(scoped, key)
	defer wipe(scoped)

	aead, err := newAEAD(suite, scoped)
	if err != nil {
		return err
	}
	return fn(aead, scoped)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
