// Package crypto provides key management and symmetric sealing for RexLit
// artifacts. Plan files, PII findings, and the reasoning vault are sealed
// with Fernet tokens; the audit ledger is signed with a raw HMAC key.
// Key files live under the config directory with 0600 permissions.
package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fernet/fernet-go"

	"rexlit/internal/logging"
	"rexlit/internal/rexerr"
)

// hmacKeyLength is the number of random bytes generated for new HMAC keys.
const hmacKeyLength = 32

// writeSecureFile writes data to path and restricts permissions. The file is
// created with O_TRUNC so a partially written key never survives a retry, and
// fsynced so the key exists durably before anything is sealed with it.
func writeSecureFile(path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return rexerr.Wrap(rexerr.IOWriteFailed, path, err, "create key directory")
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return rexerr.Wrap(rexerr.IOWriteFailed, path, err, "open key file")
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return rexerr.Wrap(rexerr.IOWriteFailed, path, err, "write key file")
	}
	if err := f.Sync(); err != nil {
		return rexerr.Wrap(rexerr.IOWriteFailed, path, err, "fsync key file")
	}

	// Best effort; some filesystems refuse chmod.
	_ = os.Chmod(path, mode)
	return nil
}

// LoadOrCreateFernetKey loads an existing Fernet key from path or generates
// and persists a new one. The returned bytes are the base64-encoded key.
func LoadOrCreateFernetKey(path string) ([]byte, error) {
	if data, err := os.ReadFile(path); err == nil {
		return data, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read fernet key %s: %w", path, err)
	}

	var key fernet.Key
	if err := key.Generate(); err != nil {
		return nil, fmt.Errorf("generate fernet key: %w", err)
	}
	encoded := []byte(key.Encode())
	if err := writeSecureFile(path, encoded, 0o600); err != nil {
		return nil, err
	}
	logging.Get(logging.CategoryCrypto).Info("Generated new fernet key at %s", path)
	return encoded, nil
}

// LoadOrCreateHMACKey loads an existing HMAC key or generates fresh random
// bytes with the same secure-file lifecycle as Fernet keys.
func LoadOrCreateHMACKey(path string) ([]byte, error) {
	if data, err := os.ReadFile(path); err == nil {
		return data, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read hmac key %s: %w", path, err)
	}

	key := make([]byte, hmacKeyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate hmac key: %w", err)
	}
	if err := writeSecureFile(path, key, 0o600); err != nil {
		return nil, err
	}
	logging.Get(logging.CategoryCrypto).Info("Generated new hmac key at %s", path)
	return key, nil
}

// EncryptBlob seals data into a Fernet token using the encoded key.
func EncryptBlob(data, key []byte) ([]byte, error) {
	k, err := fernet.DecodeKey(string(key))
	if err != nil {
		return nil, rexerr.Wrap(rexerr.DecryptFailed, "", err, "invalid fernet key")
	}
	token, err := fernet.EncryptAndSign(data, k)
	if err != nil {
		return nil, rexerr.Wrap(rexerr.IOWriteFailed, "", err, "fernet encrypt")
	}
	return token, nil
}

// DecryptBlob opens a token produced by EncryptBlob. Tokens never expire;
// plan files are validated by fingerprint, not freshness.
func DecryptBlob(token, key []byte) ([]byte, error) {
	k, err := fernet.DecodeKey(string(key))
	if err != nil {
		return nil, rexerr.Wrap(rexerr.DecryptFailed, "", err, "invalid fernet key")
	}
	plain := fernet.VerifyAndDecrypt(token, 0, []*fernet.Key{k})
	if plain == nil {
		return nil, rexerr.New(rexerr.DecryptFailed, "", "token verification failed")
	}
	return plain, nil
}

// HMACSHA256 computes the hex-encoded HMAC-SHA256 of message under key.
func HMACSHA256(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// HMACEqual compares two hex MACs in constant time.
func HMACEqual(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
