// This package holds the crypto primitives shared by the rest of hearsay: value
// sealing for at-rest secrets, key derivation for the local database and the
// safety-number fingerprint.
package crypto

import (
	crypto_rand "crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// SealWithKey encrypts msg with a random nonce prepended to the result.
func SealWithKey(key, msg []byte) ([]byte, error) {
	if len(key) != 32 {
		panic("key is wrong length")
	}
	cipher, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := crypto_rand.Read(nonce); err != nil {
		return nil, err
	}
	return cipher.Seal(nonce, nonce, msg, nil), nil
}

// OpenWithKey decrypts a value produced by SealWithKey.
func OpenWithKey(key, enc []byte) ([]byte, error) {
	if len(key) != 32 {
		panic("key is wrong length")
	}
	if len(enc) < chacha20poly1305.NonceSize {
		return nil, fmt.Errorf("crypto: sealed value too short, got %d bytes", len(enc))
	}
	cipher, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return cipher.Open(nil, enc[:chacha20poly1305.NonceSize], enc[chacha20poly1305.NonceSize:], nil)
}

// DeriveKey makes a 32-byte key from a password using argon2id and a salt stored
// under root. The salt is created on first use.
func DeriveKey(password, root, saltName string) ([]byte, error) {
	var salt [16]byte
	saltPath := filepath.Join(root, saltName)
	if _, err := os.Stat(saltPath); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		if _, err := crypto_rand.Read(salt[:]); err != nil {
			return nil, err
		}
		if err := os.WriteFile(saltPath, salt[:], 0o400); err != nil {
			return nil, err
		}
	} else {
		f, err := os.Open(saltPath) // #nosec G304
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := f.Close(); err != nil {
				fmt.Printf("error while closing %#v", err)
			}
		}()
		if _, err := io.ReadFull(f, salt[:]); err != nil {
			return nil, err
		}
	}
	return argon2.IDKey([]byte(password), salt[:], 1, 64*1024, 4, 32), nil
}
