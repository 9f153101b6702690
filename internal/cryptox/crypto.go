// Package cryptox implements the symmetric cipher used for credential blobs
// and withdrawal destinations. Keys are derived deterministically from the
// configured secret, so ciphertexts survive process restarts.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/json"

	"github.com/dmitrijs2005/subpool/internal/common"
	"golang.org/x/crypto/argon2"
)

// DeriveKey derives a 32-byte AES-256 key from the configured secret and
// salt using argon2id. The derivation is deterministic: the same secret and
// salt always produce the same key.
func DeriveKey(secret, salt []byte) []byte {
	return argon2.IDKey(secret, salt, 1, 64*1024, 4, 32)
}

// Encrypt serializes v to JSON and encrypts it with AES-GCM.
//
// The key must be a valid AES key length (16, 24, or 32 bytes). A new random
// 12-byte nonce is generated for each encryption; ciphertext and nonce are
// returned separately and must both be stored.
func Encrypt(v any, key []byte) (ciphertext, nonce []byte, err error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, nil, err
	}

	nonce = common.GenerateRandByteArray(12)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}

	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}

	ciphertext = aesgcm.Seal(nil, nonce, plaintext, nil)

	return ciphertext, nonce, nil
}

// Decrypt decrypts ciphertext produced by Encrypt and unmarshals the
// resulting JSON into v. The key and nonce must be the ones used at
// encryption time; any tampering fails GCM authentication.
func Decrypt(ciphertext, nonce, key []byte, v any) error {
	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return err
	}

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return err
	}

	return json.Unmarshal(plaintext, v)
}
