// Package e2ee wraps the NaCl primitives used for end-to-end sealing of
// chat payloads. The relay never sees these keys: both sides seal and
// open locally and the server carries opaque ciphertext.
//
// There is deliberately no protocol here — no ratcheting, no identity
// binding. Generate a key, seal, open.
package e2ee

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	KeySize   = 32
	NonceSize = 24
)

var ErrDecrypt = errors.New("e2ee: decryption failed")

// GenerateKey returns a fresh symmetric room key.
func GenerateKey() (*[KeySize]byte, error) {
	var key [KeySize]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return nil, fmt.Errorf("read random key: %w", err)
	}

	return &key, nil
}

// Seal encrypts plaintext under the shared key. The random nonce is
// prepended to the ciphertext.
func Seal(plaintext []byte, key *[KeySize]byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("read random nonce: %w", err)
	}

	return secretbox.Seal(nonce[:], plaintext, &nonce, key), nil
}

// Open reverses Seal. Returns ErrDecrypt on a wrong key or tampered
// ciphertext.
func Open(sealed []byte, key *[KeySize]byte) ([]byte, error) {
	if len(sealed) < NonceSize {
		return nil, ErrDecrypt
	}

	var nonce [NonceSize]byte
	copy(nonce[:], sealed[:NonceSize])

	plaintext, ok := secretbox.Open(nil, sealed[NonceSize:], &nonce, key)
	if !ok {
		return nil, ErrDecrypt
	}

	return plaintext, nil
}

// GenerateKeyPair returns a fresh asymmetric key pair for the pairwise
// key handshake that carries a room key to a call peer.
func GenerateKeyPair() (publicKey, privateKey *[KeySize]byte, err error) {
	publicKey, privateKey, err = box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate key pair: %w", err)
	}

	return publicKey, privateKey, nil
}

// SealFor encrypts plaintext for the holder of peersPublic. The random
// nonce is prepended to the ciphertext.
func SealFor(plaintext []byte, peersPublic, privateKey *[KeySize]byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("read random nonce: %w", err)
	}

	return box.Seal(nonce[:], plaintext, &nonce, peersPublic, privateKey), nil
}

// OpenFrom reverses SealFor using the sender's public key.
func OpenFrom(sealed []byte, peersPublic, privateKey *[KeySize]byte) ([]byte, error) {
	if len(sealed) < NonceSize {
		return nil, ErrDecrypt
	}

	var nonce [NonceSize]byte
	copy(nonce[:], sealed[:NonceSize])

	plaintext, ok := box.Open(nil, sealed[NonceSize:], &nonce, peersPublic, privateKey)
	if !ok {
		return nil, ErrDecrypt
	}

	return plaintext, nil
}
