package checkpoint

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey encrypts new checkpoints. Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys are tried in order when the active key cannot decrypt,
	// which allows key rotation without rewriting stored checkpoints.
	FallbackKeys [][]byte
}

// envelope replaces the plaintext state inside a stored checkpoint.
// Metadata (thread, node, sequence) stays readable for List and the
// sequence guard.
type envelope struct {
	Ciphertext []byte `json:"__encrypted__"`
}

// EncryptedStore seals checkpoint state with AES-GCM before handing it to
// the wrapped Store.
type EncryptedStore struct {
	next   Store
	config EncryptionConfig
}

// NewEncryptedStore wraps next. Returns an error unless every key is 32 bytes.
func NewEncryptedStore(next Store, config EncryptionConfig) (*EncryptedStore, error) {
	if len(config.ActiveKey) != 32 {
		return nil, errors.New("active key must be 32 bytes (AES-256)")
	}
	for i, k := range config.FallbackKeys {
		if len(k) != 32 {
			return nil, fmt.Errorf("fallback key %d must be 32 bytes (AES-256)", i)
		}
	}
	return &EncryptedStore{next: next, config: config}, nil
}

// Save implements Store.
func (e *EncryptedStore) Save(ctx context.Context, cp *Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}

	sealed, err := encrypt(cp.State, e.config.ActiveKey)
	if err != nil {
		return fmt.Errorf("encrypt checkpoint: %w", err)
	}
	wrapped, err := json.Marshal(envelope{Ciphertext: sealed})
	if err != nil {
		return fmt.Errorf("encode checkpoint envelope: %w", err)
	}

	out := cp.Clone()
	out.State = wrapped
	return e.next.Save(ctx, out)
}

// Load implements Store.
func (e *EncryptedStore) Load(ctx context.Context, threadID string) (*Checkpoint, error) {
	cp, err := e.next.Load(ctx, threadID)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(cp.State, &env); err != nil || len(env.Ciphertext) == 0 {
		return nil, errors.New("checkpoint is missing encrypted data envelope")
	}

	plain, err := decryptWithRotation(env.Ciphertext, e.config.ActiveKey, e.config.FallbackKeys)
	if err != nil {
		return nil, fmt.Errorf("decrypt checkpoint: %w", err)
	}
	cp.State = plain
	return cp, nil
}

// List implements Store.
func (e *EncryptedStore) List(ctx context.Context) ([]Info, error) {
	return e.next.List(ctx)
}

// Delete implements Store.
func (e *EncryptedStore) Delete(ctx context.Context, threadID string) error {
	return e.next.Delete(ctx, threadID)
}

// Close implements Store.
func (e *EncryptedStore) Close() error {
	return e.next.Close()
}

func encrypt(plaintext, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}
	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}
	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	return gcm.Open(nil, nonce, ciphertext[gcm.NonceSize():], nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
