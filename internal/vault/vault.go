package vault

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/auxilia-ai/auxilia/pkg/domain"

	"golang.org/x/crypto/chacha20poly1305"
)

// Vault seals secrets with XChaCha20-Poly1305 before they reach the backing
// store. The key is derived from a configured salt the same way on every
// process, so any instance can decrypt what another wrote.
type Vault struct {
	store domain.SecretStore
	key   [32]byte
}

func New(encryptionSalt string, store domain.SecretStore) (*Vault, error) {
	if encryptionSalt == "" {
		return nil, fmt.Errorf("vault encryption salt is required")
	}

	key := sha256.Sum256([]byte(encryptionSalt))

	return &Vault{
		store: store,
		key:   key,
	}, nil
}

func (v *Vault) Put(ctx context.Context, key string, plaintext []byte) error {
	aead, err := chacha20poly1305.NewX(v.key[:])
	if err != nil {
		return fmt.Errorf("failed to build cipher: %w", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nonce, nonce, plaintext, nil)

	if err := v.store.PutSecret(ctx, key, ciphertext); err != nil {
		return fmt.Errorf("failed to store secret: %w", err)
	}

	return nil
}

func (v *Vault) Get(ctx context.Context, key string) ([]byte, error) {
	ciphertext, err := v.store.GetSecret(ctx, key)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("stored secret %s is truncated", key)
	}

	aead, err := chacha20poly1305.NewX(v.key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to build cipher: %w", err)
	}

	nonce, sealed := ciphertext[:chacha20poly1305.NonceSizeX], ciphertext[chacha20poly1305.NonceSizeX:]

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt secret %s: %w", key, err)
	}

	return plaintext, nil
}

func (v *Vault) Delete(ctx context.Context, key string) error {
	return v.store.DeleteSecret(ctx, key)
}
