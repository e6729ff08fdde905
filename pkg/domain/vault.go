package domain

import "context"

// SecretVault is the only place plaintext secrets exist transiently. All
// other components pass around the opaque keys.
type SecretVault interface {
	Put(ctx context.Context, key string, plaintext []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// SecretStore holds ciphertext at rest for the vault.
type SecretStore interface {
	PutSecret(ctx context.Context, key string, ciphertext []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
}
