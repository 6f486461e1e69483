package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/dwsm/pkg/domain"
	"github.com/aretw0/dwsm/pkg/ports"
)

// EnvelopeAttribute is the only attribute an encrypted snapshot carries in the store.
const EnvelopeAttribute = "__encrypted__"

// ErrMissingEnvelope is returned when a stored snapshot has attributes but no sealed envelope.
var ErrMissingEnvelope = errors.New("session is missing encrypted attribute envelope")

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys are tried, in order, when the active key cannot open a snapshot.
	FallbackKeys [][]byte
}

type encryptionMiddleware struct {
	next   ports.RemoteStore
	config EncryptionConfig
}

// NewEncryptionMiddleware seals session attributes with AES-GCM before they reach the store.
// Identity and timing fields stay in clear so freshness checks and expiry keep working.
func NewEncryptionMiddleware(config EncryptionConfig) (Middleware, error) {
	if len(config.ActiveKey) != 32 {
		return nil, errors.New("active key must be 32 bytes (AES-256)")
	}
	return func(next ports.RemoteStore) ports.RemoteStore {
		return &encryptionMiddleware{
			next:   next,
			config: config,
		}
	}, nil
}

func (m *encryptionMiddleware) Start(ctx context.Context) error { return m.next.Start(ctx) }

func (m *encryptionMiddleware) Stop(ctx context.Context) error { return m.next.Stop(ctx) }

func (m *encryptionMiddleware) IsStored(ctx context.Context, sessionID string) (bool, error) {
	return m.next.IsStored(ctx, sessionID)
}

func (m *encryptionMiddleware) SaveSession(ctx context.Context, meta domain.MetaData) error {
	plainText, err := json.Marshal(meta.Attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal attributes: %w", err)
	}

	ciphertext, err := encrypt(plainText, m.config.ActiveKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt attributes: %w", err)
	}

	sealed := meta
	sealed.Attributes = map[string]string{
		EnvelopeAttribute: base64.StdEncoding.EncodeToString(ciphertext),
	}
	return m.next.SaveSession(ctx, sealed)
}

func (m *encryptionMiddleware) GetSessionMetaData(ctx context.Context, sessionID string) (*domain.MetaData, error) {
	sealed, err := m.next.GetSessionMetaData(ctx, sessionID)
	if err != nil || sealed == nil {
		return sealed, err
	}

	encoded, ok := sealed.Attributes[EnvelopeAttribute]
	if !ok {
		if len(sealed.Attributes) == 0 {
			return sealed, nil
		}
		return nil, ErrMissingEnvelope
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext base64: %w", err)
	}
	plainText, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt attributes: %w", err)
	}

	var attrs map[string]string
	if err := json.Unmarshal(plainText, &attrs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal decrypted attributes: %w", err)
	}

	meta := *sealed
	meta.Attributes = attrs
	return &meta, nil
}

func (m *encryptionMiddleware) GetSessionMetaDataField(ctx context.Context, sessionID, field string) (string, bool, error) {
	if field != domain.FieldAttributes {
		return m.next.GetSessionMetaDataField(ctx, sessionID, field)
	}
	meta, err := m.GetSessionMetaData(ctx, sessionID)
	if err != nil || meta == nil {
		return "", false, err
	}
	v, ok := meta.Field(field)
	return v, ok, nil
}

func (m *encryptionMiddleware) RemoveSession(ctx context.Context, sessionID string) error {
	return m.next.RemoveSession(ctx, sessionID)
}

func (m *encryptionMiddleware) ListSessions(ctx context.Context) ([]string, error) {
	return listSessions(ctx, m.next)
}

// Helpers

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
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

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	return gcm.Open(nil, nonce, ciphertext[gcm.NonceSize():], nil)
}
