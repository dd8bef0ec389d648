package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"portal-service/internal/config"
	"portal-service/internal/hashing"
	"portal-service/internal/util"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
)

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrMissingKey       = errors.New("no encryption key configured")
)

const envelopeVersion = "v1"

// EncryptedData is the stored envelope: the value sealed under a per-value
// data key, and that data key wrapped by KMS or by the operator master key.
type EncryptedData struct {
	EncryptedValue string    `json:"encrypted_value"`
	EncryptedDEK   string    `json:"encrypted_dek"`
	KeyID          string    `json:"key_id"`
	Purpose        string    `json:"purpose"`
	Version        string    `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
}

// KMSAPI is the subset of the AWS KMS client the manager needs.
type KMSAPI interface {
	GenerateDataKey(ctx context.Context, params *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

type EncryptionManager struct {
	kmsClient  KMSAPI
	kmsKeyID   string
	useKMS     bool
	masterKey  []byte
	localKeyID string
	keyCache   sync.Map // encrypted DEK -> plaintext DEK
}

type DataKey struct {
	Plaintext  []byte
	Ciphertext []byte
	KeyID      string
}

// NewEncryptionManager refuses to start without key material: either KMS with
// a key id, or an operator-supplied ENCRYPTION_KEY.
func NewEncryptionManager(cfg *config.Config, kmsClient KMSAPI, hasher *hashing.Hasher) (*EncryptionManager, error) {
	em := &EncryptionManager{}

	if cfg.KMS.Enabled {
		if kmsClient == nil || cfg.KMS.KeyID == "" {
			return nil, fmt.Errorf("%w: kms enabled without client or key id", ErrMissingKey)
		}
		em.kmsClient = kmsClient
		em.kmsKeyID = cfg.KMS.KeyID
		em.useKMS = true
		return em, nil
	}

	if cfg.Encryption.Key == "" {
		return nil, ErrMissingKey
	}
	em.masterKey = hasher.DeriveKey(cfg.Encryption.Key, cfg.Encryption.Salt)
	sum := sha256.Sum256(em.masterKey)
	em.localKeyID = "local-" + hex.EncodeToString(sum[:6])
	return em, nil
}

// GenerateDataKey returns a fresh AES-256 key and its wrapped form.
func (em *EncryptionManager) GenerateDataKey(ctx context.Context, keyPurpose string) (*DataKey, error) {
	if !em.useKMS {
		return em.generateLocalKey()
	}

	result, err := em.kmsClient.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:             aws.String(em.kmsKeyID),
		KeySpec:           types.DataKeySpecAes256,
		EncryptionContext: map[string]string{"purpose": keyPurpose},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}

	return &DataKey{
		Plaintext:  result.Plaintext,
		Ciphertext: result.CiphertextBlob,
		KeyID:      em.kmsKeyID,
	}, nil
}

func (em *EncryptionManager) generateLocalKey() (*DataKey, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	wrapped, err := seal(em.masterKey, key)
	if err != nil {
		return nil, err
	}

	return &DataKey{
		Plaintext:  key,
		Ciphertext: wrapped,
		KeyID:      em.localKeyID,
	}, nil
}

// EncryptField encrypts a value using envelope encryption.
func (em *EncryptionManager) EncryptField(ctx context.Context, plaintext, keyPurpose string) (*EncryptedData, error) {
	dataKey, err := em.GenerateDataKey(ctx, keyPurpose)
	if err != nil {
		return nil, err
	}

	ciphertext, err := seal(dataKey.Plaintext, []byte(plaintext))
	if err != nil {
		return nil, err
	}

	util.Debug("Field encrypted",
		util.String("key_purpose", keyPurpose),
		util.String("key_id", dataKey.KeyID),
	)

	return &EncryptedData{
		EncryptedValue: base64.StdEncoding.EncodeToString(ciphertext),
		EncryptedDEK:   base64.StdEncoding.EncodeToString(dataKey.Ciphertext),
		KeyID:          dataKey.KeyID,
		Purpose:        keyPurpose,
		Version:        envelopeVersion,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// DecryptField reverses EncryptField.
func (em *EncryptionManager) DecryptField(ctx context.Context, encryptedData *EncryptedData) (string, error) {
	if encryptedData == nil || encryptedData.Version != envelopeVersion {
		return "", fmt.Errorf("%w: unsupported envelope", ErrDecryptionFailed)
	}

	cacheKey := encryptedData.EncryptedDEK
	if cached, ok := em.keyCache.Load(cacheKey); ok {
		return em.decryptWithKey(encryptedData.EncryptedValue, cached.([]byte))
	}

	wrapped, err := base64.StdEncoding.DecodeString(encryptedData.EncryptedDEK)
	if err != nil {
		return "", fmt.Errorf("%w: invalid DEK format", ErrDecryptionFailed)
	}

	var plaintextDEK []byte
	if em.useKMS {
		result, err := em.kmsClient.Decrypt(ctx, &kms.DecryptInput{
			CiphertextBlob:    wrapped,
			EncryptionContext: map[string]string{"purpose": encryptedData.Purpose},
		})
		if err != nil {
			return "", fmt.Errorf("%w: failed to decrypt DEK: %v", ErrDecryptionFailed, err)
		}
		plaintextDEK = result.Plaintext
	} else {
		if encryptedData.KeyID != em.localKeyID {
			return "", fmt.Errorf("%w: envelope sealed under key %s", ErrDecryptionFailed, encryptedData.KeyID)
		}
		plaintextDEK, err = open(em.masterKey, wrapped)
		if err != nil {
			return "", err
		}
	}

	em.keyCache.Store(cacheKey, plaintextDEK)

	return em.decryptWithKey(encryptedData.EncryptedValue, plaintextDEK)
}

// EncryptJSON marshals v, encrypts it and returns the envelope as JSON text
// suitable for a single text column.
func (em *EncryptionManager) EncryptJSON(ctx context.Context, v interface{}, keyPurpose string) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	envelope, err := em.EncryptField(ctx, string(raw), keyPurpose)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return string(out), nil
}

// DecryptJSON reverses EncryptJSON into v.
func (em *EncryptionManager) DecryptJSON(ctx context.Context, envelope string, v interface{}) error {
	var data EncryptedData
	if err := json.Unmarshal([]byte(envelope), &data); err != nil {
		return fmt.Errorf("%w: invalid envelope: %v", ErrDecryptionFailed, err)
	}
	plaintext, err := em.DecryptField(ctx, &data)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(plaintext), v); err != nil {
		return fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return nil
}

func (em *EncryptionManager) decryptWithKey(encryptedValue string, key []byte) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encryptedValue)
	if err != nil {
		return "", fmt.Errorf("%w: invalid ciphertext format", ErrDecryptionFailed)
	}
	plaintext, err := open(key, ciphertext)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// seal encrypts with AES-GCM and prefixes the nonce.
func seal(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func open(key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}
	nonce, body := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

// ClearCache drops every cached data key.
func (em *EncryptionManager) ClearCache() {
	em.keyCache.Range(func(key, value interface{}) bool {
		em.keyCache.Delete(key)
		return true
	})
}

// GetCacheSize returns the number of cached DEKs
func (em *EncryptionManager) GetCacheSize() int {
	count := 0
	em.keyCache.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

// UsesKMS reports whether data keys are wrapped by KMS.
func (em *EncryptionManager) UsesKMS() bool {
	return em.useKMS
}
