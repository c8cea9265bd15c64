package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/scrypt"
)

const (
	saltLength    = 64
	ivLength      = 16
	keyLength     = 32
	authTagLength = 16
)

// ErrNotDecryptable is returned when an envelope cannot be opened, either
// because the password is wrong or the envelope is corrupted. Callers must
// not be able to tell the two apart.
var ErrNotDecryptable = errors.New("envelope not decryptable")

// Vault hashes participant passwords and seals custodial signing secrets
// under a password-derived key.
type Vault struct {
	bcryptCost int
}

// New returns a Vault with the given bcrypt work factor. Costs outside the
// bcrypt range fall back to the library default.
func New(bcryptCost int) *Vault {
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Vault{bcryptCost: bcryptCost}
}

// HashPassword produces a salted one-way hash of the plaintext password.
func (v *Vault) HashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), v.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether the plaintext matches the stored hash.
func (v *Vault) VerifyPassword(plaintext, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// EncryptSecret seals the secret under a key derived from the password.
// The envelope is hex(salt || iv || tag || ciphertext), AES-256-GCM with an
// scrypt-derived key.
func (v *Vault) EncryptSecret(secret, password string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	iv := make([]byte, ivLength)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	aead, err := newAEAD(password, salt)
	if err != nil {
		return "", err
	}

	sealed := aead.Seal(nil, iv, []byte(secret), nil)
	// Seal appends the tag; the envelope stores it before the ciphertext.
	ciphertext := sealed[:len(sealed)-authTagLength]
	tag := sealed[len(sealed)-authTagLength:]

	envelope := make([]byte, 0, saltLength+ivLength+authTagLength+len(ciphertext))
	envelope = append(envelope, salt...)
	envelope = append(envelope, iv...)
	envelope = append(envelope, tag...)
	envelope = append(envelope, ciphertext...)
	return hex.EncodeToString(envelope), nil
}

// DecryptSecret opens an envelope produced by EncryptSecret. Wrong password
// and corrupted envelope both yield ErrNotDecryptable.
func (v *Vault) DecryptSecret(envelope, password string) (string, error) {
	data, err := hex.DecodeString(envelope)
	if err != nil || len(data) < saltLength+ivLength+authTagLength {
		return "", ErrNotDecryptable
	}

	salt := data[:saltLength]
	iv := data[saltLength : saltLength+ivLength]
	tag := data[saltLength+ivLength : saltLength+ivLength+authTagLength]
	ciphertext := data[saltLength+ivLength+authTagLength:]

	aead, err := newAEAD(password, salt)
	if err != nil {
		return "", ErrNotDecryptable
	}

	sealed := make([]byte, 0, len(ciphertext)+authTagLength)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	secret, err := aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", ErrNotDecryptable
	}
	return string(secret), nil
}

// Zero overwrites decrypted key material after use.
func Zero(b []byte) {
	if len(b) == 0 {
		return
	}
	subtle.ConstantTimeCopy(1, b, make([]byte, len(b)))
}

func newAEAD(password string, salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key([]byte(password), salt, 1<<15, 8, 1, keyLength)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	defer Zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, ivLength)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return aead, nil
}
