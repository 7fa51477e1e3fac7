package dbengine

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/goatkit/chimesgate/internal/config"
)

// desensitize renders value for display per col's declared mode, exactly
// matching original_source/chimes-store-dbs/src/dbs/mod.rs's
// desensitize_process mask thresholds for "replace": under 6 runes ->
// "*****"; over 10 runes -> first 4 + "****" + last 5; otherwise first 2 +
// "****" + last 3.
func desensitize(ns *config.Namespace, col config.Column, value string) (string, error) {
	switch col.Desensitize {
	case "", config.DesensitizeNull:
		if col.Desensitize == config.DesensitizeNull {
			return "", nil
		}
		return value, nil
	case config.DesensitizeReplace:
		return replaceMask(value), nil
	case config.DesensitizeBase64:
		return base64.StdEncoding.EncodeToString([]byte(value)), nil
	case config.DesensitizeAES:
		return aesEncrypt(ns, value)
	case config.DesensitizeRSA:
		return rsaEncrypt(ns, value)
	default:
		return "", fmt.Errorf("dbengine: unknown desensitize mode %q on field %q", col.Desensitize, col.FieldName)
	}
}

func replaceMask(value string) string {
	runes := []rune(value)
	switch {
	case len(runes) < 6:
		return "*****"
	case len(runes) > 10:
		return string(runes[:4]) + "****" + string(runes[len(runes)-5:])
	default:
		return string(runes[:2]) + "****" + string(runes[len(runes)-3:])
	}
}

// aesKey derives a 32-byte AES-256 key from the namespace's configured
// passphrase and salt via PBKDF2 (golang.org/x/crypto/pbkdf2), so
// aes_key/aes_salt in the namespace model don't need to already be raw key
// bytes.
func aesKey(ns *config.Namespace) []byte {
	salt := []byte(ns.AESSalt)
	if len(salt) == 0 {
		salt = []byte(ns.Name)
	}
	return pbkdf2.Key([]byte(ns.AESKey), salt, 4096, 32, sha256.New)
}

func aesEncrypt(ns *config.Namespace, plaintext string) (string, error) {
	block, err := aes.NewCipher(aesKey(ns))
	if err != nil {
		return "", fmt.Errorf("dbengine: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("dbengine: aes gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("dbengine: aes nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func aesDecrypt(ns *config.Namespace, encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("dbengine: aes decode: %w", err)
	}
	block, err := aes.NewCipher(aesKey(ns))
	if err != nil {
		return "", fmt.Errorf("dbengine: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("dbengine: aes gcm: %w", err)
	}
	if len(raw) < gcm.NonceSize() {
		return "", fmt.Errorf("dbengine: aes ciphertext too short")
	}
	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("dbengine: aes decrypt: %w", err)
	}
	return string(plain), nil
}

func rsaEncrypt(ns *config.Namespace, plaintext string) (string, error) {
	pub, err := parseRSAPublicKey(ns.RSAPublicKey)
	if err != nil {
		return "", err
	}
	ciphertext, err := rsa.EncryptPKCS1v15(rand.Reader, pub, []byte(plaintext))
	if err != nil {
		return "", fmt.Errorf("dbengine: rsa encrypt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func parseRSAPublicKey(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("dbengine: namespace has no valid rsa_public_key")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("dbengine: parsing rsa public key: %w", err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("dbengine: rsa_public_key is not an RSA key")
	}
	return pub, nil
}
