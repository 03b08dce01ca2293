package session

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	saltedMagic = "Salted__"
	v1Prefix    = "v1:"
	v1Info      = "invite-runner session bundle v1"
)

var errDecrypt = errors.New("session bundle could not be decrypted")

// decrypt opens either a v1 envelope or an OpenSSL "Salted__" blob.
func decrypt(raw string, key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("%w: no session key configured", errDecrypt)
	}
	if rest, ok := strings.CutPrefix(raw, v1Prefix); ok {
		return openV1(rest, key)
	}
	return openSalted(raw, key)
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: not base64", errDecrypt)
}

// openSalted decrypts the AES-256-CBC format written by `openssl enc -md md5`
// and CryptoJS passphrase encryption.
func openSalted(raw string, passphrase []byte) ([]byte, error) {
	blob, err := decodeBase64(raw)
	if err != nil {
		return nil, err
	}
	if len(blob) < 16 || string(blob[:8]) != saltedMagic {
		return nil, fmt.Errorf("%w: missing salt header", errDecrypt)
	}
	salt, ct := blob[8:16], blob[16:]
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext is not block aligned", errDecrypt)
	}
	key, iv := evpBytesToKey(passphrase, salt, 32, aes.BlockSize)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ct)
	return pkcs7Unpad(out)
}

// evpBytesToKey is OpenSSL's EVP_BytesToKey with MD5 and one iteration.
func evpBytesToKey(passphrase, salt []byte, keyLen, ivLen int) ([]byte, []byte) {
	var (
		derived []byte
		prev    []byte
	)
	for len(derived) < keyLen+ivLen {
		h := md5.New()
		h.Write(prev)
		h.Write(passphrase)
		h.Write(salt)
		prev = h.Sum(nil)
		derived = append(derived, prev...)
	}
	return derived[:keyLen], derived[keyLen : keyLen+ivLen]
}

func pkcs7Unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty plaintext", errDecrypt)
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, fmt.Errorf("%w: bad padding", errDecrypt)
	}
	if !bytes.Equal(b[len(b)-n:], bytes.Repeat([]byte{byte(n)}, n)) {
		return nil, fmt.Errorf("%w: bad padding", errDecrypt)
	}
	return b[:len(b)-n], nil
}

func v1Key(material []byte) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, material, nil, []byte(v1Info)), key); err != nil {
		return nil, err
	}
	return key, nil
}

func openV1(payload string, material []byte) ([]byte, error) {
	blob, err := decodeBase64(payload)
	if err != nil {
		return nil, err
	}
	key, err := v1Key(material)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(blob) < gcm.NonceSize()+gcm.Overhead() {
		return nil, fmt.Errorf("%w: envelope too short", errDecrypt)
	}
	nonce, ct := blob[:gcm.NonceSize()], blob[gcm.NonceSize():]
	out, err := gcm.Open(nil, nonce, ct, []byte(v1Prefix))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errDecrypt, err)
	}
	return out, nil
}

// Seal encrypts a plaintext bundle into a v1 envelope under key material.
func Seal(plaintext, material []byte) (string, error) {
	if len(material) == 0 {
		return "", errors.New("empty session key")
	}
	key, err := v1Key(material)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, plaintext, []byte(v1Prefix))
	return v1Prefix + base64.StdEncoding.EncodeToString(sealed), nil
}
