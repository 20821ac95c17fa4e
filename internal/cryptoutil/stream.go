package cryptoutil

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/minio/sio"
)

const (
	configMagic = "AGT1"
	configVer   = uint16(1)
)

// EncryptReader wraps r with streaming DARE encryption (sio). Used for
// offsite backup uploads when an upload key is configured.
func EncryptReader(r io.Reader, key []byte) (io.Reader, error) {
	return sio.EncryptReader(r, sio.Config{Key: key})
}

// DecryptReader reverses EncryptReader.
func DecryptReader(r io.Reader, key []byte) (io.Reader, error) {
	return sio.DecryptReader(r, sio.Config{Key: key})
}

// SealConfig encrypts an agent config payload with a small versioned header.
func SealConfig(plain []byte, key []byte) ([]byte, error) {
	buf := &bytes.Buffer{}
	if _, err := buf.WriteString(configMagic); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.BigEndian, configVer); err != nil {
		return nil, err
	}
	nonce := make([]byte, 12)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	if _, err := buf.Write(nonce); err != nil {
		return nil, err
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if _, err := buf.Write(aead.Seal(nil, nonce, plain, nil)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// OpenConfig decrypts a payload produced by SealConfig.
func OpenConfig(ciphertext []byte, key []byte) ([]byte, error) {
	if len(ciphertext) < 4+2+12 {
		return nil, fmt.Errorf("config cipher too short")
	}
	if string(ciphertext[:4]) != configMagic {
		return nil, fmt.Errorf("invalid config header")
	}
	if ver := binary.BigEndian.Uint16(ciphertext[4:6]); ver != configVer {
		return nil, fmt.Errorf("unsupported config version %d", ver)
	}
	nonce := ciphertext[6:18]
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, nonce, ciphertext[18:], nil)
	if err != nil {
		return nil, err
	}
	return plain, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
