package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ZentaChain/zentalk-streams/pkg/protocol"
)

var (
	ErrInvalidKey       = errors.New("invalid key")
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrAlreadyEncrypted = errors.New("message already encrypted")
	ErrGroupKeyMismatch = errors.New("group key id mismatch")
	ErrNotEncrypted     = errors.New("message not encrypted")
)

// EncryptWithAES encrypts plaintext with AES-256-CTR and returns hex(iv || ciphertext)
func EncryptWithAES(plaintext, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	iv, err := RandomBytes(aes.BlockSize)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	out := make([]byte, aes.BlockSize+len(plaintext))
	copy(out, iv)
	cipher.NewCTR(block, iv).XORKeyStream(out[aes.BlockSize:], plaintext)
	return hex.EncodeToString(out), nil
}

// DecryptWithAES reverses EncryptWithAES
func DecryptWithAES(content string, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	raw, err := hex.DecodeString(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	if len(raw) < aes.BlockSize {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	iv, ciphertext := raw[:aes.BlockSize], raw[aes.BlockSize:]
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCTR(block, iv).XORKeyStream(plaintext, ciphertext)
	return plaintext, nil
}

// EncryptStreamMessage replaces the content of msg with its encryption under
// key. When next is set, its material is prepended to the plaintext so that
// subscribers learn the rotated key from the message itself.
// On error msg is left untouched.
func EncryptStreamMessage(msg *protocol.StreamMessage, key, next *GroupKey) error {
	if msg.IsEncrypted() {
		return ErrAlreadyEncrypted
	}
	if err := key.Validate(); err != nil {
		return err
	}

	encryptionType := protocol.EncryptionTypeAES
	plaintext := []byte(msg.SerializedContent)
	if next != nil {
		if err := next.Validate(); err != nil {
			return err
		}
		encryptionType = protocol.EncryptionTypeNewKeyAndAES
		plaintext = append(append(make([]byte, 0, GroupKeySize+len(plaintext)), next.Data...), plaintext...)
	}

	content, err := EncryptWithAES(plaintext, key.Data)
	if err != nil {
		return err
	}

	msg.SerializedContent = content
	msg.EncryptionType = encryptionType
	msg.GroupKeyID = key.ID
	return nil
}

// DecryptStreamMessage restores the plaintext content of msg. For
// NewKeyAndAES messages the announced key is returned.
// On error msg is left untouched.
func DecryptStreamMessage(msg *protocol.StreamMessage, key *GroupKey) (*GroupKey, error) {
	switch msg.EncryptionType {
	case protocol.EncryptionTypeAES, protocol.EncryptionTypeNewKeyAndAES:
	case protocol.EncryptionTypeNone:
		return nil, ErrNotEncrypted
	default:
		return nil, fmt.Errorf("%w: unsupported encryption type %s", ErrDecryptionFailed, msg.EncryptionType)
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if msg.GroupKeyID != "" && msg.GroupKeyID != key.ID {
		return nil, fmt.Errorf("%w: message uses %s, got %s", ErrGroupKeyMismatch, msg.GroupKeyID, key.ID)
	}

	plaintext, err := DecryptWithAES(msg.SerializedContent, key.Data)
	if err != nil {
		return nil, err
	}

	var announced *GroupKey
	if msg.EncryptionType == protocol.EncryptionTypeNewKeyAndAES {
		if len(plaintext) < GroupKeySize {
			return nil, fmt.Errorf("%w: missing announced key", ErrDecryptionFailed)
		}
		announced, err = GroupKeyFromData(plaintext[:GroupKeySize])
		if err != nil {
			return nil, err
		}
		plaintext = plaintext[GroupKeySize:]
	}

	msg.SerializedContent = string(plaintext)
	msg.EncryptionType = protocol.EncryptionTypeNone
	msg.GroupKeyID = ""
	return announced, nil
}
