package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/ZentaChain/zentalk-streams/pkg/protocol"
)

// SignatureSize is the length of an r || s || v Ethereum signature
const SignatureSize = 65

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrSignerMismatch   = errors.New("signature does not match publisher")
	ErrUnsigned         = errors.New("message not signed")
)

// Signer holds a secp256k1 private key and signs stream messages on behalf
// of the Ethereum address derived from it
type Signer struct {
	key     *secp256k1.PrivateKey
	address string
}

// GenerateSigner creates a signer with a fresh private key
func GenerateSigner() (*Signer, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	return newSigner(key), nil
}

// NewSigner imports a hex private key, with or without 0x prefix
func NewSigner(privateKeyHex string) (*Signer, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != secp256k1.PrivKeyBytesLen {
		return nil, fmt.Errorf("%w: private key must be %d bytes, got %d", ErrInvalidKey, secp256k1.PrivKeyBytesLen, len(raw))
	}
	return newSigner(secp256k1.PrivKeyFromBytes(raw)), nil
}

func newSigner(key *secp256k1.PrivateKey) *Signer {
	return &Signer{key: key, address: PublicKeyToAddress(key.PubKey())}
}

// Address returns the lowercase 0x-prefixed Ethereum address of the signer
func (s *Signer) Address() string {
	return s.address
}

// PrivateKeyHex exports the private key as 0x-prefixed hex
func (s *Signer) PrivateKeyHex() string {
	return "0x" + hex.EncodeToString(s.key.Serialize())
}

// PublicKeyToAddress derives the Ethereum address of pub
func PublicKeyToAddress(pub *secp256k1.PublicKey) string {
	uncompressed := pub.SerializeUncompressed()
	return "0x" + hex.EncodeToString(Keccak256(uncompressed[1:])[12:])
}

// EthereumMessageHash returns the personal_sign hash of payload
func EthereumMessageHash(payload []byte) []byte {
	prefix := "\x19Ethereum Signed Message:\n" + strconv.Itoa(len(payload))
	return Keccak256([]byte(prefix), payload)
}

// Sign returns the 0x-prefixed r || s || v signature of payload
func (s *Signer) Sign(payload []byte) string {
	compact := ecdsa.SignCompact(s.key, EthereumMessageHash(payload), false)

	// compact is v || r || s with v = 27 + recovery id
	sig := make([]byte, SignatureSize)
	copy(sig, compact[1:])
	sig[64] = compact[0]
	return "0x" + hex.EncodeToString(sig)
}

// RecoverAddress returns the address that produced signature over payload
func RecoverAddress(payload []byte, signature string) (string, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if len(sig) != SignatureSize {
		return "", fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSignature, SignatureSize, len(sig))
	}

	v := sig[64]
	if v < 27 {
		v += 27
	}
	compact := make([]byte, SignatureSize)
	compact[0] = v
	copy(compact[1:], sig[:64])

	pub, _, err := ecdsa.RecoverCompact(compact, EthereumMessageHash(payload))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return PublicKeyToAddress(pub), nil
}

// SignStreamMessage signs msg in place. The publisher id of msg must be the
// signer's address.
func (s *Signer) SignStreamMessage(msg *protocol.StreamMessage) error {
	if !strings.EqualFold(msg.PublisherID(), s.address) {
		return fmt.Errorf("%w: publisher %s, signer %s", ErrSignerMismatch, msg.PublisherID(), s.address)
	}
	msg.SignatureType = protocol.SignatureTypeEth
	msg.Signature = s.Sign(msg.PayloadToSign())
	return nil
}

// VerifyStreamMessage checks that msg was signed by its publisher
func VerifyStreamMessage(msg *protocol.StreamMessage) error {
	switch msg.SignatureType {
	case protocol.SignatureTypeEth, protocol.SignatureTypeEthLegacy:
	case protocol.SignatureTypeNone:
		return ErrUnsigned
	default:
		return fmt.Errorf("%w: unsupported signature type %s", ErrInvalidSignature, msg.SignatureType)
	}
	if msg.Signature == "" {
		return ErrUnsigned
	}

	address, err := RecoverAddress(msg.PayloadToSign(), msg.Signature)
	if err != nil {
		return err
	}
	if !strings.EqualFold(address, msg.PublisherID()) {
		return fmt.Errorf("%w: signed by %s, publisher %s", ErrSignerMismatch, address, msg.PublisherID())
	}
	return nil
}

// SaveKeyToFile writes the signer's private key as hex
func (s *Signer) SaveKeyToFile(filename string) error {
	return os.WriteFile(filename, []byte(s.PrivateKeyHex()+"\n"), 0600)
}

// LoadSignerFromFile reads a key written by SaveKeyToFile
func LoadSignerFromFile(filename string) (*Signer, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return NewSigner(string(data))
}
