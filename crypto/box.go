package crypto

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

const (
	x25519PrivatePEMType = "X25519 PRIVATE KEY"
	x25519PublicPEMType  = "X25519 PUBLIC KEY"

	boxKeySize = 32
)

// BoxKeyPair is a NaCl box (X25519) keypair.
type BoxKeyPair struct {
	Private *[boxKeySize]byte
	Public  *[boxKeySize]byte
}

// EnsureX25519KeyPair loads the box keypair from disk, generating it on first run.
func EnsureX25519KeyPair(privatePath, publicPath string) (BoxKeyPair, error) {
	private, err := LoadX25519PrivateKey(privatePath)
	if err == nil {
		public, err := boxPublicFromPrivate(private)
		if err != nil {
			return BoxKeyPair{}, err
		}

		stored, pubErr := LoadX25519PublicKey(publicPath)
		if pubErr != nil || !bytes.Equal(stored[:], public[:]) {
			if err := SaveX25519PublicKey(publicPath, public); err != nil {
				return BoxKeyPair{}, err
			}
		}
		return BoxKeyPair{Private: private, Public: public}, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return BoxKeyPair{}, err
	}

	public, private, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return BoxKeyPair{}, fmt.Errorf("generate X25519 keypair: %w", err)
	}
	if err := SaveX25519PrivateKey(privatePath, private); err != nil {
		return BoxKeyPair{}, err
	}
	if err := SaveX25519PublicKey(publicPath, public); err != nil {
		return BoxKeyPair{}, err
	}

	return BoxKeyPair{Private: private, Public: public}, nil
}

// LoadX25519PrivateKey reads a box private key from PEM.
func LoadX25519PrivateKey(path string) (*[boxKeySize]byte, error) {
	raw, err := readPEMKey(path, x25519PrivatePEMType, boxKeySize)
	if err != nil {
		return nil, err
	}
	var key [boxKeySize]byte
	copy(key[:], raw)
	return &key, nil
}

// LoadX25519PublicKey reads a box public key from PEM.
func LoadX25519PublicKey(path string) (*[boxKeySize]byte, error) {
	raw, err := readPEMKey(path, x25519PublicPEMType, boxKeySize)
	if err != nil {
		return nil, err
	}
	var key [boxKeySize]byte
	copy(key[:], raw)
	return &key, nil
}

// SaveX25519PrivateKey writes a box private key PEM file with 0600 permissions.
func SaveX25519PrivateKey(path string, key *[boxKeySize]byte) error {
	if key == nil {
		return errors.New("save X25519 private key: nil key")
	}
	return writePEMKey(path, x25519PrivatePEMType, key[:], 0o600)
}

// SaveX25519PublicKey writes a box public key PEM file.
func SaveX25519PublicKey(path string, key *[boxKeySize]byte) error {
	if key == nil {
		return errors.New("save X25519 public key: nil key")
	}
	return writePEMKey(path, x25519PublicPEMType, key[:], 0o644)
}

func boxPublicFromPrivate(private *[boxKeySize]byte) (*[boxKeySize]byte, error) {
	raw, err := curve25519.X25519(private[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive X25519 public key: %w", err)
	}
	var public [boxKeySize]byte
	copy(public[:], raw)
	return &public, nil
}
