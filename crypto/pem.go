package crypto

import (
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

// readPEMKey reads one PEM block of blockType whose payload is exactly size bytes.
func readPEMKey(path, blockType string, size int) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", blockType, err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("decode %s: no PEM block", blockType)
	}
	if block.Type != blockType {
		return nil, fmt.Errorf("decode %s: unexpected type %q", blockType, block.Type)
	}
	if len(block.Bytes) != size {
		return nil, fmt.Errorf("decode %s: invalid key size %d", blockType, len(block.Bytes))
	}

	return block.Bytes, nil
}

// writePEMKey writes key as a PEM block, creating parent directories as needed.
func writePEMKey(path, blockType string, key []byte, perm os.FileMode) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create key directory %q: %w", dir, err)
		}
	}

	block := &pem.Block{
		Type:  blockType,
		Bytes: key,
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), perm); err != nil {
		return fmt.Errorf("write %s: %w", blockType, err)
	}
	return nil
}
