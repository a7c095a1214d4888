package image

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// cborEncMode uses canonical mode for deterministic encoding.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("image: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Marshal serializes a program to canonical CBOR. A zero version is
// stamped with FormatVersion.
func Marshal(p *Program) ([]byte, error) {
	if p.Version == 0 {
		p.Version = FormatVersion
	}
	data, err := cborEncMode.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("image: marshal %s: %w", p.Name, err)
	}
	return data, nil
}

// Unmarshal deserializes a program from CBOR bytes.
func Unmarshal(data []byte) (*Program, error) {
	var p Program
	if err := cbor.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("image: unmarshal program: %w", err)
	}
	if p.Version != FormatVersion {
		return nil, fmt.Errorf("image: unsupported format version %d (want %d)", p.Version, FormatVersion)
	}
	return &p, nil
}

// Hash returns the hex SHA-256 digest of the canonical encoding of p.
func Hash(p *Program) (string, error) {
	data, err := Marshal(p)
	if err != nil {
		return "", err
	}
	return HashBytes(data), nil
}

// HashBytes returns the hex SHA-256 digest of an encoded image.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ReadFile reads and decodes an image file.
func ReadFile(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	p, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// WriteFile encodes p and writes it to path.
func WriteFile(path string, p *Program) error {
	data, err := Marshal(p)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	return nil
}
