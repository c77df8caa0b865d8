// Package hashing derives function identities from qualified method names.
package hashing

import (
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Size is the width of a function id on the wire.
const Size = md5.Size

var ErrInvalidHash = errors.New("hashing: invalid hash length")

// Hash is a fixed-width function identity.
type Hash [Size]byte

// Sum digests raw text.
func Sum(text string) Hash {
	return Hash(md5.Sum([]byte(text)))
}

// Function returns the id for a method name of the form "<type>@<method>".
// The id depends only on the name, so the same method on different objects
// or in different processes shares one id.
func Function(typeName, method string) Hash {
	return Sum(Qualify(typeName, method))
}

func Qualify(typeName, method string) string {
	return strings.TrimSpace(typeName) + "@" + strings.TrimSpace(method)
}

func FromBytes(b []byte) (Hash, error) {
	if len(b) != Size {
		return Hash{}, fmt.Errorf("%w: %d", ErrInvalidHash, len(b))
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) Base64() string {
	return base64.StdEncoding.EncodeToString(h[:])
}

func (h Hash) String() string {
	return h.Base64()
}
