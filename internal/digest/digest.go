// Package digest computes content digests that identify library items.
package digest

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// Digest is a 32-byte BLAKE3 keyed hash of an item's raw bytes. Two
// byte sequences with equal content always produce the same digest;
// the digest is the item's identity and dedup key.
type Digest [32]byte

// itemKey is the BLAKE3 domain-separation key for item digests. The
// bytes are the ASCII name of the domain, zero-padded to 32 bytes, so
// the key is readable in hex dumps. Changing it invalidates every
// stored digest.
var itemKey = [32]byte{
	'r', 'a', 'i', 'd', 'o', '.', 'i', 't', 'e', 'm',
}

// Sum computes the digest of data.
func Sum(data []byte) Digest {
	h := newHasher()
	h.Write(data)
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// SumReader computes the digest of everything readable from r and
// returns it together with the number of bytes consumed.
func SumReader(r io.Reader) (Digest, int64, error) {
	h := newHasher()
	n, err := io.Copy(h, r)
	if err != nil {
		return Digest{}, n, fmt.Errorf("digest: read: %w", err)
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d, n, nil
}

// Format returns the canonical 64-character hex form.
func (d Digest) Format() string {
	return hex.EncodeToString(d[:])
}

// Format is the function form of Digest.Format, for use as a sort or
// map key function.
func Format(d Digest) string {
	return d.Format()
}

// Parse decodes a 64-character hex string into a Digest.
func Parse(s string) (Digest, error) {
	var d Digest
	raw, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("digest: parse: %w", err)
	}
	if len(raw) != len(d) {
		return d, fmt.Errorf("digest: got %d bytes, want %d", len(raw), len(d))
	}
	copy(d[:], raw)
	return d, nil
}

// Short returns the abbreviated reference used in logs and UI labels:
// "img-" followed by the first 12 hex characters.
func (d Digest) Short() string {
	return "img-" + hex.EncodeToString(d[:6])
}

// String implements fmt.Stringer with the full hex form.
func (d Digest) String() string { return d.Format() }

// MarshalText encodes the digest as hex, so JSON and CBOR snapshots
// carry digests as readable strings.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.Format()), nil
}

// UnmarshalText decodes the hex form produced by MarshalText.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalYAML mirrors MarshalText for YAML sidecars.
func (d Digest) MarshalYAML() (any, error) {
	return Format(d), nil
}

// UnmarshalYAML decodes the hex form. yaml.v3 does not consult
// UnmarshalText on decode, so this is spelled out.
func (d *Digest) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

// IsZero reports whether d is the zero digest. The zero value is
// never produced by Sum and marks "no digest".
func (d Digest) IsZero() bool {
	return d == Digest{}
}

func newHasher() *blake3.Hasher {
	h, err := blake3.NewKeyed(itemKey[:])
	if err != nil {
		// NewKeyed only fails on wrong key length, which the fixed-size
		// array rules out.
		panic("digest: BLAKE3 keyed hasher init failed: " + err.Error())
	}
	return h
}
