package native

import (
	"crypto"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"hash"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck
	"golang.org/x/crypto/sha3"
)

// MD describes a message digest algorithm.
type MD struct {
	name  string
	hash  crypto.Hash // zero for digests without a DigestInfo prefix
	newFn func() hash.Hash
	// rsa reports whether RSASSA-PKCS1-v1_5 can encode this digest.
	rsa bool
}

var digests = map[string]*MD{}

func registerDigest(md *MD) {
	digests[normalizeDigestName(md.name)] = md
}

func init() {
	registerDigest(&MD{name: "md5", hash: crypto.MD5, newFn: md5.New, rsa: true})
	registerDigest(&MD{name: "sha1", hash: crypto.SHA1, newFn: sha1.New, rsa: true})
	registerDigest(&MD{name: "sha224", hash: crypto.SHA224, newFn: sha256.New224, rsa: true})
	registerDigest(&MD{name: "sha256", hash: crypto.SHA256, newFn: sha256.New, rsa: true})
	registerDigest(&MD{name: "sha384", hash: crypto.SHA384, newFn: sha512.New384, rsa: true})
	registerDigest(&MD{name: "sha512", hash: crypto.SHA512, newFn: sha512.New, rsa: true})
	registerDigest(&MD{name: "sha512-224", hash: crypto.SHA512_224, newFn: sha512.New512_224, rsa: true})
	registerDigest(&MD{name: "sha512-256", hash: crypto.SHA512_256, newFn: sha512.New512_256, rsa: true})
	registerDigest(&MD{name: "ripemd160", hash: crypto.RIPEMD160, newFn: ripemd160.New, rsa: true})
	registerDigest(&MD{name: "sha3-224", hash: crypto.SHA3_224, newFn: sha3.New224, rsa: true})
	registerDigest(&MD{name: "sha3-256", hash: crypto.SHA3_256, newFn: sha3.New256, rsa: true})
	registerDigest(&MD{name: "sha3-384", hash: crypto.SHA3_384, newFn: sha3.New384, rsa: true})
	registerDigest(&MD{name: "sha3-512", hash: crypto.SHA3_512, newFn: sha3.New512, rsa: true})
	registerDigest(&MD{name: "keccak256", newFn: sha3.NewLegacyKeccak256})
}

func normalizeDigestName(name string) string {
	return strings.NewReplacer("-", "", "_", "", "/", "").Replace(strings.ToLower(strings.TrimSpace(name)))
}

// DigestByName resolves a digest algorithm by name.
func DigestByName(name string) (*MD, error) {
	md, ok := digests[normalizeDigestName(name)]
	if !ok {
		return nil, errors.Errorf("unknown digest %q", name)
	}
	return md, nil
}

// DigestNames lists the registered digest names in sorted order.
func DigestNames() []string {
	names := make([]string, 0, len(digests))
	for _, md := range digests {
		names = append(names, md.name)
	}
	sort.Strings(names)
	return names
}

// Name returns the canonical digest name.
func (m *MD) Name() string { return m.name }

// Size returns the digest length in bytes.
func (m *MD) Size() int { return m.newFn().Size() }

// SupportsKey reports whether the digest can be bound to signing with keys of
// the given family.
func (m *MD) SupportsKey(id ID) bool {
	switch id {
	case IDRSA:
		return m.rsa
	default:
		return false
	}
}

// HashFunc returns the crypto.Hash of the digest, or zero for digests without
// a DigestInfo prefix.
func (m *MD) HashFunc() crypto.Hash { return m.hash }

// Sum digests data in one call.
func (m *MD) Sum(data []byte) ([]byte, error) {
	h, err := m.new()
	if err != nil {
		return nil, err
	}
	h.Write(data)
	return h.Sum(nil), nil
}

func (m *MD) new() (hash.Hash, error) {
	if m.hash != 0 && !m.hash.Available() {
		return nil, errors.Errorf("digest %s is not linked into this binary", m.name)
	}
	return m.newFn(), nil
}
