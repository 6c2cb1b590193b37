package sign

import "fmt"

var (
	_ Signer    = (*MockSigner)(nil)
	_ PublicKey = (*MockPublicKey)(nil)
)

// MockSigner produces predictable signatures for tests: the data followed by
// "-signed-by-" and the signer's ID.
type MockSigner struct {
	publicKey *MockPublicKey
}

func NewMockSigner(id string) *MockSigner {
	return &MockSigner{publicKey: NewMockPublicKey(id)}
}

func (m *MockSigner) Sign(data []byte) (Signature, error) {
	sig := make([]byte, 0, len(data)+len(m.publicKey.id)+11)
	sig = append(sig, data...)
	sig = append(sig, fmt.Sprintf("-signed-by-%s", m.publicKey.id)...)
	return Signature(sig), nil
}

func (m *MockSigner) PublicKey() PublicKey {
	return m.publicKey
}

// MockPublicKey uses its ID as the key encoding.
type MockPublicKey struct {
	id string
}

func NewMockPublicKey(id string) *MockPublicKey {
	return &MockPublicKey{id: id}
}

func (m *MockPublicKey) Algorithm() string   { return "mock" }
func (m *MockPublicKey) Fingerprint() string { return Fingerprint(m.Bytes()) }
func (m *MockPublicKey) Bytes() []byte       { return []byte(m.id) }
