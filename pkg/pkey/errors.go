package pkey

import "errors"

var (
	// ErrUnsupportedKeyType is returned when a handle holds a family with no key object variant.
	ErrUnsupportedKeyType = errors.New("unsupported key type")
	// ErrAllocation is returned when a native key handle or digest context cannot be allocated.
	ErrAllocation = errors.New("native allocation failed")
	// ErrPrivateKeyRequired is returned when a private-key operation is called on a public key.
	ErrPrivateKeyRequired = errors.New("private key is needed")
	// ErrUnsupportedDigest is returned when a digest cannot be resolved or bound to the key family.
	ErrUnsupportedDigest = errors.New("unsupported digest")

	ErrDigestInitFailed   = errors.New("digest init failed")
	ErrDigestUpdateFailed = errors.New("digest update failed")
	ErrSignFinalizeFailed = errors.New("sign finalize failed")

	// ErrEmptyHandle is returned when a key object would wrap a nil or empty handle.
	ErrEmptyHandle = errors.New("cannot make new key from empty handle")
	// ErrUnknownComponent is returned when writing a component the variant does not define.
	ErrUnknownComponent = errors.New("unknown key component")
)

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrUnsupportedKeyType, "unsupported_key_type"},
	{ErrAllocation, "allocation"},
	{ErrPrivateKeyRequired, "private_key_required"},
	{ErrUnsupportedDigest, "unsupported_digest"},
	{ErrDigestInitFailed, "digest_init_failed"},
	{ErrDigestUpdateFailed, "digest_update_failed"},
	{ErrSignFinalizeFailed, "sign_finalize_failed"},
	{ErrEmptyHandle, "empty_handle"},
	{ErrUnknownComponent, "unknown_component"},
}

// Kind returns a stable label for the error kind of err: "ok" for nil,
// "internal" for errors outside this package's taxonomy.
func Kind(err error) string {
	if err == nil {
		return "ok"
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}
