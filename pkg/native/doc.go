// Package native is the low-level key and digest layer that pkg/pkey wraps.
//
// It plays the role a C crypto library plays for a binding: it owns raw key
// material in algorithm-specific slot structures, classifies keys by family,
// resolves digest algorithms by name and runs the init/update/final signing
// sequence through a digest context.
//
// Nothing in this package synchronises access. A *Key or *DigestCtx must be
// used from one goroutine at a time.
//
// # Handles
//
// A *Key is an owning handle. Ownership moves with Key.Move, which returns a
// new handle holding the material and leaves the source empty:
//
//	h, err := native.FromCrypto(rsaKey)
//	if err != nil {
//	    return err
//	}
//	owned := h.Move() // h is now empty; freeing it is harmless
//	defer owned.Free()
//
// # Digests
//
// Digest algorithms are looked up by name, case-insensitively and ignoring
// dashes and underscores ("SHA-256", "sha256" and "sha_256" are the same):
//
//	md, err := native.DigestByName("sha256")
//	if err != nil {
//	    return err
//	}
//	if !md.SupportsKey(owned.BaseID()) {
//	    return fmt.Errorf("%s cannot sign with %s", md.Name(), owned.BaseID())
//	}
package native
