// Package pkey wraps native asymmetric key handles in managed key objects.
//
// A Key owns exactly one native handle. It is created empty with New or by
// taking over an existing handle with FromNative, and it releases the handle
// once on Close. The algorithm family is always read from the handle itself.
//
// Numeric key components are exposed through a descriptor table, one entry per
// (algorithm, component) pair, so every component shares the same
// present/absent semantics:
//
//	n, ok := key.Component("modulus")
//	if !ok {
//	    // the slot is not set on this key
//	}
//
// Sign drives a digest context through init, update and final and returns
// the signature truncated to the produced length:
//
//	sig, err := key.Sign(pkey.DigestName("sha256"), msg)
//	if errors.Is(err, pkey.ErrPrivateKeyRequired) {
//	    // public keys never reach the signing primitive
//	}
//
// Keys are not safe for concurrent use.
package pkey
