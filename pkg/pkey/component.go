package pkey

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/erc7824/nitrolite/keynode/pkg/native"
)

// component describes one named numeric slot of a key variant.
type component struct {
	alg   Algorithm
	name  string
	alias string
	// private marks the slot whose presence makes a key private.
	private bool
	slot    func(*native.RSA) **big.Int
}

var components = []component{
	{alg: RSA, name: "modulus", alias: "n", slot: func(r *native.RSA) **big.Int { return &r.N }},
	{alg: RSA, name: "public_exponent", alias: "e", slot: func(r *native.RSA) **big.Int { return &r.E }},
	{alg: RSA, name: "private_exponent", alias: "d", private: true, slot: func(r *native.RSA) **big.Int { return &r.D }},
	{alg: RSA, name: "prime1", alias: "p", slot: func(r *native.RSA) **big.Int { return &r.P }},
	{alg: RSA, name: "prime2", alias: "q", slot: func(r *native.RSA) **big.Int { return &r.Q }},
	{alg: RSA, name: "exponent1", alias: "dmp1", slot: func(r *native.RSA) **big.Int { return &r.DMP1 }},
	{alg: RSA, name: "exponent2", alias: "dmq1", slot: func(r *native.RSA) **big.Int { return &r.DMQ1 }},
	{alg: RSA, name: "coefficient", alias: "iqmp", slot: func(r *native.RSA) **big.Int { return &r.IQMP }},
}

func lookupComponent(alg Algorithm, name string) (component, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, c := range components {
		if c.alg == alg && (c.name == name || c.alias == name) {
			return c, true
		}
	}
	return component{}, false
}

// Components lists the canonical component names defined for the key's variant.
func (k *Key) Components() []string {
	var names []string
	for _, c := range components {
		if c.alg == k.Algorithm() {
			names = append(names, c.name)
		}
	}
	return names
}

// Component returns a copy of the named component. The second result is
// false when the name is not defined for the variant or the slot is unset.
func (k *Key) Component(name string) (*big.Int, bool) {
	c, ok := lookupComponent(k.Algorithm(), name)
	if !ok {
		return nil, false
	}
	v := c.get(k.rsa())
	if v == nil {
		return nil, false
	}
	return new(big.Int).Set(v), true
}

// SetComponent stores a copy of v in the named slot. A nil v clears the slot.
func (k *Key) SetComponent(name string, v *big.Int) error {
	c, ok := lookupComponent(k.Algorithm(), name)
	if !ok {
		return fmt.Errorf("%w: %q for %s keys", ErrUnknownComponent, name, k.Algorithm())
	}
	if k.handle == nil {
		return fmt.Errorf("%w: key is closed", ErrEmptyHandle)
	}

	r := k.rsa()
	if r == nil {
		r = &native.RSA{}
		if err := k.handle.AssignRSA(r); err != nil {
			return err
		}
	}

	var val *big.Int
	if v != nil {
		val = new(big.Int).Set(v)
	}
	*c.slot(r) = val
	return nil
}

// IsPrivate reports whether the key holds private material. It is derived
// from the handle on every call.
func (k *Key) IsPrivate() bool {
	r := k.rsa()
	for _, c := range components {
		if c.alg == k.Algorithm() && c.private && c.get(r) != nil {
			return true
		}
	}
	return false
}

func (c component) get(r *native.RSA) *big.Int {
	if r == nil {
		return nil
	}
	return *c.slot(r)
}
