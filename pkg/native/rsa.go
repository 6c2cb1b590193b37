package native

import (
	"crypto/rsa"
	"math/big"

	"github.com/pkg/errors"
)

// RSA holds the numeric slots of an RSA key. Any slot may be nil; a public
// key has only N and E set.
type RSA struct {
	N    *big.Int // modulus
	E    *big.Int // public exponent
	D    *big.Int // private exponent
	P    *big.Int
	Q    *big.Int
	DMP1 *big.Int // d mod (p-1)
	DMQ1 *big.Int // d mod (q-1)
	IQMP *big.Int // q^-1 mod p
}

// Bits returns the modulus length in bits, 0 if the modulus is unset.
func (r *RSA) Bits() int {
	if r == nil || r.N == nil {
		return 0
	}
	return r.N.BitLen()
}

func rsaFromPublic(pub *rsa.PublicKey) *RSA {
	return &RSA{
		N: cloneInt(pub.N),
		E: big.NewInt(int64(pub.E)),
	}
}

func rsaFromPrivate(priv *rsa.PrivateKey) (*RSA, error) {
	if len(priv.Primes) != 2 {
		return nil, errors.Errorf("multi-prime RSA keys are not supported (%d primes)", len(priv.Primes))
	}
	r := rsaFromPublic(&priv.PublicKey)
	r.D = cloneInt(priv.D)
	r.P = cloneInt(priv.Primes[0])
	r.Q = cloneInt(priv.Primes[1])

	one := big.NewInt(1)
	r.DMP1 = new(big.Int).Mod(r.D, new(big.Int).Sub(r.P, one))
	r.DMQ1 = new(big.Int).Mod(r.D, new(big.Int).Sub(r.Q, one))
	r.IQMP = new(big.Int).ModInverse(r.Q, r.P)
	if r.IQMP == nil {
		return nil, errors.New("rsa primes are not coprime")
	}
	return r, nil
}

func (r *RSA) publicKey() (*rsa.PublicKey, error) {
	if r == nil || r.N == nil || r.E == nil {
		return nil, errors.New("rsa key has no modulus or public exponent")
	}
	if r.E.Sign() <= 0 || r.E.BitLen() > 31 {
		return nil, errors.Errorf("rsa public exponent %s out of range", r.E)
	}
	return &rsa.PublicKey{N: r.N, E: int(r.E.Int64())}, nil
}

func (r *RSA) privateKey() (*rsa.PrivateKey, error) {
	pub, err := r.publicKey()
	if err != nil {
		return nil, err
	}
	if r.D == nil {
		return nil, errors.New("rsa key has no private exponent")
	}
	if r.P == nil || r.Q == nil {
		return nil, errors.New("rsa key has no prime factors")
	}

	priv := &rsa.PrivateKey{
		PublicKey: *pub,
		D:         r.D,
		Primes:    []*big.Int{r.P, r.Q},
	}
	priv.Precompute()
	if err := priv.Validate(); err != nil {
		return nil, errors.Wrap(err, "inconsistent rsa key")
	}
	return priv, nil
}

func (r *RSA) wipe() {
	for _, v := range []*big.Int{r.D, r.P, r.Q, r.DMP1, r.DMQ1, r.IQMP} {
		if v != nil {
			v.SetInt64(0)
		}
	}
	*r = RSA{}
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
