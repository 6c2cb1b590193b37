package pkey

import "github.com/erc7824/nitrolite/keynode/pkg/native"

// Algorithm tags the concrete variant of a Key.
type Algorithm uint8

const (
	Unknown Algorithm = iota
	RSA
	EC
	Ed25519
	SM2
)

func (a Algorithm) String() string {
	switch a {
	case RSA:
		return "RSA"
	case EC:
		return "EC"
	case Ed25519:
		return "Ed25519"
	case SM2:
		return "SM2"
	default:
		return "unknown"
	}
}

// Supported reports whether key objects of this variant can be constructed.
// EC, Ed25519 and SM2 are recognised but not implemented.
func (a Algorithm) Supported() bool {
	return a == RSA
}

func fromNativeID(id native.ID) Algorithm {
	switch id {
	case native.IDRSA:
		return RSA
	case native.IDEC:
		return EC
	case native.IDEd25519:
		return Ed25519
	case native.IDSM2:
		return SM2
	default:
		return Unknown
	}
}
