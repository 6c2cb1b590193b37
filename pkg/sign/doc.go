// Package sign provides the signing interfaces the keynode daemon uses to
// authenticate its responses.
//
// A Signer never exposes private key material; callers only see the public
// key and the signatures it produces. KeySigner is the production signer. It
// drives a private pkey.Key and guards it with a mutex, because key objects
// are not safe for concurrent use.
//
// Usage
//
//	signer, err := sign.NewKeySignerFromPEM(pemBytes, pkey.DigestName("sha256"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer signer.Close()
//
//	sig, err := signer.Sign([]byte("hello world"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(signer.PublicKey().Fingerprint(), sig)
package sign
