package shell

import "crypto/ed25519"

// verifyEd25519 backs the vp host's verify_tx_signature(pk,data,sig) call.
func verifyEd25519(pk, data, sig []byte) bool {
	if len(pk) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pk), data, sig)
}
