// Package attest signs settlement record digests with the operator's key so
// exported logs carry verifiable provenance. Signatures are standard 65-byte
// secp256k1 recoverable signatures over the record digest.
package attest

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

type Attestor struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewAttestor parses a hex-encoded private key and derives the signer address.
func NewAttestor(privateKeyHex string) (*Attestor, error) {
	if privateKeyHex == "" {
		return nil, fmt.Errorf("attest: private key is required")
	}
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("attest: invalid private key: %v", err)
	}
	publicKey, ok := key.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("attest: error casting public key to ECDSA")
	}
	return &Attestor{
		key:     key,
		address: crypto.PubkeyToAddress(*publicKey),
	}, nil
}

// Sign signs a 0x-prefixed keccak digest and returns the hex signature.
func (a *Attestor) Sign(digestHex string) (string, error) {
	digest, err := hexutil.Decode(digestHex)
	if err != nil {
		return "", fmt.Errorf("attest: invalid digest: %v", err)
	}
	if len(digest) != common.HashLength {
		return "", fmt.Errorf("attest: digest must be %d bytes, got %d", common.HashLength, len(digest))
	}
	signature, err := crypto.Sign(digest, a.key)
	if err != nil {
		return "", err
	}
	// crypto.Sign emits V as 0/1; verifiers expect 27/28.
	if signature[64] < 27 {
		signature[64] += 27
	}
	return hexutil.Encode(signature), nil
}

func (a *Attestor) Address() common.Address {
	return a.address
}

// RecoverSigner returns the address that produced the signature over the
// digest. Used by audit tooling; no key material required.
func RecoverSigner(digestHex, signatureHex string) (common.Address, error) {
	digest, err := hexutil.Decode(digestHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("attest: invalid digest: %v", err)
	}
	signature, err := hexutil.Decode(signatureHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("attest: invalid signature: %v", err)
	}
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("attest: signature must be %d bytes, got %d", crypto.SignatureLength, len(signature))
	}
	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify checks that the signature over the digest was produced by expected.
func Verify(digestHex, signatureHex string, expected common.Address) error {
	recovered, err := RecoverSigner(digestHex, signatureHex)
	if err != nil {
		return err
	}
	if recovered != expected {
		return fmt.Errorf("attest: signed by %s, want %s", recovered.Hex(), expected.Hex())
	}
	return nil
}
