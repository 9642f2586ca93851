package siwa

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the length of an [R || S || V] secp256k1 signature.
const SignatureLength = crypto.SignatureLength

var errMalformedSignature = errors.New("malformed signature")

// RecoverAddress recovers the lowercase address that produced an EIP-191
// personal_sign signature over message. The signature is hex encoded, with
// or without 0x, and V may be 0/1 or 27/28.
func RecoverAddress(message string, signature string) (string, error) {
	if !strings.HasPrefix(signature, "0x") && !strings.HasPrefix(signature, "0X") {
		signature = "0x" + signature
	}
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errMalformedSignature, err)
	}
	if len(sig) != SignatureLength {
		return "", fmt.Errorf("%w: expected %d bytes, got %d", errMalformedSignature, SignatureLength, len(sig))
	}

	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	if sig[crypto.RecoveryIDOffset] > 1 {
		return "", fmt.Errorf("%w: invalid recovery id", errMalformedSignature)
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return "", fmt.Errorf("failed to recover public key: %w", err)
	}
	return strings.ToLower(crypto.PubkeyToAddress(*pub).Hex()), nil
}

// SignMessage produces an EIP-191 personal_sign signature over message with
// V in 27/28 form, hex encoded with 0x.
func SignMessage(key *ecdsa.PrivateKey, message string) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		return "", fmt.Errorf("failed to sign message: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}
