// Package nostrutil holds the signing discipline and identifier helpers
// shared by the notification, proxy and blossom endpoints: npub decoding,
// BIP-340 Schnorr verification over challenges and canonical payloads, and
// the anonymizers used wherever identifiers reach logs or rendered pages.
package nostrutil

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

const (
	challengeByteLen = 32
	anonHeadTail     = 2
)

// ErrInvalidNpub reports a string that does not decode to an npub public key.
var ErrInvalidNpub = errors.New("invalid npub")

// DecodeNpub decodes a bech32 npub string into its x-only public key.
func DecodeNpub(npub string) (*btcec.PublicKey, error) {
	prefix, value, err := nip19.Decode(npub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNpub, err)
	}
	if prefix != "npub" {
		return nil, fmt.Errorf("%w: unexpected prefix %q", ErrInvalidNpub, prefix)
	}
	pkHex, ok := value.(string)
	if !ok {
		return nil, ErrInvalidNpub
	}
	raw, err := hex.DecodeString(pkHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNpub, err)
	}
	pub, err := schnorr.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNpub, err)
	}
	return pub, nil
}

// VerifyChallenge reports whether sig is a valid Schnorr signature by pub
// over the raw 32 bytes of the hex-encoded challenge. The challenge bytes
// are the message digest directly; no further hashing is applied.
func VerifyChallenge(challenge, sig string, pub *btcec.PublicKey) (bool, error) {
	msg, err := hex.DecodeString(challenge)
	if err != nil {
		return false, fmt.Errorf("decode challenge: %w", err)
	}
	if len(msg) != challengeByteLen {
		return false, fmt.Errorf("challenge must be %d bytes, got %d", challengeByteLen, len(msg))
	}
	parsed, err := parseSignature(sig)
	if err != nil {
		return false, err
	}
	return parsed.Verify(msg, pub), nil
}

// VerifyPayload reports whether sig is a valid Schnorr signature by pub over
// the SHA-256 digest of the payload's canonical encoding.
func VerifyPayload(payload SignedPayload, sig string, pub *btcec.PublicKey) (bool, error) {
	digest := sha256.Sum256(payload.CanonicalBytes())
	parsed, err := parseSignature(sig)
	if err != nil {
		return false, err
	}
	return parsed.Verify(digest[:], pub), nil
}

// SignChallenge produces the hex signature a client would send for a
// challenge. It exists to generate test vectors and dev requests.
func SignChallenge(challenge string, priv *btcec.PrivateKey) (string, error) {
	msg, err := hex.DecodeString(challenge)
	if err != nil {
		return "", fmt.Errorf("decode challenge: %w", err)
	}
	sig, err := schnorr.Sign(priv, msg)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig.Serialize()), nil
}

// SignPayload produces the hex signature for a canonical payload.
func SignPayload(payload SignedPayload, priv *btcec.PrivateKey) (string, error) {
	digest := sha256.Sum256(payload.CanonicalBytes())
	sig, err := schnorr.Sign(priv, digest[:])
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig.Serialize()), nil
}

func parseSignature(sig string) (*schnorr.Signature, error) {
	raw, err := hex.DecodeString(sig)
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	parsed, err := schnorr.ParseSignature(raw)
	if err != nil {
		return nil, fmt.Errorf("parse signature: %w", err)
	}
	return parsed, nil
}

// AnonymizeNpub masks an npub for logs and user-facing pages, keeping only
// the last three characters.
func AnonymizeNpub(npub string) string {
	runes := []rune(npub)
	if len(runes) > anonHeadTail {
		return "npub1*******" + string(runes[len(runes)-anonHeadTail-1:])
	}
	return "npub1*******"
}

// AnonymizeEmail masks an email address, keeping at most the first two
// characters of the local part and the last three of the domain.
func AnonymizeEmail(email string) string {
	at := -1
	for i, r := range email {
		if r == '@' {
			at = i
			break
		}
	}
	if at < 0 {
		return "****@*****"
	}
	before := []rune(email[:at])
	after := []rune(email[at+1:])

	head := ""
	if len(before) > anonHeadTail {
		head = string(before[:anonHeadTail])
	}
	tail := ""
	if len(after) > anonHeadTail {
		tail = string(after[len(after)-anonHeadTail-1:])
	}
	return head + "***@***" + tail
}
