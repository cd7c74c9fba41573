// Package apikey implements FuseVault's API-key authentication subsystem:
// issuance, constant-time validation, per-wallet rate limiting, and
// management (spec.md §4.7). Keys are self-describing and stateless to
// verify (HMAC, not a database round trip for the signature check); only
// the *record* — permissions, expiry, revocation — needs a lookup.
package apikey

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/fusevault/core/internal/apperr"
	"github.com/fusevault/core/internal/domain"
)

const (
	keyPrefix   = "fv.v1"
	nonceBytes  = 16
	sigBytes    = 30
	walletTagLen = 8
)

// Signer issues and validates the HMAC envelope of a key, independent of
// where the resulting record is stored (spec.md §4.7: "sig = first 30
// bytes of HMAC-SHA256 ... with a server secret").
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer over secret, the server's API-key HMAC key.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Issued is a freshly generated key: Full is shown to the caller exactly
// once, Hash is what gets persisted.
type Issued struct {
	Full string
	Hash string
}

// Issue mints a new key bound to walletAddress.
func (s *Signer) Issue(walletAddress string) (*Issued, error) {
	wallet := strings.ToLower(walletAddress)
	if len(wallet) < walletTagLen {
		return nil, apperr.New(apperr.KindValidation, "wallet address too short to tag")
	}
	walletTag := wallet[len(wallet)-walletTagLen:]

	nonce := make([]byte, nonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to generate key nonce", err)
	}
	nonceEncoded := base64.RawURLEncoding.EncodeToString(nonce)

	sig := s.sign(walletTag, nonceEncoded)
	full := fmt.Sprintf("%s.%s.%s.%s", keyPrefix, walletTag, nonceEncoded, sig)

	return &Issued{Full: full, Hash: HashKey(full)}, nil
}

func (s *Signer) sign(walletTag, nonceEncoded string) string {
	message := fmt.Sprintf("%s.%s.%s", keyPrefix, walletTag, nonceEncoded)
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(message))
	full := mac.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(full[:sigBytes])
}

// Parsed is a structurally valid key split into its grammar parts.
type Parsed struct {
	WalletTag string
	Nonce     string
	Sig       string
}

// Parse validates the five-part grammar and splits out its fields, without
// checking the signature (spec.md §4.7 step 2). keyPrefix itself contains a
// "." (fv.v1), so a full key splits into five dot-separated parts, not four:
// ["fv", "v1", walletTag, nonce, sig].
func Parse(key string) (*Parsed, error) {
	key = strings.TrimSpace(key)
	parts := strings.Split(key, ".")
	if len(parts) != 5 {
		return nil, apperr.New(apperr.KindAuthorization, "malformed api key")
	}
	if parts[0]+"."+parts[1] != keyPrefix {
		return nil, apperr.New(apperr.KindAuthorization, "unrecognized api key version")
	}
	if len(parts[2]) != walletTagLen {
		return nil, apperr.New(apperr.KindAuthorization, "malformed api key wallet tag")
	}
	return &Parsed{WalletTag: parts[2], Nonce: parts[3], Sig: parts[4]}, nil
}

// Verify recomputes the HMAC for key and compares it in constant time
// against the signature embedded in the key (spec.md §4.7 step 3, invariant
// 7: "validation is constant-time").
func (s *Signer) Verify(key string) (*Parsed, error) {
	parsed, err := Parse(key)
	if err != nil {
		return nil, err
	}

	expected := s.sign(parsed.WalletTag, parsed.Nonce)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(parsed.Sig)) != 1 {
		return nil, apperr.New(apperr.KindAuthorization, "invalid api key signature")
	}
	return parsed, nil
}

// HashKey returns the lookup hash stored server-side for a full key string
// (spec.md §4.7: "key_hash = SHA256(entire_string_form)").
func HashKey(full string) string {
	sum := sha256.Sum256([]byte(full))
	return fmt.Sprintf("%x", sum)
}

// Permissions converts a slice of permission strings into the set form
// domain.AuthContext carries.
func Permissions(perms []domain.Permission) map[domain.Permission]bool {
	out := make(map[domain.Permission]bool, len(perms))
	for _, p := range perms {
		out[p] = true
	}
	return out
}
