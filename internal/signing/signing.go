// Package signing computes the integrity digest of a certificate and signs
// it with an ed25519 key. Verification recomputes the digest from the stored
// fields, so any edit to a signed field shows up as a signature mismatch.
package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tbourn/go-cert-backend/internal/domain"
)

// canonical is the signed projection of a certificate. Field order is fixed
// by the struct and times are normalized to UTC seconds.
type canonical struct {
	CertificateID string `json:"certificateId"`
	RecipientName string `json:"recipientName"`
	Title         string `json:"title"`
	IssuedBy      string `json:"issuedBy"`
	IssueDate     string `json:"issueDate"`
	ExpiryDate    string `json:"expiryDate,omitempty"`
}

func stamp(t time.Time) string { return t.UTC().Truncate(time.Second).Format(time.RFC3339) }

// Digest returns the hex SHA-256 of the canonical projection of c.
func Digest(c *domain.Certificate) string {
	p := canonical{
		CertificateID: c.CertificateID,
		RecipientName: c.RecipientName,
		Title:         c.Title,
		IssuedBy:      c.IssuedBy,
		IssueDate:     stamp(c.IssueDate),
	}
	if c.ExpiryDate != nil {
		p.ExpiryDate = stamp(*c.ExpiryDate)
	}
	raw, _ := json.Marshal(p) // plain strings; cannot fail
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Signer holds the service signing key.
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewSigner derives the key from a hex-encoded 32-byte seed. An empty seed
// yields an ephemeral key: signatures then only verify within this process.
func NewSigner(seedHex string) (*Signer, error) {
	seedHex = strings.TrimSpace(seedHex)
	if seedHex == "" {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		return &Signer{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
	}
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("signing seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, errors.New("signing seed must be 32 bytes (64 hex chars)")
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Signer{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

// PublicKey returns the hex-encoded verification key.
func (s *Signer) PublicKey() string { return hex.EncodeToString(s.pub) }

// Sign returns the base64 signature of digest.
func (s *Signer) Sign(digest string) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(s.priv, []byte(digest)))
}

// Verify reports whether sig is a valid signature of digest.
func (s *Signer) Verify(digest, sig string) bool {
	raw, err := base64.StdEncoding.DecodeString(sig)
	if err != nil || len(raw) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(s.pub, []byte(digest), raw)
}

// Seal fills c.Hash and c.Signature from its current fields.
func (s *Signer) Seal(c *domain.Certificate) {
	c.Hash = Digest(c)
	c.Signature = s.Sign(c.Hash)
}

// Intact reports whether c's stored hash matches its fields and the
// signature over that hash verifies.
func (s *Signer) Intact(c *domain.Certificate) bool {
	if Digest(c) != c.Hash {
		return false
	}
	return s.Verify(c.Hash, c.Signature)
}
