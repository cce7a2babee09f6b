package authz

import (
	"crypto/subtle"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/botica-erp/botica-erp/internal/shared"
)

type credentialKind int

const (
	credentialNone credentialKind = iota
	credentialHashed
	credentialLegacyPlaintext
)

// Credential is the tagged PIN credential variant. The legacy plaintext arm
// exists only until all live users carry a hash; removing it is a
// compile-time-visible change.
type Credential struct {
	kind  credentialKind
	value string
}

// HashedCredential wraps a bcrypt PIN hash.
func HashedCredential(hash string) Credential {
	return Credential{kind: credentialHashed, value: hash}
}

// LegacyPlaintextCredential wraps a stored plaintext PIN. Deprecated path,
// kept for users not yet migrated.
func LegacyPlaintextCredential(pin string) Credential {
	return Credential{kind: credentialLegacyPlaintext, value: pin}
}

// IsZero reports whether no credential is stored.
func (c Credential) IsZero() bool { return c.kind == credentialNone }

// IsLegacy reports whether the plaintext fallback would be used.
func (c Credential) IsLegacy() bool { return c.kind == credentialLegacyPlaintext }

// Matches compares the supplied PIN in constant time.
func (c Credential) Matches(pin string) bool {
	switch c.kind {
	case credentialHashed:
		return bcrypt.CompareHashAndPassword([]byte(c.value), []byte(pin)) == nil
	case credentialLegacyPlaintext:
		return subtle.ConstantTimeCompare([]byte(c.value), []byte(pin)) == 1
	default:
		return false
	}
}

// Candidate is a user eligible to authorize an operation.
type Candidate struct {
	ID         int64
	Name       string
	Role       shared.Role
	Credential Credential
}

// Authorization identifies the user whose PIN validated an operation.
type Authorization struct {
	UserID int64
	Name   string
	Role   shared.Role
}

// Policy holds the monetary thresholds above which human authorization is
// required, loaded once at process start so operators can retune limits
// without redeploying logic. Bank deposits always require a PIN.
type Policy struct {
	TransferThreshold   decimal.Decimal
	WithdrawalThreshold decimal.Decimal
	AuthorizerRoles     []shared.Role
}

// TransferNeedsPIN reports whether a transfer of amount requires step-up
// authorization. Amounts equal to the threshold pass without a PIN.
func (p Policy) TransferNeedsPIN(amount decimal.Decimal) bool {
	return amount.GreaterThan(p.TransferThreshold)
}

// WithdrawalNeedsPIN reports whether a cash withdrawal of amount requires
// step-up authorization.
func (p Policy) WithdrawalNeedsPIN(amount decimal.Decimal) bool {
	return amount.GreaterThan(p.WithdrawalThreshold)
}
