// Package auth validates inbound generate requests before they reach the
// upstream provider.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"chat-relay/internal/config"
	"chat-relay/internal/domain"
)

// Outcome is the result of Authorize.
type Outcome int

const (
	Accepted Outcome = iota
	RejectedNoPassword
	RejectedBadSignature
	RejectedStale
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case RejectedNoPassword:
		return "rejected_no_password"
	case RejectedBadSignature:
		return "rejected_bad_signature"
	case RejectedStale:
		return "rejected_stale"
	default:
		return "unknown"
	}
}

// Authorizer checks the site password and, in production, the request
// signature and its age.
type Authorizer struct {
	password   string
	secret     []byte
	production bool
	maxAge     time.Duration
}

// NewAuthorizer builds an Authorizer from cfg.
func NewAuthorizer(cfg *config.Config) *Authorizer {
	return &Authorizer{
		password:   cfg.SitePassword,
		secret:     []byte(cfg.SignatureSecret),
		production: cfg.Production,
		maxAge:     cfg.SignatureMaxAge,
	}
}

// Authorize validates req at the given instant. It has no side effects.
func (a *Authorizer) Authorize(req domain.SignedRequest, now time.Time) Outcome {
	if a.password != "" && req.Password != a.password {
		return RejectedNoPassword
	}
	if !a.production {
		return Accepted
	}
	want := sign(a.secret, req.Time, domain.LastContent(req.Messages))
	if !hmac.Equal([]byte(want), []byte(req.Signature)) {
		return RejectedBadSignature
	}
	if a.maxAge > 0 {
		age := now.Sub(time.UnixMilli(req.Time))
		if age < 0 {
			age = -age
		}
		if age > a.maxAge {
			return RejectedStale
		}
	}
	return Accepted
}

// Sign returns the hex HMAC-SHA256 of the canonical payload "<t>:<m>".
func Sign(secret string, t int64, m string) string {
	return sign([]byte(secret), t, m)
}

func sign(secret []byte, t int64, m string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(canonicalPayload(t, m)))
	return hex.EncodeToString(mac.Sum(nil))
}

func canonicalPayload(t int64, m string) string {
	return strconv.FormatInt(t, 10) + ":" + m
}
