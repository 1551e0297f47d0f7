// Package kyc gates funding on the platform's KYC verification status.
//
// Document submission and review live in an external compliance service;
// this package only consumes its yes/no answer and applies the configured
// enforcement policy.
package kyc

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mbd888/escrowd/internal/config"
)

// Verifier answers whether a user has passed KYC review.
type Verifier interface {
	IsVerified(ctx context.Context, userID string) (bool, error)
}

// Gate applies the configured policy on top of a Verifier.
type Gate struct {
	verifier Verifier
	policy   string
	logger   *slog.Logger
}

// NewGate creates a KYC gate. Policy is one of config.KYCPolicy*.
func NewGate(verifier Verifier, policy string, logger *slog.Logger) *Gate {
	return &Gate{verifier: verifier, policy: policy, logger: logger}
}

// Allow reports whether userID may fund an escrow under the current policy.
// Verifier errors fail open under "warn" and closed under "block".
func (g *Gate) Allow(ctx context.Context, userID string) bool {
	if g == nil || g.policy == config.KYCPolicyOff || g.verifier == nil {
		return true
	}

	verified, err := g.verifier.IsVerified(ctx, userID)
	if err != nil {
		g.logger.Warn("kyc check failed", "user", userID, "error", err)
		return g.policy != config.KYCPolicyBlock
	}
	if verified {
		return true
	}

	if g.policy == config.KYCPolicyWarn {
		g.logger.Warn("unverified party funding escrow", "user", userID)
		return true
	}
	return false
}

// StaticVerifier is an in-memory Verifier for development and tests.
type StaticVerifier struct {
	mu       sync.RWMutex
	verified map[string]bool
}

// NewStaticVerifier creates an empty static verifier.
func NewStaticVerifier() *StaticVerifier {
	return &StaticVerifier{verified: make(map[string]bool)}
}

// SetVerified marks a user's verification status.
func (s *StaticVerifier) SetVerified(userID string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verified[userID] = ok
}

// IsVerified implements Verifier.
func (s *StaticVerifier) IsVerified(_ context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.verified[userID], nil
}

var _ Verifier = (*StaticVerifier)(nil)
