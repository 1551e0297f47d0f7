package kyc

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/mbd888/escrowd/internal/config"
)

type failingVerifier struct{}

func (failingVerifier) IsVerified(context.Context, string) (bool, error) {
	return false, errors.New("compliance service unavailable")
}

func TestGate_PolicyOff(t *testing.T) {
	gate := NewGate(NewStaticVerifier(), config.KYCPolicyOff, slog.Default())
	if !gate.Allow(context.Background(), "usr_unknown") {
		t.Error("policy off must allow everyone")
	}
}

func TestGate_PolicyBlock(t *testing.T) {
	v := NewStaticVerifier()
	v.SetVerified("usr_ok", true)
	gate := NewGate(v, config.KYCPolicyBlock, slog.Default())

	if !gate.Allow(context.Background(), "usr_ok") {
		t.Error("verified user blocked")
	}
	if gate.Allow(context.Background(), "usr_unknown") {
		t.Error("unverified user allowed under block policy")
	}
}

func TestGate_PolicyWarn(t *testing.T) {
	gate := NewGate(NewStaticVerifier(), config.KYCPolicyWarn, slog.Default())
	if !gate.Allow(context.Background(), "usr_unknown") {
		t.Error("warn policy must allow unverified users")
	}
}

func TestGate_VerifierError(t *testing.T) {
	blockGate := NewGate(failingVerifier{}, config.KYCPolicyBlock, slog.Default())
	if blockGate.Allow(context.Background(), "usr_1") {
		t.Error("block policy must fail closed on verifier error")
	}

	warnGate := NewGate(failingVerifier{}, config.KYCPolicyWarn, slog.Default())
	if !warnGate.Allow(context.Background(), "usr_1") {
		t.Error("warn policy must fail open on verifier error")
	}
}
