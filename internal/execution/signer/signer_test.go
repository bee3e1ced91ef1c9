package signer

import (
	"errors"
	"strings"
	"testing"
)

func TestCheckSender(t *testing.T) {
	s, err := NewLocalSigner(LocalSignerConfig{PrivateKeyHex: testPrivateKey})
	if err != nil {
		t.Fatalf("NewLocalSigner failed: %v", err)
	}
	if err := CheckSender(s, ""); err != nil {
		t.Fatalf("empty planned sender should accept any signer: %v", err)
	}
	if err := CheckSender(s, strings.ToLower(s.Address().Hex())); err != nil {
		t.Fatalf("lowercase planned sender should match: %v", err)
	}
	err = CheckSender(s, "0x00000000000000000000000000000000000000bb")
	if !errors.Is(err, ErrSenderMismatch) {
		t.Fatalf("expected sender mismatch, got %v", err)
	}
	if err := CheckSender(s, "0x1234"); err == nil || errors.Is(err, ErrSenderMismatch) {
		t.Fatalf("expected invalid sender error, got %v", err)
	}
	if err := CheckSender(nil, s.Address().Hex()); err == nil {
		t.Fatal("expected missing signer error")
	}
}
