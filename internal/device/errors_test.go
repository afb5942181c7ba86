package device

import (
	"errors"
	"fmt"
	"testing"
)

func TestNormalizeTokenTables(t *testing.T) {
	tests := []struct {
		name   string
		vendor string
		msg    string
		want   error
	}{
		{"bluefors unknown channel", "bluefors", "error: CHANNEL_NOT_FOUND (ch 9)", ErrNotFound},
		{"bluefors bad setpoint", "bluefors", "INVALID_SETPOINT: 400 K", ErrInvalidRange},
		{"bluefors scanning", "bluefors", "scanning, try later", ErrBusy},
		{"bluefors offline", "bluefors", "DEVICE_OFFLINE", ErrUnavailable},
		{"raritan missing outlet", "raritan", "noSuchObject at oid .1.3", ErrNotFound},
		{"raritan timeout", "raritan", "request timeout after 3 retries", ErrUnavailable},
		{"generic busy", "anything", "resource busy", ErrBusy},
		{"unknown token", "bluefors", "flux capacitor desync", ErrInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Normalize(errors.New(tt.msg), tt.vendor)
			if !errors.Is(err, tt.want) {
				t.Errorf("Normalize(%q, %q) = %v, want %v", tt.msg, tt.vendor, err, tt.want)
			}
		})
	}
}

func TestNormalizeNil(t *testing.T) {
	if err := Normalize(nil, "bluefors"); err != nil {
		t.Errorf("Normalize(nil) = %v", err)
	}
}

// Already-normalized errors pass through so wrapping is not stacked.
func TestNormalizePassthrough(t *testing.T) {
	orig := fmt.Errorf("setting outlet: %w", ErrBusy)
	if got := Normalize(orig, "raritan"); got != orig {
		t.Errorf("Normalize rewrapped an already-normalized error: %v", got)
	}
}

// The vendor diagnostic must survive normalization.
func TestNormalizeKeepsOriginal(t *testing.T) {
	err := Normalize(errors.New("INVALID_SETPOINT: 400 K"), "bluefors")
	var devErr *DeviceError
	if !errors.As(err, &devErr) {
		t.Fatalf("Normalize returned %T, want *DeviceError", err)
	}
	if devErr.Original.Error() != "INVALID_SETPOINT: 400 K" {
		t.Errorf("original = %v", devErr.Original)
	}
}
