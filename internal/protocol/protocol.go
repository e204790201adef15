// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package protocol holds the JSON wire formats exchanged with the host:
// the scanned pairing payload, the authentication request/response and movement packets.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/relabs-tech/cursair/internal/motion"
)

// AuthSuccess is the exact (trimmed) reply a host sends to accept a pairing request.
const AuthSuccess = "CONNECTED"

// ErrInvalidPayload is returned when a pairing payload cannot be parsed.
var ErrInvalidPayload = errors.New("invalid pairing payload")

// Pairing is the content of a scanned pairing code.
type Pairing struct {
	Host     string `json:"targetIp"`
	Port     int    `json:"targetPort"`
	Password string `json:"password"`
}

// pairingWire uses pointers so missing fields can be told apart from zero values.
type pairingWire struct {
	Host     *string `json:"targetIp"`
	Port     *int    `json:"targetPort"`
	Password *string `json:"password"`
}

// ParsePairing decodes a pairing payload. All three fields are required.
func ParsePairing(payload string) (Pairing, error) {
	var w pairingWire
	if err := json.Unmarshal([]byte(payload), &w); err != nil {
		return Pairing{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	switch {
	case w.Host == nil || *w.Host == "":
		return Pairing{}, fmt.Errorf("%w: targetIp is required", ErrInvalidPayload)
	case w.Port == nil:
		return Pairing{}, fmt.Errorf("%w: targetPort is required", ErrInvalidPayload)
	case *w.Port <= 0 || *w.Port > 65535:
		return Pairing{}, fmt.Errorf("%w: targetPort %d out of range", ErrInvalidPayload, *w.Port)
	case w.Password == nil:
		return Pairing{}, fmt.Errorf("%w: password is required", ErrInvalidPayload)
	}
	return Pairing{Host: *w.Host, Port: *w.Port, Password: *w.Password}, nil
}

// Encode renders the pairing as a payload string, as a pairing code would carry it.
func (p Pairing) Encode() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// AuthRequest is the first datagram sent to the host.
type AuthRequest struct {
	Password string `json:"password"`
}

// EncodeAuthRequest builds the authentication datagram.
func EncodeAuthRequest(password string) ([]byte, error) {
	return json.Marshal(AuthRequest{Password: password})
}

// DecodeAuthRequest parses an authentication datagram (host side).
// The password field must be present.
func DecodeAuthRequest(b []byte) (AuthRequest, error) {
	var w struct {
		Password *string `json:"password"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return AuthRequest{}, fmt.Errorf("decode auth request: %w", err)
	}
	if w.Password == nil {
		return AuthRequest{}, errors.New("decode auth request: password is required")
	}
	return AuthRequest{Password: *w.Password}, nil
}

// IsAuthSuccess reports whether a host reply accepts the pairing.
func IsAuthSuccess(reply []byte) bool {
	return strings.TrimSpace(string(reply)) == AuthSuccess
}

// EncodeMovement builds a movement packet: {"dx":<int>,"dy":<int>}.
func EncodeMovement(m motion.Movement) ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMovement parses a movement packet (host side). Both dx and dy must be present.
func DecodeMovement(b []byte) (motion.Movement, error) {
	var w struct {
		DX *int `json:"dx"`
		DY *int `json:"dy"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return motion.Movement{}, fmt.Errorf("decode movement: %w", err)
	}
	if w.DX == nil || w.DY == nil {
		return motion.Movement{}, errors.New("decode movement: dx and dy are required")
	}
	return motion.Movement{DX: *w.DX, DY: *w.DY}, nil
}
