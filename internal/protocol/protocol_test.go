// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/cursair/internal/motion"
)

func TestParsePairing(t *testing.T) {
	p, err := ParsePairing(`{"targetIp":"192.168.1.20","targetPort":5005,"password":"hunter2"}`)
	require.NoError(t, err)
	assert.Equal(t, Pairing{Host: "192.168.1.20", Port: 5005, Password: "hunter2"}, p)
}

func TestParsePairingRejectsMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", "not json"},
		{"empty", ""},
		{"missing host", `{"targetPort":5005,"password":"x"}`},
		{"missing port", `{"targetIp":"h","password":"x"}`},
		{"port as string", `{"targetIp":"h","targetPort":"5005","password":"x"}`},
		{"port out of range", `{"targetIp":"h","targetPort":70000,"password":"x"}`},
		{"missing password", `{"targetIp":"h","targetPort":5005}`},
		{"array", `[1,2,3]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePairing(tt.payload)
			assert.ErrorIs(t, err, ErrInvalidPayload)
		})
	}
}

func TestPairingEncodeRoundTrip(t *testing.T) {
	in := Pairing{Host: "localhost", Port: 9000, Password: "secret"}
	s, err := in.Encode()
	require.NoError(t, err)
	out, err := ParsePairing(s)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestAuthRequest(t *testing.T) {
	b, err := EncodeAuthRequest("s3cr3t")
	require.NoError(t, err)
	assert.JSONEq(t, `{"password":"s3cr3t"}`, string(b))

	req, err := DecodeAuthRequest(b)
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", req.Password)
}

func TestIsAuthSuccess(t *testing.T) {
	assert.True(t, IsAuthSuccess([]byte("CONNECTED")))
	assert.True(t, IsAuthSuccess([]byte("  CONNECTED\n")))
	assert.False(t, IsAuthSuccess([]byte("DENIED")))
	assert.False(t, IsAuthSuccess([]byte("")))
	assert.False(t, IsAuthSuccess([]byte("connected")))
	assert.False(t, IsAuthSuccess([]byte("CONNECTED!")))
}

func TestEncodeMovement(t *testing.T) {
	b, err := EncodeMovement(motion.Movement{DX: -32, DY: 7})
	require.NoError(t, err)
	assert.JSONEq(t, `{"dx":-32,"dy":7}`, string(b))

	m, err := DecodeMovement(b)
	require.NoError(t, err)
	assert.Equal(t, motion.Movement{DX: -32, DY: 7}, m)
}

func TestHostSideDecodersRequireFields(t *testing.T) {
	_, err := DecodeAuthRequest([]byte(`{"dx":1,"dy":2}`))
	assert.Error(t, err)
	_, err = DecodeAuthRequest([]byte(`not json`))
	assert.Error(t, err)

	_, err = DecodeMovement([]byte(`{"password":"x"}`))
	assert.Error(t, err)
	_, err = DecodeMovement([]byte(`{"dx":1}`))
	assert.Error(t, err)

	m, err := DecodeMovement([]byte(`{"dx":0,"dy":0}`))
	require.NoError(t, err)
	assert.Equal(t, motion.Movement{}, m)
}
