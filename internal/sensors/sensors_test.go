// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"errors"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/cursair/internal/motion"
)

type recorder struct {
	mu      sync.Mutex
	samples []motion.Sample
}

func (r *recorder) OnSample(s motion.Sample) {
	r.mu.Lock()
	r.samples = append(r.samples, s)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

func (r *recorder) all() []motion.Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]motion.Sample(nil), r.samples...)
}

func TestPollerDeliversWhileRegistered(t *testing.T) {
	var reads atomic.Int32
	p := NewPoller("test", time.Millisecond, func() ([]motion.Sample, error) {
		reads.Add(1)
		return []motion.Sample{{Kind: motion.Gyroscope, Value: 1}}, nil
	}, motion.Gyroscope)

	assert.True(t, p.Available(motion.Gyroscope))
	assert.False(t, p.Available(motion.LinearAcceleration))

	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, reads.Load(), "no polling without a listener")

	r := &recorder{}
	require.NoError(t, p.Register(r))
	require.Eventually(t, func() bool { return r.count() >= 3 }, time.Second, time.Millisecond)

	p.Unregister(r)
	n := r.count()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, n, r.count(), "no deliveries after Unregister returns")
}

func TestPollerRejectsSecondListener(t *testing.T) {
	p := NewPoller("test", time.Hour, func() ([]motion.Sample, error) { return nil, nil }, motion.Gyroscope)
	a, b := &recorder{}, &recorder{}

	require.NoError(t, p.Register(a))
	assert.NoError(t, p.Register(a), "re-registering the same listener is allowed")
	assert.ErrorIs(t, p.Register(b), ErrAlreadyRegistered)

	p.Unregister(b) // not registered, ignored
	p.Unregister(a)
	p.Unregister(a)
	assert.NoError(t, p.Register(b))
	p.Unregister(b)
}

func TestPollerSurvivesReadErrors(t *testing.T) {
	var calls atomic.Int32
	p := NewPoller("flaky", time.Millisecond, func() ([]motion.Sample, error) {
		if calls.Add(1)%2 == 0 {
			return nil, errors.New("bus busy")
		}
		return []motion.Sample{{Kind: motion.LinearAcceleration, Value: 0.5}}, nil
	}, motion.LinearAcceleration)

	r := &recorder{}
	require.NoError(t, p.Register(r))
	defer p.Unregister(r)
	require.Eventually(t, func() bool { return r.count() >= 3 }, time.Second, time.Millisecond)
}

func TestMockManagerHonoursMissingKinds(t *testing.T) {
	m := NewMockManager(time.Millisecond, motion.LinearAcceleration)
	assert.True(t, m.Available(motion.Gyroscope))
	assert.False(t, m.Available(motion.LinearAcceleration))

	r := &recorder{}
	require.NoError(t, m.Register(r))
	require.Eventually(t, func() bool { return r.count() >= 5 }, time.Second, time.Millisecond)
	m.Unregister(r)

	for _, s := range r.all() {
		assert.Equal(t, motion.Gyroscope, s.Kind)
		assert.LessOrEqual(t, math.Abs(s.Value), 0.4)
	}
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		line    string
		want    []motion.Sample
		wantErr bool
	}{
		{line: "0.1,-0.5\n", want: []motion.Sample{
			{Kind: motion.Gyroscope, Value: 0.1},
			{Kind: motion.LinearAcceleration, Value: -0.5},
		}},
		{line: " G, 0.25 ", want: []motion.Sample{{Kind: motion.Gyroscope, Value: 0.25}}},
		{line: "a,1e-3", want: []motion.Sample{{Kind: motion.LinearAcceleration, Value: 0.001}}},
		{line: "# bridge v2"},
		{line: "   "},
		{line: "0.1", wantErr: true},
		{line: "0.1,0.2,0.3", wantErr: true},
		{line: "X,0.1", wantErr: true},
		{line: "G,abc", wantErr: true},
		{line: "NaN,NaN", wantErr: true},
		{line: "0.1,+Inf", wantErr: true},
		{line: "-inf,0", wantErr: true},
		{line: "A,nan", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := parseLine(tt.line)
			if tt.wantErr {
				assert.ErrorIs(t, err, errBadLine)
				return
			}
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("parseLine(%q) mismatch (-want +got):\n%s", tt.line, diff)
			}
		})
	}
}

func TestLineManagerStream(t *testing.T) {
	pr, pw := io.Pipe()
	m := NewLineManager("pipe", pr)
	defer m.Close()

	r := &recorder{}
	require.NoError(t, m.Register(r))

	_, err := pw.Write([]byte("garbage\n0.2,0.3\nA,-1\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return r.count() == 3 }, time.Second, time.Millisecond)

	want := []motion.Sample{
		{Kind: motion.Gyroscope, Value: 0.2},
		{Kind: motion.LinearAcceleration, Value: 0.3},
		{Kind: motion.LinearAcceleration, Value: -1},
	}
	assert.Empty(t, cmp.Diff(want, r.all()))

	m.Unregister(r)
	_, err = pw.Write([]byte("0.5,0.5\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, r.count())

	require.NoError(t, pw.Close())
}

func TestUnitConversions(t *testing.T) {
	assert.InDelta(t, math.Pi/180, gyroToRadPerSec(131, 0), 1e-12)
	assert.InDelta(t, math.Pi/180, gyroToRadPerSec(164, 3)/10, 1e-12)
	assert.InDelta(t, standardGravity, accelToMS2(16384, 0), 1e-12)
	assert.InDelta(t, -standardGravity/2, accelToMS2(-1024, 3), 1e-12)
}
