package circuit

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// step is one recorded call and the state expected after it.
type step struct {
	fail     bool
	wantOpen bool
	opened   bool
	closed   bool
}

func TestBreakerSequences(t *testing.T) {
	tests := []struct {
		name  string
		opts  []Option
		steps []step
	}{
		{
			name: "opens on the third consecutive failure",
			opts: []Option{WithFailureThreshold(3)},
			steps: []step{
				{fail: true},
				{fail: true},
				{fail: true, wantOpen: true, opened: true},
				{fail: true, wantOpen: true},
			},
		},
		{
			name: "a success between failures restarts the count",
			opts: []Option{WithFailureThreshold(2)},
			steps: []step{
				{fail: true},
				{},
				{fail: true},
				{fail: true, wantOpen: true, opened: true},
			},
		},
		{
			name: "closes after enough successes while open",
			opts: []Option{WithFailureThreshold(1), WithSuccessThreshold(2)},
			steps: []step{
				{fail: true, wantOpen: true, opened: true},
				{wantOpen: true},
				{closed: true},
				{},
			},
		},
		{
			name: "a failure while open restarts the success count",
			opts: []Option{WithFailureThreshold(1), WithSuccessThreshold(2)},
			steps: []step{
				{fail: true, wantOpen: true, opened: true},
				{wantOpen: true},
				{fail: true, wantOpen: true},
				{wantOpen: true},
				{closed: true},
			},
		},
		{
			name: "defaults are five failures and two successes",
			steps: []step{
				{fail: true}, {fail: true}, {fail: true}, {fail: true},
				{fail: true, wantOpen: true, opened: true},
				{wantOpen: true},
				{closed: true},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("jira", tt.opts...)
			for i, s := range tt.steps {
				var change StateChange
				if s.fail {
					var fallback bool
					fallback, change = b.RecordFailure()
					assert.Equal(t, s.wantOpen, fallback, "step %d fallback", i)
				} else {
					var primary bool
					primary, change = b.RecordSuccess()
					assert.Equal(t, !s.wantOpen, primary, "step %d primary", i)
				}
				assert.Equal(t, s.wantOpen, b.IsOpen(), "step %d open", i)
				assert.Equal(t, StateChange{Opened: s.opened, Closed: s.closed}, change, "step %d change", i)
			}
		})
	}
}

func TestBreakerStateAndReset(t *testing.T) {
	b := New("risk", WithFailureThreshold(1))
	assert.Equal(t, "risk", b.Name())
	assert.Equal(t, "closed", b.State().String())

	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())
	assert.Equal(t, "open", b.State().String())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())

	// Reset also clears partial counts.
	b = New("risk", WithFailureThreshold(2))
	b.RecordFailure()
	b.Reset()
	b.RecordFailure()
	assert.False(t, b.IsOpen())
}

func TestBreakerIgnoresNonPositiveThresholds(t *testing.T) {
	b := New("risk", WithFailureThreshold(0), WithSuccessThreshold(-1))
	for range 4 {
		b.RecordFailure()
	}
	assert.False(t, b.IsOpen())
	b.RecordFailure()
	assert.True(t, b.IsOpen())
}

func TestBreakerConcurrentFailuresOpenOnce(t *testing.T) {
	b := New("jira", WithFailureThreshold(10))

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		opened int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, change := b.RecordFailure()
			if change.Opened {
				mu.Lock()
				opened++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.True(t, b.IsOpen())
	assert.Equal(t, 1, opened)
}
