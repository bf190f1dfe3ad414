package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLinger_waitsForDuration(t *testing.T) {
	start := time.Now()

	linger(context.Background(), 50*time.Millisecond)

	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestLinger_zeroReturnsImmediately(t *testing.T) {
	start := time.Now()

	linger(context.Background(), 0)

	assert.Less(t, time.Since(start), time.Second)
}

// TestLinger_cancelled verifies a signal during the linger window ends it.
func TestLinger_cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	start := time.Now()

	linger(ctx, time.Hour)

	assert.Less(t, time.Since(start), 10*time.Second)
}
