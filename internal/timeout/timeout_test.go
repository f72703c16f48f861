package timeout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewDefaults(t *testing.T) {
	tm := NewWithDefaults()
	assert.Equal(t, DefaultCall, tm.Call())
	assert.Equal(t, DefaultStore, tm.Store())

	tm = New(-1, 0)
	assert.Equal(t, DefaultCall, tm.Call())
	assert.Equal(t, DefaultStore, tm.Store())

	tm = New(5*time.Second, time.Second)
	assert.Equal(t, 5*time.Second, tm.Call())
	assert.Equal(t, time.Second, tm.Store())
}

func TestCallContextDeadline(t *testing.T) {
	tm := New(time.Minute, time.Second)

	ctx, cancel := tm.CallContext(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	assert.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, time.Second)
}

func TestStoreContextDeadline(t *testing.T) {
	tm := New(time.Minute, time.Second)

	ctx, cancel := tm.StoreContext(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	assert.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Second), deadline, time.Second)
}

func TestPackageStoreContext(t *testing.T) {
	ctx, cancel := StoreContext(context.Background())
	defer cancel()

	_, ok := ctx.Deadline()
	assert.True(t, ok)
}
