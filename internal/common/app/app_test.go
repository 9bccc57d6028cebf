package app

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateContextWithShutdownHook_Signal(t *testing.T) {
	received := make(chan os.Signal, 1)
	ctx, stop := CreateContextWithShutdownHook(context.Background(), func(sig os.Signal) { received <- sig })
	defer stop()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))

	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context was not cancelled after SIGTERM")
	}
	assert.Equal(t, syscall.SIGTERM, <-received)
}

func TestCreateContextWithShutdownHook_Stop(t *testing.T) {
	called := false
	ctx, stop := CreateContextWithShutdownHook(context.Background(), func(os.Signal) { called = true })
	stop()
	<-ctx.Done()
	assert.False(t, called)
}
