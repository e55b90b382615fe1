package groutine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGo(t *testing.T) {
	names := make(chan string, 1)
	done := Go(context.Background(), "worker-7", func(ctx context.Context) {
		names <- GetName(ctx)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine MUST finish")
	}
	assert.Equal(t, "worker-7", <-names)
}

func TestGoNilContext(t *testing.T) {
	//nolint:staticcheck // nil context is part of the contract
	done := Go(nil, "nil-parent", func(ctx context.Context) {
		assert.NotNil(t, ctx)
	})
	<-done
}

func TestGetNameWithoutName(t *testing.T) {
	assert.Equal(t, "", GetName(context.Background()))
	//nolint:staticcheck // nil context is part of the contract
	assert.Equal(t, "", GetName(nil))
}
