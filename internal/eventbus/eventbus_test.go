package eventbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type pingEvent struct{ n int }

type pongEvent struct{ n int }

func TestPublishWithoutBusIsNoop(t *testing.T) {
	Use(nil)
	require.NotPanics(t, func() {
		Publish(context.Background(), pingEvent{n: 1})
	})
}

func TestSubscribersReceiveOnlyTheirType(t *testing.T) {
	Use(New())
	defer Use(nil)

	var pings, pongs []int
	Subscribe(func(ctx context.Context, e pingEvent) { pings = append(pings, e.n) })
	Subscribe(func(ctx context.Context, e pongEvent) { pongs = append(pongs, e.n) })

	ctx := context.Background()
	Publish(ctx, pingEvent{n: 1})
	Publish(ctx, pingEvent{n: 2})
	Publish(ctx, pongEvent{n: 3})

	require.Equal(t, []int{1, 2}, pings)
	require.Equal(t, []int{3}, pongs)
}

func TestAllHandlersForTypeFire(t *testing.T) {
	Use(New())
	defer Use(nil)

	var a, b int
	Subscribe(func(ctx context.Context, e pingEvent) { a = e.n })
	Subscribe(func(ctx context.Context, e pingEvent) { b = e.n })

	Publish(context.Background(), pingEvent{n: 7})
	require.Equal(t, 7, a)
	require.Equal(t, 7, b)
}
