package observer

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestBus_HandlersRunInRegistrationOrder(t *testing.T) {
	bus := NewBus[string](zerolog.Nop())

	var got []string
	bus.Register(func(_ context.Context, e string) error {
		got = append(got, "first:"+e)
		return nil
	})
	bus.Register(func(_ context.Context, e string) error {
		got = append(got, "second:"+e)
		return nil
	})
	bus.Register(func(_ context.Context, e string) error {
		got = append(got, "third:"+e)
		return nil
	})

	bus.Trigger(context.Background(), "boot")
	assert.Equal(t, []string{"first:boot", "second:boot", "third:boot"}, got)
}

func TestBus_ErrorDoesNotStopChain(t *testing.T) {
	bus := NewBus[int](zerolog.Nop())

	var got []int
	bus.Register(func(_ context.Context, _ int) error {
		return errors.New("handler broke")
	})
	bus.Register(func(_ context.Context, e int) error {
		got = append(got, e)
		return nil
	})

	bus.Trigger(context.Background(), 7)
	assert.Equal(t, []int{7}, got)
}

func TestBus_PanicRecovered(t *testing.T) {
	bus := NewBus[int](zerolog.Nop())

	var got []int
	bus.Register(func(_ context.Context, _ int) error {
		panic("handler exploded")
	})
	bus.Register(func(_ context.Context, e int) error {
		got = append(got, e)
		return nil
	})

	assert.NotPanics(t, func() {
		bus.Trigger(context.Background(), 7)
	})
	assert.Equal(t, []int{7}, got)
}

func TestBus_NoHandlers(t *testing.T) {
	bus := NewBus[struct{}](zerolog.Nop())
	assert.NotPanics(t, func() {
		bus.Trigger(context.Background(), struct{}{})
	})
}
