package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_SetGetDelete(t *testing.T) {
	t.Parallel()
	c := NewMemory()
	ctx := context.Background()

	_, err := c.Get(ctx, "nada")
	assert.True(t, IsNotFound(err))

	require.NoError(t, c.Set(ctx, "k", "v", 0))
	v, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	assert.True(t, IsNotFound(err))

	// borrar lo inexistente no es error
	assert.NoError(t, c.Delete(ctx, "k"))
}

func TestMemory_TTL(t *testing.T) {
	t.Parallel()
	c := NewMemory()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "efimera", "v", 20*time.Millisecond))
	_, err := c.Get(ctx, "efimera")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	_, err = c.Get(ctx, "efimera")
	assert.True(t, IsNotFound(err), "la key debe expirar sola")
}

func TestNew_DriverSelection(t *testing.T) {
	t.Parallel()
	c := New(Config{Driver: "memory"})
	_, ok := c.(*Memory)
	assert.True(t, ok)

	// driver desconocido cae en memoria
	c = New(Config{Driver: ""})
	_, ok = c.(*Memory)
	assert.True(t, ok)
}

func TestIsNotFound(t *testing.T) {
	t.Parallel()
	assert.True(t, IsNotFound(ErrNotFound))
	assert.False(t, IsNotFound(context.Canceled))
	assert.False(t, IsNotFound(nil))
}
