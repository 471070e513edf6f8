package cache

import (
    "errors"
    "testing"
    "time"

    "github.com/rs/zerolog"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestDo_MemoizesUntilInvalidated(t *testing.T) {
    c := New(0, zerolog.Nop())
    calls := 0
    compute := func() (int, error) { calls++; return calls, nil }

    v, err := Do(c, "k", compute)
    require.NoError(t, err)
    assert.Equal(t, 1, v)

    v, err = Do(c, "k", compute)
    require.NoError(t, err)
    assert.Equal(t, 1, v, "second call must hit the cache")
    assert.Equal(t, 1, calls)

    c.InvalidateAll()
    v, err = Do(c, "k", compute)
    require.NoError(t, err)
    assert.Equal(t, 2, v)
}

func TestDo_DistinctKeys(t *testing.T) {
    c := New(0, zerolog.Nop())
    a, _ := Do(c, "a", func() (string, error) { return "alpha", nil })
    b, _ := Do(c, "b", func() (string, error) { return "beta", nil })
    assert.Equal(t, "alpha", a)
    assert.Equal(t, "beta", b)
    assert.Equal(t, 2, c.Len())
}

func TestDo_ErrorsAreNotCached(t *testing.T) {
    c := New(0, zerolog.Nop())
    boom := errors.New("boom")
    calls := 0
    _, err := Do(c, "k", func() (int, error) { calls++; return 0, boom })
    require.ErrorIs(t, err, boom)

    v, err := Do(c, "k", func() (int, error) { calls++; return 7, nil })
    require.NoError(t, err)
    assert.Equal(t, 7, v)
    assert.Equal(t, 2, calls)
}

func TestDo_TTLExpiry(t *testing.T) {
    c := New(10*time.Millisecond, zerolog.Nop())
    calls := 0
    compute := func() (int, error) { calls++; return calls, nil }

    _, _ = Do(c, "k", compute)
    time.Sleep(20 * time.Millisecond)
    v, err := Do(c, "k", compute)
    require.NoError(t, err)
    assert.Equal(t, 2, v)
}
