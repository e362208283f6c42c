package registry

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	r := New[string, int]()
	assert.NotNil(t, r)
	assert.Equal(t, 0, r.Len())
}

func TestAddAndGet(t *testing.T) {
	r := New[string, int]()

	require.NoError(t, r.Add("one", 1))
	require.NoError(t, r.Add("two", 2))

	v, ok := r.Get("one")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = r.Get("three")
	assert.False(t, ok)
	assert.Equal(t, 0, v)
}

func TestAddDuplicate(t *testing.T) {
	r := New[string, string]()

	require.NoError(t, r.Add("key", "first"))
	err := r.Add("key", "second")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Contains(t, err.Error(), "key")

	v, _ := r.Get("key")
	assert.Equal(t, "first", v, "existing value must survive a rejected Add")
	assert.Equal(t, 1, r.Len())
}

func TestRegisterOverwriteKeepsPosition(t *testing.T) {
	r := New[string, string]()

	r.Register("a", "old")
	r.Register("b", "b")
	r.Register("a", "new")

	v, ok := r.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "new", v)
	assert.Equal(t, []string{"a", "b"}, r.Keys())
}

func TestKeysAndValuesInsertionOrder(t *testing.T) {
	r := New[string, int]()
	for i, k := range []string{"zeta", "alpha", "mid", "beta"} {
		require.NoError(t, r.Add(k, i))
	}

	assert.Equal(t, []string{"zeta", "alpha", "mid", "beta"}, r.Keys())
	assert.Equal(t, []int{0, 1, 2, 3}, r.Values())
}

func TestKeysReturnsCopy(t *testing.T) {
	r := New[string, int]()
	require.NoError(t, r.Add("a", 1))

	keys := r.Keys()
	keys[0] = "mutated"

	assert.Equal(t, []string{"a"}, r.Keys())
}

func TestMustGet(t *testing.T) {
	r := New[string, int]()
	r.Register("key", 42)
	assert.Equal(t, 42, r.MustGet("key"))
}

func TestMustGetPanic(t *testing.T) {
	r := New[string, int]()
	assert.PanicsWithValue(t, "registry: key not found: missing", func() {
		r.MustGet("missing")
	})
}

func TestHas(t *testing.T) {
	r := New[string, int]()
	r.Register("key", 1)
	assert.True(t, r.Has("key"))
	assert.False(t, r.Has("other"))
}

func TestDelete(t *testing.T) {
	r := New[string, int]()
	r.Register("a", 1)
	r.Register("b", 2)
	r.Register("c", 3)

	r.Delete("b")

	assert.False(t, r.Has("b"))
	assert.Equal(t, []string{"a", "c"}, r.Keys())

	// Deleted keys can be added again and go to the end.
	require.NoError(t, r.Add("b", 4))
	assert.Equal(t, []string{"a", "c", "b"}, r.Keys())
}

func TestDeleteNonexistent(t *testing.T) {
	r := New[string, int]()
	r.Register("a", 1)
	r.Delete("missing")
	assert.Equal(t, 1, r.Len())
}

func TestRangeOrderAndEarlyStop(t *testing.T) {
	r := New[string, int]()
	for i, k := range []string{"c", "a", "b"} {
		r.Register(k, i)
	}

	var seen []string
	r.Range(func(k string, _ int) bool {
		seen = append(seen, k)
		return true
	})
	assert.Equal(t, []string{"c", "a", "b"}, seen)

	count := 0
	r.Range(func(string, int) bool {
		count++
		return false
	})
	assert.Equal(t, 1, count)
}

func TestRangeAllowsMutation(t *testing.T) {
	r := New[string, int]()
	r.Register("a", 1)
	r.Register("b", 2)

	visited := 0
	r.Range(func(k string, _ int) bool {
		visited++
		r.Delete(k)
		r.Register(k+"-new", 0)
		return true
	})

	assert.Equal(t, 2, visited)
	assert.Equal(t, []string{"a-new", "b-new"}, r.Keys())
}

func TestGetOrCreate(t *testing.T) {
	r := New[string, int]()
	calls := 0
	factory := func() int {
		calls++
		return 42
	}

	assert.Equal(t, 42, r.GetOrCreate("key", factory))
	assert.Equal(t, 42, r.GetOrCreate("key", factory))
	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"key"}, r.Keys())
}

func TestConcurrentAddOnlyOneWins(t *testing.T) {
	r := New[string, int]()
	var wins atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if r.Add("shared", i) == nil {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, 1, r.Len())
}

func TestConcurrentReadWrite(t *testing.T) {
	r := New[string, int]()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			r.Register(fmt.Sprintf("k%d", i), i)
		}(i)
		go func() {
			defer wg.Done()
			_ = r.Keys()
			_, _ = r.Get("k0")
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, r.Len())
	assert.Len(t, r.Keys(), 20)
}

func TestConcurrentGetOrCreate(t *testing.T) {
	r := New[string, int]()
	var calls atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.GetOrCreate("key", func() int {
				calls.Add(1)
				return 7
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func BenchmarkGet(b *testing.B) {
	r := New[string, int]()
	for i := 0; i < 100; i++ {
		r.Register(fmt.Sprintf("key-%d", i), i)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.Get("key-50")
	}
}
