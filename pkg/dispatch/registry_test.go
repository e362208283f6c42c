package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// userDB mirrors the lookup worker used by the examples.
func userDB(calls *atomic.Int32) Operation {
	return Operation{
		Name:        "get_user_name",
		Description: "Look up a user's display name",
		Params: []Param{
			{Name: "user_id", Type: TypeInteger, Required: true},
			{Name: "greeting", Type: TypeString, Default: "Hello"},
		},
		Returns: TypeString,
		Handler: func(ctx context.Context, p Params) (any, error) {
			if calls != nil {
				calls.Add(1)
			}
			names := map[int]string{1: "Alice", 2: "Bob"}
			id := p.Int("user_id", 0)
			name, ok := names[id]
			if !ok {
				return fmt.Sprintf("Unknown user (ID: %d)", id), nil
			}
			return p.String("greeting", "") + ", " + name, nil
		},
	}
}

func TestRegistry_InvokeValidParams(t *testing.T) {
	reg := NewRegistry().MustRegister(userDB(nil))

	tests := []struct {
		name   string
		params map[string]any
		want   string
	}{
		{"native int", map[string]any{"user_id": 1}, "Hello, Alice"},
		{"json number", map[string]any{"user_id": 2.0}, "Hello, Bob"},
		{"explicit optional", map[string]any{"user_id": 1, "greeting": "Hi"}, "Hi, Alice"},
		{"null optional takes default", map[string]any{"user_id": 2, "greeting": nil}, "Hello, Bob"},
		{"unknown user", map[string]any{"user_id": 7}, "Unknown user (ID: 7)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := reg.Invoke(context.Background(), "get_user_name", tt.params)
			require.NoError(t, err)

			assert.False(t, res.IsError)
			assert.Equal(t, tt.want, res.Value)
			assert.Equal(t, "get_user_name", res.Operation)
			assert.NoError(t, res.Err())
		})
	}
}

func TestRegistry_ParameterErrors(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]any
		param  string
		reason string
	}{
		{"missing required", map[string]any{}, "user_id", "missing required parameter"},
		{"nil map", nil, "user_id", "missing required parameter"},
		{"null required", map[string]any{"user_id": nil}, "user_id", "missing required parameter"},
		{"fractional integer", map[string]any{"user_id": 1.5}, "user_id", "expected integer, got number"},
		{"string for integer", map[string]any{"user_id": "1"}, "user_id", "expected integer, got string"},
		{"wrong optional type", map[string]any{"user_id": 1, "greeting": true}, "greeting", "expected string, got boolean"},
		{"unknown param", map[string]any{"user_id": 1, "zeta": 1, "alpha": 2}, "alpha", "unknown parameter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			reg := NewRegistry().MustRegister(userDB(&calls))

			res, err := reg.Invoke(context.Background(), "get_user_name", tt.params)

			var perr *ParameterError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, "get_user_name", perr.Operation)
			assert.Equal(t, tt.param, perr.Param)
			assert.Equal(t, tt.reason, perr.Reason)
			assert.Zero(t, calls.Load(), "handler must not run")
			assert.Equal(t, Result{}, res)
		})
	}
}

func TestRegistry_UnknownOperation(t *testing.T) {
	var calls atomic.Int32
	reg := NewRegistry().MustRegister(userDB(&calls))

	_, err := reg.Invoke(context.Background(), "get_user_email", map[string]any{"user_id": 1})

	var unknown *UnknownOperationError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "get_user_email", unknown.Name)
	assert.Equal(t, `unknown operation "get_user_email"`, err.Error())
	assert.Zero(t, calls.Load())
}

func TestRegistry_HandlerFailureIsResult(t *testing.T) {
	errUpstream := errors.New("rate source unavailable")
	reg := NewRegistry().MustRegister(
		Operation{Name: "fails", Handler: func(context.Context, Params) (any, error) { return nil, errUpstream }},
		Operation{Name: "panics", Handler: func(context.Context, Params) (any, error) { panic("boom") }},
	)

	res, err := reg.Invoke(context.Background(), "fails", nil)
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "rate source unavailable", res.Error)
	assert.Nil(t, res.Value)

	var herr *HandlerExecutionError
	require.ErrorAs(t, res.Err(), &herr)
	assert.Equal(t, "fails", herr.Operation)

	res, err = reg.Invoke(context.Background(), "panics", nil)
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "panic: boom", res.Error)
}

func TestRegistry_UnencodableValueIsFailure(t *testing.T) {
	reg := NewRegistry().MustRegister(
		Operation{Name: "nan", Handler: func(context.Context, Params) (any, error) { return math.NaN(), nil }},
		Operation{Name: "chan", Handler: func(context.Context, Params) (any, error) { return map[string]any{"c": make(chan int)}, nil }},
	)

	for _, name := range []string{"nan", "chan"} {
		t.Run(name, func(t *testing.T) {
			res, err := reg.Invoke(context.Background(), name, nil)
			require.NoError(t, err)
			assert.True(t, res.IsError)
			assert.Nil(t, res.Value)
			assert.True(t, strings.HasPrefix(res.Error, "unserializable result: json: unsupported"), res.Error)
		})
	}
}

func TestRegistry_HandlerSeesContext(t *testing.T) {
	type key struct{}
	reg := NewRegistry().MustRegister(Operation{
		Name: "ctx",
		Handler: func(ctx context.Context, _ Params) (any, error) {
			return ctx.Value(key{}), nil
		},
	})

	res, err := reg.Call(context.WithValue(context.Background(), key{}, "v"), "ctx", nil)
	require.NoError(t, err)
	assert.Equal(t, "v", res.Value)
}

func TestRegistry_RegisterErrors(t *testing.T) {
	noop := func(context.Context, Params) (any, error) { return nil, nil }

	tests := []struct {
		name string
		op   Operation
	}{
		{"empty name", Operation{Name: " ", Handler: noop}},
		{"nil handler", Operation{Name: "x"}},
		{"bad return type", Operation{Name: "x", Returns: "date", Handler: noop}},
		{"unnamed param", Operation{Name: "x", Params: []Param{{Type: TypeString}}, Handler: noop}},
		{"duplicate param", Operation{Name: "x", Params: []Param{{Name: "a"}, {Name: "a"}}, Handler: noop}},
		{"bad param type", Operation{Name: "x", Params: []Param{{Name: "a", Type: "uuid"}}, Handler: noop}},
		{"default of wrong type", Operation{Name: "x", Params: []Param{{Name: "a", Type: TypeInteger, Default: "one"}}, Handler: noop}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewRegistry().Register(tt.op)
			assert.ErrorIs(t, err, ErrInvalidOperation)
		})
	}
}

func TestRegistry_Duplicate(t *testing.T) {
	reg := NewRegistry().MustRegister(userDB(nil))

	err := reg.Register(userDB(nil))

	var dup *DuplicateOperationError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "get_user_name", dup.Name)
	assert.Equal(t, 1, reg.Len())

	assert.PanicsWithValue(t, `dispatch: operation "get_user_name" already registered`, func() {
		reg.MustRegister(userDB(nil))
	})
}

func TestRegistry_OperationsInOrder(t *testing.T) {
	noop := func(context.Context, Params) (any, error) { return nil, nil }
	reg := NewRegistry().MustRegister(
		Operation{Name: "search_web", Handler: noop},
		Operation{Name: "generate_answer", Handler: noop},
		Operation{Name: "get_rate", Handler: noop},
	)

	var names []string
	for _, d := range reg.Operations() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"search_web", "generate_answer", "get_rate"}, names)

	def, ok := reg.Lookup("get_rate")
	assert.True(t, ok)
	assert.Equal(t, "get_rate", def.Name)

	_, ok = reg.Lookup("missing")
	assert.False(t, ok)
}

func TestRegistry_ParamsImmutableAfterRegister(t *testing.T) {
	op := userDB(nil)
	reg := NewRegistry().MustRegister(op)

	op.Params[0].Required = false

	_, err := reg.Invoke(context.Background(), "get_user_name", nil)
	assert.Error(t, err, "registered copy still requires user_id")
}

func TestRegistry_ConcurrentInvoke(t *testing.T) {
	var calls atomic.Int32
	reg := NewRegistry().MustRegister(userDB(&calls))

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := reg.Invoke(context.Background(), "get_user_name", map[string]any{"user_id": i%2 + 1})
			assert.NoError(t, err)
			assert.False(t, res.IsError)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(50), calls.Load())
}

func TestParams_Decode(t *testing.T) {
	var in struct {
		Query   string   `json:"query"`
		Results []string `json:"search_results"`
	}
	p := NewParams(map[string]any{"query": "go", "search_results": []any{"a", "b"}})

	require.NoError(t, p.Decode(&in))
	assert.Equal(t, "go", in.Query)
	assert.Equal(t, []string{"a", "b"}, in.Results)
}
