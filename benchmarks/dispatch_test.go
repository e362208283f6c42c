package benchmarks

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/randalmurphal/toolflow/pkg/dispatch"
	"github.com/randalmurphal/toolflow/pkg/dispatch/sse"
	"github.com/randalmurphal/toolflow/pkg/dispatch/stdio"
)

func echoRegistry() *dispatch.Registry {
	return dispatch.NewRegistry().MustRegister(dispatch.Operation{
		Name:   "echo",
		Params: []dispatch.Param{{Name: "text", Type: dispatch.TypeString, Required: true}},
		Handler: func(_ context.Context, p dispatch.Params) (any, error) {
			return p.String("text", ""), nil
		},
	})
}

var echoParams = map[string]any{"text": "hello"}

// BenchmarkRegistry_Invoke measures in-process invocation with parameter
// validation.
func BenchmarkRegistry_Invoke(b *testing.B) {
	reg := echoRegistry()
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = reg.Invoke(ctx, "echo", echoParams)
	}
}

// BenchmarkStdio_Call measures one request/response over in-memory
// transports.
func BenchmarkStdio_Call(b *testing.B) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clientT, serverT := mcp.NewInMemoryTransports()
	srv := &stdio.Server{Registry: echoRegistry(), Logger: slog.New(slog.DiscardHandler)}
	go func() { _ = srv.Run(ctx, serverT) }()

	ch := stdio.NewChannel(clientT)
	defer ch.Close()
	if err := ch.Initialize(ctx); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = ch.Call(ctx, "echo", echoParams)
	}
}

// BenchmarkSSE_Call measures one event-stream request against a local server.
func BenchmarkSSE_Call(b *testing.B) {
	h := sse.NewHandler(echoRegistry())
	h.FlushDelay = 0
	srv := httptest.NewServer(h.Mux())
	defer srv.Close()

	client := sse.NewClient(sse.ClientConfig{URL: srv.URL})
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = client.Call(ctx, "echo", echoParams)
	}
}
