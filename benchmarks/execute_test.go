package benchmarks

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/randalmurphal/convograph/pkg/convo/auth"
	"github.com/randalmurphal/convograph/pkg/convo/commerce"
	"github.com/randalmurphal/convograph/pkg/convo/model"
	"github.com/randalmurphal/convograph/pkg/convo/recovery"
	"github.com/randalmurphal/convograph/pkg/convo/service"
	"github.com/randalmurphal/convograph/pkg/convo/stream"
	"github.com/randalmurphal/convograph/pkg/convo/workflows"
	"github.com/randalmurphal/convograph/pkg/flowgraph"
	"github.com/randalmurphal/convograph/pkg/flowgraph/checkpoint"
	flowerrors "github.com/randalmurphal/convograph/pkg/flowgraph/errors"
	"github.com/randalmurphal/convograph/pkg/flowgraph/llm"
	"github.com/randalmurphal/convograph/pkg/flowgraph/observability"
)

func benchReply(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	switch {
	case strings.Contains(req.SystemPrompt, "intent classifier"):
		return &llm.CompletionResponse{Content: `{"intent":"product_search","confidence":0.9,"disfluent_message":"One moment..."}`}, nil
	case strings.Contains(req.SystemPrompt, "parameter extractor"):
		return &llm.CompletionResponse{Content: `{"product_category":"shoes"}`}, nil
	}
	return &llm.CompletionResponse{Content: "Here are some shoes you might like."}, nil
}

func turnDeps(b *testing.B) workflows.Deps {
	b.Helper()
	shop, err := commerce.NewSQLiteStore(filepath.Join(b.TempDir(), "shop.sqlite"))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { shop.Close() })
	if _, err := commerce.Seed(context.Background(), shop, 200, 1); err != nil {
		b.Fatal(err)
	}

	m := model.New(llm.NewMockClient("").WithCompleteFunc(benchReply),
		model.WithRetry(flowerrors.NoRetry),
		model.WithLogger(observability.NopLogger()),
	)
	jwt, err := auth.NewJWT("bench-secret")
	if err != nil {
		b.Fatal(err)
	}
	gate, err := auth.NewGate(jwt, m)
	if err != nil {
		b.Fatal(err)
	}
	return workflows.Deps{
		Model:    m,
		Store:    shop,
		Gate:     gate,
		Issuer:   jwt,
		Hasher:   auth.BcryptHasher{Cost: 4},
		Recovery: recovery.New(m),
	}
}

func turnService(b *testing.B) *service.Service {
	b.Helper()
	g, err := workflows.Build(turnDeps(b))
	if err != nil {
		b.Fatal(err)
	}
	svc, err := service.New(g, checkpoint.NewMemoryStore(), service.WithLogger(observability.NopLogger()))
	if err != nil {
		b.Fatal(err)
	}
	return svc
}

// BenchmarkTurn_ProductSearch runs a full streamed turn on one thread.
func BenchmarkTurn_ProductSearch(b *testing.B) {
	svc := turnService(b)
	ctx := context.Background()
	req := service.Request{Message: "show me shoes", ThreadID: "chat_bench"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := svc.Stream(ctx, req, &stream.Recorder{}); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkTurn_Parallel runs turns on distinct threads concurrently.
func BenchmarkTurn_Parallel(b *testing.B) {
	svc := turnService(b)
	var n atomic.Int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		ctx := context.Background()
		for pb.Next() {
			req := service.Request{Message: "show me shoes", ThreadID: fmt.Sprintf("chat_%d", n.Add(1))}
			if err := svc.Stream(ctx, req, &stream.Recorder{}); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

// BenchmarkContextCreation measures context creation overhead.
func BenchmarkContextCreation(b *testing.B) {
	bg := context.Background()
	for i := 0; i < b.N; i++ {
		flowgraph.NewContext(bg, flowgraph.WithLogger(observability.NopLogger()))
	}
}
