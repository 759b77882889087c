package inference

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type countingGenerator struct {
	reply string
	calls int
}

func (g *countingGenerator) Generate(_ context.Context, _ Request) (string, error) {
	g.calls++
	return g.reply, nil
}

func TestCachedGenerator_CachesJudgments(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	next := &countingGenerator{reply: `{"same_story": true, "confidence": 0.9}`}
	gen := NewCachedGenerator(next, client, "model-a", time.Hour, zerolog.Nop())
	req := Request{Task: TaskSimilarity, Prompt: "same prompt", Options: Options{JSON: true}}

	for i := 0; i < 3; i++ {
		text, err := gen.Generate(context.Background(), req)
		if err != nil {
			t.Fatalf("generate %d: %v", i, err)
		}
		if text != next.reply {
			t.Fatalf("unexpected text %q", text)
		}
	}
	if next.calls != 1 {
		t.Fatalf("expected one upstream call, got %d", next.calls)
	}

	key := gen.key(req)
	if ttl := mr.TTL(key); ttl != time.Hour {
		t.Fatalf("unexpected ttl %v", ttl)
	}
}

func TestCachedGenerator_SkipsGeneration(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	next := &countingGenerator{reply: `{"title_en": "x"}`}
	gen := NewCachedGenerator(next, client, "model-a", time.Hour, zerolog.Nop())
	req := Request{Task: TaskGenerate, Prompt: "write"}

	for i := 0; i < 2; i++ {
		if _, err := gen.Generate(context.Background(), req); err != nil {
			t.Fatalf("generate: %v", err)
		}
	}
	if next.calls != 2 {
		t.Fatalf("generation must not be cached, got %d calls", next.calls)
	}
	if len(mr.Keys()) != 0 {
		t.Fatalf("expected no cache keys, got %v", mr.Keys())
	}
}

func TestCachedGenerator_NamespaceSeparatesModels(t *testing.T) {
	t.Parallel()

	a := &CachedGenerator{namespace: "model-a"}
	b := &CachedGenerator{namespace: "model-b"}
	req := Request{Task: TaskDifference, Prompt: "p"}
	if a.key(req) == b.key(req) {
		t.Fatalf("expected distinct keys per namespace")
	}
}

func TestCachedGenerator_DegradesWhenRedisDown(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	next := &countingGenerator{reply: `{"difference": 5, "has_new_information": false}`}
	gen := NewCachedGenerator(next, client, "m", time.Minute, zerolog.Nop())
	text, err := gen.Generate(context.Background(), Request{Task: TaskDifference, Prompt: "p"})
	if err != nil {
		t.Fatalf("expected uncached success, got %v", err)
	}
	if text != next.reply || next.calls != 1 {
		t.Fatalf("unexpected result text=%q calls=%d", text, next.calls)
	}
}
