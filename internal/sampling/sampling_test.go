package sampling

import (
	"context"
	"testing"
)

type stubProvider struct {
	result Result
	chunks []Chunk
}

func (s *stubProvider) Complete(ctx context.Context, req Request) (Result, error) {
	return s.result, nil
}

func (s *stubProvider) Stream(ctx context.Context, req Request) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk, len(s.chunks))
	errs := make(chan error, 1)
	for _, c := range s.chunks {
		chunks <- c
	}
	close(chunks)
	close(errs)
	return chunks, errs
}

func TestProvider_CompleteReturnsResult(t *testing.T) {
	var p Provider = &stubProvider{result: Result{Content: "hi", Model: "test-model"}}
	res, err := p.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hello"}}})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if res.Content != "hi" || res.Model != "test-model" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestProvider_StreamDeliversChunksInOrder(t *testing.T) {
	want := []Chunk{{Type: ChunkText, Content: "a"}, {Type: ChunkText, Content: "b"}, {Type: ChunkDone}}
	var p Provider = &stubProvider{chunks: want}
	chunks, errs := p.Stream(context.Background(), Request{})

	var got []Chunk
	for c := range chunks {
		got = append(got, c)
	}
	if err := <-errs; err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d chunks, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].Type != want[i].Type || got[i].Content != want[i].Content {
			t.Fatalf("chunk %d mismatch: got %+v want %+v", i, got[i], want[i])
		}
	}
}
