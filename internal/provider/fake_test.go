package provider

import (
	"context"
	"testing"
)

func TestFakeCreateResponseScripted(t *testing.T) {
	f := NewFake("fake", FakeStep{Response: Response{Content: "hi", StopReason: StopEndTurn}})
	resp, err := f.CreateResponse(context.Background(), Request{}, nil)
	if err != nil {
		t.Fatalf("CreateResponse() error = %v", err)
	}
	if resp.Content != "hi" {
		t.Errorf("Content = %q, want hi", resp.Content)
	}
}

func TestFakeCreateResponseExhausted(t *testing.T) {
	f := NewFake("fake")
	if _, err := f.CreateResponse(context.Background(), Request{}, nil); err == nil {
		t.Fatalf("expected error once script is exhausted")
	}
}

func TestFakeStreamingEmitsTokensThenComplete(t *testing.T) {
	f := NewFake("fake", FakeStep{
		Tokens:   []string{"a", "b", "c"},
		Response: Response{Content: "abc", StopReason: StopEndTurn},
	})
	var events []Event
	resp, err := f.CreateStreamingResponse(context.Background(), Request{}, func(e Event) {
		events = append(events, e)
	})
	if err != nil {
		t.Fatalf("CreateStreamingResponse() error = %v", err)
	}
	if resp.Content != "abc" {
		t.Errorf("Content = %q, want abc", resp.Content)
	}
	if len(events) != 4 {
		t.Fatalf("len(events) = %d, want 4 (3 tokens + complete)", len(events))
	}
	for i, tok := range []string{"a", "b", "c"} {
		if events[i].Type != EventToken || events[i].Token != tok {
			t.Errorf("events[%d] = %+v, want token %q", i, events[i], tok)
		}
	}
	if events[3].Type != EventComplete {
		t.Errorf("events[3].Type = %v, want complete", events[3].Type)
	}
}

func TestFakeCallsAreSequential(t *testing.T) {
	f := NewFake("fake",
		FakeStep{Response: Response{Content: "first"}},
		FakeStep{Response: Response{Content: "second"}},
	)
	r1, _ := f.CreateResponse(context.Background(), Request{}, nil)
	r2, _ := f.CreateResponse(context.Background(), Request{}, nil)
	if r1.Content != "first" || r2.Content != "second" {
		t.Fatalf("got %q then %q, want first then second", r1.Content, r2.Content)
	}
	if f.Calls() != 2 {
		t.Errorf("Calls() = %d, want 2", f.Calls())
	}
}
