package memory

import (
	"context"
	"testing"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	if err := pub.Publish(context.Background(), "topic-a", []byte(`{"k":"v"}`)); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}
	if err := pub.Publish(context.Background(), "topic-b", []byte("payload")); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}

	msgs := pub.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Topic != "topic-a" || msgs[1].Topic != "topic-b" {
		t.Fatalf("topics not recorded correctly: %+v", msgs)
	}

	msgs[0].Topic = "modified"
	if pub.Messages()[0].Topic == "modified" {
		t.Fatal("expected Messages() to return a copy")
	}
}
