package trace

import (
	"context"
	"testing"
)

func TestNewRootAndChild(t *testing.T) {
	root := NewRoot("req-1", "user-1")
	if root.TraceID == "" || root.SpanID == "" {
		t.Fatal("NewRoot must populate trace_id and span_id")
	}
	if root.ParentSpanID != "" {
		t.Fatal("NewRoot must not have a parent span")
	}

	child := root.Child()
	if child.TraceID != root.TraceID {
		t.Fatal("Child must keep the same trace_id")
	}
	if child.ParentSpanID != root.SpanID {
		t.Fatal("Child.ParentSpanID must equal the parent's span_id")
	}
	if child.SpanID == root.SpanID {
		t.Fatal("Child must mint a new span_id")
	}
}

func TestWithContextFromContext(t *testing.T) {
	root := NewRoot("req-2", "user-2")
	ctx := WithContext(context.Background(), root)
	got := FromContext(ctx)
	if got != root {
		t.Fatalf("FromContext = %+v, want %+v", got, root)
	}
}

func TestFromContextAbsent(t *testing.T) {
	got := FromContext(context.Background())
	if got.TraceID != "-" {
		t.Fatalf("FromContext on bare context = %+v, want placeholder trace_id", got)
	}
}
