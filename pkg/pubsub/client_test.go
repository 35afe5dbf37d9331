package pubsub

import (
	"context"
	"testing"

	"github.com/angelmondragon/events-collector/pkg/config"
)

func TestTopicResourceName(t *testing.T) {
	c := &Client{projectID: "proj"}
	cases := []struct {
		in   string
		want string
	}{
		{"deadletter", "projects/proj/topics/deadletter"},
		{"  deadletter ", "projects/proj/topics/deadletter"},
		{"projects/other/topics/deadletter", "projects/other/topics/deadletter"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := c.topicResourceName(tc.in); got != tc.want {
			t.Fatalf("topicResourceName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	if got := (&Client{}).topicResourceName("deadletter"); got != "" {
		t.Fatalf("expected empty name without project, got %q", got)
	}
}

func TestTopicNamesDropsBlanks(t *testing.T) {
	got := topicNames([]string{" a ", "", "  ", "b"})
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected topics %v", got)
	}
}

func TestNewClientRequiresProject(t *testing.T) {
	if _, err := NewClient(context.Background(), config.GCPConfig{}, []string{"t"}, nil); err != errProjectIDRequired {
		t.Fatalf("expected project id error, got %v", err)
	}
}

func TestNilHandles(t *testing.T) {
	var c *Client
	if c.Publisher("t") != nil {
		t.Fatal("expected nil publisher from nil client")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close on nil client: %v", err)
	}
	var p *TopicPublisher
	if _, err := p.Publish(context.Background(), []byte("x"), nil); err == nil {
		t.Fatal("expected error from nil publisher")
	}
	p.Stop()
}
