package collab

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWebhookPublisherPostsVoteWithBearerToken(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	pub := NewWebhookPublisher(ts.URL, StaticTokenProvider("hook-secret"))
	err := pub.PublishVote(context.Background(), VoteEvent{
		InstanceID:      "inst-1",
		ChatID:          "group@g.us",
		SelectedOptions: []string{"B"},
		Resolved:        true,
		Timestamp:       time.Now(),
	})
	if err != nil {
		t.Fatalf("publish vote: %v", err)
	}
	if gotAuth != "Bearer hook-secret" {
		t.Fatalf("authorization header: %q", gotAuth)
	}
	if gotBody["type"] != "poll_vote" {
		t.Fatalf("envelope type: %v", gotBody["type"])
	}
	ev, ok := gotBody["event"].(map[string]any)
	if !ok || ev["instanceId"] != "inst-1" {
		t.Fatalf("event payload: %v", gotBody["event"])
	}
}

func TestWebhookPublisherReportsDownstreamFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	pub := NewWebhookPublisher(ts.URL, nil)
	if err := pub.PublishMessage(context.Background(), MessageEvent{InstanceID: "inst-1"}); err == nil {
		t.Fatal("expected error on 502 response")
	}
}
