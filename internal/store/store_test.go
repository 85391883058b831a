package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return New(rdb), mr
}

type testDoc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestGetJSON_Absent(t *testing.T) {
	s, _ := newTestStore(t)

	var doc testDoc
	ok, err := s.GetJSON(context.Background(), "missing", &doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected ok=false for absent key")
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	in := testDoc{Name: "alice", Count: 3}
	if err := s.PutJSON(ctx, "doc", in); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	var out testDoc
	ok, err := s.GetJSON(ctx, "doc", &out)
	if err != nil || !ok {
		t.Fatalf("get failed: ok=%v err=%v", ok, err)
	}
	if out != in {
		t.Errorf("expected %+v, got %+v", in, out)
	}
}

func TestGetJSON_CorruptReadsAsAbsent(t *testing.T) {
	s, mr := newTestStore(t)

	if err := mr.Set("lightfox:doc", "{broken"); err != nil {
		t.Fatalf("seeding corrupt value: %v", err)
	}

	var doc testDoc
	ok, err := s.GetJSON(context.Background(), "doc", &doc)
	if err != nil {
		t.Fatalf("expected corrupt value to read as absent, got: %v", err)
	}
	if ok {
		t.Error("expected ok=false for corrupt value")
	}
}

func TestPutJSONTTL(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	if err := s.PutJSONTTL(ctx, "doc", testDoc{Name: "x"}, time.Hour); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	if ttl := mr.TTL("lightfox:doc"); ttl != time.Hour {
		t.Errorf("expected 1h TTL, got %v", ttl)
	}

	mr.FastForward(2 * time.Hour)

	var doc testDoc
	ok, err := s.GetJSON(ctx, "doc", &doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected key to expire")
	}
}

func TestDelete(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.PutJSON(ctx, "a", testDoc{}); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := s.PutJSON(ctx, "b", testDoc{}); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	// Deleting a mix of present and absent keys succeeds.
	if err := s.Delete(ctx, "a", "b", "never-existed"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	var doc testDoc
	if ok, _ := s.GetJSON(ctx, "a", &doc); ok {
		t.Error("expected key a to be deleted")
	}
}

func TestUpdate_CreatesAbsentKey(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	err := s.Update(ctx, "doc", func(current []byte) (any, error) {
		if current != nil {
			t.Errorf("expected nil current for absent key, got %q", current)
		}
		return testDoc{Name: "fresh"}, nil
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}

	var doc testDoc
	ok, err := s.GetJSON(ctx, "doc", &doc)
	if err != nil || !ok {
		t.Fatalf("get failed: ok=%v err=%v", ok, err)
	}
	if doc.Name != "fresh" {
		t.Errorf("expected created doc, got %+v", doc)
	}
}

func TestUpdate_ReadModifyWrite(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.PutJSON(ctx, "doc", testDoc{Name: "alice", Count: 1}); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		err := s.Update(ctx, "doc", func(current []byte) (any, error) {
			var doc testDoc
			if len(current) > 0 {
				if err := json.Unmarshal(current, &doc); err != nil {
					return nil, err
				}
			}
			doc.Count++
			return doc, nil
		})
		if err != nil {
			t.Fatalf("update %d failed: %v", i, err)
		}
	}

	var doc testDoc
	if _, err := s.GetJSON(ctx, "doc", &doc); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if doc.Count != 6 {
		t.Errorf("expected count 6, got %d", doc.Count)
	}
}

func TestUpdate_FnErrorAborts(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.PutJSON(ctx, "doc", testDoc{Name: "alice"}); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	wantErr := errors.New("rejected")
	err := s.Update(ctx, "doc", func(current []byte) (any, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected fn error to surface, got: %v", err)
	}

	// The stored value is untouched.
	var doc testDoc
	if _, err := s.GetJSON(ctx, "doc", &doc); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if doc.Name != "alice" {
		t.Errorf("expected original value, got %+v", doc)
	}
}

func TestPublishSubscribe(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	sub := s.Subscribe(ctx, "events")
	defer sub.Close()

	// Wait for the subscription to be established before publishing.
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := s.Publish(ctx, "events", `{"at":"now"}`); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		if msg.Payload != `{"at":"now"}` {
			t.Errorf("unexpected payload: %s", msg.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}
