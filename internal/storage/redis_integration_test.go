//go:build integration

package storage

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

func openTestRedis(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("MDPRESS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("MDPRESS_TEST_REDIS_ADDR not set")
	}
	r, err := OpenRedis(context.Background(), RedisOptions{Addr: addr, DB: 15})
	if err != nil {
		t.Fatalf("OpenRedis: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRedisDocumentRoundTrip(t *testing.T) {
	r := openTestRedis(t)
	ctx := context.Background()

	doc := Document{
		ID:        NewDocumentID(),
		Content:   "# Hello",
		Template:  "tech_intro",
		Title:     "Hello",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := r.SaveDocument(ctx, doc); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	if err := r.SaveDocument(ctx, doc); err == nil {
		t.Error("expected error when reusing an id")
	}

	got, err := r.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.Content != doc.Content || got.Template != doc.Template || got.Title != doc.Title || !got.CreatedAt.Equal(doc.CreatedAt) {
		t.Errorf("got %+v, want %+v", got, doc)
	}
	if !got.ExpiresAt.IsZero() {
		t.Errorf("ExpiresAt = %v, want zero", got.ExpiresAt)
	}
}

func TestRedisDocumentTTL(t *testing.T) {
	r := openTestRedis(t)
	ctx := context.Background()

	doc := Document{ID: NewDocumentID(), Content: "x", CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Second)}
	if err := r.SaveDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}
	if _, err := r.GetDocument(ctx, doc.ID); err != nil {
		t.Fatalf("GetDocument before expiry: %v", err)
	}
	time.Sleep(1500 * time.Millisecond)
	if _, err := r.GetDocument(ctx, doc.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound after expiry", err)
	}
}

func TestRedisGetMissing(t *testing.T) {
	r := openTestRedis(t)
	if _, err := r.GetDocument(context.Background(), "0000000000000000"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
