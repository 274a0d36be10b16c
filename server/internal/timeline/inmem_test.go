package timeline

import (
	"context"
	"testing"

	"lesson-sync/server/internal/syncproto"
)

// TestInMemoryStoreAppendAssignsSeq 同一课程 seq 递增，不同课程互不影响。
func TestInMemoryStoreAppendAssignsSeq(t *testing.T) {
	store := NewInMemoryStore(0)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		seq, err := store.Append(ctx, "L1", &Entry{Type: syncproto.TypeMaterialSync})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if seq != want {
			t.Fatalf("expected seq %d, got %d", want, seq)
		}
	}

	seq, _ := store.Append(ctx, "L2", &Entry{Type: syncproto.TypeMaterialSync})
	if seq != 1 {
		t.Fatalf("expected seq 1 for a new lesson, got %d", seq)
	}
}

// TestInMemoryStoreLimit 超过上限后只保留最近的记录，seq 继续递增。
func TestInMemoryStoreLimit(t *testing.T) {
	store := NewInMemoryStore(2)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		store.Append(ctx, "L1", &Entry{From: "tutor"})
	}

	entries, err := store.List(ctx, "L1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 || entries[0].Seq != 4 || entries[1].Seq != 5 {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if entries[0].LessonID != "L1" {
		t.Fatalf("lesson id not stamped: %+v", entries[0])
	}
}

// TestInMemoryStoreListAfterAndCopy List 按 after 过滤，并返回副本。
func TestInMemoryStoreListAfterAndCopy(t *testing.T) {
	store := NewInMemoryStore(0)
	ctx := context.Background()
	store.Append(ctx, "L1", &Entry{Action: "open"})
	store.Append(ctx, "L1", &Entry{Action: "play"})

	entries, _ := store.List(ctx, "L1", 1)
	if len(entries) != 1 || entries[0].Action != "play" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	entries[0].Action = "mutated"

	again, _ := store.List(ctx, "L1", 1)
	if again[0].Action != "play" {
		t.Fatalf("List should return a copy")
	}

	if err := store.Drop(ctx, "L1"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if entries, _ := store.List(ctx, "L1", 0); len(entries) != 0 {
		t.Fatalf("expected no entries after drop, got %d", len(entries))
	}
}

func TestDescribe(t *testing.T) {
	cases := []struct {
		env     syncproto.Envelope
		typ     string
		action  string
		version int64
	}{
		{&syncproto.MaterialSync{Type: syncproto.TypeMaterialSync, Action: syncproto.ActionPlay, StateVersion: 3}, syncproto.TypeMaterialSync, "play", 3},
		{&syncproto.ContentSync{Type: syncproto.TypeContentSync, StateVersion: 2, Action: syncproto.ContentAction{Kind: syncproto.ActionFocus}}, syncproto.TypeContentSync, "focus", 2},
		{&syncproto.BlockMediaSync{Type: syncproto.TypeBlockMediaSync, Kind: syncproto.ActionSeek}, syncproto.TypeBlockMediaSync, "seek", 0},
		{&syncproto.WorkspaceSync{T: syncproto.TypeWorkspaceSync, Open: true}, syncproto.TypeWorkspaceSync, "open", 0},
	}
	for _, tc := range cases {
		typ, action, version := Describe(tc.env)
		if typ != tc.typ || action != tc.action || version != tc.version {
			t.Errorf("Describe(%T) = %s/%s/%d", tc.env, typ, action, version)
		}
	}
}
