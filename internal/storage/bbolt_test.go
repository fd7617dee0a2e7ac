package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"quickchat/internal/auth"
	"quickchat/internal/models"
)

func newTestStorage(t *testing.T) *BboltStorage {
	t.Helper()
	store, err := NewBboltStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStorage(t *testing.T) {
	store := newTestStorage(t)

	t.Run("Credentials", func(t *testing.T) {
		creds := auth.UserCredentials{
			User: models.User{
				ID:       "user1",
				Email:    "alice@example.com",
				FullName: "Alice",
			},
			PasswordHash: "hash",
		}

		if err := store.CreateCredentials(creds); err != nil {
			t.Fatalf("CreateCredentials failed: %v", err)
		}

		dup := creds
		dup.ID = "user2"
		dup.Email = "ALICE@example.com"
		if err := store.CreateCredentials(dup); !errors.Is(err, models.ErrUserExists) {
			t.Errorf("expected ErrUserExists for duplicate email, got %v", err)
		}

		listCreds, err := store.ListCredentials()
		if err != nil {
			t.Fatalf("ListCredentials failed: %v", err)
		}
		if len(listCreds) != 1 {
			t.Fatalf("expected 1 credential, got %d", len(listCreds))
		}
		if listCreds[0].PasswordHash != "hash" {
			t.Errorf("expected PasswordHash hash, got %s", listCreds[0].PasswordHash)
		}

		creds.Bio = "hello there"
		if err := store.UpdateCredentials(creds); err != nil {
			t.Fatalf("UpdateCredentials failed: %v", err)
		}
		got, err := store.GetCredentials("user1")
		if err != nil {
			t.Fatalf("GetCredentials failed: %v", err)
		}
		if got.Bio != "hello there" {
			t.Errorf("expected updated bio, got %q", got.Bio)
		}

		missing := creds
		missing.ID = "ghost"
		if err := store.UpdateCredentials(missing); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if _, err := store.GetCredentials("ghost"); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Messages", func(t *testing.T) {
		base := time.UnixMilli(1700000000000)
		store.now = func() time.Time { return base }
		defer func() { store.now = time.Now }()

		msg1, err := store.CreateMessage(models.Message{
			SenderID:   "a",
			ReceiverID: "b",
			Content:    models.Content{Text: "hello"},
			HTML:       "<p>hello</p>",
		})
		if err != nil {
			t.Fatalf("CreateMessage 1 failed: %v", err)
		}
		if msg1.ID == "" {
			t.Error("store did not assign an id")
		}
		if msg1.CreatedAt != base.UnixMilli() {
			t.Errorf("expected CreatedAt %d, got %d", base.UnixMilli(), msg1.CreatedAt)
		}
		if msg1.Seen {
			t.Error("new message must not be seen")
		}

		msg2, err := store.CreateMessage(models.Message{
			SenderID:   "b",
			ReceiverID: "a",
			Content:    models.Content{Image: "data:image/png;base64,AAAA"},
		})
		if err != nil {
			t.Fatalf("CreateMessage 2 failed: %v", err)
		}

		// Unrelated conversation must not leak into (a, b).
		if _, err := store.CreateMessage(models.Message{
			SenderID:   "a",
			ReceiverID: "c",
			Content:    models.Content{Text: "psst"},
		}); err != nil {
			t.Fatalf("CreateMessage 3 failed: %v", err)
		}

		for _, pair := range [][2]string{{"a", "b"}, {"b", "a"}} {
			msgs, err := store.FindMessages(pair[0], pair[1])
			if err != nil {
				t.Fatalf("FindMessages failed: %v", err)
			}
			if len(msgs) != 2 {
				t.Fatalf("expected 2 messages, got %d", len(msgs))
			}
			if msgs[0].ID != msg1.ID || msgs[1].ID != msg2.ID {
				t.Errorf("messages out of order: %s, %s", msgs[0].ID, msgs[1].ID)
			}
			if msgs[0].HTML != "<p>hello</p>" {
				t.Errorf("expected html to round-trip, got %q", msgs[0].HTML)
			}
			if msgs[1].Content.Image == "" || msgs[1].Content.Text != "" {
				t.Errorf("image content did not round-trip: %+v", msgs[1].Content)
			}
		}

		empty, err := store.FindMessages("x", "y")
		if err != nil {
			t.Fatalf("FindMessages failed: %v", err)
		}
		if len(empty) != 0 {
			t.Errorf("expected no messages, got %d", len(empty))
		}

		if _, err := store.CreateMessage(models.Message{SenderID: "a"}); err == nil {
			t.Error("expected error for message without receiver")
		}
	})

	t.Run("Seen", func(t *testing.T) {
		first, err := store.CreateMessage(models.Message{SenderID: "p", ReceiverID: "q", Content: models.Content{Text: "1"}})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := store.CreateMessage(models.Message{SenderID: "p", ReceiverID: "q", Content: models.Content{Text: "2"}}); err != nil {
			t.Fatal(err)
		}
		if _, err := store.CreateMessage(models.Message{SenderID: "r", ReceiverID: "q", Content: models.Content{Text: "3"}}); err != nil {
			t.Fatal(err)
		}

		count, err := store.CountUnseen("q", "p")
		if err != nil {
			t.Fatal(err)
		}
		if count != 2 {
			t.Errorf("expected 2 unseen from p, got %d", count)
		}

		if err := store.SetSeen(first.ID); err != nil {
			t.Fatalf("SetSeen failed: %v", err)
		}
		if err := store.SetSeen(first.ID); err != nil {
			t.Fatalf("second SetSeen failed: %v", err)
		}

		got, err := store.GetMessage(first.ID)
		if err != nil {
			t.Fatal(err)
		}
		if !got.Seen {
			t.Error("expected message to be seen")
		}

		count, err = store.CountUnseen("q", "p")
		if err != nil {
			t.Fatal(err)
		}
		if count != 1 {
			t.Errorf("expected 1 unseen from p, got %d", count)
		}

		counts, err := store.UnseenCounts("q")
		if err != nil {
			t.Fatal(err)
		}
		if counts["p"] != 1 || counts["r"] != 1 || len(counts) != 2 {
			t.Errorf("unexpected unseen counts: %v", counts)
		}

		counts, err = store.UnseenCounts("nobody")
		if err != nil {
			t.Fatal(err)
		}
		if len(counts) != 0 {
			t.Errorf("expected empty counts, got %v", counts)
		}

		if err := store.SetSeen("missing"); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if _, err := store.GetMessage("missing"); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Files", func(t *testing.T) {
		meta := ImageMetadata{
			ID:       "file1",
			Hash:     "abc",
			MimeType: "image/png",
			Size:     42,
			UserID:   "user1",
		}
		if err := store.PutImage(meta); err != nil {
			t.Fatalf("PutImage failed: %v", err)
		}
		got, err := store.GetImage("file1")
		if err != nil {
			t.Fatalf("GetImage failed: %v", err)
		}
		if got != meta {
			t.Errorf("expected %+v, got %+v", meta, got)
		}
		if _, err := store.GetImage("nope"); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("PushSubscriptions", func(t *testing.T) {
		sub := models.PushSubscription{UserID: "user1", Endpoint: "https://push.example/1", P256dh: "k", Auth: "a"}
		if err := store.UpsertPushSubscription(sub); err != nil {
			t.Fatalf("UpsertPushSubscription failed: %v", err)
		}
		subs, err := store.ListPushSubscriptions("user1")
		if err != nil {
			t.Fatal(err)
		}
		if len(subs) != 1 || subs[0] != sub {
			t.Errorf("unexpected subscriptions: %+v", subs)
		}

		if err := store.DeletePushSubscription("user1", sub.Endpoint); err != nil {
			t.Fatal(err)
		}
		subs, err = store.ListPushSubscriptions("user1")
		if err != nil {
			t.Fatal(err)
		}
		if len(subs) != 0 {
			t.Errorf("expected subscription to be deleted, got %+v", subs)
		}

		if err := store.DeletePushSubscription("nobody", "x"); err != nil {
			t.Errorf("deleting from unknown user should be a no-op, got %v", err)
		}
	})
}
