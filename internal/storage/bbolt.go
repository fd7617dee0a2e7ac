package storage

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"quickchat/internal/auth"
	"quickchat/internal/models"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var (
	bucketUsers         = []byte("users")
	bucketUserEmails    = []byte("user_emails")
	bucketMessages      = []byte("messages")
	bucketConversations = []byte("conversations")
	bucketUnseen        = []byte("unseen")
	bucketImages        = []byte("images")
	bucketPush          = []byte("push_subscriptions")
)

type BboltStorage struct {
	db  *bbolt.DB
	now func() time.Time
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{
			bucketUsers,
			bucketUserEmails,
			bucketMessages,
			bucketConversations,
			bucketUnseen,
			bucketImages,
			bucketPush,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db, now: time.Now}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// CreateCredentials stores a new user. The email must not be taken yet.
func (s *BboltStorage) CreateCredentials(credentials auth.UserCredentials) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		emails := tx.Bucket(bucketUserEmails)
		email := []byte(strings.ToLower(credentials.Email))
		if emails.Get(email) != nil {
			return models.ErrUserExists
		}
		if err := emails.Put(email, []byte(credentials.ID)); err != nil {
			return err
		}
		return putUser(tx, credentials)
	})
}

// UpdateCredentials overwrites an existing user.
func (s *BboltStorage) UpdateCredentials(credentials auth.UserCredentials) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketUsers).Get([]byte(credentials.ID)) == nil {
			return fmt.Errorf("user %s: %w", credentials.ID, models.ErrNotFound)
		}
		return putUser(tx, credentials)
	})
}

func putUser(tx *bbolt.Tx, credentials auth.UserCredentials) error {
	dbUser := &DBUser{
		ID:           credentials.ID,
		Email:        credentials.Email,
		FullName:     credentials.FullName,
		Bio:          credentials.Bio,
		ProfilePic:   credentials.ProfilePic,
		CreatedAt:    credentials.CreatedAt,
		PasswordHash: credentials.PasswordHash,
		TokenGen:     credentials.TokenGeneration,
	}
	return put(tx.Bucket(bucketUsers), dbUser)
}

// ListCredentials returns all users stored in the database.
func (s *BboltStorage) ListCredentials() ([]auth.UserCredentials, error) {
	var credentials []auth.UserCredentials
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		return b.ForEach(func(k, v []byte) error {
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(v); err != nil {
				return err
			}
			credentials = append(credentials, toCredentials(dbUser))
			return nil
		})
	})
	return credentials, err
}

// GetCredentials returns a single user by id.
func (s *BboltStorage) GetCredentials(id string) (auth.UserCredentials, error) {
	var dbUser DBUser
	err := s.db.View(func(tx *bbolt.Tx) error {
		return get(tx.Bucket(bucketUsers), []byte(id), &dbUser)
	})
	if err != nil {
		return auth.UserCredentials{}, fmt.Errorf("user %s: %w", id, err)
	}
	return toCredentials(dbUser), nil
}

func toCredentials(dbUser DBUser) auth.UserCredentials {
	return auth.UserCredentials{
		User: models.User{
			ID:         dbUser.ID,
			Email:      dbUser.Email,
			FullName:   dbUser.FullName,
			Bio:        dbUser.Bio,
			ProfilePic: dbUser.ProfilePic,
			CreatedAt:  dbUser.CreatedAt,
		},
		PasswordHash:    dbUser.PasswordHash,
		TokenGeneration: dbUser.TokenGen,
	}
}

// CreateMessage persists a new message. The store assigns ID, CreatedAt and
// the conversation sequence; Seen always starts as false.
func (s *BboltStorage) CreateMessage(draft models.Message) (models.Message, error) {
	if draft.SenderID == "" || draft.ReceiverID == "" {
		return models.Message{}, errors.New("message missing sender or receiver")
	}

	var dbMessage DBMessage
	err := s.db.Update(func(tx *bbolt.Tx) error {
		messages := tx.Bucket(bucketMessages)
		seq, err := messages.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate sequence: %w", err)
		}

		dbMessage = DBMessage{
			ID:         uuid.NewString(),
			Seq:        seq,
			SenderID:   draft.SenderID,
			ReceiverID: draft.ReceiverID,
			Text:       draft.Content.Text,
			Image:      draft.Content.Image,
			HTML:       draft.HTML,
			CreatedAt:  s.now().UnixMilli(),
		}

		data, err := dbMessage.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := messages.Put(dbMessage.Key(), data); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}

		conversations := tx.Bucket(bucketConversations)
		conversation, err := conversations.CreateBucketIfNotExists(conversationKey(draft.SenderID, draft.ReceiverID))
		if err != nil {
			return fmt.Errorf("failed to create conversation bucket: %w", err)
		}
		if err := conversation.Put(dbMessage.SeqKey(), dbMessage.Key()); err != nil {
			return fmt.Errorf("failed to index message: %w", err)
		}

		unseen, err := tx.Bucket(bucketUnseen).CreateBucketIfNotExists([]byte(draft.ReceiverID))
		if err != nil {
			return fmt.Errorf("failed to create unseen bucket: %w", err)
		}
		return unseen.Put(dbMessage.UnseenKey(), []byte{})
	})
	if err != nil {
		return models.Message{}, err
	}

	return toMessage(dbMessage), nil
}

// GetMessage returns a single message by id.
func (s *BboltStorage) GetMessage(id string) (models.Message, error) {
	var dbMessage DBMessage
	err := s.db.View(func(tx *bbolt.Tx) error {
		return get(tx.Bucket(bucketMessages), []byte(id), &dbMessage)
	})
	if err != nil {
		return models.Message{}, fmt.Errorf("message %s: %w", id, err)
	}
	return toMessage(dbMessage), nil
}

// FindMessages returns every message exchanged between two users,
// in the order they were persisted.
func (s *BboltStorage) FindMessages(userA, userB string) ([]models.Message, error) {
	messages := []models.Message{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		conversation := tx.Bucket(bucketConversations).Bucket(conversationKey(userA, userB))
		if conversation == nil {
			return nil
		}

		byID := tx.Bucket(bucketMessages)
		c := conversation.Cursor()
		for k, id := c.First(); k != nil; k, id = c.Next() {
			data := byID.Get(id)
			if data == nil {
				return fmt.Errorf("conversation index points to missing message %s", id)
			}
			var dbMessage DBMessage
			if err := dbMessage.UnmarshalBinary(data); err != nil {
				return err
			}
			messages = append(messages, toMessage(dbMessage))
		}
		return nil
	})
	return messages, err
}

// SetSeen flags the message as seen. Setting it again is a no-op.
func (s *BboltStorage) SetSeen(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		messages := tx.Bucket(bucketMessages)
		data := messages.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("message %s: %w", id, models.ErrNotFound)
		}

		var dbMessage DBMessage
		if err := dbMessage.UnmarshalBinary(data); err != nil {
			return err
		}
		if dbMessage.Seen {
			return nil
		}

		dbMessage.Seen = true
		newData, err := dbMessage.MarshalBinary()
		if err != nil {
			return err
		}
		if err := messages.Put(dbMessage.Key(), newData); err != nil {
			return err
		}

		if unseen := tx.Bucket(bucketUnseen).Bucket([]byte(dbMessage.ReceiverID)); unseen != nil {
			return unseen.Delete(dbMessage.UnseenKey())
		}
		return nil
	})
}

// CountUnseen returns how many messages from senderID receiverID has not seen.
func (s *BboltStorage) CountUnseen(receiverID, senderID string) (int, error) {
	count := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		unseen := tx.Bucket(bucketUnseen).Bucket([]byte(receiverID))
		if unseen == nil {
			return nil
		}

		prefix := append([]byte(senderID), unseenSep)
		c := unseen.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// UnseenCounts returns the number of unseen messages addressed to receiverID,
// grouped by sender. Senders with nothing unseen are absent.
func (s *BboltStorage) UnseenCounts(receiverID string) (map[string]int, error) {
	counts := make(map[string]int)
	err := s.db.View(func(tx *bbolt.Tx) error {
		unseen := tx.Bucket(bucketUnseen).Bucket([]byte(receiverID))
		if unseen == nil {
			return nil
		}
		return unseen.ForEach(func(k, _ []byte) error {
			senderID, _, ok := bytes.Cut(k, []byte{unseenSep})
			if !ok {
				return fmt.Errorf("malformed unseen key %q", k)
			}
			counts[string(senderID)]++
			return nil
		})
	})
	return counts, err
}

func toMessage(m DBMessage) models.Message {
	return models.Message{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content: models.Content{
			Text:  m.Text,
			Image: m.Image,
		},
		HTML:      m.HTML,
		CreatedAt: m.CreatedAt,
		Seen:      m.Seen,
	}
}

// conversationKey is the same for (a, b) and (b, a).
func conversationKey(a, b string) []byte {
	ids := []string{a, b}
	sort.Strings(ids)
	return []byte(fmt.Sprintf("dm_%s_%s", ids[0], ids[1]))
}
