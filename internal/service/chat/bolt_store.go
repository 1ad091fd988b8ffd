package chat

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/zhouzirui/polymind/backend/internal/model/chat"
)

var (
	bucketSessions     = []byte("sessions")
	bucketUserSessions = []byte("user_sessions")
	bucketMessages     = []byte("messages")
)

// BoltStore persists sessions and messages in a single BoltDB file.
//
// Layout:
//
//	sessions/<sessionID>             -> Session JSON
//	user_sessions/<userID>/<session> -> ownership index
//	messages/<sessionID>/<seq>       -> Message JSON, seq is big-endian
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

// OpenBoltStore opens (or creates) the store at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketSessions, bucketUserSessions, bucketMessages} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init bolt buckets: %w", err)
	}
	return &BoltStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases the database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// CreateSession provisions a session owned by userID.
func (s *BoltStore) CreateSession(_ context.Context, userID, title string) (chat.Session, error) {
	if userID == "" {
		return chat.Session{}, ErrUserRequired
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return chat.Session{}, ErrTitleRequired
	}

	now := s.now()
	session := chat.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := putJSON(tx.Bucket(bucketSessions), []byte(session.ID), session); err != nil {
			return err
		}
		owned, err := tx.Bucket(bucketUserSessions).CreateBucketIfNotExists([]byte(userID))
		if err != nil {
			return err
		}
		if err := owned.Put([]byte(session.ID), []byte{}); err != nil {
			return err
		}
		_, err = tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(session.ID))
		return err
	})
	if err != nil {
		return chat.Session{}, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// ListSessions returns the user's sessions, newest first.
func (s *BoltStore) ListSessions(_ context.Context, userID string) ([]chat.Session, error) {
	if userID == "" {
		return nil, ErrUserRequired
	}

	sessions := make([]chat.Session, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		owned := tx.Bucket(bucketUserSessions).Bucket([]byte(userID))
		if owned == nil {
			return nil
		}
		all := tx.Bucket(bucketSessions)
		return owned.ForEach(func(k, _ []byte) error {
			var session chat.Session
			ok, err := getJSON(all, k, &session)
			if err != nil || !ok {
				return err
			}
			sessions = append(sessions, session)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sortNewestFirst(sessions)
	return sessions, nil
}

// GetSessionWithMessages returns a session and its messages in timestamp order.
func (s *BoltStore) GetSessionWithMessages(_ context.Context, userID, sessionID string) (chat.SessionWithMessages, error) {
	var out chat.SessionWithMessages
	err := s.db.View(func(tx *bolt.Tx) error {
		session, err := ownedSession(tx, userID, sessionID)
		if err != nil {
			return err
		}
		out.Session = session
		out.Messages = make([]chat.Message, 0)

		b := tx.Bucket(bucketMessages).Bucket([]byte(sessionID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var m chat.Message
			if err := json.Unmarshal(v, &m); err != nil {
				return fmt.Errorf("decode message: %w", err)
			}
			out.Messages = append(out.Messages, m)
			return nil
		})
	})
	if err != nil {
		return chat.SessionWithMessages{}, err
	}
	sortByTimestamp(out.Messages)
	return out, nil
}

// UpdateSessionTitle renames a session and bumps UpdatedAt.
func (s *BoltStore) UpdateSessionTitle(_ context.Context, userID, sessionID, title string) (chat.Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return chat.Session{}, ErrTitleRequired
	}

	var updated chat.Session
	err := s.db.Update(func(tx *bolt.Tx) error {
		session, err := ownedSession(tx, userID, sessionID)
		if err != nil {
			return err
		}
		session.Title = title
		session.UpdatedAt = s.now()
		updated = session
		return putJSON(tx.Bucket(bucketSessions), []byte(sessionID), session)
	})
	if err != nil {
		return chat.Session{}, err
	}
	return updated, nil
}

// DeleteSession removes a session with all of its messages in one transaction.
func (s *BoltStore) DeleteSession(_ context.Context, userID, sessionID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if _, err := ownedSession(tx, userID, sessionID); err != nil {
			return err
		}
		key := []byte(sessionID)
		if err := tx.Bucket(bucketSessions).Delete(key); err != nil {
			return err
		}
		if owned := tx.Bucket(bucketUserSessions).Bucket([]byte(userID)); owned != nil {
			if err := owned.Delete(key); err != nil {
				return err
			}
		}
		msgs := tx.Bucket(bucketMessages)
		if msgs.Bucket(key) != nil {
			return msgs.DeleteBucket(key)
		}
		return nil
	})
}

// AppendMessages appends all messages in a single transaction.
func (s *BoltStore) AppendMessages(_ context.Context, userID, sessionID string, messages []chat.NewMessage) ([]chat.Message, error) {
	if err := validateAppend(messages); err != nil {
		return nil, err
	}

	appended := make([]chat.Message, 0, len(messages))
	err := s.db.Update(func(tx *bolt.Tx) error {
		if _, err := ownedSession(tx, userID, sessionID); err != nil {
			return err
		}
		b, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(sessionID))
		if err != nil {
			return err
		}

		var last time.Time
		if _, v := b.Cursor().Last(); v != nil {
			var m chat.Message
			if err := json.Unmarshal(v, &m); err != nil {
				return fmt.Errorf("decode message: %w", err)
			}
			last = m.Timestamp
		}

		for _, nm := range messages {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			now := s.now()
			ts := nextTimestamp(last, now)
			last = ts
			m := chat.Message{
				ID:        uuid.NewString(),
				SessionID: sessionID,
				Content:   nm.Content,
				IsUser:    nm.IsUser,
				ModelID:   nm.ModelID,
				Timestamp: ts,
				CreatedAt: now,
			}
			if err := putJSON(b, seqKey(seq), m); err != nil {
				return err
			}
			appended = append(appended, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return appended, nil
}

func ownedSession(tx *bolt.Tx, userID, sessionID string) (chat.Session, error) {
	if userID == "" {
		return chat.Session{}, ErrUserRequired
	}
	var session chat.Session
	ok, err := getJSON(tx.Bucket(bucketSessions), []byte(sessionID), &session)
	if err != nil {
		return chat.Session{}, err
	}
	if !ok || session.UserID != userID {
		return chat.Session{}, ErrSessionNotFound
	}
	return session, nil
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

func getJSON(b *bolt.Bucket, key []byte, v any) (bool, error) {
	data := b.Get(key)
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}
