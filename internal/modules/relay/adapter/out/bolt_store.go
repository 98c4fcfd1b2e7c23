package out

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	collabdomain "livedoc/internal/modules/collab/domain"
)

var snapshotBucket = []byte("snapshots")

// BoltStore keeps one JSON snapshot per document in a single bbolt file.
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(snapshotBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create snapshot bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Load(_ context.Context, documentID string) (collabdomain.Document, bool, error) {
	var raw []byte
	if err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(snapshotBucket).Get([]byte(documentID)); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	}); err != nil {
		return collabdomain.Document{}, false, fmt.Errorf("load snapshot %s: %w", documentID, err)
	}
	if raw == nil {
		return collabdomain.Document{}, false, nil
	}
	var doc collabdomain.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return collabdomain.Document{}, false, fmt.Errorf("decode snapshot %s: %w", documentID, err)
	}
	return doc, true, nil
}

func (s *BoltStore) Save(_ context.Context, doc collabdomain.Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", doc.ID, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotBucket).Put([]byte(doc.ID), raw)
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
