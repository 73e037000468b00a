package store

import (
	"encoding/json"
	"time"

	"github.com/stone-age-io/hostscan/internal/report"
	"go.etcd.io/bbolt"
)

// indexKey orders scans chronologically under bbolt's byte-wise key order
func indexKey(doc *report.Document) []byte {
	return []byte(doc.StartedAt.UTC().Format("20060102T150405.000000000") + "/" + doc.ScanID)
}

// SaveScan stores a scan document and then trims history to the newest
// limit scans. A limit of zero or less keeps everything.
func (s *Store) SaveScan(doc *report.Document, limit int) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(doc)
		if err != nil {
			return err
		}

		scans := tx.Bucket([]byte(bucketScans))
		if err := scans.Put([]byte(doc.ScanID), data); err != nil {
			return err
		}
		index := tx.Bucket([]byte(bucketScanIndex))
		if err := index.Put(indexKey(doc), []byte(doc.ScanID)); err != nil {
			return err
		}

		if limit <= 0 {
			return nil
		}
		count := 0
		c := index.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			count++
		}
		excess := count - limit
		if excess <= 0 {
			return nil
		}

		// Oldest first; collect before deleting so the cursor stays valid
		var oldKeys, oldIDs [][]byte
		for k, v := c.First(); k != nil && len(oldKeys) < excess; k, v = c.Next() {
			oldKeys = append(oldKeys, append([]byte(nil), k...))
			oldIDs = append(oldIDs, append([]byte(nil), v...))
		}
		for i := range oldKeys {
			if err := index.Delete(oldKeys[i]); err != nil {
				return err
			}
			if err := scans.Delete(oldIDs[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetScan returns the scan with the given ID or ErrNotFound
func (s *Store) GetScan(id string) (*report.Document, error) {
	var doc *report.Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketScans)).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		doc = &report.Document{}
		return json.Unmarshal(data, doc)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// ListScans returns up to limit scans, newest first. A limit of zero or
// less returns all of them.
func (s *Store) ListScans(limit int) ([]*report.Document, error) {
	docs := []*report.Document{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		scans := tx.Bucket([]byte(bucketScans))
		c := tx.Bucket([]byte(bucketScanIndex)).Cursor()
		for k, id := c.Last(); k != nil; k, id = c.Prev() {
			if limit > 0 && len(docs) >= limit {
				break
			}
			data := scans.Get(id)
			if data == nil {
				continue
			}
			var doc report.Document
			if err := json.Unmarshal(data, &doc); err != nil {
				return err
			}
			docs = append(docs, &doc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// LatestScan returns the most recent scan or ErrNotFound
func (s *Store) LatestScan() (*report.Document, error) {
	docs, err := s.ListScans(1)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return docs[0], nil
}

type feedEntry struct {
	FetchedAt time.Time `json:"fetched_at"`
	Data      []byte    `json:"data"`
}

// GetFeed returns a cached feed payload and when it was fetched
func (s *Store) GetFeed(name string) ([]byte, time.Time, bool, error) {
	var entry *feedEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketFeedCache)).Get([]byte(name))
		if data == nil {
			return nil
		}
		entry = &feedEntry{}
		return json.Unmarshal(data, entry)
	})
	if err != nil || entry == nil {
		return nil, time.Time{}, false, err
	}
	return entry.Data, entry.FetchedAt, true, nil
}

// PutFeed caches a feed payload
func (s *Store) PutFeed(name string, data []byte, fetchedAt time.Time) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		raw, err := json.Marshal(feedEntry{FetchedAt: fetchedAt, Data: data})
		if err != nil {
			return err
		}
		return tx.Bucket([]byte(bucketFeedCache)).Put([]byte(name), raw)
	})
}
