// Copyright (c) 2025, NVIDIA CORPORATION.  All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"

	"github.com/NVIDIA/slurm-k8s-bridge/pkg/job"
)

const recordsBucket = "records"

// Bolt is a Store persisted to a single bbolt file, keyed by identity with
// JSON-encoded records. It lets the reconciler resume tracking after a restart.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the database at file. It fails after a second
// when another process holds the file lock.
func OpenBolt(file string) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	db, err := bolt.Open(file, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", file, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(recordsBucket))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	return &Bolt{db: db}, nil
}

func (b *Bolt) Create(rec *job.DispatchRecord) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", rec.Identity, err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(recordsBucket))
		key := []byte(rec.Identity)
		if bucket.Get(key) != nil {
			return exists(rec.Identity)
		}
		return bucket.Put(key, val)
	})
}

func (b *Bolt) Get(id job.Identity) (*job.DispatchRecord, error) {
	var rec *job.DispatchRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		val := tx.Bucket([]byte(recordsBucket)).Get([]byte(id))
		if val == nil {
			return notFound(id)
		}
		var err error
		rec, err = decode(val)
		return err
	})
	return rec, err
}

func (b *Bolt) Update(id job.Identity, fn UpdateFunc) (*job.DispatchRecord, error) {
	var rec *job.DispatchRecord
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(recordsBucket))
		val := bucket.Get([]byte(id))
		if val == nil {
			return notFound(id)
		}
		cur, err := decode(val)
		if err != nil {
			return err
		}
		if err := fn(cur); err != nil {
			return err
		}
		cur.Identity = id
		next, err := json.Marshal(cur)
		if err != nil {
			return fmt.Errorf("failed to encode record %s: %w", id, err)
		}
		rec = cur
		return bucket.Put([]byte(id), next)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (b *Bolt) Delete(id job.Identity) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(recordsBucket)).Delete([]byte(id))
	})
}

func (b *Bolt) List() ([]*job.DispatchRecord, error) {
	var out []*job.DispatchRecord
	err := b.forEach(func(rec *job.DispatchRecord) error {
		out = append(out, rec)
		return nil
	})
	return out, err
}

func (b *Bolt) InFlight() (int, error) {
	n := 0
	err := b.forEach(func(rec *job.DispatchRecord) error {
		if !rec.Phase.IsTerminal() {
			n++
		}
		return nil
	})
	return n, err
}

func (b *Bolt) Close() error {
	return b.db.Close()
}

func (b *Bolt) forEach(f func(rec *job.DispatchRecord) error) error {
	return b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(recordsBucket)).ForEach(func(_, v []byte) error {
			rec, err := decode(v)
			if err != nil {
				return err
			}
			return f(rec)
		})
	})
}

func decode(val []byte) (*job.DispatchRecord, error) {
	var rec job.DispatchRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &rec, nil
}
