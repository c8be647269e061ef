// Package checkpoint persists tracker baselines between runs.
package checkpoint

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"

	"github.com/ethpandaops/casefeed/internal/delta"
)

var (
	baselinesBucket = []byte("baselines")
	progressBucket  = []byte("progress")
	lastFileKey     = []byte("last_file")
	keySep          = []byte{0}
)

// State is what a completed pass leaves behind.
type State struct {
	// LastFile is the name of the last file whose batch was written.
	LastFile string

	// Baselines are the tracker readings after LastFile.
	Baselines map[delta.Key]float64
}

// Store keeps State in a bbolt file.
type Store struct {
	log logrus.FieldLogger
	db  *bbolt.DB
}

// Open opens or creates the state file at path.
func Open(log logrus.FieldLogger, path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("opening state file %s (it may be locked by another run): %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{baselinesBucket, progressBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("creating state buckets: %w", err)
	}

	s := &Store{
		log: log.WithField("component", "checkpoint"),
		db:  db,
	}

	s.log.WithField("path", path).Info("Checkpoint state opened")

	return s, nil
}

// Load returns the stored state. A fresh store yields an empty State.
func (s *Store) Load() (State, error) {
	state := State{
		Baselines: make(map[delta.Key]float64),
	}

	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(progressBucket).Get(lastFileKey); v != nil {
			state.LastFile = string(v)
		}

		return tx.Bucket(baselinesBucket).ForEach(func(k, v []byte) error {
			key, err := decodeKey(k)
			if err != nil {
				return err
			}

			if len(v) != 8 {
				return fmt.Errorf("baseline %q: invalid value length %d", k, len(v))
			}

			state.Baselines[key] = math.Float64frombits(binary.BigEndian.Uint64(v))

			return nil
		})
	})
	if err != nil {
		return State{}, fmt.Errorf("loading checkpoint state: %w", err)
	}

	return state, nil
}

// Save replaces the stored state in a single transaction.
func (s *Store) Save(state State) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(baselinesBucket); err != nil {
			return err
		}

		b, err := tx.CreateBucket(baselinesBucket)
		if err != nil {
			return err
		}

		// bbolt holds value slices until commit, so each Put needs its own.
		for key, v := range state.Baselines {
			val := binary.BigEndian.AppendUint64(nil, math.Float64bits(v))

			if err := b.Put(encodeKey(key), val); err != nil {
				return err
			}
		}

		return tx.Bucket(progressBucket).Put(lastFileKey, []byte(state.LastFile))
	})
	if err != nil {
		return fmt.Errorf("saving checkpoint state: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"last_file": state.LastFile,
		"keys":      len(state.Baselines),
	}).Debug("Checkpoint state saved")

	return nil
}

// Close closes the state file.
func (s *Store) Close() error {
	return s.db.Close()
}

func encodeKey(k delta.Key) []byte {
	return bytes.Join([][]byte{[]byte(k.Coarse), []byte(k.Fine), []byte(k.Metric)}, keySep)
}

func decodeKey(b []byte) (delta.Key, error) {
	parts := bytes.Split(b, keySep)
	if len(parts) != 3 {
		return delta.Key{}, fmt.Errorf("baseline key %q: expected 3 parts, got %d", b, len(parts))
	}

	return delta.Key{
		Coarse: string(parts[0]),
		Fine:   string(parts[1]),
		Metric: string(parts[2]),
	}, nil
}
