// Package bolt provides a file-backed PayerLedger on bbolt. Every mutation
// runs inside a single bbolt write transaction, which gives AddSpend its
// single-writer read-modify-write discipline for free.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/nanobill/nanobill/internal/money"
	"github.com/nanobill/nanobill/internal/storage"
)

const bucketPayers = "payer_ledger"

// Ledger is a bbolt-backed PayerLedger.
type Ledger struct {
	db *bbolt.DB
}

// Open opens or creates the ledger database at path.
func Open(path string) (*Ledger, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketPayers))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func getRecord(b *bbolt.Bucket, payerID string) (*storage.PayerRecord, error) {
	data := b.Get([]byte(payerID))
	if data == nil {
		return nil, storage.ErrNotFound
	}
	var rec storage.PayerRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode payer record: %w", err)
	}
	return &rec, nil
}

func putRecord(b *bbolt.Bucket, rec *storage.PayerRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode payer record: %w", err)
	}
	return b.Put([]byte(rec.PayerID), data)
}

// LifetimeSpent returns the cumulative recorded spend for a payer.
func (l *Ledger) LifetimeSpent(_ context.Context, payerID string) (money.Amount, error) {
	var spent money.Amount
	err := l.db.View(func(tx *bbolt.Tx) error {
		rec, err := getRecord(tx.Bucket([]byte(bucketPayers)), payerID)
		if err == storage.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		spent = rec.LifetimeSpent
		return nil
	})
	return spent, err
}

// AddSpend atomically adds delta and returns the new total.
func (l *Ledger) AddSpend(_ context.Context, payerID string, delta money.Amount) (money.Amount, error) {
	var total money.Amount
	err := l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketPayers))
		rec, err := getRecord(b, payerID)
		if err == storage.ErrNotFound {
			rec = &storage.PayerRecord{PayerID: payerID}
		} else if err != nil {
			return err
		}

		rec.LifetimeSpent = rec.LifetimeSpent.Add(delta)
		rec.UpdatedAt = time.Now()
		total = rec.LifetimeSpent
		return putRecord(b, rec)
	})
	return total, err
}

// UniversalCap returns the payer's lifetime cap, nil when unset.
func (l *Ledger) UniversalCap(_ context.Context, payerID string) (*money.Amount, error) {
	var capValue *money.Amount
	err := l.db.View(func(tx *bbolt.Tx) error {
		rec, err := getRecord(tx.Bucket([]byte(bucketPayers)), payerID)
		if err == storage.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		if rec.UniversalCap != nil {
			v := *rec.UniversalCap
			capValue = &v
		}
		return nil
	})
	return capValue, err
}

// SetUniversalCap sets or replaces the payer's lifetime cap.
func (l *Ledger) SetUniversalCap(_ context.Context, payerID string, capAmount money.Amount) error {
	return l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketPayers))
		rec, err := getRecord(b, payerID)
		if err == storage.ErrNotFound {
			rec = &storage.PayerRecord{PayerID: payerID}
		} else if err != nil {
			return err
		}

		rec.UniversalCap = &capAmount
		rec.UpdatedAt = time.Now()
		return putRecord(b, rec)
	})
}

// ResetPayer clears the payer's cap and spend history.
func (l *Ledger) ResetPayer(_ context.Context, payerID string) error {
	return l.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketPayers)).Delete([]byte(payerID))
	})
}
