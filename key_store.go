package main

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrKeyNotFound = errors.New("key not found")
	ErrKeyExists   = errors.New("key already exists")
)

// KeyRecord is a stored key. PEM holds PKCS#8 for private keys and PKIX for
// public ones.
type KeyRecord struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name        string    `gorm:"column:name;uniqueIndex;not null"`
	Algorithm   string    `gorm:"column:algorithm;not null"`
	Private     bool      `gorm:"column:private;not null"`
	Bits        int       `gorm:"column:bits;not null"`
	Fingerprint string    `gorm:"column:fingerprint;index;not null"`
	PEM         string    `gorm:"column:pem;not null"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (KeyRecord) TableName() string {
	return "keys"
}

// KeyStore persists KeyRecords.
type KeyStore struct {
	db *gorm.DB
}

func NewKeyStore(db *gorm.DB) *KeyStore {
	return &KeyStore{db: db}
}

// WithContext returns a store whose queries run under ctx.
func (s *KeyStore) WithContext(ctx context.Context) *KeyStore {
	return &KeyStore{db: s.db.WithContext(ctx)}
}

// Create stores rec, assigning an ID when it has none. Names are unique.
func (s *KeyStore) Create(rec *KeyRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&KeyRecord{}).Where("name = ?", rec.Name).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrKeyExists
		}
		return tx.Create(rec).Error
	})
}

func (s *KeyStore) Get(id uuid.UUID) (*KeyRecord, error) {
	return s.first("id = ?", id)
}

func (s *KeyStore) GetByName(name string) (*KeyRecord, error) {
	return s.first("name = ?", name)
}

// Resolve looks a key up by ID when ref parses as a UUID and by name otherwise.
func (s *KeyStore) Resolve(ref string) (*KeyRecord, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return s.Get(id)
	}
	return s.GetByName(ref)
}

func (s *KeyStore) first(query string, arg any) (*KeyRecord, error) {
	var rec KeyRecord
	if err := s.db.Where(query, arg).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// List returns stored keys, oldest first unless options say otherwise.
func (s *KeyStore) List(options ListOptions) ([]KeyRecord, error) {
	var recs []KeyRecord
	if err := options.apply(s.db, "created_at", SortTypeAscending).Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

func (s *KeyStore) Delete(id uuid.UUID) error {
	res := s.db.Where("id = ?", id).Delete(&KeyRecord{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrKeyNotFound
	}
	return nil
}

func (s *KeyStore) Count() (int64, error) {
	var count int64
	err := s.db.Model(&KeyRecord{}).Count(&count).Error
	return count, err
}
