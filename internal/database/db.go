package database

import (
	"time"

	"github.com/jinzhu/gorm"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/pkg/errors"

	"kdsboard/internal/models"
)

// ErrNotFound is returned when an order does not exist
var ErrNotFound = errors.New("order not found")

// OrderRecord is a stored order. Items belong to kitchen centers so one
// order can be split across stations.
type OrderRecord struct {
	ID            uint `gorm:"primary_key"`
	TableID       int64
	Total         float64
	Status        string `gorm:"index"`
	CustomerAlias string
	CreatedAt     time.Time `gorm:"index"`
	UpdatedAt     time.Time
	Items         []ItemRecord `gorm:"foreignkey:OrderID"`
}

// TableName implements gorm's tabler
func (OrderRecord) TableName() string { return "orders" }

// ItemRecord is one line of a stored order
type ItemRecord struct {
	ID       uint  `gorm:"primary_key"`
	OrderID  uint  `gorm:"index"`
	CenterID int64 `gorm:"index"`
	Quantity int
	Name     string
	Note     string
}

// TableName implements gorm's tabler
func (ItemRecord) TableName() string { return "order_items" }

// ToOrder converts the record to its wire form. A non-zero centerID keeps only
// that center's items.
func (r OrderRecord) ToOrder(centerID int64) models.Order {
	o := models.Order{
		ID:            int64(r.ID),
		TableID:       r.TableID,
		CreatedAt:     models.NewTimestamp(r.CreatedAt),
		Total:         r.Total,
		Items:         []models.LineItem{},
		Status:        models.Status(r.Status),
		CustomerAlias: r.CustomerAlias,
	}
	for _, it := range r.Items {
		if centerID != 0 && it.CenterID != centerID {
			continue
		}
		o.Items = append(o.Items, models.LineItem{Quantity: it.Quantity, Name: it.Name, Note: it.Note})
	}
	if o.Status == models.StatusPaymentDue {
		o.AmountDue = r.Total
	}
	return o
}

// Centers returns the distinct kitchen centers the order's items belong to
func (r OrderRecord) Centers() []int64 {
	seen := make(map[int64]bool)
	var centers []int64
	for _, it := range r.Items {
		if !seen[it.CenterID] {
			seen[it.CenterID] = true
			centers = append(centers, it.CenterID)
		}
	}
	return centers
}

// Store is the order database of the development backend
type Store struct {
	db *gorm.DB
}

// Open connects to the sqlite database at path and migrates the schema
func Open(path string) (*Store, error) {
	db, err := gorm.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open database %s", path)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database
		db.DB().SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&OrderRecord{}, &ItemRecord{}).Error; err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate schema")
	}
	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateOrder inserts an order with its items. A zero CreatedAt is set to now.
func (s *Store) CreateOrder(rec *OrderRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Status == "" {
		rec.Status = string(models.StatusPending)
	}
	return errors.Wrap(s.db.Create(rec).Error, "create order")
}

// GetOrder loads an order with its items
func (s *Store) GetOrder(id uint) (*OrderRecord, error) {
	var rec OrderRecord
	err := s.db.Preload("Items").First(&rec, id).Error
	if gorm.IsRecordNotFoundError(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get order %d", id)
	}
	return &rec, nil
}

// ListByStatuses returns the orders in any of statuses, oldest first
func (s *Store) ListByStatuses(statuses ...models.Status) ([]OrderRecord, error) {
	var recs []OrderRecord
	err := s.db.Preload("Items").
		Where("status IN (?)", statusStrings(statuses)).
		Order("created_at asc, id asc").
		Find(&recs).Error
	return recs, errors.Wrap(err, "list orders")
}

// CompletedSince returns orders ready for pickup created at or after since
func (s *Store) CompletedSince(since time.Time) ([]OrderRecord, error) {
	var recs []OrderRecord
	err := s.db.Preload("Items").
		Where("status = ? AND created_at >= ?", string(models.StatusReadyForPickup), since.UTC()).
		Order("created_at asc, id asc").
		Find(&recs).Error
	return recs, errors.Wrap(err, "list completed orders")
}

// Delayed returns active orders created before cutoff, oldest first
func (s *Store) Delayed(cutoff time.Time, limit int) ([]OrderRecord, error) {
	var recs []OrderRecord
	err := s.db.Preload("Items").
		Where("status IN (?) AND created_at < ?",
			statusStrings([]models.Status{models.StatusPending, models.StatusInPreparation}), cutoff.UTC()).
		Order("created_at asc, id asc").
		Limit(limit).
		Find(&recs).Error
	return recs, errors.Wrap(err, "list delayed orders")
}

// UpdateStatus sets an order's status
func (s *Store) UpdateStatus(id uint, status models.Status) error {
	res := s.db.Model(&OrderRecord{}).Where("id = ?", id).Update("status", string(status))
	if res.Error != nil {
		return errors.Wrapf(res.Error, "update order %d", id)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetCustomerAlias records who announced a cash payment
func (s *Store) SetCustomerAlias(id uint, alias string) error {
	res := s.db.Model(&OrderRecord{}).Where("id = ?", id).Update("customer_alias", alias)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "update order %d", id)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Count returns the number of stored orders
func (s *Store) Count() (int, error) {
	var n int
	err := s.db.Model(&OrderRecord{}).Count(&n).Error
	return n, errors.Wrap(err, "count orders")
}

func statusStrings(statuses []models.Status) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}
