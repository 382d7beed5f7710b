package adapters

import (
	"context"

	"gorm.io/gorm"

	"go-fulfillment/internal/orders/ports"
	apperrors "go-fulfillment/pkg/errors"
)

// MenuItemModel is the read side of the menu table. The orchestrator never
// writes to it.
type MenuItemModel struct {
	ID                     uint64 `gorm:"primaryKey"`
	Name                   string `gorm:"size:255;not null"`
	Description            string `gorm:"size:2000"`
	Category               string `gorm:"size:128;index"`
	Price                  int64  `gorm:"not null"`
	IsAvailable            bool   `gorm:"not null;default:true"`
	PreparationTimeMinutes int
}

// TableName returns the table name for GORM
func (MenuItemModel) TableName() string {
	return "menu_items"
}

// PostgresCatalog prices order lines from the menu_items table
type PostgresCatalog struct {
	db *gorm.DB
}

// NewPostgresCatalog creates a catalog backed by PostgreSQL
func NewPostgresCatalog(db *gorm.DB) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

// Lookup implements ports.Catalog
func (c *PostgresCatalog) Lookup(ctx context.Context, itemIDs []uint64) (map[uint64]ports.CatalogItem, error) {
	var models []MenuItemModel
	if err := c.db.WithContext(ctx).Where("id IN ?", itemIDs).Find(&models).Error; err != nil {
		return nil, apperrors.NewInternal("failed to look up menu items", err)
	}

	out := make(map[uint64]ports.CatalogItem, len(models))
	for _, m := range models {
		out[m.ID] = ports.CatalogItem{
			ID:          m.ID,
			Name:        m.Name,
			Description: m.Description,
			Price:       m.Price,
			Available:   m.IsAvailable,
		}
	}
	return out, nil
}

// StaticCatalog serves a fixed menu, used with the in-memory store
type StaticCatalog struct {
	items map[uint64]ports.CatalogItem
}

// NewStaticCatalog creates a catalog from a fixed list of entries
func NewStaticCatalog(items ...ports.CatalogItem) *StaticCatalog {
	c := &StaticCatalog{items: make(map[uint64]ports.CatalogItem, len(items))}
	for _, item := range items {
		c.items[item.ID] = item
	}
	return c
}

// Lookup implements ports.Catalog
func (c *StaticCatalog) Lookup(ctx context.Context, itemIDs []uint64) (map[uint64]ports.CatalogItem, error) {
	out := make(map[uint64]ports.CatalogItem, len(itemIDs))
	for _, id := range itemIDs {
		if item, ok := c.items[id]; ok {
			out[id] = item
		}
	}
	return out, nil
}

// DemoMenu is the menu loaded by the in-memory store
func DemoMenu() []ports.CatalogItem {
	return []ports.CatalogItem{
		{ID: 1, Name: "Jollof Rice", Description: "Smoky party jollof with plantain", Price: 1500, Available: true},
		{ID: 2, Name: "Suya Platter", Description: "Spiced beef skewers with onions", Price: 1800, Available: true},
		{ID: 3, Name: "Pepper Soup", Description: "Goat meat pepper soup", Price: 1200, Available: true},
		{ID: 4, Name: "Puff Puff", Description: "Sweet fried dough, dozen", Price: 600, Available: false},
	}
}
