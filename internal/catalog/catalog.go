// Package catalog is the static read-only merchant directory. Agents can
// only spend at listed merchants on listed items; pricing lives here, not
// in the spend request.
package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/KayaSend/remit-backend/internal/models"
)

// Directory resolves merchants and their priced items.
type Directory interface {
	GetMerchant(id string) (*models.Merchant, bool)
	GetItem(merchantID, itemID string) (*models.Item, bool)
}

// Static is an in-memory directory loaded once at startup.
type Static struct {
	merchants map[string]*models.Merchant
}

// NewStatic builds a directory from a merchant list.
func NewStatic(merchants []models.Merchant) *Static {
	m := make(map[string]*models.Merchant, len(merchants))
	for i := range merchants {
		m[merchants[i].ID] = &merchants[i]
	}
	return &Static{merchants: m}
}

// LoadFile reads a YAML merchant directory.
func LoadFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var doc struct {
		Merchants []models.Merchant `yaml:"merchants"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(doc.Merchants) == 0 {
		return nil, fmt.Errorf("catalog %s lists no merchants", path)
	}
	return NewStatic(doc.Merchants), nil
}

func (s *Static) GetMerchant(id string) (*models.Merchant, bool) {
	m, ok := s.merchants[id]
	return m, ok
}

func (s *Static) GetItem(merchantID, itemID string) (*models.Item, bool) {
	m, ok := s.merchants[merchantID]
	if !ok {
		return nil, false
	}
	for i := range m.Items {
		if m.Items[i].ID == itemID {
			return &m.Items[i], true
		}
	}
	return nil, false
}
