// Package menu holds the café's fixed catalog of items.
package menu

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

var ErrItemNotFound = errors.New("menu item not found")

type Item struct {
	ID          int             `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"-"`
	Category    string          `json:"category"`
	Image       string          `json:"image"`
}

// Catalog is read-only after loading and safe for concurrent use.
type Catalog struct {
	items []Item
	byID  map[int]int
}

type catalogFile struct {
	Items []itemEntry `yaml:"items"`
}

type itemEntry struct {
	ID          int    `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Price       string `yaml:"price"`
	Category    string `yaml:"category"`
	Image       string `yaml:"image"`
}

// LoadFile loads and parses a YAML menu from the given path.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read menu file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse parses YAML menu data and validates every entry.
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse menu YAML: %w", err)
	}
	if len(file.Items) == 0 {
		return nil, errors.New("menu has no items")
	}

	c := &Catalog{
		items: make([]Item, 0, len(file.Items)),
		byID:  make(map[int]int, len(file.Items)),
	}
	for i, entry := range file.Items {
		item, err := entry.toItem()
		if err != nil {
			return nil, fmt.Errorf("menu item %d: %w", i, err)
		}
		if _, dup := c.byID[item.ID]; dup {
			return nil, fmt.Errorf("menu item %d: duplicate id %d", i, item.ID)
		}
		c.byID[item.ID] = len(c.items)
		c.items = append(c.items, item)
	}

	return c, nil
}

func (e itemEntry) toItem() (Item, error) {
	name := strings.TrimSpace(e.Name)
	if name == "" {
		return Item{}, errors.New("name is required")
	}
	if e.ID <= 0 {
		return Item{}, fmt.Errorf("%s: id must be positive", name)
	}
	price, err := decimal.NewFromString(strings.TrimSpace(e.Price))
	if err != nil {
		return Item{}, fmt.Errorf("%s: invalid price %q", name, e.Price)
	}
	if price.IsNegative() {
		return Item{}, fmt.Errorf("%s: price cannot be negative", name)
	}

	return Item{
		ID:          e.ID,
		Name:        name,
		Description: strings.TrimSpace(e.Description),
		Price:       price.Round(2),
		Category:    strings.ToLower(strings.TrimSpace(e.Category)),
		Image:       e.Image,
	}, nil
}

// Items returns every item in file order.
func (c *Catalog) Items() []Item {
	return append([]Item(nil), c.items...)
}

// ByCategory returns the items in category, matched case-insensitively.
// An empty category returns everything.
func (c *Catalog) ByCategory(category string) []Item {
	category = strings.ToLower(strings.TrimSpace(category))
	if category == "" {
		return c.Items()
	}
	var out []Item
	for _, item := range c.items {
		if item.Category == category {
			out = append(out, item)
		}
	}
	return out
}

func (c *Catalog) Get(id int) (Item, error) {
	idx, ok := c.byID[id]
	if !ok {
		return Item{}, fmt.Errorf("%w: id %d", ErrItemNotFound, id)
	}
	return c.items[idx], nil
}

// Categories lists the distinct categories in order of first appearance.
func (c *Catalog) Categories() []string {
	seen := make(map[string]bool)
	var out []string
	for _, item := range c.items {
		if item.Category != "" && !seen[item.Category] {
			seen[item.Category] = true
			out = append(out, item.Category)
		}
	}
	return out
}
