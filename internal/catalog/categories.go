package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shophub/storefront/internal/model"
)

//go:embed categories.yaml
var defaultCategories []byte

var ErrCategoryNotFound = errors.New("catalog: category not found")

type categoryRecord struct {
	ID            string   `yaml:"id"`
	Name          string   `yaml:"name"`
	Image         string   `yaml:"image"`
	Subcategories []string `yaml:"subcategories"`
}

// Categories is an immutable list of navigation categories.
type Categories struct {
	list []model.Category
}

// LoadCategories parses a YAML (or JSON) list of categories. Ids and names
// must be unique; names compare case-insensitively.
func LoadCategories(r io.Reader) (*Categories, error) {
	var records []categoryRecord
	if err := yaml.NewDecoder(r).Decode(&records); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode categories: %w", err)
	}

	c := &Categories{list: make([]model.Category, 0, len(records))}
	seen := make(map[string]bool, 2*len(records))
	for _, rec := range records {
		if rec.ID == "" || rec.Name == "" {
			return nil, fmt.Errorf("%w: category id and name are required", ErrInvalidSeed)
		}
		idKey, nameKey := "id:"+rec.ID, "name:"+strings.ToLower(rec.Name)
		if seen[idKey] || seen[nameKey] {
			return nil, fmt.Errorf("%w: duplicate category %s %q", ErrInvalidSeed, rec.ID, rec.Name)
		}
		seen[idKey], seen[nameKey] = true, true
		c.list = append(c.list, model.Category{
			ID:            rec.ID,
			Name:          rec.Name,
			Image:         rec.Image,
			Subcategories: rec.Subcategories,
		})
	}
	return c, nil
}

// LoadCategoriesFile loads categories from path.
func LoadCategoriesFile(path string) (*Categories, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open categories: %w", err)
	}
	defer f.Close()
	return LoadCategories(f)
}

// DefaultCategories returns the built-in categories.
func DefaultCategories() (*Categories, error) {
	return LoadCategories(bytes.NewReader(defaultCategories))
}

// All returns every category in seed order.
func (c *Categories) All() []model.Category {
	out := make([]model.Category, len(c.list))
	for i, cat := range c.list {
		out[i] = cloneCategory(cat)
	}
	return out
}

// ByID returns the category with id.
func (c *Categories) ByID(id string) (model.Category, error) {
	for _, cat := range c.list {
		if cat.ID == id {
			return cloneCategory(cat), nil
		}
	}
	return model.Category{}, fmt.Errorf("%w: %s", ErrCategoryNotFound, id)
}

// ByName returns the category named name, ignoring case.
func (c *Categories) ByName(name string) (model.Category, error) {
	for _, cat := range c.list {
		if strings.EqualFold(cat.Name, name) {
			return cloneCategory(cat), nil
		}
	}
	return model.Category{}, fmt.Errorf("%w: %s", ErrCategoryNotFound, name)
}

func cloneCategory(c model.Category) model.Category {
	c.Subcategories = slices.Clone(c.Subcategories)
	return c
}
