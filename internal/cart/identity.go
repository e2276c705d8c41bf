package cart

import (
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/shophub/storefront/internal/model"
)

// CanonicalOptions returns the RFC 8785 canonical JSON form of opts. Two
// option maps with the same pairs in any key order yield identical output;
// nil and empty maps both canonicalize to "{}".
func CanonicalOptions(opts model.Options) (string, error) {
	if opts == nil {
		opts = model.Options{}
	}
	raw, err := json.Marshal(opts)
	if err != nil {
		return "", fmt.Errorf("marshal options: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize options: %w", err)
	}
	return string(canon), nil
}

// identityKey is the (productID, selectedOptions) pair that decides whether
// an add merges into an existing line.
type identityKey struct {
	productID string
	options   string
}

func newIdentity(productID string, opts model.Options) (identityKey, error) {
	canon, err := CanonicalOptions(opts)
	if err != nil {
		return identityKey{}, err
	}
	return identityKey{productID: productID, options: canon}, nil
}

// indexOf returns the position of the line matching id, or -1.
func indexOf(items []model.LineItem, id identityKey) int {
	for i, it := range items {
		if it.ProductID != id.productID {
			continue
		}
		// Options were canonicalized on the way in, so this cannot fail
		// for items that reached the cart.
		canon, err := CanonicalOptions(it.SelectedOptions)
		if err == nil && canon == id.options {
			return i
		}
	}
	return -1
}
