package flow

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/BTreeMap/CartPipe/internal/models"
	"github.com/BTreeMap/CartPipe/internal/store"
)

// productSearchLimit caps free-text product search results.
const productSearchLimit = 8

var productTokenRe = regexp.MustCompile(`[a-z0-9]+`)

var categoryAliases = map[string]string{
	"smartphone":   "phone",
	"smartphones":  "phone",
	"phones":       "phone",
	"iphone":       "phone",
	"iphones":      "phone",
	"mobile":       "phone",
	"mobiles":      "phone",
	"television":   "tv",
	"tvs":          "tv",
	"fridges":      "fridge",
	"refrigerator": "fridge",
}

var searchStopwords = map[string]bool{
	"i": true, "want": true, "to": true, "buy": true, "need": true, "show": true, "me": true,
	"please": true, "do": true, "you": true, "have": true, "in": true, "stock": true,
	"available": true, "now": true, "looking": true, "for": true, "any": true, "options": true,
	"a": true, "an": true, "the": true,
}

// brandAliases maps words that name a brand to the brand as it appears in
// product names.
var brandAliases = map[string]string{
	"samsung": "samsung",
	"apple":   "apple",
	"iphone":  "apple",
	"lg":      "lg",
	"sony":    "sony",
	"asus":    "asus",
	"dell":    "dell",
	"hp":      "hp",
	"lenovo":  "lenovo",
}

// ProductSearcher turns free text into a catalog query.
type ProductSearcher struct {
	catalog store.CatalogStore
}

func NewProductSearcher(catalog store.CatalogStore) *ProductSearcher {
	return &ProductSearcher{catalog: catalog}
}

// searchTokens lower-cases, maps category aliases and drops stopwords.
func searchTokens(text string) []string {
	var out []string
	for _, w := range productTokenRe.FindAllString(strings.ToLower(text), -1) {
		if alias, ok := categoryAliases[w]; ok {
			w = alias
		}
		if !searchStopwords[w] {
			out = append(out, w)
		}
	}
	return out
}

// extractBrand returns the first known brand named in text.
func extractBrand(text string) string {
	for _, w := range productTokenRe.FindAllString(strings.ToLower(text), -1) {
		if b, ok := brandAliases[w]; ok {
			return b
		}
	}
	return ""
}

// longestToken returns the longest token, the first one on ties.
func longestToken(tokens []string) string {
	best := ""
	for _, t := range tokens {
		if len(t) > len(best) {
			best = t
		}
	}
	return best
}

// Search finds products for text. A category named in the text selects that
// category, narrowed by brand when one is named; otherwise the longest token
// is matched against name, category, description and SKU.
func (ps *ProductSearcher) Search(ctx context.Context, text string, inStockOnly bool) ([]models.Product, error) {
	q := store.ProductQuery{InStockOnly: inStockOnly, Limit: productSearchLimit}
	tokens := searchTokens(text)
	joined := strings.Join(tokens, " ")

	categories, err := ps.catalog.ListProductCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	sort.SliceStable(categories, func(i, j int) bool { return len(categories[i]) > len(categories[j]) })
	for _, c := range categories {
		if c != "" && strings.Contains(joined, strings.ToLower(c)) {
			q.Category = c
			break
		}
	}

	if q.Category != "" {
		q.NameLike = extractBrand(text)
	} else {
		q.Keyword = longestToken(tokens)
	}

	products, err := ps.catalog.SearchProducts(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to search products: %w", err)
	}
	return products, nil
}
