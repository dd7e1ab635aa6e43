package commerce

import (
	"strings"
	"unicode"

	"github.com/samber/lo"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	// ImagePathPrefix is where the storefront serves migrated product images.
	ImagePathPrefix = "/migrated-assets/"

	unnamedProduct  = "Unnamed Product"
	defaultPrice    = "0"
	defaultCurrency = "USD"

	typePrices = "prices"
	typeTags   = "tags"
)

// DisplayProduct is the flat record the storefront UI renders.
type DisplayProduct struct {
	ID                      string       `json:"id"`
	Code                    string       `json:"code"`
	Name                    string       `json:"name"`
	Description             string       `json:"description"`
	ImageURL                string       `json:"imageUrl"`
	PriceFormatted          string       `json:"priceFormatted"`
	CurrencyCode            string       `json:"currencyCode"`
	CompareAtPriceFormatted *string      `json:"compareAtPriceFormatted"`
	Tags                    []DisplayTag `json:"tags"`
	PrimaryCategorySlug     *string      `json:"primaryCategorySlug,omitempty"`
}

// DisplayTag is a resolved tag with a URL-friendly slug.
type DisplayTag struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// ProjectOptions tweaks projection. The zero value matches Project.
type ProjectOptions struct {
	// PreferCatalogImage uses the SKU's image_url attribute when present
	// instead of the migrated-assets path.
	PreferCatalogImage bool
}

type resourceKey struct {
	typ string
	id  string
}

// Project resolves each primary resource's price and tag relationships
// against doc.Included and flattens it into a DisplayProduct. Output order
// matches doc.Primary. Missing relationships or included entries fall back to
// defaults; only a nil document is an error.
func Project(doc *Document) ([]DisplayProduct, error) {
	return ProjectWith(doc, ProjectOptions{})
}

// ProjectWith is Project with options.
func ProjectWith(doc *Document, opts ProjectOptions) ([]DisplayProduct, error) {
	if doc == nil {
		return nil, &ProjectionError{Reason: "document is nil"}
	}

	index := indexIncluded(doc.Included)
	products := make([]DisplayProduct, 0, len(doc.Primary))
	for _, res := range doc.Primary {
		products = append(products, projectOne(res, index, opts))
	}
	return products, nil
}

// ProjectJSON parses a raw JSON:API body and projects it. A body whose "data"
// is not an array is a ProjectionError.
func ProjectJSON(body []byte) ([]DisplayProduct, error) {
	doc, err := ParseDocument(body)
	if err != nil {
		return nil, &ProjectionError{Reason: "invalid document: " + err.Error()}
	}
	return Project(doc)
}

func indexIncluded(included []Resource) map[resourceKey]Resource {
	index := make(map[resourceKey]Resource, len(included))
	for _, res := range included {
		key := resourceKey{typ: res.Type, id: res.ID}
		// first occurrence wins
		if _, dup := index[key]; dup {
			continue
		}
		index[key] = res
	}
	return index
}

func projectOne(res Resource, index map[resourceKey]Resource, opts ProjectOptions) DisplayProduct {
	code := stringAttr(res.Attributes, "code", res.ID)
	p := DisplayProduct{
		ID:             res.ID,
		Code:           code,
		Name:           stringAttr(res.Attributes, "name", unnamedProduct),
		Description:    stringAttr(res.Attributes, "description", ""),
		ImageURL:       imageURL(res, opts),
		PriceFormatted: defaultPrice,
		CurrencyCode:   defaultCurrency,
	}

	if refs := res.Relationships[typePrices]; len(refs) > 0 {
		if price, ok := index[resourceKey{typ: typePrices, id: refs[0].ID}]; ok {
			p.PriceFormatted = stringAttr(price.Attributes, "formatted_amount", defaultPrice)
			p.CurrencyCode = stringAttr(price.Attributes, "currency_code", defaultCurrency)
			if compare, ok := lookupString(price.Attributes, "formatted_compare_at_amount"); ok {
				p.CompareAtPriceFormatted = &compare
			}
		}
	}

	p.Tags = lo.FilterMap(res.Relationships[typeTags], func(ref RelationshipRef, _ int) (DisplayTag, bool) {
		tag, ok := index[resourceKey{typ: typeTags, id: ref.ID}]
		if !ok {
			return DisplayTag{}, false
		}
		name := stringAttr(tag.Attributes, "name", tag.ID)
		return DisplayTag{ID: tag.ID, Name: name, Slug: Slugify(name)}, true
	})

	if len(p.Tags) > 0 {
		p.PrimaryCategorySlug = lo.ToPtr(p.Tags[0].Slug)
	}
	return p
}

func imageURL(res Resource, opts ProjectOptions) string {
	if opts.PreferCatalogImage {
		if u, ok := lookupString(res.Attributes, "image_url"); ok && strings.TrimSpace(u) != "" {
			return u
		}
	}
	stem := res.ID
	if code, ok := lookupString(res.Attributes, "code"); ok {
		stem = code
	} else if ref, ok := lookupString(res.Attributes, "reference"); ok {
		stem = ref
	}
	return ImagePathPrefix + stem + ".jpg"
}

// Slugify lowercases name and replaces each run of whitespace with a single
// hyphen. Leading and trailing whitespace is dropped.
func Slugify(name string) string {
	// Casers hold state, so one is built per call.
	fields := strings.FieldsFunc(cases.Lower(language.Und).String(name), unicode.IsSpace)
	return strings.Join(fields, "-")
}

// lookupString treats a missing key, JSON null, and non-string values as absent.
func lookupString(attrs map[string]any, key string) (string, bool) {
	v, ok := attrs[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func stringAttr(attrs map[string]any, key, fallback string) string {
	if s, ok := lookupString(attrs, key); ok {
		return s
	}
	return fallback
}
