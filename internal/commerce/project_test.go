package commerce

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wetsuitDocument = `{
	"data": [
		{
			"id": "p1",
			"type": "skus",
			"attributes": {"code": "ABC", "name": "Wetsuit"},
			"relationships": {
				"prices": {"data": [{"id": "pr1", "type": "prices"}]},
				"tags": {"data": [{"id": "t1", "type": "tags"}]}
			}
		}
	],
	"included": [
		{"id": "pr1", "type": "prices", "attributes": {"formatted_amount": "€99.00", "currency_code": "EUR"}},
		{"id": "t1", "type": "tags", "attributes": {"name": "Best Sellers"}}
	]
}`

func mustParse(t *testing.T, body string) *Document {
	t.Helper()
	doc, err := ParseDocument([]byte(body))
	require.NoError(t, err)
	return doc
}

func TestProject_WetsuitScenario(t *testing.T) {
	t.Parallel()

	products, err := Project(mustParse(t, wetsuitDocument))
	require.NoError(t, err)
	require.Len(t, products, 1)

	got := products[0]
	assert.Equal(t, "p1", got.ID)
	assert.Equal(t, "ABC", got.Code)
	assert.Equal(t, "Wetsuit", got.Name)
	assert.Equal(t, "", got.Description)
	assert.Equal(t, "/migrated-assets/ABC.jpg", got.ImageURL)
	assert.Equal(t, "€99.00", got.PriceFormatted)
	assert.Equal(t, "EUR", got.CurrencyCode)
	assert.Nil(t, got.CompareAtPriceFormatted)
	assert.Equal(t, []DisplayTag{{ID: "t1", Name: "Best Sellers", Slug: "best-sellers"}}, got.Tags)
	require.NotNil(t, got.PrimaryCategorySlug)
	assert.Equal(t, "best-sellers", *got.PrimaryCategorySlug)

	encoded, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": "p1",
		"code": "ABC",
		"name": "Wetsuit",
		"description": "",
		"imageUrl": "/migrated-assets/ABC.jpg",
		"priceFormatted": "€99.00",
		"currencyCode": "EUR",
		"compareAtPriceFormatted": null,
		"tags": [{"id": "t1", "name": "Best Sellers", "slug": "best-sellers"}],
		"primaryCategorySlug": "best-sellers"
	}`, string(encoded))
}

func TestProject_MissingPriceRelationship(t *testing.T) {
	t.Parallel()

	doc := mustParse(t, wetsuitDocument)
	delete(doc.Primary[0].Relationships, "prices")

	products, err := Project(doc)
	require.NoError(t, err)
	assert.Equal(t, "0", products[0].PriceFormatted)
	assert.Equal(t, "USD", products[0].CurrencyCode)
	assert.Nil(t, products[0].CompareAtPriceFormatted)
}

func TestProject_UnresolvedRefsFallBack(t *testing.T) {
	t.Parallel()

	doc := &Document{
		Primary: []Resource{{
			ID:   "sku-9",
			Type: "skus",
			Relationships: map[string][]RelationshipRef{
				"prices": {{ID: "missing", Type: "prices"}},
				"tags":   {{ID: "gone", Type: "tags"}, {ID: "t2", Type: "tags"}},
			},
		}},
		Included: []Resource{
			{ID: "t2", Type: "tags"},
			// same id, wrong type: must not resolve the price
			{ID: "missing", Type: "tags", Attributes: map[string]any{"name": "Decoy"}},
		},
	}

	products, err := Project(doc)
	require.NoError(t, err)
	got := products[0]
	assert.Equal(t, "sku-9", got.Code)
	assert.Equal(t, "Unnamed Product", got.Name)
	assert.Equal(t, "/migrated-assets/sku-9.jpg", got.ImageURL)
	assert.Equal(t, "0", got.PriceFormatted)
	assert.Equal(t, "USD", got.CurrencyCode)
	// tag without a name falls back to its id
	assert.Equal(t, []DisplayTag{{ID: "t2", Name: "t2", Slug: "t2"}}, got.Tags)
	require.NotNil(t, got.PrimaryCategorySlug)
	assert.Equal(t, "t2", *got.PrimaryCategorySlug)
}

func TestProject_FirstPriceWinsAndCompareAt(t *testing.T) {
	t.Parallel()

	doc := &Document{
		Primary: []Resource{{
			ID:         "s1",
			Type:       "skus",
			Attributes: map[string]any{"code": "TRI-1", "description": "Aero helmet"},
			Relationships: map[string][]RelationshipRef{
				"prices": {{ID: "a", Type: "prices"}, {ID: "b", Type: "prices"}},
			},
		}},
		Included: []Resource{
			{ID: "b", Type: "prices", Attributes: map[string]any{"formatted_amount": "$10.00", "currency_code": "USD"}},
			{ID: "a", Type: "prices", Attributes: map[string]any{
				"formatted_amount":            "£80.00",
				"currency_code":               "GBP",
				"formatted_compare_at_amount": "£100.00",
			}},
		},
	}

	products, err := Project(doc)
	require.NoError(t, err)
	got := products[0]
	assert.Equal(t, "£80.00", got.PriceFormatted)
	assert.Equal(t, "GBP", got.CurrencyCode)
	require.NotNil(t, got.CompareAtPriceFormatted)
	assert.Equal(t, "£100.00", *got.CompareAtPriceFormatted)
	assert.Equal(t, "Aero helmet", got.Description)
	assert.Empty(t, got.Tags)
	assert.Nil(t, got.PrimaryCategorySlug)
}

func TestProject_PriceAttributeFallbacks(t *testing.T) {
	t.Parallel()

	doc := &Document{
		Primary: []Resource{{
			ID:            "s1",
			Type:          "skus",
			Relationships: map[string][]RelationshipRef{"prices": {{ID: "p", Type: "prices"}}},
		}},
		Included: []Resource{{ID: "p", Type: "prices", Attributes: map[string]any{
			"formatted_amount":            nil,
			"currency_code":               42.0,
			"formatted_compare_at_amount": nil,
		}}},
	}

	products, err := Project(doc)
	require.NoError(t, err)
	assert.Equal(t, "0", products[0].PriceFormatted)
	assert.Equal(t, "USD", products[0].CurrencyCode)
	assert.Nil(t, products[0].CompareAtPriceFormatted)
}

func TestProject_ImageStem(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		res  Resource
		opts ProjectOptions
		want string
	}{
		{"code", Resource{ID: "1", Attributes: map[string]any{"code": "C", "reference": "R"}}, ProjectOptions{}, "/migrated-assets/C.jpg"},
		{"reference", Resource{ID: "1", Attributes: map[string]any{"reference": "R"}}, ProjectOptions{}, "/migrated-assets/R.jpg"},
		{"id", Resource{ID: "1"}, ProjectOptions{}, "/migrated-assets/1.jpg"},
		{"catalog image ignored by default", Resource{ID: "1", Attributes: map[string]any{"image_url": "https://cdn/x.png"}}, ProjectOptions{}, "/migrated-assets/1.jpg"},
		{"catalog image preferred", Resource{ID: "1", Attributes: map[string]any{"image_url": "https://cdn/x.png"}}, ProjectOptions{PreferCatalogImage: true}, "https://cdn/x.png"},
		{"blank catalog image", Resource{ID: "1", Attributes: map[string]any{"code": "C", "image_url": " "}}, ProjectOptions{PreferCatalogImage: true}, "/migrated-assets/C.jpg"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			products, err := ProjectWith(&Document{Primary: []Resource{tc.res}}, tc.opts)
			require.NoError(t, err)
			assert.Equal(t, tc.want, products[0].ImageURL)
		})
	}
}

func TestProject_PreservesOrder(t *testing.T) {
	t.Parallel()

	ids := []string{"z", "a", "m", "b", "a2"}
	doc := &Document{}
	for _, id := range ids {
		doc.Primary = append(doc.Primary, Resource{ID: id, Type: "skus"})
	}

	products, err := Project(doc)
	require.NoError(t, err)
	got := make([]string, 0, len(products))
	for _, p := range products {
		got = append(got, p.ID)
	}
	assert.Equal(t, ids, got)
}

func TestProject_TotalOverIncompleteInput(t *testing.T) {
	t.Parallel()

	docs := []*Document{
		{},
		{Primary: []Resource{}},
		{Primary: []Resource{{}}},
		{Primary: []Resource{{ID: "x", Relationships: map[string][]RelationshipRef{"prices": nil, "tags": {}}}}},
		{Primary: []Resource{{ID: "x", Attributes: map[string]any{"name": map[string]any{"en": "nested"}}}}},
	}
	for i, doc := range docs {
		products, err := Project(doc)
		require.NoError(t, err, "doc %d", i)
		assert.Len(t, products, len(doc.Primary), "doc %d", i)
	}
}

func TestProject_NilDocument(t *testing.T) {
	t.Parallel()

	_, err := Project(nil)
	var projErr *ProjectionError
	require.True(t, errors.As(err, &projErr), "expected ProjectionError, got %v", err)
}

func TestProjectJSON_DataNotArray(t *testing.T) {
	t.Parallel()

	_, err := ProjectJSON([]byte(`{"data":{"id":"1","type":"skus"}}`))
	var projErr *ProjectionError
	require.True(t, errors.As(err, &projErr), "expected ProjectionError, got %v", err)

	products, err := ProjectJSON([]byte(wetsuitDocument))
	require.NoError(t, err)
	assert.Len(t, products, 1)
}

func TestSlugify(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Best Sellers":    "best-sellers",
		"  Run   Shoes ":  "run-shoes",
		"Swim\tAnd\nBike": "swim-and-bike",
		"wetsuits":        "wetsuits",
		"ÉTÉ Collection":  "été-collection",
		"":                "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Slugify(in), "Slugify(%q)", in)
		assert.Equal(t, Slugify(in), Slugify(in), "Slugify(%q) must be stable", in)
	}
}

func BenchmarkProject(b *testing.B) {
	doc := &Document{}
	for i := range 100 {
		id := string(rune('a'+i%26)) + string(rune('0'+i/26))
		doc.Primary = append(doc.Primary, Resource{
			ID:   id,
			Type: "skus",
			Relationships: map[string][]RelationshipRef{
				"prices": {{ID: "p" + id, Type: "prices"}},
				"tags":   {{ID: "t" + id, Type: "tags"}},
			},
		})
		doc.Included = append(doc.Included,
			Resource{ID: "p" + id, Type: "prices", Attributes: map[string]any{"formatted_amount": "$1.00"}},
			Resource{ID: "t" + id, Type: "tags", Attributes: map[string]any{"name": "Tag " + id}},
		)
	}

	for b.Loop() {
		if _, err := Project(doc); err != nil {
			b.Fatal(err)
		}
	}
}
