package backend

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlural(t *testing.T) {
	assert.Equal(t, "menus", plural("menu"))
	assert.Equal(t, "categories", plural("category"))
	assert.Equal(t, "ads", plural("ad"))
}

func TestApplyDefaults(t *testing.T) {
	c := Configuration{Entities: []entityConfiguration{
		{
			Resource: "menu",
			Fields:   []fieldConfiguration{{Name: "name", Type: "string"}},
		},
		{
			Resource: "submenu",
			Plural:   "submenus",
			Table:    "sub_menus",
			Fields:   []fieldConfiguration{{Name: "parent_id", Type: "reference", References: "menus"}},
		},
	}}
	require.NoError(t, c.applyDefaults())

	menu := c.Entities[0]
	assert.Equal(t, "menus", menu.Plural)
	assert.Equal(t, "menus", menu.Table)
	assert.Equal(t, "replace", menu.UpdateMode)
	assert.Len(t, menu.Operations, 5)

	submenu := c.Entities[1]
	assert.Equal(t, "submenus", submenu.Plural)
	assert.Equal(t, "sub_menus", submenu.Table)
}

func TestApplyDefaultsRejectsBrokenDescriptors(t *testing.T) {
	cases := []struct {
		name   string
		config Configuration
	}{
		{"missing resource name", Configuration{Entities: []entityConfiguration{{}}}},
		{"duplicate entity", Configuration{Entities: []entityConfiguration{
			{Resource: "menu"}, {Resource: "menu"},
		}}},
		{"unknown update mode", Configuration{Entities: []entityConfiguration{
			{Resource: "menu", UpdateMode: "patch"},
		}}},
		{"unknown field type", Configuration{Entities: []entityConfiguration{
			{Resource: "menu", Fields: []fieldConfiguration{{Name: "name", Type: "blob"}}},
		}}},
		{"reference without target", Configuration{Entities: []entityConfiguration{
			{Resource: "card", Fields: []fieldConfiguration{{Name: "menu_id", Type: "reference"}}},
		}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.config.applyDefaults())
		})
	}
}

func TestSortByDependencies(t *testing.T) {
	entities := []entityConfiguration{
		{Resource: "card", Fields: []fieldConfiguration{
			{Name: "menu_id", Type: "reference", References: "menus"},
			{Name: "sub_menu_id", Type: "reference", References: "sub_menus"},
		}},
		{Resource: "submenu", Fields: []fieldConfiguration{
			{Name: "parent_id", Type: "reference", References: "menus"},
		}},
		{Resource: "menu"},
	}
	sorted := sortByDependencies(entities)
	assert.Equal(t, "menu", sorted[0].Resource)
	assert.Equal(t, "submenu", sorted[1].Resource)
	assert.Equal(t, "card", sorted[2].Resource)
	// the input order is untouched
	assert.Equal(t, "card", entities[0].Resource)
}

func TestParseListRange(t *testing.T) {
	cases := []struct {
		query string
		want  listRange
	}{
		{"", listRange{}},
		{"page=2", listRange{paged: true, page: 2, pageSize: 10}},
		{"pageSize=25", listRange{paged: true, page: 1, pageSize: 25}},
		{"page=3&pageSize=5", listRange{paged: true, page: 3, pageSize: 5}},
		{"pageSize=all", listRange{paged: true, all: true, page: 1, pageSize: 10}},
		{"pageSize=ALL", listRange{paged: true, all: true, page: 1, pageSize: 10}},
		// broken values fall back to their defaults
		{"page=abc&pageSize=xyz", listRange{paged: true, page: 1, pageSize: 10}},
		{"page=0&pageSize=-5", listRange{paged: true, page: 1, pageSize: 10}},
	}
	for _, tc := range cases {
		query, err := url.ParseQuery(tc.query)
		require.NoError(t, err)
		assert.Equal(t, tc.want, parseListRange(query), "query: %s", tc.query)
	}
}

func TestFaviconFromURL(t *testing.T) {
	assert.Equal(t, "https://go.dev/favicon.ico", faviconFromURL("https://go.dev/doc/tutorial"))
	assert.Equal(t, "http://example.com:8080/favicon.ico", faviconFromURL("http://example.com:8080"))
	assert.Equal(t, "", faviconFromURL("not a url"))
	assert.Equal(t, "", faviconFromURL("/relative/path"))
	assert.Equal(t, "", faviconFromURL(nil))
}

func TestIntValue(t *testing.T) {
	assert.Equal(t, 3, intValue(float64(3)))
	assert.Equal(t, 7, intValue("7"))
	assert.Equal(t, 0, intValue("seven"))
	assert.Equal(t, 0, intValue(nil))
}

func TestAssembleRecord(t *testing.T) {
	e := &entityConfiguration{
		Resource: "card",
		Fields: []fieldConfiguration{
			{Name: "title", Type: "string", Required: true},
			{Name: "logo_url", Type: "string", Nullable: true},
			{Name: "menu_id", Type: "reference", Nullable: true, References: "menus"},
			{Name: "order", Type: "integer"},
		},
	}

	columns, values, apiErr := e.assembleRecord(map[string]interface{}{
		"title":   "Go",
		"menu_id": float64(5),
	})
	require.Nil(t, apiErr)
	assert.Equal(t, []string{`"title"`, `"logo_url"`, `"menu_id"`, `"order"`}, columns)
	assert.Equal(t, []interface{}{"Go", nil, int64(5), 0}, values)

	// missing required field
	_, _, apiErr = e.assembleRecord(map[string]interface{}{"menu_id": float64(5)})
	require.NotNil(t, apiErr)
	assert.Equal(t, "title is required", apiErr.Message)

	// whitespace does not satisfy a required field
	_, _, apiErr = e.assembleRecord(map[string]interface{}{"title": "   "})
	require.NotNil(t, apiErr)
}

func TestPresentValue(t *testing.T) {
	body := map[string]interface{}{
		"name":  "Go",
		"order": float64(2),
	}
	assert.Equal(t, "Go", presentValue(body, fieldConfiguration{Name: "name", Type: "string"}))
	assert.Equal(t, 2, presentValue(body, fieldConfiguration{Name: "order", Type: "integer"}))
	assert.Nil(t, presentValue(body, fieldConfiguration{Name: "desc", Type: "text"}))
}
