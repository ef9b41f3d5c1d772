package skukey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/skuboard/internal/model"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"iPhone 16 Pro", "iphone-16-pro"},
		{"  Deep_Blue ", "deep-blue"},
		{"256 GB!!", "256-gb"},
		{"--a -- b--", "a-b"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), tt.in)
	}
}

func TestCompose(t *testing.T) {
	key := Compose(Parts{Model: "iphone-16-pro", Storage: "256gb", Color: "black", Condition: model.ConditionNew})
	assert.Equal(t, "iphone-16-pro-256gb-black-new", key)

	withVariants := Compose(Parts{
		Model: "iphone-16-pro", Storage: "256gb", Color: "black", Condition: model.ConditionNew,
		Sim: "esim", Lock: "unlocked", Region: "us",
	})
	assert.Equal(t, "iphone-16-pro-256gb-black-new-esim-unlocked-us", withVariants)

	assert.Empty(t, Compose(Parts{Model: "iphone-16-pro", Storage: "256gb", Condition: model.ConditionNew}))
}

func TestParse_RoundTrip(t *testing.T) {
	cases := []Parts{
		{Model: "iphone-16-pro-max", Storage: "1tb", Color: "desert", Condition: model.ConditionNew},
		{Model: "iphone-17-pro", Storage: "256gb", Color: "cosmic-orange", Condition: model.ConditionRefurbished},
		{Model: "iphone-16e", Storage: "128gb", Color: "white", Condition: model.ConditionUsed, Sim: "esim"},
		{Model: "iphone-16", Storage: "512gb", Color: "ultramarine", Condition: model.ConditionNew, Sim: "dual-sim", Lock: "unlocked", Region: "hk"},
		{Model: "iphone-16", Storage: "128gb", Color: "pink", Condition: model.ConditionNew, Region: "jp"},
	}
	for _, want := range cases {
		key := Compose(want)
		got, err := Parse(key)
		require.NoError(t, err, key)
		assert.Equal(t, want, got, key)
		assert.Equal(t, key, Compose(got))
	}
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse("iphone-16-pro-black-new")
	assert.Error(t, err)

	_, err = Parse("iphone-16-pro-256gb-black")
	assert.Error(t, err)

	_, err = Parse("256gb-black-new")
	assert.Error(t, err)
}

func TestSearchQuery(t *testing.T) {
	assert.Equal(t, "iPhone 16 Pro 256GB", SearchQuery("iphone-16-pro-256gb-black-new"))
	assert.Equal(t, "iPhone 16 Pro Max 1TB", SearchQuery("iphone-16-pro-max-1tb-desert-used"))
	assert.Equal(t, "iPhone 16e 128GB", SearchQuery("iphone-16e-128gb-white-new"))
	assert.Equal(t, "iPhone 17 Air", SearchQuery("iphone-17-air"))
}

func TestModelOf(t *testing.T) {
	assert.Equal(t, "iphone-17-pro", ModelOf("iphone-17-pro-256gb-deep-blue-new"))
	assert.Empty(t, ModelOf("garbage"))
}

func TestForSku(t *testing.T) {
	sku := model.GoldenSku{Model: "iphone-16", Storage: "128gb", Color: "teal", Condition: model.ConditionNew}
	assert.Equal(t, "iphone-16-128gb-teal-new", ForSku(sku))
}
