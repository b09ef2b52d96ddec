package permissions

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

func TestDefaultCatalogPartitionsKeys(t *testing.T) {
	reg := MustDefault()

	seen := make(map[string]string)
	total := 0
	for _, cat := range reg.ListCategories() {
		for _, p := range cat.Permissions {
			owner, dup := seen[p.Key]
			require.Falsef(t, dup, "%s owned by %s and %s", p.Key, owner, cat.Key)
			seen[p.Key] = cat.Key
			assert.Equal(t, cat.Key, p.Category)
			total++
		}
	}
	assert.Equal(t, total, reg.All().Len())
	assert.Len(t, reg.ListPermissions(), total)
	for _, key := range shared.CoreScopes() {
		assert.Truef(t, reg.IsValidKey(key), "core scope %s missing from catalog", key)
	}
}

func TestDefaultCatalogDerivesNames(t *testing.T) {
	reg := MustDefault()

	p, ok := reg.Lookup("assets.assign")
	require.True(t, ok)
	assert.Equal(t, "Assign Assets", p.Name)

	cats := reg.ListCategories()
	names := make(map[string]string, len(cats))
	for _, c := range cats {
		names[c.Key] = c.Name
	}
	assert.Equal(t, "Asset Management", names["ASSET_MANAGEMENT"])
	assert.Equal(t, "Tickets", names["TICKETS"])
}

func TestCategoryKeys(t *testing.T) {
	reg := MustDefault()

	keys, err := reg.CategoryKeys("ASSET_MANAGEMENT")
	require.NoError(t, err)
	assert.Equal(t, []string{"assets.assign", "assets.create", "assets.delete", "assets.read", "assets.update"}, keys.Sorted())

	_, err = reg.CategoryKeys("NOPE")
	assert.True(t, shared.IsKind(err, shared.KindNotFound))
}

func TestValidateRejectsUnknownKeys(t *testing.T) {
	reg := MustDefault()

	require.NoError(t, reg.Validate("assets.read", "reports.export"))

	err := reg.Validate("assets.read", "assets.*")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownPermission))
	assert.True(t, shared.IsKind(err, shared.KindValidation))
	assert.Contains(t, err.Error(), `"assets.*"`)

	assert.False(t, reg.IsValidKey("Assets.Read"))
	assert.False(t, reg.IsValidKey("assets"))
}

func TestLoadRejectsKeyInTwoCategories(t *testing.T) {
	_, err := Load(strings.NewReader(`
categories:
  - key: A
    permissions:
      - key: x.read
  - key: B
    permissions:
      - key: x.read
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "x.read")
}

func TestLoadRejectsMalformedKey(t *testing.T) {
	_, err := Load(strings.NewReader(`
categories:
  - key: A
    permissions:
      - key: "read"
`))
	require.Error(t, err)
}

func TestListCategoriesReturnsCopies(t *testing.T) {
	reg := MustDefault()
	cats := reg.ListCategories()
	cats[0].Permissions[0].Key = "mutated.key"
	assert.True(t, reg.IsValidKey("assets.read"))
	assert.Equal(t, "assets.read", reg.ListCategories()[0].Permissions[0].Key)
}
