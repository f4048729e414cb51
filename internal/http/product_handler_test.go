package http

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducts_List(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/products", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ProductsResponse](t, rec)
	assert.Len(t, resp.Products, 8)
}

func TestProducts_ListByCategory(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/products?category=dining", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ProductsResponse](t, rec)
	require.Len(t, resp.Products, 2)
	for _, p := range resp.Products {
		assert.Equal(t, "dining", p.Category)
	}
}

func TestProducts_Get(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/products/oak-table", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Oak Dining Table", decode[ProductResponse](t, rec).Name)

	rec = env.do(t, http.MethodGet, "/api/v1/products/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
