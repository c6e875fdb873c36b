package prestashop

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog-override-service/internal/clients"
	"catalog-override-service/internal/models"
)

func testOptions() Options {
	return Options{
		RateLimit: 1000,
		Timeout:   2 * time.Second,
		Retry: &clients.RetryConfig{
			MaxRetries:      2,
			InitialBackoff:  time.Millisecond,
			MaxBackoff:      5 * time.Millisecond,
			BackoffFactor:   2,
			RetryableStatus: []int{http.StatusServiceUnavailable},
		},
	}
}

func TestGetCategory_LanguageList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/categories/5", r.URL.Path)
		assert.Equal(t, "JSON", r.URL.Query().Get("output_format"))
		user, _, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "secret-key", user)
		w.Write([]byte(`{"category":{"id":5,"id_parent":"2","is_root_category":"0","name":[{"id":"1","value":"Shoes"},{"id":"2","value":"Buty"}]}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret-key", testOptions())
	cat, err := c.GetCategory(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), cat.ID)
	assert.Equal(t, int64(2), cat.ParentID)
	assert.Equal(t, "Shoes", cat.Name)
	assert.False(t, cat.IsRoot)
}

func TestGetCategory_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"errors":[{"code":404}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", testOptions())
	_, err := c.GetCategory(context.Background(), 99)
	require.Error(t, err)
	assert.True(t, clients.IsNotFound(err))
}

func TestCreateCategory_PostsJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "JSON", r.URL.Query().Get("io_format"))
		body, _ := io.ReadAll(r.Body)
		var payload map[string]map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.EqualValues(t, 7, payload["category"]["id_parent"])
		w.Write([]byte(`{"category":{"id":"42"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", testOptions())
	id, err := c.CreateCategory(context.Background(), "Running Shoes", 7)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestDeleteCategory_MissingIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", testOptions())
	assert.NoError(t, c.DeleteCategory(context.Background(), 3))
}

func TestGetProduct_Normalizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"product":{
			"id":"10","reference":"SKU-1","ean13":"5901234123457",
			"name":[{"id":"1","value":"Trail Runner"}],
			"weight":"1.500000","height":"0.000000","width":"","depth":"12.5",
			"active":"1","id_category_default":"5","date_upd":"2024-03-01 10:20:30",
			"associations":{"categories":[{"id":"2"},{"id":"5"}]}}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", testOptions())
	p, err := c.GetProduct(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, "SKU-1", p.Fields[models.FieldSKU])
	assert.Equal(t, "Trail Runner", p.Fields[models.FieldName])
	assert.Equal(t, "1.500", p.Fields[models.FieldWeight])
	assert.Equal(t, "", p.Fields[models.FieldHeight])
	assert.Equal(t, "", p.Fields[models.FieldWidth])
	assert.Equal(t, "12.50", p.Fields[models.FieldLength])
	assert.Equal(t, "1", p.Fields[models.FieldIsActive])
	assert.Equal(t, []int64{2, 5}, p.CategoryIDs)
	require.NotNil(t, p.DefaultCategoryID)
	assert.Equal(t, int64(5), *p.DefaultCategoryID)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 20, 30, 0, time.UTC), p.UpdatedAt)
}

func TestDoRequest_RetriesUnavailable(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"category":{"id":1,"id_parent":0,"is_root_category":"1","name":"Root"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", testOptions())
	cat, err := c.GetCategory(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, cat.IsRoot)
	assert.Equal(t, "Root", cat.Name)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestProvider_InlineKeyAndCache(t *testing.T) {
	p := NewProvider(nil, testOptions())
	shop := &models.Shop{ID: 1, APIURL: "http://shop.test", APIKey: "abc"}

	c1, err := p.ClientFor(context.Background(), shop)
	require.NoError(t, err)
	c2, err := p.ClientFor(context.Background(), shop)
	require.NoError(t, err)
	assert.Same(t, c1, c2)

	shop.APIKey = "rotated"
	c3, err := p.ClientFor(context.Background(), shop)
	require.NoError(t, err)
	assert.NotSame(t, c1, c3)

	_, err = p.ClientFor(context.Background(), &models.Shop{ID: 2, SecretReference: "projects/p/secrets/x"})
	assert.Error(t, err)
}
