package prestashop

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"catalog-override-service/internal/clients"
	"catalog-override-service/internal/models"
)

const dateLayout = "2006-01-02 15:04:05"

// Options configures a PrestaShop webservice client
type Options struct {
	RateLimit  float64 // requests per second
	Timeout    time.Duration
	LanguageID int64
	Retry      *clients.RetryConfig
}

// Client implements clients.ShopClient against the PrestaShop webservice API
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	languageID  int64
	rateLimiter *rate.Limiter
	retrier     *clients.Retrier
	breaker     *clients.CircuitBreaker
}

// NewClient creates a client for one shop
func NewClient(baseURL, apiKey string, opts Options) *Client {
	if opts.RateLimit <= 0 {
		opts.RateLimit = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.LanguageID <= 0 {
		opts.LanguageID = 1
	}
	return &Client{
		httpClient:  &http.Client{Timeout: opts.Timeout},
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		languageID:  opts.LanguageID,
		rateLimiter: rate.NewLimiter(rate.Limit(opts.RateLimit), 1),
		retrier:     clients.NewRetrier(opts.Retry),
		breaker:     clients.NewCircuitBreaker(5, time.Minute),
	}
}

// TestConnection verifies the API key is accepted
func (c *Client) TestConnection(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodGet, "/api/", nil, nil)
	return err
}

// GetCategory fetches one category
func (c *Client) GetCategory(ctx context.Context, externalID int64) (*clients.ExternalCategory, error) {
	body, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/api/categories/%d", externalID), nil, nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Category psCategory `json:"category"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode category %d: %w", externalID, err)
	}
	return c.convertCategory(resp.Category), nil
}

// CreateCategory creates a category under parentExternalID and returns its id
func (c *Client) CreateCategory(ctx context.Context, name string, parentExternalID int64) (int64, error) {
	lang := strconv.FormatInt(c.languageID, 10)
	payload := map[string]interface{}{
		"category": map[string]interface{}{
			"id_parent":    parentExternalID,
			"active":       "1",
			"name":         []psLangValue{{ID: lang, Value: name}},
			"link_rewrite": []psLangValue{{ID: lang, Value: slugify(name)}},
		},
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/api/categories", nil, payload)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Category psCategory `json:"category"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("failed to decode created category: %w", err)
	}
	id := int64(resp.Category.ID)
	if id <= 0 {
		return 0, fmt.Errorf("shop returned no id for category %q", name)
	}
	return id, nil
}

// DeleteCategory removes a category. A missing category counts as deleted.
func (c *Client) DeleteCategory(ctx context.Context, externalID int64) error {
	_, err := c.doRequest(ctx, http.MethodDelete, fmt.Sprintf("/api/categories/%d", externalID), nil, nil)
	if err != nil && clients.IsNotFound(err) {
		return nil
	}
	return err
}

// GetProduct fetches one product with its category associations
func (c *Client) GetProduct(ctx context.Context, externalID int64) (*clients.ExternalProduct, error) {
	body, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/api/products/%d", externalID), nil, nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Product psProduct `json:"product"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode product %d: %w", externalID, err)
	}
	return c.convertProduct(resp.Product), nil
}

// doRequest performs an authenticated, rate-limited request with retries
func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, body interface{}) ([]byte, error) {
	if !c.breaker.Allow() {
		return nil, clients.ErrCircuitOpen
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("output_format", "JSON")
	if body != nil {
		params.Set("io_format", "JSON")
	}
	fullURL := c.baseURL + path + "?" + params.Encode()

	var jsonBody []byte
	if body != nil {
		var err error
		if jsonBody, err = json.Marshal(body); err != nil {
			return nil, err
		}
	}

	resp, _, err := c.retrier.DoHTTP(ctx, func(ctx context.Context) (*http.Response, error) {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}
		var reqBody io.Reader
		if jsonBody != nil {
			reqBody = bytes.NewReader(jsonBody)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(c.apiKey, "")
		req.Header.Set("Accept", "application/json")
		if jsonBody != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return c.httpClient.Do(req)
	})
	if err != nil {
		c.breaker.RecordFailure()
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.breaker.RecordFailure()
		return nil, err
	}

	if resp.StatusCode >= 400 {
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			c.breaker.RecordFailure()
		}
		return nil, &clients.APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	c.breaker.RecordSuccess()
	return respBody, nil
}

func (c *Client) convertCategory(p psCategory) *clients.ExternalCategory {
	return &clients.ExternalCategory{
		ID:       int64(p.ID),
		ParentID: int64(p.ParentID),
		Name:     p.Name.pick(c.languageID),
		IsRoot:   bool(p.IsRootCategory),
	}
}

func (c *Client) convertProduct(p psProduct) *clients.ExternalProduct {
	fields := map[models.Field]string{
		models.FieldSKU:              p.Reference,
		models.FieldName:             p.Name.pick(c.languageID),
		models.FieldSlug:             p.LinkRewrite.pick(c.languageID),
		models.FieldShortDescription: p.DescriptionShort.pick(c.languageID),
		models.FieldLongDescription:  p.Description.pick(c.languageID),
		models.FieldMetaTitle:        p.MetaTitle.pick(c.languageID),
		models.FieldMetaDescription:  p.MetaDescription.pick(c.languageID),
		models.FieldManufacturer:     p.ManufacturerName,
		models.FieldSupplierCode:     p.SupplierReference,
		models.FieldEAN:              p.EAN13,
		models.FieldWeight:           decimalOrEmpty(p.Weight, 3),
		models.FieldHeight:           decimalOrEmpty(p.Height, 2),
		models.FieldWidth:            decimalOrEmpty(p.Width, 2),
		models.FieldLength:           decimalOrEmpty(p.Depth, 2),
		models.FieldIsActive:         flag(bool(p.Active)),
	}

	out := &clients.ExternalProduct{
		ID:     int64(p.ID),
		Fields: fields,
	}
	for _, cat := range p.Associations.Categories {
		out.CategoryIDs = append(out.CategoryIDs, int64(cat.ID))
	}
	if p.DefaultCategoryID > 0 {
		id := int64(p.DefaultCategoryID)
		out.DefaultCategoryID = &id
	}
	if t, err := time.ParseInLocation(dateLayout, p.DateUpd, time.UTC); err == nil {
		out.UpdatedAt = t
	}
	return out
}

// decimalOrEmpty treats zero as "no value", matching how the platform stores unset dimensions
func decimalOrEmpty(raw string, scale int32) string {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || d.IsZero() {
		return ""
	}
	return d.StringFixed(scale)
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
