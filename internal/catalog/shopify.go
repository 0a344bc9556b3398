// Package catalog turns a store's product catalog into knowledge chunks.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"harbor/internal/knowledge"
)

const (
	DefaultPageSize    = 250
	DefaultHTTPTimeout = 30 * time.Second
	maxPages           = 200
	maxDescription     = 500
)

// Tags accepts Shopify's comma-separated string or a JSON list.
type Tags []string

func (t *Tags) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*t = cleanTags(list)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("tags: %w", err)
	}
	*t = cleanTags(strings.Split(s, ","))
	return nil
}

func cleanTags(in []string) Tags {
	out := make(Tags, 0, len(in))
	for _, tag := range in {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

type Variant struct {
	Title          string  `json:"title"`
	Price          string  `json:"price"`
	CompareAtPrice *string `json:"compare_at_price"`
	Available      *bool   `json:"available"`
}

type Product struct {
	ID          int64     `json:"id"`
	Handle      string    `json:"handle"`
	Title       string    `json:"title"`
	ProductType string    `json:"product_type"`
	Tags        Tags      `json:"tags"`
	BodyHTML    string    `json:"body_html"`
	UpdatedAt   string    `json:"updated_at"`
	Variants    []Variant `json:"variants"`
}

// Fetcher pages through a storefront's public products.json.
type Fetcher struct {
	Client   *http.Client
	PageSize int
}

func NewFetcher() *Fetcher {
	return &Fetcher{Client: &http.Client{Timeout: DefaultHTTPTimeout}, PageSize: DefaultPageSize}
}

// StoreURL returns the storefront base URL. Stores without a scheme use https.
func StoreURL(store string) string {
	store = strings.TrimRight(strings.TrimSpace(store), "/")
	if strings.Contains(store, "://") {
		return store
	}
	return "https://" + store
}

// FetchProducts returns every product, stopping at the first short page.
func (f *Fetcher) FetchProducts(ctx context.Context, store string) ([]Product, error) {
	if strings.TrimSpace(store) == "" {
		return nil, fmt.Errorf("store required")
	}
	limit := f.PageSize
	if limit <= 0 {
		limit = DefaultPageSize
	}
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	base := StoreURL(store)
	var products []Product
	for page := 1; page <= maxPages; page++ {
		url := fmt.Sprintf("%s/products.json?limit=%d&page=%d", base, limit, page)
		batch, err := fetchPage(ctx, client, url)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		products = append(products, batch...)
		if len(batch) < limit {
			break
		}
	}
	return products, nil
}

func fetchPage(ctx context.Context, client *http.Client, url string) ([]Product, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out struct {
		Products []Product `json:"products"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Products, nil
}

// ProductChunk renders a product as a knowledge chunk.
func ProductChunk(p Product, store string) knowledge.Chunk {
	prices := uniquePrices(p.Variants, func(v Variant) string { return v.Price })
	compare := uniquePrices(p.Variants, func(v Variant) string {
		if v.CompareAtPrice == nil || *v.CompareAtPrice == v.Price {
			return ""
		}
		return *v.CompareAtPrice
	})

	available := false
	for _, v := range p.Variants {
		if v.Available == nil || *v.Available {
			available = true
			break
		}
	}

	var b strings.Builder
	b.WriteString(p.Title + ".")
	if p.ProductType != "" {
		fmt.Fprintf(&b, " Category: %s.", p.ProductType)
	}
	if len(prices) > 0 {
		if len(prices) == 1 {
			fmt.Fprintf(&b, " Price: $%s", prices[0])
		} else {
			fmt.Fprintf(&b, " Price: $%s - $%s", prices[0], prices[len(prices)-1])
		}
		if len(compare) > 0 {
			fmt.Fprintf(&b, " (was $%s)", compare[len(compare)-1])
		}
		b.WriteString(".")
	}
	if !available {
		b.WriteString(" SOLD OUT.")
	}
	if len(p.Tags) > 0 {
		fmt.Fprintf(&b, " Tags: %s.", strings.Join(p.Tags, ", "))
	}
	if len(p.Variants) > 1 {
		var names []string
		for _, v := range p.Variants {
			if v.Title != "" && v.Title != "Default Title" {
				names = append(names, v.Title)
			}
		}
		if len(names) > 0 {
			fmt.Fprintf(&b, " Available in: %s.", strings.Join(names, ", "))
		}
	}
	if desc := truncate(StripHTML(p.BodyHTML), maxDescription); desc != "" {
		b.WriteString(" " + desc)
	}

	url := StoreURL(store) + "/products/" + p.Handle
	meta := map[string]any{
		"handle":       p.Handle,
		"tags":         []string(p.Tags),
		"product_type": p.ProductType,
		"url":          url,
		"available":    available,
		"variants":     len(p.Variants),
		"shopify_id":   p.ID,
		"updated_at":   p.UpdatedAt,
	}
	if len(prices) > 0 {
		meta["price"] = prices[0]
	}
	if len(compare) > 0 {
		meta["compare_at_price"] = compare[len(compare)-1]
	}
	return knowledge.Chunk{
		SourceType: "product",
		SourceID:   p.Handle,
		Title:      p.Title,
		Content:    b.String(),
		URL:        url,
		Metadata:   meta,
	}
}

// uniquePrices collects distinct non-empty prices in ascending numeric order.
func uniquePrices(variants []Variant, pick func(Variant) string) []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range variants {
		p := strings.TrimSpace(pick(v))
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, errA := strconv.ParseFloat(out[i], 64)
		b, errB := strconv.ParseFloat(out[j], 64)
		if errA != nil || errB != nil {
			return out[i] < out[j]
		}
		return a < b
	})
	return out
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
