package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// ElasticsearchSearcher resolves catalog filters against the offer index.
// Only ids come back; ranking inputs are always read from Postgres.
type ElasticsearchSearcher struct {
	client *elasticsearch.Client
	index  string
}

func NewElasticsearchSearcher(client *elasticsearch.Client, index string) *ElasticsearchSearcher {
	return &ElasticsearchSearcher{client: client, index: index}
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID string `json:"_id"`
		} `json:"hits"`
	} `json:"hits"`
}

func buildSearchQuery(f Filters, limit int) map[string]interface{} {
	filter := []interface{}{
		map[string]interface{}{"term": map[string]interface{}{"is_active": true}},
	}
	if f.City != "" {
		filter = append(filter, map[string]interface{}{"term": map[string]interface{}{"city": f.City}})
	}
	if f.Category != "" {
		filter = append(filter, map[string]interface{}{"term": map[string]interface{}{"category": f.Category}})
	}

	boolQuery := map[string]interface{}{"filter": filter}
	if f.Keywords != "" {
		boolQuery["must"] = []interface{}{
			map[string]interface{}{
				"match": map[string]interface{}{
					"title": map[string]interface{}{"query": f.Keywords, "operator": "and"},
				},
			},
		}
	}

	return map[string]interface{}{
		"query":   map[string]interface{}{"bool": boolQuery},
		"_source": false,
		"size":    limit,
	}
}

func (s *ElasticsearchSearcher) SearchOfferIDs(ctx context.Context, f Filters, limit int) ([]string, error) {
	body, err := json.Marshal(buildSearchQuery(f, limit))
	if err != nil {
		return nil, fmt.Errorf("encode search query: %w", err)
	}

	req := esapi.SearchRequest{
		Index: []string{s.index},
		Body:  bytes.NewReader(body),
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("search offers: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("search offers: %s", res.Status())
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	ids := make([]string, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		ids = append(ids, h.ID)
	}
	return ids, nil
}
