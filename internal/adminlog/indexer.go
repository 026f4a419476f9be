package adminlog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"admissions-workers/internal/common/errors"
	"admissions-workers/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// DefaultIndex is used when no index name is configured.
const DefaultIndex = "admissions-admin-logs"

// Indexer mirrors admin log entries into a search backend.
type Indexer interface {
	Index(ctx context.Context, entry models.AdminLog) error
	Search(ctx context.Context, text string, limit int) ([]models.AdminLog, error)
}

// ESIndexer stores entries as documents keyed by entry id.
type ESIndexer struct {
	client *elasticsearch.Client
	index  string
}

func NewESIndexer(client *elasticsearch.Client, index string) *ESIndexer {
	if index == "" {
		index = DefaultIndex
	}
	return &ESIndexer{client: client, index: index}
}

func (x *ESIndexer) Index(ctx context.Context, entry models.AdminLog) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return errors.NewInternalError(err)
	}

	req := esapi.IndexRequest{
		Index:      x.index,
		DocumentID: entry.ID,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, x.client)
	if err != nil {
		return errors.NewTransportError("elasticsearch", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return errors.NewTransportError("elasticsearch", fmt.Errorf("index failed: %s", res.Status()))
	}
	return nil
}

// Search runs a full-text match over title and message, newest first.
// An empty text matches everything.
func (x *ESIndexer) Search(ctx context.Context, text string, limit int) ([]models.AdminLog, error) {
	query := map[string]interface{}{"match_all": map[string]interface{}{}}
	if strings.TrimSpace(text) != "" {
		query = map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  text,
				"fields": []string{"title", "message", "username"},
			},
		}
	}
	body, _ := json.Marshal(map[string]interface{}{
		"query": query,
		"size":  limit,
		"sort":  []interface{}{map[string]interface{}{"createdAt": map[string]string{"order": "desc"}}},
	})

	req := esapi.SearchRequest{
		Index: []string{x.index},
		Body:  bytes.NewReader(body),
	}
	res, err := req.Do(ctx, x.client)
	if err != nil {
		return nil, errors.NewTransportError("elasticsearch", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, errors.NewTransportError("elasticsearch", fmt.Errorf("search failed: %s", res.String()))
	}

	var r struct {
		Hits struct {
			Hits []struct {
				Source models.AdminLog `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return nil, errors.NewTransportError("elasticsearch", err)
	}

	out := make([]models.AdminLog, 0, len(r.Hits.Hits))
	for _, h := range r.Hits.Hits {
		out = append(out, h.Source)
	}
	return out, nil
}
