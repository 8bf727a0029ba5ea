package searchindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"intake/pkg/domain"
)

// Elastic is the production Index implementation backed by Elasticsearch.
type Elastic struct {
	client *elasticsearch.Client
	index  string
}

// NewElastic builds the Elasticsearch-backed index client.
func NewElastic(addresses []string, username, password, index string) (*Elastic, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: addresses,
		Username:  username,
		Password:  password,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return &Elastic{client: client, index: index}, nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string   `json:"_id"`
			Score  float64  `json:"_score"`
			Source Document `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (e *Elastic) Search(ctx context.Context, q Query) ([]Hit, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(e.index),
		e.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == 404 {
		// Unpopulated scope: classified unique downstream.
		return nil, nil
	}
	if res.IsError() {
		return nil, fmt.Errorf("search: %s", res.String())
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	hits := make([]Hit, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		id, err := domain.ParseIndividualID(h.ID)
		if err != nil {
			return nil, fmt.Errorf("search hit %q: %w", h.ID, err)
		}
		hits = append(hits, Hit{
			ID:           id,
			FullName:     h.Source.FullName,
			IdentityHash: h.Source.IdentityHash,
			Score:        h.Score,
		})
	}
	return hits, nil
}

func (e *Elastic) Upsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, doc := range docs {
		meta := fmt.Sprintf(`{"index":{"_index":%q,"_id":%q}}`, e.index, doc.ID.String())
		buf.WriteString(meta)
		buf.WriteByte('\n')
		line, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal document %s: %w", doc.ID, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	return e.bulk(ctx, &buf)
}

func (e *Elastic) Delete(ctx context.Context, ids []domain.IndividualID) error {
	if len(ids) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, id := range ids {
		buf.WriteString(fmt.Sprintf(`{"delete":{"_index":%q,"_id":%q}}`, e.index, id.String()))
		buf.WriteByte('\n')
	}

	return e.bulk(ctx, &buf)
}

func (e *Elastic) DeleteByImport(ctx context.Context, importID domain.ImportID) error {
	body := fmt.Sprintf(`{"query":{"term":{"registration_data_import_id":{"value":%q}}}}`,
		importID.String())

	res, err := e.client.DeleteByQuery(
		[]string{e.index},
		strings.NewReader(body),
		e.client.DeleteByQuery.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("delete by import: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != 404 {
		return fmt.Errorf("delete by import: %s", res.String())
	}
	return nil
}

// Refresh makes recent writes visible to search. Called by tasks that query
// right after (re)populating the index.
func (e *Elastic) Refresh(ctx context.Context) error {
	res, err := e.client.Indices.Refresh(
		e.client.Indices.Refresh.WithContext(ctx),
		e.client.Indices.Refresh.WithIndex(e.index),
	)
	if err != nil {
		return fmt.Errorf("refresh index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("refresh index: %s", res.String())
	}
	return nil
}

func (e *Elastic) bulk(ctx context.Context, body *bytes.Buffer) error {
	req := esapi.BulkRequest{Body: bytes.NewReader(body.Bytes()), Refresh: "false"}
	res, err := req.Do(ctx, e.client)
	if err != nil {
		return fmt.Errorf("bulk: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("bulk: %s", res.String())
	}

	var parsed struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if parsed.Errors {
		for _, item := range parsed.Items {
			for op, detail := range item {
				if detail.Error != nil {
					return fmt.Errorf("bulk %s failed: %s: %s", op, detail.Error.Type, detail.Error.Reason)
				}
			}
		}
		return fmt.Errorf("bulk: partial failure")
	}
	return nil
}
