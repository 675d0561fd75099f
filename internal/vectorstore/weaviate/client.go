package weaviate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

type statusError struct {
	method string
	path   string
	code   int
	body   string
}

func (e *statusError) Error() string {
	msg := fmt.Sprintf("weaviate %s %s failed: %d", e.method, e.path, e.code)
	if e.body != "" {
		msg += ": " + e.body
	}
	return msg
}

func isStatus(err error, code int) bool {
	var se *statusError
	return errors.As(err, &se) && se.code == code
}

// isTransport reports whether err happened below HTTP, e.g. a refused or reset connection.
func isTransport(err error) bool {
	var ue *url.Error
	return errors.As(err, &ue)
}

// conn is an open session against one Weaviate endpoint.
type conn struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

func (c *conn) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, rd)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{method: method, path: path, code: resp.StatusCode, body: strings.TrimSpace(string(msg))}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *conn) ready(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/v1/.well-known/ready", nil, nil)
}

func (c *conn) close() {
	c.http.CloseIdleConnections()
}

type classSchema struct {
	Class             string           `json:"class"`
	Vectorizer        string           `json:"vectorizer"`
	VectorIndexConfig map[string]any   `json:"vectorIndexConfig"`
	Properties        []propertySchema `json:"properties"`
}

type propertySchema struct {
	Name     string   `json:"name"`
	DataType []string `json:"dataType"`
}

type batchObject struct {
	Class      string         `json:"class"`
	ID         string         `json:"id"`
	Vector     []float32      `json:"vector"`
	Properties map[string]any `json:"properties"`
}

type batchRequest struct {
	Objects []batchObject `json:"objects"`
}

type batchResult struct {
	ID     string `json:"id"`
	Result struct {
		Errors *struct {
			Error []struct {
				Message string `json:"message"`
			} `json:"error"`
		} `json:"errors"`
	} `json:"result"`
}

type graphqlRequest struct {
	Query string `json:"query"`
}

type graphqlResponse struct {
	Data struct {
		Get map[string][]graphqlObject `json:"Get"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type graphqlObject struct {
	Text       string `json:"text"`
	ChunkID    string `json:"chunk_id"`
	Source     string `json:"source"`
	DocumentID string `json:"document_id"`
	Position   int    `json:"position"`
	Metadata   string `json:"metadata"`
	Additional struct {
		ID       string  `json:"id"`
		Distance float64 `json:"distance"`
	} `json:"_additional"`
}
