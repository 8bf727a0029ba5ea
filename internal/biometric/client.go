// Package biometric drives the remote face-deduplication engine: set
// management, image upload, processing, and result ingestion.
package biometric

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"intake/internal/platform/config"
	"intake/pkg/platform/sentinel"
)

// Set states reported by the engine.
const (
	SetStatePending    = "Pending"
	SetStateProcessing = "Processing"
	SetStateClean      = "Clean"
	SetStateError      = "Error"
)

// CreateSetRequest registers a new deduplication set for a program.
type CreateSetRequest struct {
	ReferencePK     string    `json:"reference_pk"`
	NotificationURL string    `json:"notification_url"`
	Config          SetConfig `json:"config"`
}

// SetConfig carries the engine-side matching configuration.
type SetConfig struct {
	FaceDistanceThreshold float64 `json:"face_distance_threshold"`
}

// Set is the engine's view of a deduplication set.
type Set struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// ImageRef points the engine at one individual's photo.
type ImageRef struct {
	ReferencePK string `json:"reference_pk"`
	Filename    string `json:"filename"`
}

// Duplicate is one similarity hit reported by the engine. Distance is the
// face distance in [0, 1]; lower means more similar.
type Duplicate struct {
	First    DuplicateRef `json:"first"`
	Second   DuplicateRef `json:"second"`
	Distance float64      `json:"score"`
}

// DuplicateRef names one side of a reported duplicate.
type DuplicateRef struct {
	ReferencePK string `json:"reference_pk"`
}

// EngineClient is the transport to the face-deduplication engine.
type EngineClient interface {
	CreateSet(ctx context.Context, req CreateSetRequest) (*Set, error)
	GetSet(ctx context.Context, setID string) (*Set, error)
	DeleteSet(ctx context.Context, setID string) error
	UploadImages(ctx context.Context, setID string, images []ImageRef) error
	Process(ctx context.Context, setID string) error
	ListDuplicates(ctx context.Context, setID string) ([]Duplicate, error)
}

// Client talks HTTP+JSON to the engine, authenticating with a static token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a Client from the biometric configuration.
func NewClient(cfg config.Biometric) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) CreateSet(ctx context.Context, req CreateSetRequest) (*Set, error) {
	var set Set
	if err := c.do(ctx, http.MethodPost, "/api/deduplication_sets/", req, &set); err != nil {
		return nil, fmt.Errorf("create deduplication set: %w", err)
	}
	return &set, nil
}

func (c *Client) GetSet(ctx context.Context, setID string) (*Set, error) {
	var set Set
	if err := c.do(ctx, http.MethodGet, "/api/deduplication_sets/"+setID+"/", nil, &set); err != nil {
		return nil, fmt.Errorf("get deduplication set: %w", err)
	}
	return &set, nil
}

func (c *Client) DeleteSet(ctx context.Context, setID string) error {
	if err := c.do(ctx, http.MethodDelete, "/api/deduplication_sets/"+setID+"/", nil, nil); err != nil {
		return fmt.Errorf("delete deduplication set: %w", err)
	}
	return nil
}

func (c *Client) UploadImages(ctx context.Context, setID string, images []ImageRef) error {
	path := "/api/deduplication_sets/" + setID + "/images_bulk/"
	if err := c.do(ctx, http.MethodPost, path, images, nil); err != nil {
		return fmt.Errorf("upload images: %w", err)
	}
	return nil
}

// Process asks the engine to run the set. A 409 means a run is already in
// flight and surfaces as sentinel.ErrAlreadyProcessing.
func (c *Client) Process(ctx context.Context, setID string) error {
	path := "/api/deduplication_sets/" + setID + "/process/"
	if err := c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("process deduplication set: %w", err)
	}
	return nil
}

func (c *Client) ListDuplicates(ctx context.Context, setID string) ([]Duplicate, error) {
	var out struct {
		Results []Duplicate `json:"results"`
	}
	path := "/api/deduplication_sets/" + setID + "/duplicates/"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("list duplicates: %w", err)
	}
	return out.Results, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return sentinel.ErrAlreadyProcessing
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: engine returned %d", sentinel.ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("engine returned %d: %s", resp.StatusCode, payload)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
