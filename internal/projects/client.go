package projects

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bidpool/bidpool-api/internal/config"
	"github.com/google/uuid"
)

// BidCard is the candidate-project view this engine reads from the bid-card
// service. Attributes carries the raw fields joining criteria evaluate.
type BidCard struct {
	ID         uuid.UUID      `json:"id"`
	OwnerID    uuid.UUID      `json:"owner_id"`
	Category   string         `json:"category"`
	ZipCode    string         `json:"zip_code"`
	Attributes map[string]any `json:"attributes"`
}

// BidCardReader supplies candidate-project attributes. Read-only.
type BidCardReader interface {
	GetBidCard(ctx context.Context, projectID uuid.UUID) (*BidCard, error)
}

// Recommender supplies a ranked list of candidate project ids for a forming
// group. The engine consumes the ordering as-is and does no scoring.
type Recommender interface {
	CandidatesForGroup(ctx context.Context, groupID uuid.UUID, limit int) ([]uuid.UUID, error)
}

// Client implements both collaborator interfaces against the platform's
// internal HTTP APIs.
type Client struct {
	bidCardURL     string
	recommenderURL string
	apiKey         string
	httpClient     *http.Client
}

func NewClient(cfg config.ProjectsConfig) *Client {
	return &Client{
		bidCardURL:     cfg.BidCardURL,
		recommenderURL: cfg.RecommenderURL,
		apiKey:         cfg.ServiceAPIKey,
		httpClient:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) GetBidCard(ctx context.Context, projectID uuid.UUID) (*BidCard, error) {
	url := fmt.Sprintf("%s/v1/bid-cards/%s", c.bidCardURL, projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bid card: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("bid card %s not found", projectID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bid-card service returned status %d", resp.StatusCode)
	}

	var card BidCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return nil, fmt.Errorf("failed to decode bid card: %w", err)
	}

	return &card, nil
}

func (c *Client) CandidatesForGroup(ctx context.Context, groupID uuid.UUID, limit int) ([]uuid.UUID, error) {
	url := fmt.Sprintf("%s/v1/groups/%s/candidates?limit=%d", c.recommenderURL, groupID, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch candidates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("recommender service returned status %d", resp.StatusCode)
	}

	var out struct {
		ProjectIDs []uuid.UUID `json:"project_ids"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode candidates: %w", err)
	}

	return out.ProjectIDs, nil
}
