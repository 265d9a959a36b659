package project

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"query_gateway/internal/model"
)

const aliveProjectsQuery = `query { getAliveProjects { id queryEndpoint } }`

// CoordinatorSource asks a coordinator service which projects it is
// currently serving.
type CoordinatorSource struct {
	url    string
	client *http.Client
}

func NewCoordinatorSource(url string, client *http.Client) *CoordinatorSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &CoordinatorSource{url: url, client: client}
}

type aliveProjectsResponse struct {
	Data struct {
		GetAliveProjects []struct {
			ID            string `json:"id"`
			QueryEndpoint string `json:"queryEndpoint"`
		} `json:"getAliveProjects"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (s *CoordinatorSource) List(ctx context.Context) ([]model.Project, error) {
	body, _ := json.Marshal(map[string]string{"query": aliveProjectsQuery})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coordinator request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coordinator returned %s", resp.Status)
	}

	var out aliveProjectsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode coordinator response: %w", err)
	}
	if len(out.Errors) > 0 {
		return nil, fmt.Errorf("coordinator error: %s", out.Errors[0].Message)
	}

	projects := make([]model.Project, 0, len(out.Data.GetAliveProjects))
	for _, p := range out.Data.GetAliveProjects {
		if p.ID == "" || p.QueryEndpoint == "" {
			continue
		}
		projects = append(projects, model.Project{DeploymentID: p.ID, Endpoint: p.QueryEndpoint, Enabled: true})
	}
	return projects, nil
}
