package project

import (
	"context"

	"query_gateway/internal/model"
)

// Source lists the deployments this node serves.
type Source interface {
	List(ctx context.Context) ([]model.Project, error)
}

type StaticSource struct {
	projects []model.Project
}

func NewStaticSource(projects []model.Project) *StaticSource {
	return &StaticSource{projects: projects}
}

func (s *StaticSource) List(context.Context) ([]model.Project, error) {
	out := make([]model.Project, 0, len(s.projects))
	for _, p := range s.projects {
		if p.DeploymentID != "" && p.Endpoint != "" {
			out = append(out, p)
		}
	}
	return out, nil
}
