package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"query_gateway/internal/config"
	"query_gateway/internal/model"
	"query_gateway/internal/repository/project"

	"github.com/spf13/cobra"
)

// projectCmd edits the MongoDB project source that `serve` reads when
// projects.source is mongo.
func projectCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects in the MongoDB source",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	var disabled bool
	set := &cobra.Command{
		Use:   "set <deployment> <endpoint>",
		Short: "Create or update the backend of a deployment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newProject(args[0], args[1], !disabled)
			if err != nil {
				return err
			}
			return withProjectRepo(cmd.Context(), configPath, func(ctx context.Context, repo *project.ProjectRepo) error {
				if err := repo.Upsert(ctx, p); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "saved %s -> %s\n", p.DeploymentID, p.Endpoint)
				return nil
			})
		},
	}
	set.Flags().BoolVar(&disabled, "disabled", false, "store the project without serving it")

	get := &cobra.Command{
		Use:   "get <deployment>",
		Short: "Show the stored project of a deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProjectRepo(cmd.Context(), configPath, func(ctx context.Context, repo *project.ProjectRepo) error {
				p, err := repo.GetByDeployment(ctx, args[0])
				if err != nil {
					return err
				}
				if p == nil {
					return fmt.Errorf("project %s not found", args[0])
				}
				out, err := json.MarshalIndent(p, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			})
		},
	}

	cmd.AddCommand(set, get)
	return cmd
}

func newProject(deploymentID, endpoint string, enabled bool) (*model.Project, error) {
	if deploymentID == "" {
		return nil, errors.New("empty deployment id")
	}
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("endpoint %q must be an http or https url", endpoint)
	}
	return &model.Project{DeploymentID: deploymentID, Endpoint: endpoint, Enabled: enabled}, nil
}

func withProjectRepo(ctx context.Context, configPath string, fn func(context.Context, *project.ProjectRepo) error) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Projects.MongoURI == "" {
		return errors.New("projects.mongo_uri is not set")
	}

	client, err := initMongo(cfg.Projects.MongoURI)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		client.Disconnect(ctx)
	}()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return fn(ctx, project.NewProjectRepo(client.Database(cfg.Projects.MongoDatabase)))
}
