package project

import (
	"context"

	"query_gateway/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	ProjectRepo struct {
		collection *mongo.Collection
	}
)

func NewProjectRepo(db *mongo.Database) *ProjectRepo {
	return &ProjectRepo{
		collection: db.Collection("projects"),
	}
}

func (r *ProjectRepo) List(ctx context.Context) ([]model.Project, error) {
	cur, err := r.collection.Find(ctx, bson.M{"enabled": true})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var projects []model.Project
	if err := cur.All(ctx, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

func (r *ProjectRepo) GetByDeployment(ctx context.Context, deploymentID string) (*model.Project, error) {
	filter := bson.M{
		"deployment_id": deploymentID,
	}

	var project model.Project
	err := r.collection.FindOne(ctx, filter).Decode(&project)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return &project, nil
}

func (r *ProjectRepo) Upsert(ctx context.Context, project *model.Project) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"deployment_id": project.DeploymentID},
		bson.M{"$set": project},
		options.Update().SetUpsert(true),
	)
	return err
}
