package testutil

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/layered-backend/internal/domain/projects"
)

// Run is a seeded project with its processing prediction and input blob.
type Run struct {
	Project    *projects.Project
	Prediction *projects.Prediction
	InputBlob  *projects.Blob
}

func SeedRun(tb testing.TB, ctx context.Context, tx *gorm.DB, layerCount int) *Run {
	tb.Helper()
	input := SeedBlob(tb, ctx, tx, uuid.NewString())
	project := &projects.Project{
		ID:     uuid.NewString(),
		Status: projects.StatusProcessing,
	}
	if err := tx.WithContext(ctx).Create(project).Error; err != nil {
		tb.Fatalf("seed project: %v", err)
	}
	in, _ := json.Marshal(projects.PredictionInput{
		ImageURL:  "https://assets.test/" + input.ID,
		NumLayers: layerCount,
	})
	prediction := &projects.Prediction{
		ID:         uuid.NewString(),
		ProjectID:  &project.ID,
		EndpointID: projects.EndpointImageLayered,
		Input:      datatypes.JSON(in),
		Output:     datatypes.JSON([]byte("{}")),
		Status:     projects.StatusProcessing,
	}
	if err := tx.WithContext(ctx).Create(prediction).Error; err != nil {
		tb.Fatalf("seed prediction: %v", err)
	}
	link := &projects.PredictionBlob{
		PredictionID: prediction.ID,
		BlobID:       input.ID,
		Role:         projects.RoleInput,
		Position:     0,
	}
	if err := tx.WithContext(ctx).Create(link).Error; err != nil {
		tb.Fatalf("seed input link: %v", err)
	}
	return &Run{Project: project, Prediction: prediction, InputBlob: input}
}

func SeedBlob(tb testing.TB, ctx context.Context, tx *gorm.DB, id string) *projects.Blob {
	tb.Helper()
	b := &projects.Blob{
		ID:          id,
		ContentType: "image/png",
		FileName:    "input.png",
		FileSize:    1024,
		Width:       64,
		Height:      64,
	}
	if err := tx.WithContext(ctx).Create(b).Error; err != nil {
		tb.Fatalf("seed blob: %v", err)
	}
	return b
}
