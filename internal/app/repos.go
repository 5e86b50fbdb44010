package app

import (
	"gorm.io/gorm"

	jobrepos "github.com/yungbote/layered-backend/internal/data/repos/jobs"
	repoprojects "github.com/yungbote/layered-backend/internal/data/repos/projects"
	"github.com/yungbote/layered-backend/internal/platform/logger"
)

type Repos struct {
	Project        repoprojects.ProjectRepo
	Prediction     repoprojects.PredictionRepo
	Blob           repoprojects.BlobRepo
	PredictionBlob repoprojects.PredictionBlobRepo

	JobRun         jobrepos.JobRunRepo
	StepCheckpoint jobrepos.StepCheckpointRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Project:        repoprojects.NewProjectRepo(db, log),
		Prediction:     repoprojects.NewPredictionRepo(db, log),
		Blob:           repoprojects.NewBlobRepo(db, log),
		PredictionBlob: repoprojects.NewPredictionBlobRepo(db, log),

		JobRun:         jobrepos.NewJobRunRepo(db, log),
		StepCheckpoint: jobrepos.NewStepCheckpointRepo(db, log),
	}
}
