package usecase_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/resume-analyzer/internal/config"
	"github.com/fairyhunter13/resume-analyzer/internal/domain"
	"github.com/fairyhunter13/resume-analyzer/internal/usecase"
)

func TestJobDescriptionService_Create(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := usecase.NewJobDescriptionService(newMemJobDescs())

	jd, err := svc.Create(ctx, domain.JobDescription{
		UserID:        7,
		JobRole:       "  Backend Engineer ",
		ExperienceMin: 2,
		ExperienceMax: 4,
		Description:   "Go services",
		Requirements:  []string{" Go ", "", "PostgreSQL"},
	})
	require.NoError(t, err)
	assert.NotZero(t, jd.ID)
	assert.Equal(t, "Backend Engineer", jd.JobRole)
	assert.Equal(t, []string{"Go", "PostgreSQL"}, jd.Requirements)
}

func TestJobDescriptionService_CreateValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := usecase.NewJobDescriptionService(newMemJobDescs())

	valid := domain.JobDescription{UserID: 1, JobRole: "QA", Description: "tests", ExperienceMin: 1, ExperienceMax: 3}
	tests := []struct {
		name   string
		mutate func(*domain.JobDescription)
		field  string
	}{
		{"missing user", func(j *domain.JobDescription) { j.UserID = 0 }, "user_id"},
		{"blank role", func(j *domain.JobDescription) { j.JobRole = "   " }, "JobRole"},
		{"missing description", func(j *domain.JobDescription) { j.Description = "" }, "Description"},
		{"inverted range", func(j *domain.JobDescription) { j.ExperienceMin, j.ExperienceMax = 5, 2 }, "ExperienceMax"},
		{"negative experience", func(j *domain.JobDescription) { j.ExperienceMin = -1 }, "ExperienceMin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jd := valid
			tt.mutate(&jd)
			_, err := svc.Create(ctx, jd)
			require.ErrorIs(t, err, domain.ErrInvalidArgument)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestJobDescriptionService_GetChecksOwnership(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := usecase.NewJobDescriptionService(newMemJobDescs())
	jd, err := svc.Create(ctx, domain.JobDescription{UserID: 3, JobRole: "SRE", Description: "on-call"})
	require.NoError(t, err)

	_, err = svc.Get(ctx, 4, jd.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	got, err := svc.Get(ctx, 3, jd.ID)
	require.NoError(t, err)
	assert.Equal(t, "SRE", got.JobRole)
}

func TestJobDescriptionService_SeedIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newMemJobDescs()
	svc := usecase.NewJobDescriptionService(repo)
	_, err := svc.Create(ctx, domain.JobDescription{UserID: 1, JobRole: "Senior PHP Developer", Description: "existing"})
	require.NoError(t, err)

	sf := config.SeedFile{UserID: 1, JobDescriptions: []domain.JobDescription{
		{UserID: 1, JobRole: "senior php developer", Description: "dup by role"},
		{UserID: 1, JobRole: "Frontend Engineer", Description: "React", Requirements: []string{"React"}},
		{UserID: 2, JobRole: "Frontend Engineer", Description: "React"},
	}}

	n, err := svc.Seed(ctx, sf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = svc.Seed(ctx, sf)
	require.NoError(t, err)
	assert.Zero(t, n)

	list, _ := svc.List(ctx, 1)
	assert.Len(t, list, 2)
}

func TestJobDescriptionService_SeedStopsOnInvalidEntry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := usecase.NewJobDescriptionService(newMemJobDescs())

	n, err := svc.Seed(ctx, config.SeedFile{JobDescriptions: []domain.JobDescription{
		{UserID: 1, JobRole: "Data Engineer", Description: "pipelines"},
		{UserID: 1, JobRole: "Broken"},
	}})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Equal(t, 1, n)
	assert.Contains(t, err.Error(), "Broken")
}
