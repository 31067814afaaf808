package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/resume-analyzer/internal/config"
	"github.com/fairyhunter13/resume-analyzer/internal/domain"
)

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// ValidationMessage flattens validator errors into one readable line.
func ValidationMessage(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err.Error()
	}
	parts := make([]string, 0, len(ve))
	for _, fe := range ve {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

// JobDescriptionService validates and stores job descriptions.
type JobDescriptionService struct {
	Repo domain.JobDescriptionRepository
}

// NewJobDescriptionService constructs a JobDescriptionService.
func NewJobDescriptionService(r domain.JobDescriptionRepository) *JobDescriptionService {
	return &JobDescriptionService{Repo: r}
}

// Create validates jd and stores it for its user.
func (s *JobDescriptionService) Create(ctx domain.Context, jd domain.JobDescription) (domain.JobDescription, error) {
	jd.JobRole = strings.TrimSpace(jd.JobRole)
	jd.Description = strings.TrimSpace(jd.Description)
	reqs := jd.Requirements[:0:0]
	for _, r := range jd.Requirements {
		if r = strings.TrimSpace(r); r != "" {
			reqs = append(reqs, r)
		}
	}
	jd.Requirements = reqs

	if jd.UserID <= 0 {
		return domain.JobDescription{}, fmt.Errorf("%w: user_id required", domain.ErrInvalidArgument)
	}
	if err := getValidator().Struct(jd); err != nil {
		return domain.JobDescription{}, fmt.Errorf("%w: %s", domain.ErrInvalidArgument, ValidationMessage(err))
	}
	id, err := s.Repo.Create(ctx, jd)
	if err != nil {
		return domain.JobDescription{}, fmt.Errorf("op=jobdesc.Create: %w", err)
	}
	return s.Repo.Get(ctx, id)
}

// Get returns a job description owned by userID.
func (s *JobDescriptionService) Get(ctx domain.Context, userID, id int64) (domain.JobDescription, error) {
	jd, err := s.Repo.Get(ctx, id)
	if err != nil {
		return domain.JobDescription{}, err
	}
	if userID != SystemUser && jd.UserID != userID {
		return domain.JobDescription{}, fmt.Errorf("%w: job description %d", domain.ErrNotFound, id)
	}
	return jd, nil
}

// List returns the job descriptions of userID, newest first.
func (s *JobDescriptionService) List(ctx domain.Context, userID int64) ([]domain.JobDescription, error) {
	return s.Repo.ListByUser(ctx, userID)
}

// Seed creates the job descriptions of sf that the user does not have yet,
// matched by role. It returns how many were created.
func (s *JobDescriptionService) Seed(ctx domain.Context, sf config.SeedFile) (int, error) {
	existing := map[int64]map[string]bool{}
	created := 0
	for _, jd := range sf.JobDescriptions {
		roles, ok := existing[jd.UserID]
		if !ok {
			list, err := s.Repo.ListByUser(ctx, jd.UserID)
			if err != nil {
				return created, fmt.Errorf("op=jobdesc.Seed: %w", err)
			}
			roles = map[string]bool{}
			for _, e := range list {
				roles[strings.ToLower(e.JobRole)] = true
			}
			existing[jd.UserID] = roles
		}
		key := strings.ToLower(strings.TrimSpace(jd.JobRole))
		if roles[key] {
			continue
		}
		if _, err := s.Create(ctx, jd); err != nil {
			return created, fmt.Errorf("op=jobdesc.Seed %q: %w", jd.JobRole, err)
		}
		roles[key] = true
		created++
	}
	slog.Info("job descriptions seeded", slog.Int("created", created), slog.Int("total", len(sf.JobDescriptions)))
	return created, nil
}
