package usecase

import (
	"fmt"

	"github.com/fairyhunter13/resume-analyzer/internal/domain"
)

const defaultDashboardLimit = 5

// Dashboard is the per-user overview.
type Dashboard struct {
	Stats          domain.DashboardStats    `json:"stats"`
	RecentActivity []domain.AnalysisSummary `json:"recent_activity"`
	TopTalent      []domain.AnalysisSummary `json:"top_talent"`
}

// DashboardService assembles dashboards and lists notifications.
type DashboardService struct {
	Repo          domain.DashboardRepository
	Notifications domain.NotificationRepository
}

// NewDashboardService constructs a DashboardService.
func NewDashboardService(r domain.DashboardRepository, n domain.NotificationRepository) *DashboardService {
	return &DashboardService{Repo: r, Notifications: n}
}

// Overview returns stats, recent activity and top talent of userID.
func (s *DashboardService) Overview(ctx domain.Context, userID int64, limit int) (Dashboard, error) {
	if limit <= 0 {
		limit = defaultDashboardLimit
	}
	stats, err := s.Repo.Stats(ctx, userID)
	if err != nil {
		return Dashboard{}, fmt.Errorf("op=dashboard.Overview: %w", err)
	}
	recent, err := s.Repo.Recent(ctx, userID, limit)
	if err != nil {
		return Dashboard{}, fmt.Errorf("op=dashboard.Overview: %w", err)
	}
	top, err := s.Repo.TopTalent(ctx, userID, limit)
	if err != nil {
		return Dashboard{}, fmt.Errorf("op=dashboard.Overview: %w", err)
	}
	if recent == nil {
		recent = []domain.AnalysisSummary{}
	}
	if top == nil {
		top = []domain.AnalysisSummary{}
	}
	return Dashboard{Stats: stats, RecentActivity: recent, TopTalent: top}, nil
}

// Stats returns only the aggregate figures of userID.
func (s *DashboardService) Stats(ctx domain.Context, userID int64) (domain.DashboardStats, error) {
	return s.Repo.Stats(ctx, userID)
}

// ListNotifications returns the latest notifications of userID.
func (s *DashboardService) ListNotifications(ctx domain.Context, userID int64, limit int) ([]domain.Notification, error) {
	if s.Notifications == nil {
		return []domain.Notification{}, nil
	}
	return s.Notifications.ListByUser(ctx, userID, limit)
}
