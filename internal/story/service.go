package story

import (
	"context"
	"time"
)

// storyTTL is how long a story stays visible after posting.
const storyTTL = 24 * time.Hour

// Repo is what the service needs from persistence.
type Repo interface {
	InsertStory(ctx context.Context, s *Story) (*Story, error)
	ListUnexpired(ctx context.Context, viewerID int64) ([]Story, error)
	MarkViewed(ctx context.Context, storyID, viewerID int64) error
}

type Service struct {
	repo Repo
}

func NewService(repo Repo) *Service {
	return &Service{repo: repo}
}

func (s *Service) Post(ctx context.Context, userID int64, req *CreateStoryRequest) (*Story, error) {
	st := &Story{
		UserID:          userID,
		Content:         req.Content,
		StoryType:       req.StoryType,
		FileURL:         req.FileURL,
		BackgroundColor: req.BackgroundColor,
		ExpiresAt:       time.Now().Add(storyTTL),
	}
	return s.repo.InsertStory(ctx, st)
}

func (s *Service) List(ctx context.Context, viewerID int64) ([]Story, error) {
	return s.repo.ListUnexpired(ctx, viewerID)
}

func (s *Service) MarkViewed(ctx context.Context, storyID, viewerID int64) error {
	return s.repo.MarkViewed(ctx, storyID, viewerID)
}
