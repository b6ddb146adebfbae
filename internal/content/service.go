package content

import (
	"context"
	"database/sql"

	"github.com/mind-engage/mindengage-training/internal/events"
	"github.com/mind-engage/mindengage-training/internal/svc"
)

// Service wraps Store writes in transactions and emits events.
type Service struct {
	svc.Deps
}

func NewService(deps svc.Deps) *Service {
	return &Service{Deps: deps.WithDefaults()}
}

func (s *Service) reader() *Store {
	st := NewStore(s.DB.SQL, "")
	st.now = s.Now
	return st
}

func (s *Service) Current(ctx context.Context, groupID string) (Version, error) {
	return s.reader().Current(ctx, groupID)
}

func (s *Service) Version(ctx context.Context, groupID string, number int) (Version, error) {
	return s.reader().Version(ctx, groupID, number)
}

func (s *Service) History(ctx context.Context, groupID string) ([]Version, error) {
	return s.reader().History(ctx, groupID)
}

func (s *Service) PinnedQuestions(ctx context.Context, testSet Version) ([]PinnedQuestion, error) {
	return s.reader().PinnedQuestions(ctx, testSet)
}

func (s *Service) Create(ctx context.Context, d Draft, actorID string) (Version, error) {
	var out Version
	err := s.Unit(ctx, func(tx *sql.Tx, b *events.Batch) error {
		st := NewStore(tx, s.DB.ForUpdate())
		st.now = s.Now
		v, err := st.Create(ctx, d, actorID)
		if err != nil {
			return err
		}
		out = v
		return b.Add(ctx, events.ResourceVersioned, v.GroupID, v.Ref())
	})
	if err != nil {
		return Version{}, err
	}
	s.Metrics.ResourceVersion(string(out.Kind))
	s.Logger.Info("resource created", "group_id", out.GroupID, "kind", out.Kind)
	return out, nil
}

// Edit writes the next version of groupID.
func (s *Service) Edit(ctx context.Context, groupID string, p Patch, actorID string) (Version, error) {
	var out Version
	err := s.Unit(ctx, func(tx *sql.Tx, b *events.Batch) error {
		st := NewStore(tx, s.DB.ForUpdate())
		st.now = s.Now
		v, err := st.NewVersion(ctx, groupID, p, actorID)
		if err != nil {
			return err
		}
		out = v
		return b.Add(ctx, events.ResourceVersioned, v.GroupID, v.Ref())
	})
	if err != nil {
		return Version{}, err
	}
	s.Metrics.ResourceVersion(string(out.Kind))
	s.Logger.Info("resource versioned", "group_id", out.GroupID, "version", out.Number)
	return out, nil
}

func (s *Service) Delete(ctx context.Context, groupID string) error {
	err := s.Unit(ctx, func(tx *sql.Tx, b *events.Batch) error {
		if err := NewStore(tx, s.DB.ForUpdate()).Delete(ctx, groupID); err != nil {
			return err
		}
		return b.Add(ctx, events.ResourceDeleted, groupID, map[string]string{"group_id": groupID})
	})
	if err == nil {
		s.Logger.Info("resource deleted", "group_id", groupID)
	}
	return err
}
