package training

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/reminator329/trainingbook/internal/entity"
	"github.com/reminator329/trainingbook/internal/graph"
	"github.com/reminator329/trainingbook/internal/store"
)

var (
	// ErrNameRequired indicates a blank exercise or program name.
	ErrNameRequired = errors.New("training: name is required")
	// ErrDuplicateName indicates a record with the same name already exists.
	ErrDuplicateName = errors.New("training: name already used")
	// ErrUserNotFound indicates no user has the requested platform id.
	ErrUserNotFound = errors.New("training: user not found")
	// ErrUnknownExerciseType indicates a reference to an exercise type that is not stored.
	ErrUnknownExerciseType = errors.New("training: unknown exercise type")
	// ErrUnknownProgramType indicates a reference to a program type that is not stored.
	ErrUnknownProgramType = errors.New("training: unknown program type")
)

// Repository exposes the store operations the service relies on.
type Repository interface {
	Codec() *graph.Codec
	Snapshot(collection string) ([]entity.Entity, error)
	Find(collection string, match func(entity.Entity) bool) (entity.Entity, bool)
	Transact(ctx context.Context, fn func(store.Tx) error) error
}

// Owner identifies the platform user a record is created for.
type Owner struct {
	PlatformID string
	Mention    string
}

// Service contains the training use cases.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService constructs a new Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// StoreOptions maps the legacy collection keys onto the current collections.
func StoreOptions() []store.Option {
	legacy := make([]string, 0, len(LegacyCollections))
	for key := range LegacyCollections {
		legacy = append(legacy, key)
	}
	slices.Sort(legacy)
	opts := make([]store.Option, 0, len(legacy))
	for _, key := range legacy {
		opts = append(opts, store.WithCollectionAlias(key, LegacyCollections[key]))
	}
	return opts
}

// ExerciseTypes returns copies of every exercise type, sorted by name.
func (s *Service) ExerciseTypes(ctx context.Context) ([]*ExerciseType, error) {
	types, err := snapshotOf[*ExerciseType](s.repo, CollectionExerciseTypes)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(types, func(a, b *ExerciseType) int {
		return strings.Compare(a.Name, b.Name)
	})
	return types, nil
}

// ProgramTypes returns copies of every program type, sorted by name.
func (s *Service) ProgramTypes(ctx context.Context) ([]*ProgramType, error) {
	programs, err := snapshotOf[*ProgramType](s.repo, CollectionProgramTypes)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(programs, func(a, b *ProgramType) int {
		return strings.Compare(a.Name, b.Name)
	})
	return programs, nil
}

// User returns the live user record for a platform id. Changes made through
// it are visible to the store immediately and persisted on the next write.
func (s *Service) User(ctx context.Context, platformID string) (*User, error) {
	user, ok := store.FindOf(s.repo, CollectionUsers, func(u *User) bool {
		return u.UserID == platformID
	})
	if !ok {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// CreateExerciseType stores a new exercise type and attaches it to its owner.
func (s *Service) CreateExerciseType(ctx context.Context, owner Owner, name string) (*ExerciseType, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameRequired
	}
	created := NewExerciseType(name)
	err := s.repo.Transact(ctx, func(tx store.Tx) error {
		if _, taken := store.FindOf(tx, CollectionExerciseTypes, func(t *ExerciseType) bool {
			return sameName(t.Name, name)
		}); taken {
			return fmt.Errorf("%w: exercise type %q", ErrDuplicateName, name)
		}
		if err := tx.Upsert(CollectionExerciseTypes, created); err != nil {
			return err
		}
		return s.attach(tx, owner, func(u *User) { u.AddExerciseType(created) })
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CreateProgramType stores program and attaches it to its owner. Every
// exercise program must reference a stored exercise type.
func (s *Service) CreateProgramType(ctx context.Context, owner Owner, program *ProgramType) error {
	if program == nil {
		return errors.New("training: program type is nil")
	}
	program.Name = strings.TrimSpace(program.Name)
	if program.Name == "" {
		return ErrNameRequired
	}
	return s.repo.Transact(ctx, func(tx store.Tx) error {
		if existing, taken := store.FindOf(tx, CollectionProgramTypes, func(p *ProgramType) bool {
			return sameName(p.Name, program.Name)
		}); taken && existing.ID != program.ID {
			return fmt.Errorf("%w: program type %q", ErrDuplicateName, program.Name)
		}
		for i, ep := range program.ExercisePrograms {
			if ep == nil || ep.ExerciseTemplate == nil {
				return fmt.Errorf("%w: exercise program %d has no exercise type", ErrUnknownExerciseType, i)
			}
			if _, ok := tx.Get(ep.ExerciseTemplate.ID); !ok {
				return fmt.Errorf("%w: %s", ErrUnknownExerciseType, ep.ExerciseTemplate.ID)
			}
		}
		if err := tx.Upsert(CollectionProgramTypes, program); err != nil {
			return err
		}
		return s.attach(tx, owner, func(u *User) { u.AddProgramType(program) })
	})
}

// StartSession returns a new session on a copy of the stored program type.
// Results added to it reference the copy's exercise programs; they converge
// on the stored ones when the session is recorded.
func (s *Service) StartSession(ctx context.Context, programTypeID entity.ID) (*Session, error) {
	programs, err := snapshotOf[*ProgramType](s.repo, CollectionProgramTypes)
	if err != nil {
		return nil, err
	}
	for _, program := range programs {
		if program.ID == programTypeID {
			return NewSession(program, s.now()), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownProgramType, programTypeID)
}

// RecordSession validates and stores session, then attaches it to its owner.
// The session is checked again against the stored program type.
func (s *Service) RecordSession(ctx context.Context, owner Owner, session *Session) error {
	if session == nil {
		return errors.New("training: session is nil")
	}
	if err := session.Validate(); err != nil {
		return err
	}
	if session.Date.IsZero() {
		session.Date = s.now().UTC()
	}
	return s.repo.Transact(ctx, func(tx store.Tx) error {
		if _, ok := tx.Get(session.Template.ID); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownProgramType, session.Template.ID)
		}
		if err := tx.Upsert(CollectionSessions, session); err != nil {
			return err
		}
		// Template now points at the stored program type, which may have
		// changed since StartSession.
		if err := session.Validate(); err != nil {
			return err
		}
		return s.attach(tx, owner, func(u *User) { u.AddSession(session) })
	})
}

// attach loads a copy of the owner, or creates it, applies mutate and upserts
// it in the same transaction as the child record.
func (s *Service) attach(tx store.Tx, owner Owner, mutate func(*User)) error {
	if strings.TrimSpace(owner.PlatformID) == "" {
		return errors.New("training: owner platform id is required")
	}
	var user *User
	live, ok := store.FindOf(tx, CollectionUsers, func(u *User) bool {
		return u.UserID == owner.PlatformID
	})
	if ok {
		clone, err := graph.CloneOf(s.repo.Codec(), live)
		if err != nil {
			return fmt.Errorf("training: copy user %s: %w", owner.PlatformID, err)
		}
		user = clone
	} else {
		user = NewUser(owner.PlatformID, owner.Mention)
	}
	if owner.Mention != "" {
		user.Mention = owner.Mention
	}
	mutate(user)
	return tx.Upsert(CollectionUsers, user)
}

func sameName(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func snapshotOf[T entity.Entity](repo Repository, collection string) ([]T, error) {
	records, err := repo.Snapshot(collection)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(records))
	for _, record := range records {
		if typed, ok := record.(T); ok {
			out = append(out, typed)
		}
	}
	return out, nil
}
