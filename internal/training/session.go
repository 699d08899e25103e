package training

import (
	"errors"
	"fmt"

	"github.com/reminator329/trainingbook/internal/entity"
)

// ErrReferentialViolation matches every *ReferentialViolationError.
var ErrReferentialViolation = errors.New("training: referential violation")

// ViolationKind tells which session rule a result broke.
type ViolationKind string

const (
	// ViolationNotInProgram: the result's exercise program is not part of the session template.
	ViolationNotInProgram ViolationKind = "not_in_program"
	// ViolationAlreadyRecorded: the session already has a result for the exercise program.
	ViolationAlreadyRecorded ViolationKind = "already_recorded"
	// ViolationMissingProgram: the result references no exercise program.
	ViolationMissingProgram ViolationKind = "missing_program"
	// ViolationMissingTemplate: the session has no program type.
	ViolationMissingTemplate ViolationKind = "missing_template"
)

// ReferentialViolationError is returned when a result does not fit its session.
type ReferentialViolationError struct {
	Kind      ViolationKind
	SessionID entity.ID
	ResultID  entity.ID
	ProgramID entity.ID
}

func (e *ReferentialViolationError) Error() string {
	switch e.Kind {
	case ViolationNotInProgram:
		return fmt.Sprintf("training: exercise program %s of result %s is not in the program of session %s", e.ProgramID, e.ResultID, e.SessionID)
	case ViolationAlreadyRecorded:
		return fmt.Sprintf("training: exercise program %s is already done in session %s", e.ProgramID, e.SessionID)
	case ViolationMissingProgram:
		return fmt.Sprintf("training: result %s has no exercise program", e.ResultID)
	default:
		return fmt.Sprintf("training: session %s has no program type", e.SessionID)
	}
}

// Is reports whether target is ErrReferentialViolation.
func (e *ReferentialViolationError) Is(target error) bool {
	return target == ErrReferentialViolation
}

// AddResult appends result unless its exercise program is outside the
// session template or already has a result. On error Results is unchanged.
func (s *Session) AddResult(result *Exercise) error {
	if err := s.check(result, s.Results); err != nil {
		return err
	}
	s.Results = append(s.Results, result)
	return nil
}

func (s *Session) check(result *Exercise, recorded []*Exercise) error {
	violation := func(kind ViolationKind) error {
		err := &ReferentialViolationError{Kind: kind, SessionID: s.ID}
		if result != nil {
			err.ResultID = result.ID
			if result.ExerciseProgram != nil {
				err.ProgramID = result.ExerciseProgram.ID
			}
		}
		return err
	}
	if s.Template == nil {
		return violation(ViolationMissingTemplate)
	}
	if result == nil || result.ExerciseProgram == nil {
		return violation(ViolationMissingProgram)
	}
	programID := result.ExerciseProgram.ID
	if _, ok := s.Template.Program(programID); !ok {
		return violation(ViolationNotInProgram)
	}
	for _, done := range recorded {
		if done != nil && done.ExerciseProgram != nil && done.ExerciseProgram.ID == programID {
			return violation(ViolationAlreadyRecorded)
		}
	}
	return nil
}

// Validate re-checks every result of a loaded session and returns all violations.
func (s *Session) Validate() error {
	if s.Template == nil {
		return &ReferentialViolationError{Kind: ViolationMissingTemplate, SessionID: s.ID}
	}
	var errs []error
	for i, result := range s.Results {
		if err := s.check(result, s.Results[:i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IsCompleted reports whether every exercise program of the template has a
// valid result.
func (s *Session) IsCompleted() bool {
	if s.Template == nil || len(s.Results) != len(s.Template.ExercisePrograms) {
		return false
	}
	return s.Validate() == nil
}

// Result returns the result recorded for the exercise program with id.
func (s *Session) Result(programID entity.ID) (*Exercise, bool) {
	for _, result := range s.Results {
		if result != nil && result.ExerciseProgram != nil && result.ExerciseProgram.ID == programID {
			return result, true
		}
	}
	return nil, false
}
