package training

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func pushDay() (*ProgramType, *ExerciseProgram, *ExerciseProgram) {
	bench := NewExerciseProgram(NewExerciseType("Bench"), 90)
	dips := NewExerciseProgram(NewExerciseType("Dips"), 60)
	return NewProgramType("Push", bench, dips), bench, dips
}

func TestAddResultAcceptsProgramsOfTemplate(t *testing.T) {
	template, bench, dips := pushDay()
	session := NewSession(template, time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC))

	require.NoError(t, session.AddResult(NewExercise(bench, 80, 8)))
	require.False(t, session.IsCompleted())
	require.NoError(t, session.AddResult(NewExercise(dips, 0, 12)))
	require.True(t, session.IsCompleted())
	require.NoError(t, session.Validate())

	got, ok := session.Result(dips.ID)
	require.True(t, ok)
	require.Equal(t, 12, got.Reps)
}

func TestAddResultRejectsProgramOutsideTemplate(t *testing.T) {
	template, bench, _ := pushDay()
	session := NewSession(template, time.Now())
	require.NoError(t, session.AddResult(NewExercise(bench, 80, 8)))

	stranger := NewExerciseProgram(NewExerciseType("Squat"), 120)
	err := session.AddResult(NewExercise(stranger, 100, 5))
	require.True(t, errors.Is(err, ErrReferentialViolation))

	var violation *ReferentialViolationError
	require.True(t, errors.As(err, &violation))
	require.Equal(t, ViolationNotInProgram, violation.Kind)
	require.Equal(t, stranger.ID, violation.ProgramID)
	require.Len(t, session.Results, 1)
}

func TestAddResultRejectsSecondResultForProgram(t *testing.T) {
	template, bench, _ := pushDay()
	session := NewSession(template, time.Now())
	first := NewExercise(bench, 80, 8)
	require.NoError(t, session.AddResult(first))

	err := session.AddResult(NewExercise(bench, 85, 6))
	require.ErrorIs(t, err, ErrReferentialViolation)
	var violation *ReferentialViolationError
	require.True(t, errors.As(err, &violation))
	require.Equal(t, ViolationAlreadyRecorded, violation.Kind)
	require.Contains(t, err.Error(), "already done")

	require.Len(t, session.Results, 1)
	require.Same(t, first, session.Results[0])
}

func TestAddResultMatchesProgramsByID(t *testing.T) {
	template, bench, _ := pushDay()
	session := NewSession(template, time.Now())

	copyOfBench := *bench
	require.NoError(t, session.AddResult(NewExercise(&copyOfBench, 80, 8)))
}

func TestAddResultWithoutTemplateOrProgram(t *testing.T) {
	session := &Session{}
	require.ErrorIs(t, session.AddResult(NewExercise(nil, 1, 1)), ErrReferentialViolation)

	template, _, _ := pushDay()
	session = NewSession(template, time.Now())
	err := session.AddResult(&Exercise{})
	var violation *ReferentialViolationError
	require.True(t, errors.As(err, &violation))
	require.Equal(t, ViolationMissingProgram, violation.Kind)
	require.Empty(t, session.Results)
}

func TestValidateReportsEveryViolation(t *testing.T) {
	template, bench, _ := pushDay()
	stranger := NewExerciseProgram(NewExerciseType("Squat"), 120)
	session := NewSession(template, time.Now())
	session.Results = []*Exercise{
		NewExercise(bench, 80, 8),
		NewExercise(bench, 80, 8),
		NewExercise(stranger, 100, 5),
	}

	err := session.Validate()
	require.ErrorIs(t, err, ErrReferentialViolation)
	require.Contains(t, err.Error(), "already done")
	require.Contains(t, err.Error(), "is not in the program")
	require.False(t, session.IsCompleted())
}

func TestUserAddDeduplicatesByID(t *testing.T) {
	user := NewUser("42", "@lifter")
	bench := NewExerciseType("Bench")
	user.AddExerciseType(bench)
	renamed := &ExerciseType{Base: bench.Base, Name: "Bench press"}
	user.AddExerciseType(renamed)

	require.Len(t, user.ExerciseTypes, 1)
	require.Same(t, renamed, user.ExerciseTypes[0])
}
