// Package training holds the workout records persisted by the store and the
// service the command layer uses to create and query them.
package training

import (
	"time"

	"github.com/reminator329/trainingbook/internal/entity"
)

// Namespace is the module written into every training record tag.
const Namespace = "training"

// Collection names, in document order.
const (
	CollectionExerciseTypes = "exerciseTypes"
	CollectionProgramTypes  = "programTypes"
	CollectionSessions      = "sessions"
	CollectionUsers         = "users"
)

// Collections lists every collection in the order it is written.
var Collections = []string{
	CollectionExerciseTypes,
	CollectionProgramTypes,
	CollectionSessions,
	CollectionUsers,
}

// LegacyCollections maps collection keys used by older documents to the current ones.
var LegacyCollections = map[string]string{
	"exercisesTemplate": CollectionExerciseTypes,
	"programs":          CollectionProgramTypes,
	"programTemplates":  CollectionProgramTypes,
}

// ExerciseType is a named movement, e.g. "Bench press".
type ExerciseType struct {
	entity.Base
	Name string `doc:"name"`
}

// ExerciseProgram places an exercise type in a program with its rest time.
type ExerciseProgram struct {
	entity.Base
	ExerciseTemplate *ExerciseType `doc:"exerciseTemplate,ref,alias=exercise_template"`
	RestTimeSeconds  int           `doc:"restTimeSeconds,alias=rest_time_seconds"`
}

// Exercise is one logged result for an exercise program.
type Exercise struct {
	entity.Base
	ExerciseProgram *ExerciseProgram `doc:"exerciseProgram,ref,alias=exercise_program"`
	Weight          float64          `doc:"weight"`
	Reps            int              `doc:"reps"`
}

// ProgramType is a named, ordered list of exercise programs. The order is the
// order exercises are performed in a session.
type ProgramType struct {
	entity.Base
	Name             string             `doc:"name"`
	ExercisePrograms []*ExerciseProgram `doc:"exercisePrograms,alias=exercise_programs"`
}

// Session is one performed workout following a program type.
type Session struct {
	entity.Base
	Template *ProgramType `doc:"template,ref"`
	Date     time.Time    `doc:"date"`
	Results  []*Exercise  `doc:"results"`
}

// User is a chat platform member and the records they created.
type User struct {
	entity.Base
	UserID        string          `doc:"userId"`
	Mention       string          `doc:"mention"`
	ExerciseTypes []*ExerciseType `doc:"exerciseTypes,ref"`
	ProgramTypes  []*ProgramType  `doc:"programTypes,ref"`
	Sessions      []*Session      `doc:"sessions,ref"`
}

// NewExerciseType returns an exercise type with a fresh id.
func NewExerciseType(name string) *ExerciseType {
	return &ExerciseType{Base: entity.Base{ID: entity.NewID()}, Name: name}
}

// NewExerciseProgram returns an exercise program with a fresh id.
func NewExerciseProgram(template *ExerciseType, restTimeSeconds int) *ExerciseProgram {
	return &ExerciseProgram{
		Base:             entity.Base{ID: entity.NewID()},
		ExerciseTemplate: template,
		RestTimeSeconds:  restTimeSeconds,
	}
}

// NewExercise returns a result with a fresh id.
func NewExercise(program *ExerciseProgram, weight float64, reps int) *Exercise {
	return &Exercise{
		Base:            entity.Base{ID: entity.NewID()},
		ExerciseProgram: program,
		Weight:          weight,
		Reps:            reps,
	}
}

// NewProgramType returns a program type with a fresh id.
func NewProgramType(name string, programs ...*ExerciseProgram) *ProgramType {
	return &ProgramType{
		Base:             entity.Base{ID: entity.NewID()},
		Name:             name,
		ExercisePrograms: programs,
	}
}

// AddExerciseProgram appends program to the program type.
func (p *ProgramType) AddExerciseProgram(program *ExerciseProgram) {
	p.ExercisePrograms = append(p.ExercisePrograms, program)
}

// Program returns the exercise program with id, if the program type has one.
func (p *ProgramType) Program(id entity.ID) (*ExerciseProgram, bool) {
	for _, program := range p.ExercisePrograms {
		if program != nil && program.ID == id {
			return program, true
		}
	}
	return nil, false
}

// NewSession returns an empty session on template, dated date in UTC.
func NewSession(template *ProgramType, date time.Time) *Session {
	return &Session{
		Base:     entity.Base{ID: entity.NewID()},
		Template: template,
		Date:     date.UTC(),
	}
}

// NewUser returns a user with a fresh id.
func NewUser(userID, mention string) *User {
	return &User{Base: entity.Base{ID: entity.NewID()}, UserID: userID, Mention: mention}
}

// AddExerciseType attaches t unless a record with its id is already attached.
func (u *User) AddExerciseType(t *ExerciseType) {
	u.ExerciseTypes = appendUnique(u.ExerciseTypes, t)
}

// AddProgramType attaches p unless a record with its id is already attached.
func (u *User) AddProgramType(p *ProgramType) {
	u.ProgramTypes = appendUnique(u.ProgramTypes, p)
}

// AddSession attaches s unless a record with its id is already attached.
func (u *User) AddSession(s *Session) {
	u.Sessions = appendUnique(u.Sessions, s)
}

func appendUnique[T entity.Entity](list []T, item T) []T {
	for i, existing := range list {
		if existing.EntityID() == item.EntityID() {
			list[i] = item
			return list
		}
	}
	return append(list, item)
}

// Register binds every training record type to its tag, plus the tags
// written by earlier versions of the bot.
func Register(r *entity.Registry) error {
	errs := []error{
		entity.Register[ExerciseType](r, entity.Tag{Class: "ExerciseType", Module: Namespace}),
		entity.Register[ExerciseProgram](r, entity.Tag{Class: "ExerciseProgram", Module: Namespace}),
		entity.Register[Exercise](r, entity.Tag{Class: "Exercise", Module: Namespace}),
		entity.Register[ProgramType](r, entity.Tag{Class: "ProgramType", Module: Namespace}),
		entity.Register[Session](r, entity.Tag{Class: "Session", Module: Namespace}),
		entity.Register[User](r, entity.Tag{Class: "User", Module: Namespace}),
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	legacy := map[entity.Tag]string{
		{Class: "ExerciseTemplate", Module: "datamodel.training"}: "ExerciseType",
		{Class: "ExerciseType", Module: "datamodel.training"}:     "ExerciseType",
		{Class: "ExerciseProgram", Module: "datamodel.training"}:  "ExerciseProgram",
		{Class: "Exercise", Module: "datamodel.training"}:         "Exercise",
		{Class: "ProgramTemplate", Module: "datamodel.training"}:  "ProgramType",
		{Class: "ProgramType", Module: "datamodel.training"}:      "ProgramType",
		{Class: "Program", Module: "datamodel.training"}:          "Session",
		{Class: "Session", Module: "datamodel.training"}:          "Session",
		{Class: "User", Module: "datamodel.user"}:                 "User",
	}
	for old, class := range legacy {
		if err := r.Alias(old, entity.Tag{Class: class, Module: Namespace}); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry with the training records registered.
func NewRegistry() *entity.Registry {
	r := entity.NewRegistry()
	if err := Register(r); err != nil {
		panic(err)
	}
	return r
}
