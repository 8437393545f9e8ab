package course

import (
	"context"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/luxaar/luxaar/core"
)

var (
	ErrNotFound       = core.NewNotFoundError("course not found")
	ErrModuleNotFound = core.NewNotFoundError("module not found")
	ErrLessonNotFound = core.NewNotFoundError("lesson not found")

	errReorderMismatch = "ids must list every sibling exactly once"
)

type (
	Repository interface {
		CreateCourse(ctx context.Context, c Course, exec ...core.DBExecutor) (Course, error)
		GetCourse(ctx context.Context, id string, exec ...core.DBExecutor) (Course, error)
		QueryCourses(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Course, error)
		CountCourses(ctx context.Context, filter *QueryFilter, exec ...core.DBExecutor) (int, error)
		UpdateCourse(ctx context.Context, c Course, exec ...core.DBExecutor) (Course, error)
		// DeleteCourse also deletes the course modules and lessons.
		DeleteCourse(ctx context.Context, id string, exec ...core.DBExecutor) error

		CreateModule(ctx context.Context, m Module, exec ...core.DBExecutor) (Module, error)
		GetModule(ctx context.Context, id string, exec ...core.DBExecutor) (Module, error)
		// QueryModules returns the course modules ordered by position.
		QueryModules(ctx context.Context, courseID string, exec ...core.DBExecutor) ([]Module, error)
		UpdateModule(ctx context.Context, m Module, exec ...core.DBExecutor) (Module, error)
		// DeleteModule also deletes the module lessons.
		DeleteModule(ctx context.Context, id string, exec ...core.DBExecutor) error
		SetModulePositions(ctx context.Context, courseID string, ids []string, exec ...core.DBExecutor) error

		CreateLesson(ctx context.Context, l Lesson, exec ...core.DBExecutor) (Lesson, error)
		GetLesson(ctx context.Context, id string, exec ...core.DBExecutor) (Lesson, error)
		// QueryLessons returns every lesson of the course ordered by position (module order is not applied).
		QueryLessons(ctx context.Context, courseID string, exec ...core.DBExecutor) ([]Lesson, error)
		UpdateLesson(ctx context.Context, l Lesson, exec ...core.DBExecutor) (Lesson, error)
		DeleteLesson(ctx context.Context, id string, exec ...core.DBExecutor) error
		SetLessonPositions(ctx context.Context, moduleID string, ids []string, exec ...core.DBExecutor) error
	}

	ServiceInterface interface {
		Create(ctx context.Context, nc NewCourse, createdBy string) (Course, error)
		Get(ctx context.Context, id string) (Course, error)
		// GetVisible hides unpublished courses from non-admins.
		GetVisible(ctx context.Context, id string, isAdmin bool) (Course, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Course, error)
		Count(ctx context.Context, filter *QueryFilter) (int, error)
		Update(ctx context.Context, c Course, uc UpdateCourse) (Course, error)
		Delete(ctx context.Context, id string) error
		Outline(ctx context.Context, courseID string) (Outline, error)
		PlayOrder(ctx context.Context, courseID string) ([]Lesson, error)

		CreateModule(ctx context.Context, courseID string, nm NewModule) (Module, error)
		GetModule(ctx context.Context, id string) (Module, error)
		UpdateModule(ctx context.Context, m Module, um UpdateModule) (Module, error)
		DeleteModule(ctx context.Context, id string) error
		ReorderModules(ctx context.Context, courseID string, ids []string) ([]Module, error)

		CreateLesson(ctx context.Context, moduleID string, nl NewLesson) (Lesson, error)
		GetLesson(ctx context.Context, id string) (Lesson, error)
		UpdateLesson(ctx context.Context, l Lesson, ul UpdateLesson) (Lesson, error)
		DeleteLesson(ctx context.Context, id string) error
		ReorderLessons(ctx context.Context, moduleID string, ids []string) ([]Lesson, error)
	}

	service struct {
		repo     Repository
		tx       core.TxRunner
		validate *validator.Validate
	}
)

var _ ServiceInterface = (*service)(nil)

func NewService(repo Repository, tx core.TxRunner, validate *validator.Validate) ServiceInterface {
	return &service{repo: repo, tx: tx, validate: validate}
}

func (svc *service) Create(ctx context.Context, nc NewCourse, createdBy string) (Course, error) {
	if err := nc.Validate(svc.validate); err != nil {
		return Course{}, err
	}
	now := core.UTCNow()
	return svc.repo.CreateCourse(ctx, Course{
		ID:           uuid.NewString(),
		Title:        nc.Title,
		Description:  nc.Description,
		Category:     nc.Category,
		Level:        nc.Level,
		ThumbnailURL: nc.ThumbnailURL,
		Instructor:   nc.Instructor,
		IsPublished:  nc.IsPublished,
		CreatedBy:    createdBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

func (svc *service) Get(ctx context.Context, id string) (Course, error) {
	return svc.repo.GetCourse(ctx, id)
}

func (svc *service) GetVisible(ctx context.Context, id string, isAdmin bool) (Course, error) {
	c, err := svc.repo.GetCourse(ctx, id)
	if err != nil {
		return Course{}, err
	}
	if !c.IsPublished && !isAdmin {
		return Course{}, ErrNotFound
	}
	return c, nil
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Course, error) {
	return svc.repo.QueryCourses(ctx, filter, ordering)
}

func (svc *service) Count(ctx context.Context, filter *QueryFilter) (int, error) {
	return svc.repo.CountCourses(ctx, filter)
}

func (svc *service) Update(ctx context.Context, c Course, uc UpdateCourse) (Course, error) {
	if err := uc.Validate(svc.validate); err != nil {
		return Course{}, err
	}
	uc.apply(&c)
	c.UpdatedAt = core.UTCNow()
	return svc.repo.UpdateCourse(ctx, c)
}

func (svc *service) Delete(ctx context.Context, id string) error {
	return svc.repo.DeleteCourse(ctx, id)
}

func (svc *service) Outline(ctx context.Context, courseID string) (Outline, error) {
	c, err := svc.repo.GetCourse(ctx, courseID)
	if err != nil {
		return Outline{}, err
	}
	modules, err := svc.repo.QueryModules(ctx, courseID)
	if err != nil {
		return Outline{}, errors.Wrap(err, "querying modules")
	}
	lessons, err := svc.repo.QueryLessons(ctx, courseID)
	if err != nil {
		return Outline{}, errors.Wrap(err, "querying lessons")
	}
	return buildOutline(c, modules, lessons), nil
}

func (svc *service) PlayOrder(ctx context.Context, courseID string) ([]Lesson, error) {
	outline, err := svc.Outline(ctx, courseID)
	if err != nil {
		return nil, err
	}
	return outline.PlayOrder(), nil
}

func buildOutline(c Course, modules []Module, lessons []Lesson) Outline {
	sort.SliceStable(modules, func(i, j int) bool { return modules[i].Position < modules[j].Position })
	sort.SliceStable(lessons, func(i, j int) bool { return lessons[i].Position < lessons[j].Position })

	byModule := make(map[string][]Lesson, len(modules))
	for _, l := range lessons {
		byModule[l.ModuleID] = append(byModule[l.ModuleID], l)
	}

	outline := Outline{Course: c, Modules: make([]ModuleOutline, 0, len(modules))}
	for _, m := range modules {
		ls := byModule[m.ID]
		if ls == nil {
			ls = []Lesson{}
		}
		outline.Modules = append(outline.Modules, ModuleOutline{Module: m, Lessons: ls})
	}
	return outline
}

// Modules

func (svc *service) CreateModule(ctx context.Context, courseID string, nm NewModule) (Module, error) {
	if err := nm.Validate(svc.validate); err != nil {
		return Module{}, err
	}

	var m Module
	err := svc.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
		if _, err := svc.repo.GetCourse(ctx, courseID, core.Execs(exec)...); err != nil {
			return err
		}
		siblings, err := svc.repo.QueryModules(ctx, courseID, core.Execs(exec)...)
		if err != nil {
			return errors.Wrap(err, "querying modules")
		}
		now := core.UTCNow()
		m, err = svc.repo.CreateModule(ctx, Module{
			ID:          uuid.NewString(),
			CourseID:    courseID,
			Title:       nm.Title,
			Description: nm.Description,
			Position:    nextPosition(len(siblings), lastModulePosition(siblings)),
			CreatedAt:   now,
			UpdatedAt:   now,
		}, core.Execs(exec)...)
		return err
	})
	return m, err
}

func (svc *service) GetModule(ctx context.Context, id string) (Module, error) {
	return svc.repo.GetModule(ctx, id)
}

func (svc *service) UpdateModule(ctx context.Context, m Module, um UpdateModule) (Module, error) {
	if err := um.Validate(svc.validate); err != nil {
		return Module{}, err
	}
	if um.Title != nil {
		m.Title = *um.Title
	}
	if um.Description != nil {
		m.Description = *um.Description
	}
	m.UpdatedAt = core.UTCNow()
	return svc.repo.UpdateModule(ctx, m)
}

func (svc *service) DeleteModule(ctx context.Context, id string) error {
	return svc.repo.DeleteModule(ctx, id)
}

func (svc *service) ReorderModules(ctx context.Context, courseID string, ids []string) ([]Module, error) {
	var modules []Module
	err := svc.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
		siblings, err := svc.repo.QueryModules(ctx, courseID, core.Execs(exec)...)
		if err != nil {
			return errors.Wrap(err, "querying modules")
		}
		current := make([]string, 0, len(siblings))
		for _, m := range siblings {
			current = append(current, m.ID)
		}
		if !sameIDs(current, ids) {
			return core.NewValidationError(nil, core.FieldError{Field: "ids", Error: errReorderMismatch})
		}
		if err := svc.repo.SetModulePositions(ctx, courseID, ids, core.Execs(exec)...); err != nil {
			return errors.Wrap(err, "setting module positions")
		}
		modules, err = svc.repo.QueryModules(ctx, courseID, core.Execs(exec)...)
		return err
	})
	return modules, err
}

// Lessons

func (svc *service) CreateLesson(ctx context.Context, moduleID string, nl NewLesson) (Lesson, error) {
	if err := nl.Validate(svc.validate); err != nil {
		return Lesson{}, err
	}

	var l Lesson
	err := svc.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
		m, err := svc.repo.GetModule(ctx, moduleID, core.Execs(exec)...)
		if err != nil {
			return err
		}
		lessons, err := svc.repo.QueryLessons(ctx, m.CourseID, core.Execs(exec)...)
		if err != nil {
			return errors.Wrap(err, "querying lessons")
		}
		var count, last int
		for _, sibling := range lessons {
			if sibling.ModuleID == moduleID {
				count++
				if sibling.Position > last {
					last = sibling.Position
				}
			}
		}

		content := nl.Content
		if nl.ContentType == ContentVideo {
			content = ""
		}
		now := core.UTCNow()
		l, err = svc.repo.CreateLesson(ctx, Lesson{
			ID:              uuid.NewString(),
			CourseID:        m.CourseID,
			ModuleID:        moduleID,
			Title:           nl.Title,
			Description:     nl.Description,
			ContentType:     nl.ContentType,
			VideoURL:        nl.VideoURL,
			Content:         content,
			DurationSeconds: nl.DurationSeconds,
			Position:        nextPosition(count, last),
			CreatedAt:       now,
			UpdatedAt:       now,
		}, core.Execs(exec)...)
		return err
	})
	return l, err
}

func (svc *service) GetLesson(ctx context.Context, id string) (Lesson, error) {
	return svc.repo.GetLesson(ctx, id)
}

func (svc *service) UpdateLesson(ctx context.Context, l Lesson, ul UpdateLesson) (Lesson, error) {
	if err := ul.Validate(l, svc.validate); err != nil {
		return Lesson{}, err
	}
	ul.apply(&l)
	l.UpdatedAt = core.UTCNow()
	return svc.repo.UpdateLesson(ctx, l)
}

func (svc *service) DeleteLesson(ctx context.Context, id string) error {
	return svc.repo.DeleteLesson(ctx, id)
}

func (svc *service) ReorderLessons(ctx context.Context, moduleID string, ids []string) ([]Lesson, error) {
	var lessons []Lesson
	err := svc.tx.RunInTx(ctx, func(exec core.DBExecutor) error {
		m, err := svc.repo.GetModule(ctx, moduleID, core.Execs(exec)...)
		if err != nil {
			return err
		}
		all, err := svc.repo.QueryLessons(ctx, m.CourseID, core.Execs(exec)...)
		if err != nil {
			return errors.Wrap(err, "querying lessons")
		}
		current := make([]string, 0, len(all))
		for _, l := range all {
			if l.ModuleID == moduleID {
				current = append(current, l.ID)
			}
		}
		if !sameIDs(current, ids) {
			return core.NewValidationError(nil, core.FieldError{Field: "ids", Error: errReorderMismatch})
		}
		if err := svc.repo.SetLessonPositions(ctx, moduleID, ids, core.Execs(exec)...); err != nil {
			return errors.Wrap(err, "setting lesson positions")
		}
		all, err = svc.repo.QueryLessons(ctx, m.CourseID, core.Execs(exec)...)
		if err != nil {
			return errors.Wrap(err, "querying lessons")
		}
		lessons = make([]Lesson, 0, len(ids))
		for _, l := range all {
			if l.ModuleID == moduleID {
				lessons = append(lessons, l)
			}
		}
		return nil
	})
	return lessons, err
}

func lastModulePosition(modules []Module) int {
	var last int
	for _, m := range modules {
		if m.Position > last {
			last = m.Position
		}
	}
	return last
}

// nextPosition appends after the current last sibling.
func nextPosition(count, last int) int {
	if count == 0 {
		return 0
	}
	return last + 1
}

// sameIDs reports whether both lists hold the same ids, each exactly once.
func sameIDs(current, proposed []string) bool {
	if len(current) != len(proposed) {
		return false
	}
	seen := make(map[string]bool, len(current))
	for _, id := range current {
		seen[id] = false
	}
	for _, id := range proposed {
		used, ok := seen[id]
		if !ok || used {
			return false
		}
		seen[id] = true
	}
	return true
}
