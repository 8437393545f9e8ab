package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/luxaar/luxaar/core"
	"github.com/luxaar/luxaar/core/course"
)

type courseRepository struct {
	db *courseTable
}

var _ course.Repository = (*courseRepository)(nil)

func NewCourseRepository(db *DB) course.Repository {
	return &courseRepository{db: db.course}
}

func (repo *courseRepository) CreateCourse(_ context.Context, c course.Course, _ ...core.DBExecutor) (course.Course, error) {
	repo.db.Lock()
	defer repo.db.Unlock()
	repo.db.courses[c.ID] = &c
	return c, nil
}

func (repo *courseRepository) GetCourse(_ context.Context, id string, _ ...core.DBExecutor) (course.Course, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	if c, ok := repo.db.courses[id]; ok {
		return *c, nil
	}
	return course.Course{}, course.ErrNotFound
}

func matchCourse(c course.Course, filter *course.QueryFilter) bool {
	if filter == nil {
		return true
	}
	if filter.Search != "" {
		s := strings.ToLower(filter.Search)
		if !strings.Contains(strings.ToLower(c.Title), s) &&
			!strings.Contains(strings.ToLower(c.Description), s) &&
			!strings.Contains(strings.ToLower(c.Instructor), s) {
			return false
		}
	}
	if filter.Category != "" && !strings.EqualFold(c.Category, filter.Category) {
		return false
	}
	if filter.Level != "" && c.Level != filter.Level {
		return false
	}
	if filter.PublishedOnly && !c.IsPublished {
		return false
	}
	return true
}

func (repo *courseRepository) QueryCourses(_ context.Context, filter *course.QueryFilter, ordering []core.DBOrdering, _ ...core.DBExecutor) ([]course.Course, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	courses := make([]course.Course, 0)
	for _, c := range repo.db.courses {
		if matchCourse(*c, filter) {
			courses = append(courses, *c)
		}
	}
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at"}}
	}
	sort.SliceStable(courses, func(i, j int) bool {
		for _, ord := range ordering {
			a, b := courses[i], courses[j]
			if !ord.Ascending {
				a, b = b, a
			}
			var cmp int
			switch ord.Field {
			case "title":
				cmp = strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
			case "category":
				cmp = strings.Compare(a.Category, b.Category)
			case "level":
				cmp = strings.Compare(a.Level, b.Level)
			case "created_at":
				cmp = a.CreatedAt.Compare(b.CreatedAt)
			case "updated_at":
				cmp = a.UpdatedAt.Compare(b.UpdatedAt)
			}
			if cmp != 0 {
				return cmp < 0
			}
		}
		return false
	})
	return courses, nil
}

func (repo *courseRepository) CountCourses(ctx context.Context, filter *course.QueryFilter, _ ...core.DBExecutor) (int, error) {
	courses, err := repo.QueryCourses(ctx, filter, nil)
	return len(courses), err
}

func (repo *courseRepository) UpdateCourse(_ context.Context, c course.Course, _ ...core.DBExecutor) (course.Course, error) {
	repo.db.Lock()
	defer repo.db.Unlock()
	if _, ok := repo.db.courses[c.ID]; !ok {
		return course.Course{}, course.ErrNotFound
	}
	repo.db.courses[c.ID] = &c
	return c, nil
}

func (repo *courseRepository) DeleteCourse(_ context.Context, id string, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()
	if _, ok := repo.db.courses[id]; !ok {
		return course.ErrNotFound
	}
	delete(repo.db.courses, id)
	for mid, m := range repo.db.modules {
		if m.CourseID == id {
			delete(repo.db.modules, mid)
		}
	}
	for lid, l := range repo.db.lessons {
		if l.CourseID == id {
			delete(repo.db.lessons, lid)
		}
	}
	return nil
}

func (repo *courseRepository) CreateModule(_ context.Context, m course.Module, _ ...core.DBExecutor) (course.Module, error) {
	repo.db.Lock()
	defer repo.db.Unlock()
	if _, ok := repo.db.courses[m.CourseID]; !ok {
		return course.Module{}, course.ErrNotFound
	}
	repo.db.modules[m.ID] = &m
	return m, nil
}

func (repo *courseRepository) GetModule(_ context.Context, id string, _ ...core.DBExecutor) (course.Module, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	if m, ok := repo.db.modules[id]; ok {
		return *m, nil
	}
	return course.Module{}, course.ErrModuleNotFound
}

func (repo *courseRepository) QueryModules(_ context.Context, courseID string, _ ...core.DBExecutor) ([]course.Module, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	modules := make([]course.Module, 0)
	for _, m := range repo.db.modules {
		if m.CourseID == courseID {
			modules = append(modules, *m)
		}
	}
	sort.SliceStable(modules, func(i, j int) bool {
		if modules[i].Position != modules[j].Position {
			return modules[i].Position < modules[j].Position
		}
		return modules[i].CreatedAt.Before(modules[j].CreatedAt)
	})
	return modules, nil
}

func (repo *courseRepository) UpdateModule(_ context.Context, m course.Module, _ ...core.DBExecutor) (course.Module, error) {
	repo.db.Lock()
	defer repo.db.Unlock()
	stored, ok := repo.db.modules[m.ID]
	if !ok {
		return course.Module{}, course.ErrModuleNotFound
	}
	stored.Title = m.Title
	stored.Description = m.Description
	stored.UpdatedAt = m.UpdatedAt
	return *stored, nil
}

func (repo *courseRepository) DeleteModule(_ context.Context, id string, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()
	if _, ok := repo.db.modules[id]; !ok {
		return course.ErrModuleNotFound
	}
	delete(repo.db.modules, id)
	for lid, l := range repo.db.lessons {
		if l.ModuleID == id {
			delete(repo.db.lessons, lid)
		}
	}
	return nil
}

func (repo *courseRepository) SetModulePositions(_ context.Context, courseID string, ids []string, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()
	now := core.UTCNow()
	for pos, id := range ids {
		if m, ok := repo.db.modules[id]; ok && m.CourseID == courseID {
			m.Position = pos
			m.UpdatedAt = now
		}
	}
	return nil
}

func (repo *courseRepository) CreateLesson(_ context.Context, l course.Lesson, _ ...core.DBExecutor) (course.Lesson, error) {
	repo.db.Lock()
	defer repo.db.Unlock()
	if _, ok := repo.db.modules[l.ModuleID]; !ok {
		return course.Lesson{}, course.ErrModuleNotFound
	}
	repo.db.lessons[l.ID] = &l
	return l, nil
}

func (repo *courseRepository) GetLesson(_ context.Context, id string, _ ...core.DBExecutor) (course.Lesson, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	if l, ok := repo.db.lessons[id]; ok {
		return *l, nil
	}
	return course.Lesson{}, course.ErrLessonNotFound
}

func (repo *courseRepository) QueryLessons(_ context.Context, courseID string, _ ...core.DBExecutor) ([]course.Lesson, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	lessons := make([]course.Lesson, 0)
	for _, l := range repo.db.lessons {
		if l.CourseID == courseID {
			lessons = append(lessons, *l)
		}
	}
	sort.SliceStable(lessons, func(i, j int) bool {
		if lessons[i].Position != lessons[j].Position {
			return lessons[i].Position < lessons[j].Position
		}
		return lessons[i].CreatedAt.Before(lessons[j].CreatedAt)
	})
	return lessons, nil
}

func (repo *courseRepository) UpdateLesson(_ context.Context, l course.Lesson, _ ...core.DBExecutor) (course.Lesson, error) {
	repo.db.Lock()
	defer repo.db.Unlock()
	stored, ok := repo.db.lessons[l.ID]
	if !ok {
		return course.Lesson{}, course.ErrLessonNotFound
	}
	l.CourseID, l.ModuleID, l.Position, l.CreatedAt = stored.CourseID, stored.ModuleID, stored.Position, stored.CreatedAt
	repo.db.lessons[l.ID] = &l
	return l, nil
}

func (repo *courseRepository) DeleteLesson(_ context.Context, id string, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()
	if _, ok := repo.db.lessons[id]; !ok {
		return course.ErrLessonNotFound
	}
	delete(repo.db.lessons, id)
	return nil
}

func (repo *courseRepository) SetLessonPositions(_ context.Context, moduleID string, ids []string, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()
	now := core.UTCNow()
	for pos, id := range ids {
		if l, ok := repo.db.lessons[id]; ok && l.ModuleID == moduleID {
			l.Position = pos
			l.UpdatedAt = now
		}
	}
	return nil
}
