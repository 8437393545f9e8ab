package course_test

import (
	"context"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxaar/luxaar/core"
	"github.com/luxaar/luxaar/core/course"
	"github.com/luxaar/luxaar/tests"
)

func strPtr(s string) *string { return &s }

func TestService_Create(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	admin := env.Admin(t, "author")

	tests := []struct {
		name    string
		nc      course.NewCourse
		wantErr bool
	}{
		{name: "no title", nc: course.NewCourse{Title: "   "}, wantErr: true},
		{name: "bad level", nc: course.NewCourse{Title: "Go", Level: "guru"}, wantErr: true},
		{name: "bad thumbnail", nc: course.NewCourse{Title: "Go", ThumbnailURL: "ftp://x"}, wantErr: true},
		{name: "defaults to beginner", nc: course.NewCourse{Title: "  Go 101 ", Level: ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := env.CourseSvc.Create(ctx, tt.nc, admin.ID)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "Go 101", c.Title)
			assert.Equal(t, course.LevelBeginner, c.Level)
			assert.Equal(t, admin.ID, c.CreatedBy)
			assert.False(t, c.IsPublished)
		})
	}
}

func TestService_Visibility(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	admin := env.Admin(t, "author")

	published, _ := env.CourseWithLessons(t, admin.ID, 0, 1)
	draft, err := env.CourseSvc.Create(ctx, course.NewCourse{Title: "Draft"}, admin.ID)
	require.NoError(t, err)

	_, err = env.CourseSvc.GetVisible(ctx, draft.ID, false)
	assert.Equal(t, course.ErrNotFound, err)
	_, err = env.CourseSvc.GetVisible(ctx, draft.ID, true)
	assert.NoError(t, err)
	_, err = env.CourseSvc.GetVisible(ctx, published.ID, false)
	assert.NoError(t, err)

	visible, err := env.CourseSvc.Query(ctx, &course.QueryFilter{PublishedOnly: true}, nil)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, published.ID, visible[0].ID)

	n, err := env.CourseSvc.Count(ctx, &course.QueryFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	updated, err := env.CourseSvc.Update(ctx, draft, course.UpdateCourse{IsPublished: new(bool)})
	require.NoError(t, err)
	assert.False(t, updated.IsPublished)
	assert.Equal(t, "Draft", updated.Title)

	_, err = env.CourseSvc.Update(ctx, draft, course.UpdateCourse{Title: strPtr("  ")})
	assert.Error(t, err)
}

func TestService_Outline(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	admin := env.Admin(t, "author")

	c, lessons := env.CourseWithLessons(t, admin.ID, 120, 2, 0, 3)
	require.Len(t, lessons, 5)

	outline, err := env.CourseSvc.Outline(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, outline.Modules, 3)
	assert.Len(t, outline.Modules[0].Lessons, 2)
	assert.NotNil(t, outline.Modules[1].Lessons)
	assert.Empty(t, outline.Modules[1].Lessons)
	assert.Len(t, outline.Modules[2].Lessons, 3)

	for i, m := range outline.Modules {
		assert.Equal(t, i, m.Position)
	}

	order, err := env.CourseSvc.PlayOrder(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, order, 5)
	for i := range lessons {
		assert.Equal(t, lessons[i].ID, order[i].ID)
	}

	_, err = env.CourseSvc.Outline(ctx, "missing")
	assert.True(t, core.IsNotFound(err))
}

func TestService_Reorder(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	admin := env.Admin(t, "author")

	c, lessons := env.CourseWithLessons(t, admin.ID, 0, 3, 1)
	outline, err := env.CourseSvc.Outline(ctx, c.ID)
	require.NoError(t, err)
	modA, modB := outline.Modules[0].Module, outline.Modules[1].Module

	t.Run("modules", func(t *testing.T) {
		_, err := env.CourseSvc.ReorderModules(ctx, c.ID, []string{modB.ID})
		var verr *core.ValidationError
		assert.True(t, errors.As(err, &verr))

		_, err = env.CourseSvc.ReorderModules(ctx, c.ID, []string{modB.ID, modB.ID})
		assert.True(t, errors.As(err, &verr))

		modules, err := env.CourseSvc.ReorderModules(ctx, c.ID, []string{modB.ID, modA.ID})
		require.NoError(t, err)
		require.Len(t, modules, 2)
		assert.Equal(t, modB.ID, modules[0].ID)
		assert.Equal(t, modA.ID, modules[1].ID)
	})

	t.Run("lessons", func(t *testing.T) {
		// the lesson of module B does not belong to module A
		_, err := env.CourseSvc.ReorderLessons(ctx, modA.ID, []string{lessons[2].ID, lessons[1].ID, lessons[3].ID})
		var verr *core.ValidationError
		assert.True(t, errors.As(err, &verr))

		reordered, err := env.CourseSvc.ReorderLessons(ctx, modA.ID, []string{lessons[2].ID, lessons[0].ID, lessons[1].ID})
		require.NoError(t, err)
		require.Len(t, reordered, 3)
		assert.Equal(t, lessons[2].ID, reordered[0].ID)
		assert.Equal(t, lessons[0].ID, reordered[1].ID)
		assert.Equal(t, lessons[1].ID, reordered[2].ID)
	})

	order, err := env.CourseSvc.PlayOrder(ctx, c.ID)
	require.NoError(t, err)
	ids := make([]string, 0, len(order))
	for _, l := range order {
		ids = append(ids, l.ID)
	}
	assert.Equal(t, []string{lessons[3].ID, lessons[2].ID, lessons[0].ID, lessons[1].ID}, ids)

	// new siblings go last
	m, err := env.CourseSvc.CreateModule(ctx, c.ID, course.NewModule{Title: "Module C"})
	require.NoError(t, err)
	assert.Equal(t, 2, m.Position)
}

func TestService_Lessons(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	admin := env.Admin(t, "author")

	c, _ := env.CourseWithLessons(t, admin.ID, 0, 0)
	outline, err := env.CourseSvc.Outline(ctx, c.ID)
	require.NoError(t, err)
	moduleID := outline.Modules[0].ID

	_, err = env.CourseSvc.CreateLesson(ctx, moduleID, course.NewLesson{Title: "Vid", ContentType: course.ContentVideo})
	var verr *core.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "video_url", verr.Fields[0].Field)

	_, err = env.CourseSvc.CreateLesson(ctx, moduleID, course.NewLesson{Title: "Txt", ContentType: course.ContentText, Content: " "})
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "content", verr.Fields[0].Field)

	_, err = env.CourseSvc.CreateLesson(ctx, moduleID, course.NewLesson{Title: "Odd", ContentType: "audio"})
	assert.IsType(t, validator.ValidationErrors{}, err)

	_, err = env.CourseSvc.CreateLesson(ctx, "missing", course.NewLesson{Title: "Txt", ContentType: course.ContentText, Content: "x"})
	assert.Equal(t, course.ErrModuleNotFound, errors.Cause(err))

	// video lessons drop any text body
	vid, err := env.CourseSvc.CreateLesson(ctx, moduleID, course.NewLesson{
		Title:           "Vid",
		ContentType:     course.ContentVideo,
		VideoURL:        "https://videos.luxaar.test/a.mp4",
		Content:         "ignored",
		DurationSeconds: 60,
	})
	require.NoError(t, err)
	assert.Empty(t, vid.Content)
	assert.Equal(t, c.ID, vid.CourseID)

	// switching to text requires a body
	_, err = env.CourseSvc.UpdateLesson(ctx, vid, course.UpdateLesson{ContentType: strPtr(course.ContentText)})
	require.True(t, errors.As(err, &verr))
	updated, err := env.CourseSvc.UpdateLesson(ctx, vid, course.UpdateLesson{ContentType: strPtr(course.ContentText), Content: strPtr("Now text")})
	require.NoError(t, err)
	assert.False(t, updated.IsVideo())

	require.NoError(t, env.CourseSvc.DeleteModule(ctx, moduleID))
	_, err = env.CourseSvc.GetLesson(ctx, vid.ID)
	assert.Equal(t, course.ErrLessonNotFound, errors.Cause(err))

	require.NoError(t, env.CourseSvc.Delete(ctx, c.ID))
	_, err = env.CourseSvc.Get(ctx, c.ID)
	assert.Equal(t, course.ErrNotFound, errors.Cause(err))
}
