package course

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/luxaar/luxaar/core"
)

// Lesson content types
const (
	ContentVideo = "video"
	ContentText  = "text"
)

// Course levels
const (
	LevelBeginner     = "beginner"
	LevelIntermediate = "intermediate"
	LevelAdvanced     = "advanced"
)

type Course struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Category     string    `json:"category"`
	Level        string    `json:"level"`
	ThumbnailURL string    `json:"thumbnail_url"`
	Instructor   string    `json:"instructor"`
	IsPublished  bool      `json:"is_published"`
	CreatedBy    string    `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"` // UTC
	UpdatedAt    time.Time `json:"updated_at"` // UTC
}

// Module groups lessons; modules are ordered by Position within their course.
type Module struct {
	ID          string    `json:"id"`
	CourseID    string    `json:"course_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Position    int       `json:"position"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Lesson is ordered by Position within its module.
type Lesson struct {
	ID              string    `json:"id"`
	CourseID        string    `json:"course_id"`
	ModuleID        string    `json:"module_id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	ContentType     string    `json:"content_type"`
	VideoURL        string    `json:"video_url,omitempty"`
	Content         string    `json:"content,omitempty"`
	DurationSeconds float64   `json:"duration_seconds"`
	Position        int       `json:"position"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (l Lesson) IsVideo() bool { return l.ContentType == ContentVideo }

type (
	ModuleOutline struct {
		Module
		Lessons []Lesson `json:"lessons"`
	}

	// Outline is a course with its modules and lessons in play order.
	Outline struct {
		Course
		Modules []ModuleOutline `json:"modules"`
	}
)

// PlayOrder flattens the outline: module position first, then lesson position.
func (o Outline) PlayOrder() []Lesson {
	var lessons []Lesson
	for _, m := range o.Modules {
		lessons = append(lessons, m.Lessons...)
	}
	return lessons
}

// NewCourse contains information needed to create a new Course.
type NewCourse struct {
	Title        string `json:"title" validate:"required,max=200"`
	Description  string `json:"description" validate:"max=5000"`
	Category     string `json:"category" validate:"max=100"`
	Level        string `json:"level" validate:"omitempty,oneof=beginner intermediate advanced"`
	ThumbnailURL string `json:"thumbnail_url" validate:"omitempty,httpurl"`
	Instructor   string `json:"instructor" validate:"max=200"`
	IsPublished  bool   `json:"is_published"`
}

func (nc *NewCourse) Validate(validate *validator.Validate) error {
	nc.Title = core.CleanString(nc.Title)
	nc.Description = core.CleanString(nc.Description)
	nc.Category = core.CleanString(nc.Category)
	nc.Level = core.CleanString(nc.Level, true /* lower */)
	nc.ThumbnailURL = core.CleanString(nc.ThumbnailURL)
	nc.Instructor = core.CleanString(nc.Instructor)
	if nc.Level == "" {
		nc.Level = LevelBeginner
	}
	return validate.Struct(nc)
}

// UpdateCourse defines what information may be provided to modify an existing Course.
type UpdateCourse struct {
	Title        *string `json:"title" validate:"omitempty,max=200"`
	Description  *string `json:"description" validate:"omitempty,max=5000"`
	Category     *string `json:"category" validate:"omitempty,max=100"`
	Level        *string `json:"level" validate:"omitempty,oneof=beginner intermediate advanced"`
	ThumbnailURL *string `json:"thumbnail_url" validate:"omitempty,httpurl"`
	Instructor   *string `json:"instructor" validate:"omitempty,max=200"`
	IsPublished  *bool   `json:"is_published"`
}

func (uc *UpdateCourse) Validate(validate *validator.Validate) error {
	cleanPtr(uc.Title, false)
	cleanPtr(uc.Description, false)
	cleanPtr(uc.Category, false)
	cleanPtr(uc.Level, true)
	cleanPtr(uc.ThumbnailURL, false)
	cleanPtr(uc.Instructor, false)
	if uc.Title != nil && *uc.Title == "" {
		return core.NewValidationError(nil, core.FieldError{Field: "title", Error: "this field is required"})
	}
	return validate.Struct(uc)
}

func (uc UpdateCourse) apply(c *Course) {
	if uc.Title != nil {
		c.Title = *uc.Title
	}
	if uc.Description != nil {
		c.Description = *uc.Description
	}
	if uc.Category != nil {
		c.Category = *uc.Category
	}
	if uc.Level != nil && *uc.Level != "" {
		c.Level = *uc.Level
	}
	if uc.ThumbnailURL != nil {
		c.ThumbnailURL = *uc.ThumbnailURL
	}
	if uc.Instructor != nil {
		c.Instructor = *uc.Instructor
	}
	if uc.IsPublished != nil {
		c.IsPublished = *uc.IsPublished
	}
}

type NewModule struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
}

func (nm *NewModule) Validate(validate *validator.Validate) error {
	nm.Title = core.CleanString(nm.Title)
	nm.Description = core.CleanString(nm.Description)
	return validate.Struct(nm)
}

type UpdateModule struct {
	Title       *string `json:"title" validate:"omitempty,max=200"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
}

func (um *UpdateModule) Validate(validate *validator.Validate) error {
	cleanPtr(um.Title, false)
	cleanPtr(um.Description, false)
	if um.Title != nil && *um.Title == "" {
		return core.NewValidationError(nil, core.FieldError{Field: "title", Error: "this field is required"})
	}
	return validate.Struct(um)
}

type NewLesson struct {
	Title           string  `json:"title" validate:"required,max=200"`
	Description     string  `json:"description" validate:"max=2000"`
	ContentType     string  `json:"content_type" validate:"required,oneof=video text"`
	VideoURL        string  `json:"video_url" validate:"omitempty,httpurl"`
	Content         string  `json:"content"`
	DurationSeconds float64 `json:"duration_seconds" validate:"gte=0"`
}

func (nl *NewLesson) Validate(validate *validator.Validate) error {
	nl.Title = core.CleanString(nl.Title)
	nl.Description = core.CleanString(nl.Description)
	nl.ContentType = core.CleanString(nl.ContentType, true /* lower */)
	nl.VideoURL = core.CleanString(nl.VideoURL)
	if err := validate.Struct(nl); err != nil {
		return err
	}
	return validateLessonContent(nl.ContentType, nl.VideoURL, nl.Content)
}

type UpdateLesson struct {
	Title           *string  `json:"title" validate:"omitempty,max=200"`
	Description     *string  `json:"description" validate:"omitempty,max=2000"`
	ContentType     *string  `json:"content_type" validate:"omitempty,oneof=video text"`
	VideoURL        *string  `json:"video_url" validate:"omitempty,httpurl"`
	Content         *string  `json:"content"`
	DurationSeconds *float64 `json:"duration_seconds" validate:"omitempty,gte=0"`
}

// Validate checks the update against the lesson it will be applied to.
func (ul *UpdateLesson) Validate(orig Lesson, validate *validator.Validate) error {
	cleanPtr(ul.Title, false)
	cleanPtr(ul.Description, false)
	cleanPtr(ul.ContentType, true)
	cleanPtr(ul.VideoURL, false)
	if ul.Title != nil && *ul.Title == "" {
		return core.NewValidationError(nil, core.FieldError{Field: "title", Error: "this field is required"})
	}
	if err := validate.Struct(ul); err != nil {
		return err
	}
	l := orig
	ul.apply(&l)
	return validateLessonContent(l.ContentType, l.VideoURL, l.Content)
}

func (ul UpdateLesson) apply(l *Lesson) {
	if ul.Title != nil {
		l.Title = *ul.Title
	}
	if ul.Description != nil {
		l.Description = *ul.Description
	}
	if ul.ContentType != nil {
		l.ContentType = *ul.ContentType
	}
	if ul.VideoURL != nil {
		l.VideoURL = *ul.VideoURL
	}
	if ul.Content != nil {
		l.Content = *ul.Content
	}
	if ul.DurationSeconds != nil {
		l.DurationSeconds = *ul.DurationSeconds
	}
}

func validateLessonContent(contentType, videoURL, content string) error {
	switch contentType {
	case ContentVideo:
		if videoURL == "" {
			return core.NewValidationError(nil, core.FieldError{Field: "video_url", Error: "this field is required"})
		}
	case ContentText:
		if core.CleanString(content) == "" {
			return core.NewValidationError(nil, core.FieldError{Field: "content", Error: "this field is required"})
		}
	}
	return nil
}

// Reorder carries the complete, ordered list of sibling ids.
type Reorder struct {
	IDs []string `json:"ids" validate:"required,min=1,dive,required"`
}

type QueryFilter struct {
	Search        string
	Category      string
	Level         string
	PublishedOnly bool
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Category = core.CleanString(qf.Category)
	qf.Level = core.CleanString(qf.Level, true /* lower */)
}

func cleanPtr(s *string, lower bool) {
	if s != nil {
		*s = core.CleanString(*s, lower)
	}
}
