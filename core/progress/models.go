package progress

import (
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/luxaar/luxaar/core/course"
)

// Lesson states
const (
	StateLocked     = "locked"
	StateUnlocked   = "unlocked"
	StateInProgress = "in_progress"
	StateCompleted  = "completed"
)

const (
	// SkipTolerance is how far (seconds) a report may run ahead of the watched high-watermark.
	SkipTolerance = 2.0
	// CompletionRatio of the duration that must be watched to complete a video lesson.
	CompletionRatio = 0.95
)

// LessonProgress is keyed by (UserID, LessonID). MaxWatched never decreases.
type LessonProgress struct {
	UserID       string    `json:"user_id"`
	LessonID     string    `json:"lesson_id"`
	CourseID     string    `json:"course_id"`
	MaxWatched   float64   `json:"max_watched"`
	LastPosition float64   `json:"last_position"`
	Duration     float64   `json:"duration"`
	Completed    bool      `json:"completed"`
	CompletedAt  null.Time `json:"completed_at"` // UTC
	UpdatedAt    time.Time `json:"updated_at"`   // UTC
}

// Playback is a player report. Ended counts as Position = Duration.
type Playback struct {
	Position float64 `json:"position" validate:"gte=0"`
	Duration float64 `json:"duration" validate:"gte=0"`
	Ended    bool    `json:"ended"`
}

type LessonState struct {
	LessonID     string  `json:"lesson_id"`
	ModuleID     string  `json:"module_id"`
	Title        string  `json:"title"`
	ContentType  string  `json:"content_type"`
	State        string  `json:"state"`
	MaxWatched   float64 `json:"max_watched"`
	LastPosition float64 `json:"last_position"`
	Duration     float64 `json:"duration"`
}

// CourseProgress is a student's view of a course: percentage, per-lesson state and resume point.
type CourseProgress struct {
	CourseID         string        `json:"course_id"`
	EnrollmentID     string        `json:"enrollment_id"`
	Status           string        `json:"status"`
	Percent          float64       `json:"percent"`
	CompletedLessons int           `json:"completed_lessons"`
	TotalLessons     int           `json:"total_lessons"`
	ResumeLessonID   string        `json:"resume_lesson_id"`
	Lessons          []LessonState `json:"lessons"`
}

// PlaybackResult tells the player what happened to its report.
// On a skip violation nothing is saved and SeekTo holds the position to rewind to.
type PlaybackResult struct {
	Violation       bool           `json:"violation"`
	SeekTo          *float64       `json:"seek_to,omitempty"`
	Progress        LessonProgress `json:"progress"`
	State           string         `json:"state"`
	JustCompleted   bool           `json:"just_completed"`
	NextLessonID    string         `json:"next_lesson_id,omitempty"`
	CoursePercent   float64        `json:"course_percent"`
	CourseCompleted bool           `json:"course_completed"`
}

// LessonView is a lesson as served to an enrolled student.
type LessonView struct {
	course.Lesson
	State    string         `json:"state"`
	Progress LessonProgress `json:"progress"`
}
