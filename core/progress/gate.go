package progress

import (
	"math"

	"github.com/luxaar/luxaar/core"
	"github.com/luxaar/luxaar/core/course"
)

// Gate decides which lessons of a course a student may open.
// Lesson i is unlocked iff it is the first, its predecessor is completed, or it is completed itself.
type Gate struct {
	lessons  []course.Lesson
	index    map[string]int
	progress map[string]LessonProgress
}

// NewGate takes the course lessons in play order and the student's progress records.
func NewGate(lessons []course.Lesson, records []LessonProgress) *Gate {
	g := &Gate{
		lessons:  lessons,
		index:    make(map[string]int, len(lessons)),
		progress: make(map[string]LessonProgress, len(records)),
	}
	for i, l := range lessons {
		g.index[l.ID] = i
	}
	for _, p := range records {
		g.progress[p.LessonID] = p
	}
	return g
}

func (g *Gate) Contains(lessonID string) bool {
	_, ok := g.index[lessonID]
	return ok
}

func (g *Gate) Progress(lessonID string) (LessonProgress, bool) {
	p, ok := g.progress[lessonID]
	return p, ok
}

func (g *Gate) IsCompleted(lessonID string) bool {
	return g.progress[lessonID].Completed
}

func (g *Gate) IsUnlocked(lessonID string) bool {
	i, ok := g.index[lessonID]
	if !ok {
		return false
	}
	return i == 0 || g.IsCompleted(lessonID) || g.IsCompleted(g.lessons[i-1].ID)
}

func (g *Gate) State(lessonID string) string {
	switch {
	case !g.IsUnlocked(lessonID):
		return StateLocked
	case g.IsCompleted(lessonID):
		return StateCompleted
	}
	if p, ok := g.progress[lessonID]; ok && (p.MaxWatched > 0 || p.LastPosition > 0) {
		return StateInProgress
	}
	return StateUnlocked
}

// Record stores an updated progress record so later queries see it.
func (g *Gate) Record(p LessonProgress) {
	g.progress[p.LessonID] = p
}

// Next returns the lesson following lessonID in play order.
func (g *Gate) Next(lessonID string) (course.Lesson, bool) {
	i, ok := g.index[lessonID]
	if !ok || i+1 >= len(g.lessons) {
		return course.Lesson{}, false
	}
	return g.lessons[i+1], true
}

func (g *Gate) Total() int { return len(g.lessons) }

func (g *Gate) CompletedCount() int {
	var n int
	for _, l := range g.lessons {
		if g.IsCompleted(l.ID) {
			n++
		}
	}
	return n
}

// Percent is round(completed / total * 100).
func (g *Gate) Percent() float64 {
	return core.Percent(g.CompletedCount(), g.Total())
}

// Resume returns the first unlocked lesson not completed yet, or the last lesson when all are done.
func (g *Gate) Resume() string {
	for _, l := range g.lessons {
		if g.IsUnlocked(l.ID) && !g.IsCompleted(l.ID) {
			return l.ID
		}
	}
	if len(g.lessons) > 0 {
		return g.lessons[len(g.lessons)-1].ID
	}
	return ""
}

func (g *Gate) States() []LessonState {
	states := make([]LessonState, 0, len(g.lessons))
	for _, l := range g.lessons {
		p := g.progress[l.ID]
		duration := p.Duration
		if l.DurationSeconds > 0 {
			duration = l.DurationSeconds
		}
		states = append(states, LessonState{
			LessonID:     l.ID,
			ModuleID:     l.ModuleID,
			Title:        l.Title,
			ContentType:  l.ContentType,
			State:        g.State(l.ID),
			MaxWatched:   p.MaxWatched,
			LastPosition: p.LastPosition,
			Duration:     duration,
		})
	}
	return states
}

// ApplyPlayback folds a player report into p. The lesson's stored duration wins over the reported one.
// On a skip violation p is returned unchanged with ok=false.
func ApplyPlayback(p LessonProgress, lessonDuration float64, pb Playback) (next LessonProgress, ok bool, justCompleted bool) {
	duration := pb.Duration
	if lessonDuration > 0 {
		duration = lessonDuration
	}

	position := math.Max(pb.Position, 0)
	if pb.Ended && duration > 0 {
		position = duration
	}

	// completed lessons may be seeked freely
	if !p.Completed && position > p.MaxWatched+SkipTolerance {
		return p, false, false
	}

	watched := position
	if duration > 0 {
		watched = math.Min(position, duration)
	}

	next = p
	next.LastPosition = position
	next.MaxWatched = math.Max(p.MaxWatched, watched)
	if duration > 0 {
		next.Duration = duration
	}
	if !next.Completed && duration > 0 && next.MaxWatched >= CompletionRatio*duration {
		next.Completed = true
		justCompleted = true
	}
	return next, true, justCompleted
}
