package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/luxaar/luxaar/core/course"
)

func lessons(ids ...string) []course.Lesson {
	ls := make([]course.Lesson, 0, len(ids))
	for i, id := range ids {
		ls = append(ls, course.Lesson{ID: id, ModuleID: "m", ContentType: course.ContentVideo, DurationSeconds: 100, Position: i})
	}
	return ls
}

func TestGate(t *testing.T) {
	g := NewGate(lessons("l1", "l2", "l3", "l4"), []LessonProgress{
		{LessonID: "l1", Completed: true, MaxWatched: 100},
		{LessonID: "l2", MaxWatched: 30, LastPosition: 30},
		{LessonID: "l4", Completed: true}, // completed before a reorder
	})

	tests := []struct {
		lesson    string
		wantState string
	}{
		{lesson: "l1", wantState: StateCompleted},
		{lesson: "l2", wantState: StateInProgress},
		{lesson: "l3", wantState: StateLocked},
		{lesson: "l4", wantState: StateCompleted},
		{lesson: "unknown", wantState: StateLocked},
	}
	for _, tt := range tests {
		t.Run(tt.lesson, func(t *testing.T) {
			assert.Equal(t, tt.wantState, g.State(tt.lesson))
		})
	}

	assert.Equal(t, 2, g.CompletedCount())
	assert.Equal(t, float64(50), g.Percent())
	assert.Equal(t, "l2", g.Resume())

	next, ok := g.Next("l2")
	assert.True(t, ok)
	assert.Equal(t, "l3", next.ID)
	_, ok = g.Next("l4")
	assert.False(t, ok)

	g.Record(LessonProgress{LessonID: "l2", Completed: true})
	assert.True(t, g.IsUnlocked("l3"))
	assert.Equal(t, StateUnlocked, g.State("l3"))
	assert.Equal(t, float64(75), g.Percent())
}

func TestGate_Empty(t *testing.T) {
	g := NewGate(nil, nil)
	assert.Equal(t, float64(0), g.Percent())
	assert.Equal(t, "", g.Resume())
	assert.Empty(t, g.States())
}

func TestGate_FirstLessonUnlocked(t *testing.T) {
	g := NewGate(lessons("l1", "l2"), nil)
	assert.Equal(t, StateUnlocked, g.State("l1"))
	assert.Equal(t, StateLocked, g.State("l2"))
	assert.Equal(t, "l1", g.Resume())
}

func TestApplyPlayback(t *testing.T) {
	tests := []struct {
		name              string
		p                 LessonProgress
		lessonDuration    float64
		pb                Playback
		wantOK            bool
		wantJustCompleted bool
		wantMaxWatched    float64
		wantLastPosition  float64
		wantCompleted     bool
	}{
		{
			name: "normal advance", p: LessonProgress{MaxWatched: 10}, lessonDuration: 100,
			pb: Playback{Position: 12}, wantOK: true, wantMaxWatched: 12, wantLastPosition: 12,
		},
		{
			name: "exactly at tolerance", p: LessonProgress{MaxWatched: 10, LastPosition: 10}, lessonDuration: 100,
			pb: Playback{Position: 10 + SkipTolerance}, wantOK: true, wantMaxWatched: 10 + SkipTolerance, wantLastPosition: 10 + SkipTolerance,
		},
		{
			name: "just beyond tolerance", p: LessonProgress{MaxWatched: 10}, lessonDuration: 100,
			pb: Playback{Position: 10 + SkipTolerance + 0.5}, wantOK: false, wantMaxWatched: 10,
		},
		{
			name: "skip ahead", p: LessonProgress{MaxWatched: 10, LastPosition: 10}, lessonDuration: 100,
			pb: Playback{Position: 50}, wantOK: false, wantMaxWatched: 10, wantLastPosition: 10,
		},
		{
			name: "seek backwards keeps watermark", p: LessonProgress{MaxWatched: 40, LastPosition: 40}, lessonDuration: 100,
			pb: Playback{Position: 5}, wantOK: true, wantMaxWatched: 40, wantLastPosition: 5,
		},
		{
			name: "ended counts as duration", p: LessonProgress{MaxWatched: 99}, lessonDuration: 100,
			pb: Playback{Position: 20, Ended: true}, wantOK: true, wantJustCompleted: true, wantMaxWatched: 100, wantLastPosition: 100, wantCompleted: true,
		},
		{
			name: "ended is still checked for skips", p: LessonProgress{MaxWatched: 10}, lessonDuration: 100,
			pb: Playback{Position: 20, Ended: true}, wantOK: false, wantMaxWatched: 10,
		},
		{
			name: "completion threshold", p: LessonProgress{MaxWatched: 94}, lessonDuration: 100,
			pb: Playback{Position: 95}, wantOK: true, wantJustCompleted: true, wantMaxWatched: 95, wantLastPosition: 95, wantCompleted: true,
		},
		{
			name: "just below completion threshold", p: LessonProgress{MaxWatched: 94}, lessonDuration: 100,
			pb: Playback{Position: 94.9}, wantOK: true, wantMaxWatched: 94.9, wantLastPosition: 94.9,
		},
		{
			name: "stored duration wins", p: LessonProgress{MaxWatched: 49}, lessonDuration: 100,
			pb: Playback{Position: 50, Duration: 50}, wantOK: true, wantMaxWatched: 50, wantLastPosition: 50,
		},
		{
			name: "reported duration when unknown", p: LessonProgress{MaxWatched: 49}, lessonDuration: 0,
			pb: Playback{Position: 50, Duration: 50}, wantOK: true, wantJustCompleted: true, wantMaxWatched: 50, wantLastPosition: 50, wantCompleted: true,
		},
		{
			name: "watermark clamped to duration", p: LessonProgress{MaxWatched: 99.5}, lessonDuration: 100,
			pb: Playback{Position: 101}, wantOK: true, wantJustCompleted: true, wantMaxWatched: 100, wantLastPosition: 101, wantCompleted: true,
		},
		{
			name: "completed lessons seek freely", p: LessonProgress{MaxWatched: 20, Completed: true}, lessonDuration: 100,
			pb: Playback{Position: 80}, wantOK: true, wantMaxWatched: 80, wantLastPosition: 80, wantCompleted: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, justCompleted := ApplyPlayback(tt.p, tt.lessonDuration, tt.pb)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantJustCompleted, justCompleted)
			assert.InDelta(t, tt.wantMaxWatched, got.MaxWatched, 1e-9)
			if tt.wantOK {
				assert.InDelta(t, tt.wantLastPosition, got.LastPosition, 1e-9)
			}
			assert.Equal(t, tt.wantCompleted, got.Completed)
		})
	}
}
