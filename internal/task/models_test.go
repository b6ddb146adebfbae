package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mind-engage/mindengage-training/internal/content"
)

func TestInWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	start := now.Add(-time.Hour)
	exam := Task{Kind: Exam, StartTime: &start, Deadline: now.Add(time.Hour)}

	assert.True(t, exam.InWindow(now))
	assert.True(t, exam.InWindow(start), "start is inclusive")
	assert.True(t, exam.InWindow(exam.Deadline), "deadline is inclusive")
	assert.False(t, exam.InWindow(start.Add(-time.Second)))
	assert.False(t, exam.InWindow(exam.Deadline.Add(time.Second)))

	noStart := Task{Deadline: now}
	assert.True(t, noStart.InWindow(now.Add(-24*time.Hour)))
}

func TestPassedAndBindings(t *testing.T) {
	pass := 12.0
	tk := Task{PassScore: &pass, Bindings: []Binding{
		{GroupID: "k", Kind: content.KindKnowledge},
		{GroupID: "t", Kind: content.KindTestSet},
	}}
	assert.True(t, tk.Passed(12))
	assert.False(t, tk.Passed(11.5))
	assert.True(t, Task{}.Passed(0))

	b, ok := tk.Binding("t")
	assert.True(t, ok)
	assert.Equal(t, content.KindTestSet, b.Kind)
	_, ok = tk.Binding("x")
	assert.False(t, ok)
	assert.Len(t, tk.BindingsOf(content.KindKnowledge), 1)

	assert.Equal(t, content.KindKnowledge, Learning.BindableKind())
	assert.Equal(t, content.KindTestSet, Exam.BindableKind())
	assert.False(t, Kind("QUIZ").Valid())
}
