package types

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskInputModeDefaultsToInteractive(t *testing.T) {
	task := TaskInput{Instruction: "check price", URL: "https://shop.example.com/p"}
	assert.Equal(t, ModeInteractive, task.Mode())

	task.Options = &TaskOptions{ExecutionMode: ModePlan}
	assert.Equal(t, ModePlan, task.Mode())
}

func TestTaskInputValidate(t *testing.T) {
	valid := func() TaskInput {
		return TaskInput{Instruction: "check price", URL: "https://shop.example.com/p"}
	}

	t.Run("valid", func(t *testing.T) {
		task := valid()
		require.NoError(t, task.Validate(2000))
	})

	cases := []struct {
		name   string
		mutate func(*TaskInput)
	}{
		{"empty instruction", func(task *TaskInput) { task.Instruction = "  " }},
		{"instruction too long", func(task *TaskInput) { task.Instruction = strings.Repeat("a", 2001) }},
		{"relative url", func(task *TaskInput) { task.URL = "/p/beans" }},
		{"non-http scheme", func(task *TaskInput) { task.URL = "ftp://shop.example.com/p" }},
		{"missing host", func(task *TaskInput) { task.URL = "https:///p" }},
		{"planOnly with executionOnly", func(task *TaskInput) {
			task.Options = &TaskOptions{PlanOnly: true, ExecutionOnly: true}
		}},
		{"unknown mode", func(task *TaskInput) {
			task.Options = &TaskOptions{ExecutionMode: "yolo"}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			task := valid()
			tc.mutate(&task)
			err := task.Validate(2000)
			require.Error(t, err)
			assert.Equal(t, CodeValidation, CodeOf(err))
		})
	}
}
