package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validQuestion() QuestionRequest {
	return QuestionRequest{
		Text:          "Türkiye'nin başkenti neresidir?",
		OptionA:       "İstanbul",
		OptionB:       "Ankara",
		OptionC:       "İzmir",
		OptionD:       "Bursa",
		CorrectOption: "B",
		Points:        100,
		TimeLimit:     30,
	}
}

func TestValidateQuestion(t *testing.T) {
	q := validQuestion()
	require.NoError(t, ValidateQuestion(&q))
	assert.Equal(t, validQuestion(), q)

	q = validQuestion()
	q.TimeLimit = 5
	require.NoError(t, ValidateQuestion(&q))

	q = validQuestion()
	q.TimeLimit = 300
	require.NoError(t, ValidateQuestion(&q))
}

func TestValidateQuestionNormalizesCorrectOption(t *testing.T) {
	q := validQuestion()
	q.CorrectOption = " b "
	require.NoError(t, ValidateQuestion(&q))
	assert.Equal(t, "B", q.CorrectOption)
}

func TestValidateQuestionDefaults(t *testing.T) {
	q := validQuestion()
	q.Points = 0
	q.TimeLimit = 0
	require.NoError(t, ValidateQuestion(&q))
	assert.Equal(t, defaultQuestionPoints, q.Points)
	assert.Equal(t, defaultQuestionTimeLimit, q.TimeLimit)
}

func TestValidateQuestionErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*QuestionRequest)
		want   string
	}{
		{"empty text", func(q *QuestionRequest) { q.Text = "   " }, "question text is required"},
		{"missing option", func(q *QuestionRequest) { q.OptionC = "" }, "all four options are required"},
		{"blank option", func(q *QuestionRequest) { q.OptionA = "  " }, "all four options are required"},
		{"bad correct option", func(q *QuestionRequest) { q.CorrectOption = "E" }, "correct option must be A, B, C or D"},
		{"empty correct option", func(q *QuestionRequest) { q.CorrectOption = "" }, "correct option must be A, B, C or D"},
		{"negative points", func(q *QuestionRequest) { q.Points = -50 }, "points must be positive"},
		{"time limit too short", func(q *QuestionRequest) { q.TimeLimit = 4 }, "time limit must be between 5 and 300 seconds"},
		{"time limit too long", func(q *QuestionRequest) { q.TimeLimit = 301 }, "time limit must be between 5 and 300 seconds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := validQuestion()
			tt.mutate(&q)
			err := ValidateQuestion(&q)
			require.Error(t, err)
			assert.EqualError(t, err, tt.want)
		})
	}
}
