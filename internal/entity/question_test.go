package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/lecture-quiz/internal/common"
)

func opts(correct ...bool) []Option {
	out := make([]Option, len(correct))
	ids := []string{"a", "b", "c", "d", "e"}
	for i, c := range correct {
		out[i] = Option{ID: ids[i], Text: "choice " + ids[i], IsCorrect: c}
	}
	return out
}

func TestValidateContent(t *testing.T) {
	cases := []struct {
		name    string
		text    string
		options []Option
		ok      bool
	}{
		{"one correct", "What?", opts(false, true, false, false), true},
		{"single option", "What?", opts(true), true},
		{"zero correct", "What?", opts(false, false, false, false), false},
		{"two correct", "What?", opts(true, true, false, false), false},
		{"no options", "What?", nil, false},
		{"blank text", "   ", opts(true, false), false},
		{"duplicate ids", "What?", []Option{{ID: "a", IsCorrect: true}, {ID: "a"}}, false},
		{"missing id", "What?", []Option{{ID: "", IsCorrect: true}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateContent(tc.text, tc.options)
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, common.ErrInvalidQuestion)
			assert.ErrorIs(t, err, common.ErrInvariantViolation)
		})
	}
}

func TestNormalizeOptionsAssignsIDs(t *testing.T) {
	in := []Option{{ID: " a ", Text: " x "}, {Text: "y", IsCorrect: true}}
	out := NormalizeOptions(in)

	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, "x", out[0].Text)
	assert.NotEmpty(t, out[1].ID)
	assert.Equal(t, "", in[1].ID, "input must not be modified")
}

func TestQuestionCloneDoesNotShareOptions(t *testing.T) {
	q := Question{Text: "q", Options: opts(true, false)}
	c := q.Clone()
	c.Options[0].Text = "changed"
	assert.Equal(t, "choice a", q.Options[0].Text)

	correct, ok := q.CorrectOption()
	require.True(t, ok)
	assert.Equal(t, "a", correct.ID)
}
