package correct_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/book-expert/captcha-solver-service/internal/correct"
)

func TestNewCorrector(t *testing.T) {
	t.Parallel()

	corrector := correct.NewCorrector()

	require.NotNil(t, corrector)
}

func TestCorrect_BasicFunctionality(t *testing.T) {
	t.Parallel()

	corrector := correct.NewCorrector()

	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty input returns empty",
			input:    "",
			expected: "",
		},
		{
			name:     "plain letters unchanged",
			input:    "ABCDEF",
			expected: "ABCDEF",
		},
		{
			name:     "lower case is upper cased",
			input:    "abcdef",
			expected: "ABCDEF",
		},
		{
			name:     "whitespace and punctuation stripped",
			input:    "A B-C1",
			expected: "ABCI",
		},
		{
			name:     "substitution table applied in order",
			input:    "0851",
			expected: "OBSI",
		},
		{
			name:     "digits outside the table survive",
			input:    "K7M2X9",
			expected: "K7M2X9",
		},
		{
			name:     "mixed noise and substitutions",
			input:    " x1  z5\t0 ",
			expected: "XIZSO",
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			result := corrector.Correct(testCase.input)
			require.Equal(t, testCase.expected, result)
		})
	}
}

func TestCorrect_Idempotent(t *testing.T) {
	t.Parallel()

	corrector := correct.NewCorrector()

	inputs := []string{"", "0851", "A B-C1", "hello world", "ZZ TOP 1985", "O8SI"}

	for _, input := range inputs {
		once := corrector.Correct(input)
		twice := corrector.Correct(once)
		require.Equal(t, once, twice, "correcting %q twice changed the result", input)
	}
}

func TestCorrect_LengthPreservedBySubstitutions(t *testing.T) {
	t.Parallel()

	corrector := correct.NewCorrector()

	// Substitutions are 1:1, so a string that is already stripped keeps its
	// length through the table.
	result := corrector.Correct("0185")

	require.Len(t, result, 4)
	require.Equal(t, "OIBS", result)
}

func TestCorrect_CustomRules(t *testing.T) {
	t.Parallel()

	corrector := correct.NewCorrectorWithRules([]correct.Rule{
		{From: '6', To: 'G'},
		{From: 'G', To: 'C'},
	})

	// Rule order matters: 6 becomes G, then the second rule rewrites every G
	// (including the one the first rule produced) to C.
	result := corrector.Correct("6G")

	require.Equal(t, "CC", result)
}
