package jsonrepair_test

import (
	"errors"
	"testing"

	"tale-server/pkg/jsonrepair"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanAndParse_ValidJSONIsUntouched(t *testing.T) {
	raw := `{"narrative": "You wake in a cave.", "choices": ["look around", "call out"]}`

	obj, repairs, err := jsonrepair.CleanAndParse(raw)
	require.NoError(t, err)
	assert.Empty(t, repairs, "valid JSON must report zero repairs")
	assert.Equal(t, "You wake in a cave.", obj["narrative"])

	// Re-cleaning the cleaned text yields the same structure with no new repairs.
	cleaned, _ := jsonrepair.Clean(raw)
	again, repairs2, err := jsonrepair.CleanAndParse(cleaned)
	require.NoError(t, err)
	assert.Empty(t, repairs2)
	assert.Equal(t, obj, again)
}

func TestClean_StripsCodeFences(t *testing.T) {
	raw := "```json\n{\"narrative\": \"hello\"}\n```"

	obj, repairs, err := jsonrepair.CleanAndParse(raw)
	require.NoError(t, err)
	assert.Contains(t, repairs, jsonrepair.RepairStripWrapper)
	assert.Equal(t, "hello", obj["narrative"])
}

func TestClean_StripsBoilerplatePrefix(t *testing.T) {
	for _, prefix := range []string{"JSON:", "Here is the JSON:", "Here's the JSON:"} {
		raw := prefix + ` {"narrative": "hi"}`
		obj, repairs, err := jsonrepair.CleanAndParse(raw)
		require.NoError(t, err, "prefix %q", prefix)
		assert.Contains(t, repairs, jsonrepair.RepairStripWrapper)
		assert.Equal(t, "hi", obj["narrative"])
	}
}

func TestClean_NormalizesSingleQuotes(t *testing.T) {
	raw := `{'narrative': 'You enter the hall.', "choices": []}`

	obj, repairs, err := jsonrepair.CleanAndParse(raw)
	require.NoError(t, err)
	assert.Contains(t, repairs, jsonrepair.RepairNormalizeQuotes)
	assert.Equal(t, "You enter the hall.", obj["narrative"])
}

func TestClean_PreservesApostrophesInsideStrings(t *testing.T) {
	raw := `{"narrative": "The sign reads: 'beware', so you hesitate."}`

	obj, repairs, err := jsonrepair.CleanAndParse(raw)
	require.NoError(t, err)
	assert.Empty(t, repairs, "quoted apostrophes need no repair")
	assert.Equal(t, "The sign reads: 'beware', so you hesitate.", obj["narrative"])

	// Mixed input: a single-quoted key outside a string is still converted
	// while apostrophes inside string content stay put.
	raw = `{'narrative': "don't panic", "choices": []}`
	obj, repairs, err = jsonrepair.CleanAndParse(raw)
	require.NoError(t, err)
	assert.Contains(t, repairs, jsonrepair.RepairNormalizeQuotes)
	assert.Equal(t, "don't panic", obj["narrative"])
}

func TestClean_KeepsSingleQuotedValuesWithEmbeddedDoubleQuotes(t *testing.T) {
	// Converting this value would corrupt the embedded quotes, so the
	// normalizer has to skip it and the parse is allowed to fail.
	raw := `{"narrative": 'he said "no"'}`
	cleaned, _ := jsonrepair.Clean(raw)
	assert.Contains(t, cleaned, `'he said "no"'`)
}

func TestClean_RemovesTrailingCommas(t *testing.T) {
	raw := `{"choices": ["a", "b",], "narrative": "x",}`

	obj, repairs, err := jsonrepair.CleanAndParse(raw)
	require.NoError(t, err)
	assert.Contains(t, repairs, jsonrepair.RepairTrailingCommas)
	assert.Equal(t, []any{"a", "b"}, obj["choices"])
}

func TestClean_BalancesMissingClosers(t *testing.T) {
	obj, repairs, err := jsonrepair.CleanAndParse(`{"a": "b"`)
	require.NoError(t, err)
	assert.Contains(t, repairs, jsonrepair.RepairBalanceBrackets)
	assert.Equal(t, "b", obj["a"])

	// Braces inside string content must not confuse the counter.
	obj, _, err = jsonrepair.CleanAndParse(`{"a": "curly } inside", "b": ["x"`)
	require.NoError(t, err)
	assert.Equal(t, "curly } inside", obj["a"])
}

func TestClean_DoesNotRemoveExcessClosers(t *testing.T) {
	// Excess closers are not repaired away: this must still fail to parse.
	_, _, err := jsonrepair.CleanAndParse(`"a": "b"}}`)
	require.Error(t, err)

	var parseErr *jsonrepair.ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.NotEmpty(t, parseErr.Cleaned)
}

func TestClean_TruncatesTrailingProse(t *testing.T) {
	raw := `{"narrative": "done"} I hope this story works for you!`

	obj, repairs, err := jsonrepair.CleanAndParse(raw)
	require.NoError(t, err)
	assert.Contains(t, repairs, jsonrepair.RepairTruncateTail)
	assert.Equal(t, "done", obj["narrative"])
}

func TestValidate(t *testing.T) {
	fields := []jsonrepair.Field{
		{Name: "narrative", Kind: jsonrepair.FieldString},
		{Name: "imagePrompt", Kind: jsonrepair.FieldString},
		{Name: "choices", Kind: jsonrepair.FieldArray},
	}

	t.Run("all present", func(t *testing.T) {
		obj := map[string]any{"narrative": "a", "imagePrompt": "b", "choices": []any{"c"}}
		assert.Empty(t, jsonrepair.Validate(obj, fields))
	})

	t.Run("missing and wrong shapes", func(t *testing.T) {
		obj := map[string]any{"narrative": "", "choices": "not an array"}
		missing := jsonrepair.Validate(obj, fields)
		assert.ElementsMatch(t, []string{"narrative", "imagePrompt", "choices"}, missing)
	})

	t.Run("empty array counts as present", func(t *testing.T) {
		obj := map[string]any{"narrative": "a", "imagePrompt": "b", "choices": []any{}}
		assert.Empty(t, jsonrepair.Validate(obj, fields))
	})
}

func TestReconstruct(t *testing.T) {
	fields := []jsonrepair.Field{
		{Name: "narrative", Kind: jsonrepair.FieldString},
		{Name: "choices", Kind: jsonrepair.FieldArray},
	}

	out := jsonrepair.Reconstruct(map[string]any{"narrative": "kept"}, fields)
	assert.Equal(t, "kept", out["narrative"])
	assert.Equal(t, []any{}, out["choices"])
	assert.Empty(t, jsonrepair.Validate(out, fields))
}
