package textop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply(t *testing.T) {
	tests := []struct {
		name string
		in   string
		op   Operation
		want string
	}{
		{"insert into empty", "", Operation{Type: Insert, Position: 0, Text: "Hi"}, "Hi"},
		{"insert at end", "Hi", Operation{Type: Insert, Position: 2, Text: " there"}, "Hi there"},
		{"insert in middle", "Hthere", Operation{Type: Insert, Position: 1, Text: "i "}, "Hi there"},
		{"delete head", "Hi there", Operation{Type: Delete, Position: 0, Length: 1}, "i there"},
		{"delete tail", "Hi there", Operation{Type: Delete, Position: 2, Length: 6}, "Hi"},
		{"runes not bytes", "héllo", Operation{Type: Delete, Position: 1, Length: 1}, "hllo"},
		{"insert after multibyte", "日本", Operation{Type: Insert, Position: 1, Text: "x"}, "日x本"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.op.Apply(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyRejects(t *testing.T) {
	tests := []struct {
		name string
		op   Operation
		err  error
	}{
		{"insert past end", Operation{Type: Insert, Position: 4, Text: "x"}, ErrOutOfRange},
		{"delete past end", Operation{Type: Delete, Position: 2, Length: 2}, ErrOutOfRange},
		{"negative position", Operation{Type: Insert, Position: -1, Text: "x"}, ErrOutOfRange},
		{"empty insert", Operation{Type: Insert, Position: 0}, ErrMalformed},
		{"zero delete", Operation{Type: Delete, Position: 0}, ErrMalformed},
		{"unknown type", Operation{Type: "replace", Position: 0, Text: "x"}, ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.op.Apply("abc")
			require.ErrorIs(t, err, tt.err)
			assert.Equal(t, "abc", got, "buffer must be untouched")
		})
	}
}

func TestDiffEqualEmitsNothing(t *testing.T) {
	for _, s := range []string{"", "a", "Hi there", "日本語"} {
		_, ok := Diff(s, s)
		assert.False(t, ok, "Diff(%q, %q)", s, s)
	}
}

func TestDiffTyping(t *testing.T) {
	op, ok := Diff("", "Hi")
	require.True(t, ok)
	assert.Equal(t, Operation{Type: Insert, Position: 0, Text: "Hi"}, op)

	op, ok = Diff("Hi there", "i there")
	require.True(t, ok)
	assert.Equal(t, Operation{Type: Delete, Position: 0, Length: 1}, op)
}

func TestDiffRoundTrip(t *testing.T) {
	tests := []struct {
		before, after string
	}{
		{"", "a"},
		{"a", ""},
		{"abc", "abXc"},
		{"abc", "Xabc"},
		{"abc", "abcX"},
		{"aa", "aaa"},
		{"aab", "ab"},
		{"hello world", "hello"},
		{"hello", "hello, world"},
		{"mississippi", "missippi"},
		{"naïve", "naïveté"},
		{"日本語", "日語"},
	}
	for _, tt := range tests {
		op, ok := Diff(tt.before, tt.after)
		require.True(t, ok, "%q -> %q", tt.before, tt.after)
		got, err := op.Apply(tt.before)
		require.NoError(t, err)
		assert.Equal(t, tt.after, got, "%q -> %q via %s", tt.before, tt.after, op)
	}
}

// The prefix scan cannot express replacements. These cases pin the
// approximation rather than an exact edit.
func TestDiffApproximation(t *testing.T) {
	t.Run("same length replacement", func(t *testing.T) {
		_, ok := Diff("abc", "xyz")
		assert.False(t, ok)
	})

	t.Run("full buffer replacement", func(t *testing.T) {
		op, ok := Diff("abc", "xy")
		require.True(t, ok)
		assert.Equal(t, Operation{Type: Delete, Position: 0, Length: 1}, op)
		got, err := op.Apply("abc")
		require.NoError(t, err)
		assert.NotEqual(t, "xy", got)
	})

	t.Run("replace selection", func(t *testing.T) {
		// "quick" replaced by "slow" in one paste.
		before, after := "the quick fox", "the slow fox"
		op, ok := Diff(before, after)
		require.True(t, ok)
		assert.Equal(t, Delete, op.Type)
		assert.Equal(t, 4, op.Position)
		got, err := op.Apply(before)
		require.NoError(t, err)
		assert.NotEqual(t, after, got)
	})
}
