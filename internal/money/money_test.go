package money

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("parses plain decimals", func(t *testing.T) {
		a, err := Parse("12.50")
		require.NoError(t, err)
		assert.Equal(t, "12.5", a.String())
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := Parse("twelve")
		assert.Error(t, err)
	})

	t.Run("zero value equals zero", func(t *testing.T) {
		var a Amount
		assert.True(t, a.IsZero())
		assert.Equal(t, 0, a.Cmp(Zero()))
	})
}

func TestArithmetic(t *testing.T) {
	t.Run("addition preserves exact decimals", func(t *testing.T) {
		// 0.1 + 0.2 is the classic binary-float failure case.
		sum := MustParse("0.1").Add(MustParse("0.2"))
		assert.Equal(t, 0, sum.Cmp(MustParse("0.3")))
	})

	t.Run("repeated accumulation does not drift", func(t *testing.T) {
		tick := MustParse("0.001")
		total := Zero()
		for i := 0; i < 10000; i++ {
			total = total.Add(tick)
		}
		assert.Equal(t, 0, total.Cmp(MustParse("10")))
	})

	t.Run("multiplication", func(t *testing.T) {
		got := MustParse("3600").Mul(MustParse("0.000000001"))
		assert.Equal(t, 0, got.Cmp(MustParse("0.0000036")))
	})

	t.Run("division by zero yields zero", func(t *testing.T) {
		got := MustParse("5").Div(Zero())
		assert.True(t, got.IsZero())
	})

	t.Run("division results render without trailing zeros", func(t *testing.T) {
		// Quotients carry the full 34-digit precision internally; the
		// rendered form must still be the plain value.
		got := MustParse("180").Div(MustParse("2"))
		assert.Equal(t, "90", got.String())

		elapsed := FromInt64(90_000_000_000) // 90s in nanoseconds
		cost := elapsed.Mul(MustParse("3600")).Div(FromInt64(3_600_000_000_000))
		assert.Equal(t, "90", cost.String())
	})

	t.Run("min", func(t *testing.T) {
		assert.Equal(t, 0, MustParse("100").Min(MustParse("150")).Cmp(MustParse("100")))
		assert.Equal(t, 0, MustParse("150").Min(MustParse("100")).Cmp(MustParse("100")))
	})
}

func TestComparisons(t *testing.T) {
	assert.Equal(t, -1, MustParse("1").Cmp(MustParse("2")))
	assert.Equal(t, 1, MustParse("2.01").Cmp(MustParse("2")))
	assert.True(t, MustParse("-3").IsNegative())
	assert.False(t, Zero().IsNegative())
	assert.True(t, MustParse("0.0001").IsPositive())
}

func TestRounding(t *testing.T) {
	t.Run("round half even", func(t *testing.T) {
		assert.Equal(t, "1.24", MustParse("1.235").Round(2).String())
		assert.Equal(t, "1.22", MustParse("1.225").Round(2).String())
	})

	t.Run("fixed rendering pads", func(t *testing.T) {
		assert.Equal(t, "1.50", MustParse("1.5").StringFixed(2))
		assert.Equal(t, "2.00", MustParse("2").StringFixed(2))
	})
}

func TestScaledInt64(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		i, err := MustParse("12.345").ScaledInt64(8)
		require.NoError(t, err)
		assert.Equal(t, int64(1234500000), i)

		back := FromScaledInt64(i, 8)
		assert.Equal(t, 0, back.Cmp(MustParse("12.345")))
	})

	t.Run("rounds below the scale", func(t *testing.T) {
		i, err := MustParse("0.000000004").ScaledInt64(8)
		require.NoError(t, err)
		assert.Equal(t, int64(0), i)

		i, err = MustParse("0.000000016").ScaledInt64(8)
		require.NoError(t, err)
		assert.Equal(t, int64(2), i)
	})

	t.Run("negative amounts", func(t *testing.T) {
		i, err := MustParse("-1.5").ScaledInt64(2)
		require.NoError(t, err)
		assert.Equal(t, int64(-150), i)
	})
}

func TestJSONRoundTrip(t *testing.T) {
	a := MustParse("99.999999999")
	data, err := json.Marshal(a)
	require.NoError(t, err)
	assert.Equal(t, `"99.999999999"`, string(data))

	var back Amount
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, 0, a.Cmp(back))

	// Bare numbers are accepted too.
	require.NoError(t, json.Unmarshal([]byte(`3.5`), &back))
	assert.Equal(t, 0, back.Cmp(MustParse("3.5")))
}
