package allocation_test

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/prg-engine/allocation"
)

// =============================================================================
// DECODE
// =============================================================================

func TestDecode_TwoBindings(t *testing.T) {
	// GIVEN: a consumer with two bindings
	// WHEN: decoding
	// THEN: both bindings, total 0.8

	got := allocation.Decode("P1|0,5|ГРС Север;P2|0,3|ГРС Юг")

	require.Len(t, got, 2)
	assert.Equal(t, allocation.Binding{PipelineID: "P1", Share: 0.5, GRSName: "ГРС Север"}, got[0])
	assert.Equal(t, allocation.Binding{PipelineID: "P2", Share: 0.3, GRSName: "ГРС Юг"}, got[1])
	assert.InDelta(t, 0.8, allocation.TotalShare(got), 1e-9)
}

func TestDecode_Tolerance(t *testing.T) {
	tests := []struct {
		name string
		code string
		want []allocation.Binding
	}{
		{"blank", "   ", nil},
		{"empty entries", ";;P1|1|ГРС;", []allocation.Binding{{PipelineID: "P1", Share: 1, GRSName: "ГРС"}}},
		{"too few fields", "P1|0,5;P2|0.5|Юг", []allocation.Binding{{PipelineID: "P2", Share: 0.5, GRSName: "Юг"}}},
		{"bad share dropped", "P1|half|Север;P2|0,25|Юг", []allocation.Binding{{PipelineID: "P2", Share: 0.25, GRSName: "Юг"}}},
		{"pipe in grs name", "P1|1|ГРС|2", []allocation.Binding{{PipelineID: "P1", Share: 1, GRSName: "ГРС|2"}}},
		{"whitespace trimmed", " P1 | 0,5 | Север ", []allocation.Binding{{PipelineID: "P1", Share: 0.5, GRSName: "Север"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, allocation.Decode(tt.code))
		})
	}
}

// =============================================================================
// ENCODE
// =============================================================================

func TestEncode_Formatting(t *testing.T) {
	code := allocation.Encode([]allocation.Binding{
		{PipelineID: "P1", Share: 0.99995, GRSName: "ГРС Север"},
		{PipelineID: "P2", Share: 0.25, GRSName: "ГРС Юг"},
	})

	assert.Equal(t, "P1|1|ГРС Север;P2|0,25|ГРС Юг", code)
	assert.Equal(t, "", allocation.Encode(nil))
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	lists := [][]allocation.Binding{
		{{PipelineID: "P1", Share: 1, GRSName: "ГРС Север"}},
		{{PipelineID: "P1", Share: 0.5, GRSName: "ГРС Север"}, {PipelineID: "P2", Share: 0.3, GRSName: "ГРС Юг"}},
		{{PipelineID: "12-А", Share: 0.125, GRSName: "ГРС|с чертой"}, {PipelineID: "7", Share: 0, GRSName: "ГРС 7"}},
		{{PipelineID: "P9", Share: 0.333, GRSName: ""}},
	}

	for _, bindings := range lists {
		require.NoError(t, allocation.ValidateBindings(bindings))
		assert.Equal(t, bindings, allocation.Decode(allocation.Encode(bindings)))
	}
}

func TestValidateBinding(t *testing.T) {
	tests := []struct {
		name    string
		binding allocation.Binding
		want    error
	}{
		{"ok", allocation.Binding{PipelineID: "P1", Share: 0.5, GRSName: "ГРС"}, nil},
		{"empty id", allocation.Binding{PipelineID: " ", Share: 0.5}, allocation.ErrInvalidPipelineID},
		{"id with pipe", allocation.Binding{PipelineID: "P|1", Share: 0.5}, allocation.ErrInvalidPipelineID},
		{"id with semicolon", allocation.Binding{PipelineID: "P;1", Share: 0.5}, allocation.ErrInvalidPipelineID},
		{"grs with semicolon", allocation.Binding{PipelineID: "P1", Share: 0.5, GRSName: "a;b"}, allocation.ErrInvalidGRSName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := allocation.ValidateBinding(tt.binding)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
			var encErr *allocation.EncodeError
			assert.True(t, errors.As(err, &encErr))
		})
	}

	assert.Error(t, allocation.ValidateBinding(allocation.Binding{PipelineID: "P1", Share: math.NaN()}))
}

func TestParseDecimal(t *testing.T) {
	tests := []struct {
		in     string
		want   float64
		wantOK bool
	}{
		{"0,5", 0.5, true},
		{"0.5", 0.5, true},
		{" 8760 ", 8760, true},
		{"", 0, false},
		{"abc", 0, false},
		{"-3,25", -3.25, true},
	}

	for _, tt := range tests {
		got, ok := allocation.ParseDecimal(tt.in)
		assert.Equal(t, tt.wantOK, ok, tt.in)
		assert.InDelta(t, tt.want, got, 1e-12, tt.in)
	}
}

// =============================================================================
// EXPENSES
// =============================================================================

func TestResolveExpenses(t *testing.T) {
	t.Run("hourly derived from yearly", func(t *testing.T) {
		// GIVEN: yearly 8760, no hourly cell
		// THEN: hourly = 8760 / 8760 = 1
		exp, ok := allocation.ResolveExpenses(allocation.Consumer{YearlyExpense: "8760"})
		require.True(t, ok)
		assert.Equal(t, 8760.0, exp.Yearly)
		assert.Equal(t, 1.0, exp.Hourly)
	})

	t.Run("explicit hourly wins", func(t *testing.T) {
		exp, ok := allocation.ResolveExpenses(allocation.Consumer{YearlyExpense: "1000,5", HourlyExpense: "2,5"})
		require.True(t, ok)
		assert.Equal(t, 1000.5, exp.Yearly)
		assert.Equal(t, 2.5, exp.Hourly)
	})

	t.Run("zero hourly falls back", func(t *testing.T) {
		exp, ok := allocation.ResolveExpenses(allocation.Consumer{YearlyExpense: "17520", HourlyExpense: "0"})
		require.True(t, ok)
		assert.Equal(t, 2.0, exp.Hourly)
	})

	t.Run("no yearly means no expenses", func(t *testing.T) {
		for _, yearly := range []string{"", "0", "-5", "n/a"} {
			_, ok := allocation.ResolveExpenses(allocation.Consumer{YearlyExpense: yearly, HourlyExpense: "3"})
			assert.False(t, ok, yearly)
			assert.False(t, allocation.HasExpenses(allocation.Consumer{YearlyExpense: yearly}), yearly)
		}
	})
}
