package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"business-objects/internal/rules"
)

func TestNewInstanceAppliesDefaults(t *testing.T) {
	obj := NewInstance(compose(t, orderJSON), sales)

	assert.Equal(t, StateNew, obj.State())
	assert.True(t, obj.IsNew())
	assert.True(t, obj.IsDirty())
	assert.Equal(t, "open", obj.Value("status"))
	assert.Equal(t, float64(0), obj.Value("total"))
	assert.Nil(t, obj.Value("customer"))
	assert.Equal(t, "", obj.Key())
	assert.Equal(t, 0, obj.BrokenRules().Count(), "no rules run on construction")
}

func TestSetValueRechecksAffectedProperties(t *testing.T) {
	obj := NewInstance(compose(t, orderJSON), sales)

	for name, v := range map[string]any{"customer": "ACME", "total": 100.0, "discount": 50.0} {
		ok, err := obj.SetValue(name, v)
		require.NoError(t, err)
		require.True(t, ok, name)
	}
	assert.True(t, obj.IsValid())
	assert.Equal(t, StateDirty, obj.State())

	// Lowering the total re-runs the discount rules through the dependency.
	_, err := obj.SetValue("total", 10.0)
	require.NoError(t, err)
	broken := obj.BrokenRules().GetByName("discount")
	require.Len(t, broken, 1)
	assert.Equal(t, "discount exceeds total", broken[0].Message)
	assert.False(t, obj.IsValid())

	_, err = obj.SetValue("total", 60.0)
	require.NoError(t, err)
	assert.Empty(t, obj.BrokenRules().GetByName("discount"))
	assert.True(t, obj.IsValid())
}

func TestSetValueStopsAtRequired(t *testing.T) {
	obj := NewInstance(compose(t, orderJSON), sales)

	_, err := obj.SetValue("customer", "")
	require.NoError(t, err)
	broken := obj.BrokenRules().GetByName("customer")
	require.Len(t, broken, 1)
	assert.Equal(t, "customer is required", broken[0].Message)

	_, err = obj.SetValue("customer", "A very long customer name")
	require.NoError(t, err)
	broken = obj.BrokenRules().GetByName("customer")
	require.Len(t, broken, 1)
	assert.Equal(t, "customer is too long", broken[0].Message)
}

func TestSetValueDeniedUnderShowError(t *testing.T) {
	obj := NewInstance(compose(t, orderJSON), clerk)

	for i := 0; i < 2; i++ {
		ok, err := obj.SetValue("total", 99.0)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.Equal(t, float64(0), obj.Value("total"), "denied writes leave the value alone")

	broken := obj.BrokenRules().GetByName("total")
	require.Len(t, broken, 1, "the denial is recorded once")
	assert.True(t, broken[0].IsPreserved)
	assert.Equal(t, rules.SeverityError, broken[0].Severity)
	assert.False(t, obj.IsValid())

	// A full validation pass keeps authorization results.
	require.NoError(t, obj.Validate())
	assert.Len(t, obj.BrokenRules().GetByName("total"), 1)
}

func TestSetValueRejectsBadTargets(t *testing.T) {
	obj := NewInstance(compose(t, orderJSON), sales)
	obj.load(map[string]any{"id": int64(7), "customer": "ACME"})

	_, err := obj.SetValue("id", int64(8))
	assert.ErrorIs(t, err, rules.ErrInvalidArgument)

	_, err = obj.SetValue("nope", 1)
	assert.ErrorIs(t, err, rules.ErrInvalidArgument)

	obj.MarkRemoved()
	_, err = obj.SetValue("customer", "Globex")
	assert.ErrorIs(t, err, rules.ErrInvalidArgument)
}

func TestGetValueHonoursReadPermission(t *testing.T) {
	m := compose(t, orderJSON)
	row := map[string]any{"id": int64(1), "customer": "ACME", "total": 10.0, "discount": 0.0, "status": "open", "margin": 2.5, "note": "vip"}

	fin := NewInstance(m, finance)
	fin.load(row)
	v, ok, err := fin.GetValue("margin")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2.5, v)

	obj := NewInstance(m, clerk)
	obj.load(row)
	v, ok, err = obj.GetValue("margin")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, v)

	broken := obj.BrokenRules().GetByName("margin")
	require.Len(t, broken, 1)
	assert.Equal(t, rules.SeverityWarning, broken[0].Severity)
	require.NoError(t, obj.Validate())
	assert.True(t, obj.IsValid(), "a warning does not make the object invalid")
}

func TestToDTOOmitsHiddenAndUnreadable(t *testing.T) {
	m := compose(t, orderJSON)
	row := map[string]any{"id": int64(1), "customer": "ACME", "total": 10.0, "margin": 2.5, "note": "vip"}

	obj := NewInstance(m, clerk)
	obj.load(row)
	dto, err := obj.ToDTO()
	require.NoError(t, err)
	assert.Equal(t, "ACME", dto["customer"])
	assert.NotContains(t, dto, "note")
	assert.NotContains(t, dto, "margin")

	fin := NewInstance(m, finance)
	fin.load(row)
	dto, err = fin.ToDTO()
	require.NoError(t, err)
	assert.Equal(t, 2.5, dto["margin"])
	assert.NotContains(t, dto, "note")
}

func TestApplySkipsSavedKeyAndCoercesIntegers(t *testing.T) {
	m := compose(t, orderJSON)

	obj := NewInstance(m, sales)
	require.NoError(t, obj.Apply(map[string]any{"id": float64(42), "customer": "ACME"}))
	assert.Equal(t, int64(42), obj.Value("id"))
	assert.Equal(t, "42", obj.Key())

	saved := NewInstance(m, sales)
	saved.load(map[string]any{"id": int64(5), "customer": "ACME"})
	require.NoError(t, saved.Apply(map[string]any{"id": float64(5), "customer": "Globex"}))
	assert.Equal(t, int64(5), saved.Value("id"))
	assert.Equal(t, "Globex", saved.Value("customer"))
}

func TestSetValueKeepsOutOfRangeIntegers(t *testing.T) {
	obj := NewInstance(compose(t, orderJSON), sales)

	ok, err := obj.SetValue("quantity", 1e20)
	assert.False(t, ok)
	assert.ErrorIs(t, err, rules.ErrInvalidArgument)
	assert.Nil(t, obj.Value("quantity"), "the value must not wrap into range")
	assert.Empty(t, obj.BrokenRules().GetByName("quantity"))

	_, err = obj.SetValue("quantity", -1e19)
	assert.ErrorIs(t, err, rules.ErrInvalidArgument)

	ok, err = obj.SetValue("quantity", 1e3)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1000), obj.Value("quantity"))
	broken := obj.BrokenRules().GetByName("quantity")
	require.Len(t, broken, 1)
	assert.Equal(t, "quantity too large", broken[0].Message)
}

func TestSetValueRejectsMistypedValues(t *testing.T) {
	obj := NewInstance(compose(t, orderJSON), sales)

	for name, v := range map[string]any{
		"quantity": "abc",
		"total":    "lots",
		"discount": true,
	} {
		ok, err := obj.SetValue(name, v)
		assert.False(t, ok, name)
		var argErr *rules.ArgumentError
		require.ErrorAs(t, err, &argErr, name)
		assert.Equal(t, name, argErr.Param)
	}
	assert.Equal(t, float64(0), obj.Value("total"))
	assert.Equal(t, 0, obj.BrokenRules().Count(), "no rule runs for a rejected value")

	_, err := obj.SetValue("quantity", 2.5)
	assert.ErrorIs(t, err, rules.ErrInvalidArgument)

	ok, err := obj.SetValue("quantity", nil)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = obj.SetValue("total", int64(12))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, obj.IsValid())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "new", StateNew.String())
	assert.Equal(t, "pristine", StatePristine.String())
	assert.Equal(t, "dirty", StateDirty.String())
	assert.Equal(t, "removed", StateRemoved.String())
	assert.Equal(t, "State(9)", State(9).String())
}
