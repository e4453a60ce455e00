package portal

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope_Validation(t *testing.T) {
	_, err := NewEnvelope("", nil)
	assert.ErrorIs(t, err, ErrEmptyRoute)

	_, err = NewEnvelope("search", map[string]interface{}{"apiRoute": "other"})
	assert.ErrorIs(t, err, ErrReservedParam)

	_, err = NewEnvelope("search", map[string]interface{}{"bad": make(chan int)})
	assert.Error(t, err)
}

func TestEnvelope_WireForm(t *testing.T) {
	env := MustEnvelope("timesheet_list", map[string]interface{}{"week": 12, "user": "alice"})

	body, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"apiRoute":"timesheet_list","week":12,"user":"alice"}`, string(body))

	empty := MustEnvelope("ping", nil)
	body, err = json.Marshal(empty)
	require.NoError(t, err)
	assert.JSONEq(t, `{"apiRoute":"ping"}`, string(body))
}

func TestEnvelope_KeyIsByValue(t *testing.T) {
	a := MustEnvelope("search", map[string]interface{}{"q": "x", "page": 2, "tags": []string{"a", "b"}})
	b := MustEnvelope("search", map[string]interface{}{"tags": []string{"a", "b"}, "page": 2, "q": "x"})
	c := MustEnvelope("search", map[string]interface{}{"q": "x", "page": 3, "tags": []string{"a", "b"}})
	d := MustEnvelope("lookup", map[string]interface{}{"q": "x", "page": 2, "tags": []string{"a", "b"}})

	assert.NotSame(t, a, b)
	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Key(), b.Key())
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(d))
	assert.False(t, a.Equal(nil))
}

func TestEnvelope_Immutable(t *testing.T) {
	params := map[string]interface{}{"q": "x"}
	env := MustEnvelope("search", params)
	before := env.Key()

	params["q"] = "changed"
	got := env.Params()
	got["q"] = "also changed"

	assert.Equal(t, before, env.Key())
	assert.Equal(t, "x", env.Params()["q"])

	next, err := env.With("page", 2)
	require.NoError(t, err)
	assert.Equal(t, before, env.Key())
	assert.Equal(t, json.Number("2"), next.Params()["page"])
	assert.Equal(t, "search", next.Route())
}

func TestParseEnvelope(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"apiRoute":"agent_run","prompt":"hi","n":1}`))
	require.NoError(t, err)
	assert.Equal(t, "agent_run", env.Route())
	assert.Equal(t, map[string]interface{}{"prompt": "hi", "n": json.Number("1")}, env.Params())

	_, err = ParseEnvelope([]byte(`{"prompt":"hi"}`))
	assert.ErrorIs(t, err, ErrEmptyRoute)

	_, err = ParseEnvelope([]byte(`{"apiRoute":7}`))
	assert.ErrorIs(t, err, ErrEmptyRoute)

	_, err = ParseEnvelope([]byte(`[1,2]`))
	assert.Error(t, err)

	_, err = ParseEnvelope([]byte(`{not json`))
	assert.Error(t, err)
}

func TestParseEnvelope_KeepsLargeIntegers(t *testing.T) {
	wire := `{"apiRoute":"record","id":9007199254740993,"ratio":0.1}`

	env, err := ParseEnvelope([]byte(wire))
	require.NoError(t, err)
	assert.Equal(t, json.Number("9007199254740993"), env.Params()["id"])

	data, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, wire, string(data))
	assert.Contains(t, string(data), "9007199254740993")

	next, err := env.With("page", 2)
	require.NoError(t, err)
	assert.Contains(t, next.Key(), "9007199254740993")
}
