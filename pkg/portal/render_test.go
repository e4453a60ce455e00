package portal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type countingRenderer struct {
	loading, errors, data int
	message               string
	value                 string
}

func (r *countingRenderer) Loading()             { r.loading++ }
func (r *countingRenderer) Error(message string) { r.errors++; r.message = message }
func (r *countingRenderer) Data(value string)    { r.data++; r.value = value }

func TestRender_ExactlyOneBranch(t *testing.T) {
	tests := []struct {
		name  string
		state State[string]
		want  Phase
	}{
		{name: "nothing yet", state: State[string]{}, want: PhaseLoading},
		{name: "first load", state: State[string]{Loading: true}, want: PhaseLoading},
		{name: "data", state: State[string]{Response: "v1", HasResponse: true}, want: PhaseData},
		{name: "error", state: State[string]{Err: "boom"}, want: PhaseError},
		{name: "new payload loading hides stale data", state: State[string]{Loading: true, Response: "v1", HasResponse: true}, want: PhaseLoading},
		{name: "error after data wins", state: State[string]{Err: "boom", Response: "v1", HasResponse: true}, want: PhaseError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &countingRenderer{}
			phase := Render[string](tt.state, r)

			assert.Equal(t, tt.want, phase)
			assert.Equal(t, 1, r.loading+r.errors+r.data)
			switch tt.want {
			case PhaseData:
				assert.Equal(t, tt.state.Response, r.value)
			case PhaseError:
				assert.Equal(t, tt.state.Err, r.message)
			}
		})
	}
}

func TestRenderFuncs_NilFuncsAreSkipped(t *testing.T) {
	called := ""
	r := RenderFuncs[int]{OnData: func(v int) { called = "data" }}

	assert.Equal(t, PhaseLoading, Render[int](State[int]{Loading: true}, r))
	assert.Equal(t, PhaseError, Render[int](State[int]{Err: "x"}, r))
	assert.Empty(t, called)

	assert.Equal(t, PhaseData, Render[int](State[int]{Response: 3, HasResponse: true}, r))
	assert.Equal(t, "data", called)
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "loading", PhaseLoading.String())
	assert.Equal(t, "error", PhaseError.String())
	assert.Equal(t, "data", PhaseData.String())
}
