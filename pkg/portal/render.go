package portal

// Phase is the one thing a view should render for a State
type Phase int

const (
	PhaseLoading Phase = iota
	PhaseError
	PhaseData
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseError:
		return "error"
	case PhaseData:
		return "data"
	default:
		return "unknown"
	}
}

// Phase picks exactly one of loading, error and data. Loading wins so a
// view never shows the previous payload's data for a new one; an error
// wins over older data; with neither, the view is still waiting.
func (s State[T]) Phase() Phase {
	switch {
	case s.Loading:
		return PhaseLoading
	case s.Err != "":
		return PhaseError
	case s.HasResponse:
		return PhaseData
	default:
		return PhaseLoading
	}
}

// Renderer is implemented by anything that displays a dispatcher's state
type Renderer[T any] interface {
	Loading()
	Error(message string)
	Data(value T)
}

// RenderFuncs adapts plain functions to Renderer. Nil funcs are skipped.
type RenderFuncs[T any] struct {
	OnLoading func()
	OnError   func(message string)
	OnData    func(value T)
}

// Loading implements Renderer
func (r RenderFuncs[T]) Loading() {
	if r.OnLoading != nil {
		r.OnLoading()
	}
}

// Error implements Renderer
func (r RenderFuncs[T]) Error(message string) {
	if r.OnError != nil {
		r.OnError(message)
	}
}

// Data implements Renderer
func (r RenderFuncs[T]) Data(value T) {
	if r.OnData != nil {
		r.OnData(value)
	}
}

// Render calls exactly one Renderer method for s and returns which
func Render[T any](s State[T], r Renderer[T]) Phase {
	phase := s.Phase()
	switch phase {
	case PhaseError:
		r.Error(s.Err)
	case PhaseData:
		r.Data(s.Response)
	default:
		r.Loading()
	}
	return phase
}
