package retry

import (
	"sort"

	"github.com/ambiyansyah-risyal/clientrt/interceptor"
)

// Classifier inspects the state of an attempt and gives an opinion on
// whether it should be retried. Classifiers must tolerate a context that has
// no response or no result yet and answer NoActionIndicated in that case.
type Classifier interface {
	ClassifyRetry(ctx *interceptor.Context) RetryAction
	Name() string
	Priority() Priority
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc struct {
	name     string
	priority Priority
	fn       func(ctx *interceptor.Context) RetryAction
}

// NewClassifierFunc returns a Classifier named name that calls fn.
func NewClassifierFunc(name string, priority Priority, fn func(ctx *interceptor.Context) RetryAction) ClassifierFunc {
	return ClassifierFunc{name: name, priority: priority, fn: fn}
}

func (c ClassifierFunc) ClassifyRetry(ctx *interceptor.Context) RetryAction { return c.fn(ctx) }
func (c ClassifierFunc) Name() string                                       { return c.name }
func (c ClassifierFunc) Priority() Priority                                 { return c.priority }

// Classifiers is a set of classifiers evaluated together.
type Classifiers []Classifier

// NewClassifiers returns the classifiers sorted highest priority first.
func NewClassifiers(cs ...Classifier) Classifiers {
	out := make(Classifiers, len(cs))
	copy(out, cs)
	out.Sort()
	return out
}

// DefaultClassifiers returns the built-in classifiers.
func DefaultClassifiers() Classifiers {
	return NewClassifiers(
		NewHTTPStatusCodeClassifier(),
		ModeledAsRetryableClassifier{},
		TransientErrorClassifier{},
	)
}

// Sort orders cs highest priority first. Equal priorities keep their
// relative order.
func (cs Classifiers) Sort() {
	sort.SliceStable(cs, func(i, j int) bool {
		return cs[i].Priority().HigherThan(cs[j].Priority())
	})
}

// With returns a new sorted set containing cs and extra.
func (cs Classifiers) With(extra ...Classifier) Classifiers {
	all := make([]Classifier, 0, len(cs)+len(extra))
	all = append(all, cs...)
	all = append(all, extra...)
	return NewClassifiers(all...)
}

// Classify runs every classifier in priority order. A RetryForbidden from
// any classifier wins at once. Otherwise the highest priority classifier
// that indicated a retry wins, and if none did the result is
// NoActionIndicated. cs must already be sorted.
func (cs Classifiers) Classify(ctx *interceptor.Context) RetryAction {
	result := NoActionIndicated
	for _, c := range cs {
		var final bool
		if result, final = merge(result, c.ClassifyRetry(ctx)); final {
			break
		}
	}
	return result
}

// merge folds the next answer, in priority order, into the aggregate so
// far. final reports that no later answer can change the aggregate.
func merge(result, action RetryAction) (merged RetryAction, final bool) {
	if action.IsForbidden() {
		return RetryForbidden, true
	}
	if action.ShouldRetry() && result.IsNoAction() {
		return action, false
	}
	return result, false
}

// Verdict pairs a classifier with its answer, for diagnostics.
type Verdict struct {
	Classifier string
	Action     RetryAction
}

// Explain runs every classifier and returns each answer in priority order
// next to the aggregate.
func (cs Classifiers) Explain(ctx *interceptor.Context) (RetryAction, []Verdict) {
	verdicts := make([]Verdict, 0, len(cs))
	for _, c := range cs {
		verdicts = append(verdicts, Verdict{Classifier: c.Name(), Action: c.ClassifyRetry(ctx)})
	}
	result := NoActionIndicated
	for _, v := range verdicts {
		var final bool
		if result, final = merge(result, v.Action); final {
			break
		}
	}
	return result, verdicts
}
