package deploy

// Stage is a state of a deployment run.
type Stage string

const (
	StageInit         Stage = "init"
	StageCompiled     Stage = "compiled"
	StageFactoryReady Stage = "factory_ready"
	StageSubmitted    Stage = "submitted"
	StageConfirmed    Stage = "confirmed"
	StageFailed       Stage = "failed"
)

// String returns the string representation of the stage.
func (s Stage) String() string {
	return string(s)
}

// StageOrder defines the order of stages of a successful run.
var StageOrder = []Stage{
	StageInit,
	StageCompiled,
	StageFactoryReady,
	StageSubmitted,
	StageConfirmed,
}

// StageIndex returns the index of a stage in the run order.
// Returns -1 if stage not found.
func StageIndex(stage Stage) int {
	for i, s := range StageOrder {
		if s == stage {
			return i
		}
	}
	return -1
}

// IsTerminal reports whether no transition leaves the stage.
func (s Stage) IsTerminal() bool {
	return s == StageConfirmed || s == StageFailed
}

// TransitionFunc is called after every stage transition.
type TransitionFunc func(from, to Stage)
