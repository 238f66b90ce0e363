package translation

import "slices"

// State 会话状态
type State int

const (
	StateIdle State = iota
	StateRunning
	StateKeywordSpotting
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StateKeywordSpotting:
		return "KeywordSpotting"
	case StateDisposed:
		return "Disposed"
	default:
		return "Unknown"
	}
}

// PipelineState 识别管线状态
type PipelineState int

const (
	PipelineCreated PipelineState = iota
	PipelineStarted
	PipelineListening
	PipelineProcessing
	PipelineStopped
)

func (s PipelineState) String() string {
	switch s {
	case PipelineCreated:
		return "Created"
	case PipelineStarted:
		return "Started"
	case PipelineListening:
		return "Listening"
	case PipelineProcessing:
		return "Processing"
	case PipelineStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

var sessionTransitions = map[State][]State{
	StateIdle:            {StateRunning, StateKeywordSpotting, StateDisposed},
	StateRunning:         {StateIdle, StateDisposed},
	StateKeywordSpotting: {StateIdle, StateDisposed},
}

var pipelineTransitions = map[PipelineState][]PipelineState{
	PipelineCreated:    {PipelineStarted, PipelineStopped},
	PipelineStarted:    {PipelineListening, PipelineStopped},
	PipelineListening:  {PipelineProcessing, PipelineStopped},
	PipelineProcessing: {PipelineListening, PipelineStopped},
	PipelineStopped:    {PipelineStarted},
}

// StateMachine 基于转换表的状态机，不加锁，由持有者负责同步
type StateMachine[S comparable] struct {
	currentState S
	transitions  map[S][]S
}

func NewStateMachine[S comparable](initial S, transitions map[S][]S) *StateMachine[S] {
	return &StateMachine[S]{
		currentState: initial,
		transitions:  transitions,
	}
}

// CanTransition 检查是否可以转换
func (sm *StateMachine[S]) CanTransition(to S) bool {
	validTo, ok := sm.transitions[sm.currentState]
	if !ok {
		return false
	}
	return slices.Contains(validTo, to)
}

// Transition 状态转换
func (sm *StateMachine[S]) Transition(to S) bool {
	if sm.CanTransition(to) {
		sm.currentState = to
		return true
	}
	return false
}

// GetCurrentState 获取当前状态
func (sm *StateMachine[S]) GetCurrentState() S {
	return sm.currentState
}
