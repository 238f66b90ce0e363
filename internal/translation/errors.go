package translation

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning 会话已有识别在运行
	ErrAlreadyRunning = errors.New("translation: recognition already running")
	// ErrNotRunning 没有可停止的识别
	ErrNotRunning = errors.New("translation: recognition not running")
	// ErrCommandPending 另一个命令尚未完成
	ErrCommandPending = errors.New("translation: another command is outstanding")
	// ErrDisposed 会话已释放
	ErrDisposed = errors.New("translation: session already disposed")
)

// ConfigurationError 配置非法，会话不会被创建
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// InvalidStateError 命令与当前状态冲突，会话仍可继续使用
type InvalidStateError struct {
	Op    string
	State State
	Err   error
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s: invalid in state %s: %v", e.Op, e.State, e.Err)
}

func (e *InvalidStateError) Unwrap() error {
	return e.Err
}

// EngineError 引擎在识别、翻译或合成中失败，通过 Error 事件异步投递
type EngineError struct {
	SessionID string
	Code      string
	Detail    string
	Err       error
}

func (e *EngineError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("session %s: engine failure: %s", e.SessionID, e.Detail)
	}
	return fmt.Sprintf("session %s: engine failure %s: %s", e.SessionID, e.Code, e.Detail)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// ObserverError 观察者回调 panic，只记录不传播
type ObserverError struct {
	EventType EventType
	Recovered interface{}
}

func (e *ObserverError) Error() string {
	return fmt.Sprintf("observer for %s failed: %v", e.EventType, e.Recovered)
}
