package logger

import (
	"strings"

	"go.uber.org/fx/fxevent"
)

// FxLoggerAdapter forwards fx container events to the levelled logger.
type FxLoggerAdapter struct{}

// NewFxLoggerAdapter creates a new instance of FxLoggerAdapter.
func NewFxLoggerAdapter() fxevent.Logger {
	return &FxLoggerAdapter{}
}

// LogEvent logs events from Fx. Hook and wiring noise stays at DEBUG,
// failures surface at ERROR.
func (l *FxLoggerAdapter) LogEvent(event fxevent.Event) {
	switch e := event.(type) {
	case *fxevent.OnStartExecuted:
		if e.Err != nil {
			Errorf("start hook %s failed: %v", hookName(e.FunctionName), e.Err)
			return
		}
		Debugf("start hook %s done in %s", hookName(e.FunctionName), e.Runtime)
	case *fxevent.OnStopExecuted:
		if e.Err != nil {
			Errorf("stop hook %s failed: %v", hookName(e.FunctionName), e.Err)
			return
		}
		Debugf("stop hook %s done in %s", hookName(e.FunctionName), e.Runtime)
	case *fxevent.Supplied:
		if e.Err != nil {
			Errorf("supply %s failed: %v", e.TypeName, e.Err)
		}
	case *fxevent.Provided:
		if e.Err != nil {
			Errorf("provide %s failed: %v", hookName(e.ConstructorName), e.Err)
			return
		}
		for _, name := range e.OutputTypeNames {
			Debugf("provided %s", name)
		}
	case *fxevent.Invoked:
		if e.Err != nil {
			Errorf("invoke %s failed: %v", hookName(e.FunctionName), e.Err)
		}
	case *fxevent.Stopping:
		Infof("signal %s received, stopping tide worker", e.Signal)
	case *fxevent.Stopped:
		if e.Err != nil {
			Errorf("stop failed: %v", e.Err)
		}
	case *fxevent.RollingBack:
		Errorf("start failed, rolling back: %v", e.StartErr)
	case *fxevent.RolledBack:
		if e.Err != nil {
			Errorf("rollback failed: %v", e.Err)
		}
	case *fxevent.Started:
		if e.Err != nil {
			Errorf("start failed: %v", e.Err)
			return
		}
		Infof("tide worker started.")
	case *fxevent.LoggerInitialized:
		if e.Err != nil {
			Errorf("fx logger initialization failed: %v", e.Err)
		}
	}
}

// hookName trims anonymous function suffixes (".func1") from fx function names.
func hookName(funcName string) string {
	if idx := strings.LastIndex(funcName, ".func"); idx != -1 {
		return funcName[:idx]
	}
	return funcName
}
