package port

import "time"

const (
	RESULT_OK           = "ok"
	RESULT_TIMEOUT      = "timeout"
	RESULT_IO_ERROR     = "io_error"
	RESULT_DECODE_ERROR = "decode_error"
	RESULT_INVALID      = "invalid_parameter"
	RESULT_SKIPPED      = "skipped"
	RESULT_BUSY         = "busy"
)

type ControllerMetrics interface {
	ObservePoll(result string, duration time.Duration)
	ObserveCommand(command string, result string)
}

type NoopMetrics struct{}

func (NoopMetrics) ObservePoll(string, time.Duration) {}

func (NoopMetrics) ObserveCommand(string, string) {}

var _ ControllerMetrics = NoopMetrics{}
