package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies a run failure. Kinds are string-based for debuggability and
// natural JSON serialization in run results and logs.
type Kind string

const (
	// KindConfiguration indicates the run configuration was incomplete or unsafe.
	KindConfiguration Kind = "CONFIGURATION_ERROR"

	// KindSourceUnavailable indicates the source repository could not be fetched.
	KindSourceUnavailable Kind = "SOURCE_UNAVAILABLE"

	// KindDependencyResolution indicates application dependencies failed to install.
	KindDependencyResolution Kind = "DEPENDENCY_RESOLUTION_ERROR"

	// KindValidation indicates the static source check failed.
	KindValidation Kind = "VALIDATION_ERROR"

	// KindBuild indicates the container image build failed.
	KindBuild Kind = "BUILD_ERROR"

	// KindAuthentication indicates registry credentials could not be obtained.
	KindAuthentication Kind = "AUTHENTICATION_ERROR"

	// KindPush indicates the image upload failed after retries.
	KindPush Kind = "PUSH_ERROR"

	// KindClusterUnreachable indicates cluster access configuration failed.
	KindClusterUnreachable Kind = "CLUSTER_UNREACHABLE"

	// KindApply indicates a declarative resource reconciliation failed.
	KindApply Kind = "APPLY_ERROR"

	// KindRolloutTimeout indicates the workload never reached its desired
	// replica count within the rollout bound.
	KindRolloutTimeout Kind = "ROLLOUT_TIMEOUT"

	// KindRunTimeout indicates the run exceeded its wall-clock budget.
	KindRunTimeout Kind = "RUN_TIMEOUT"

	// KindCancelled indicates an external cancel signal ended the run.
	KindCancelled Kind = "CANCELLED"
)

// StageError records which stage failed, how the failure is classified, and
// the underlying error. Raw tool output, when available, is preserved for
// diagnostics.
type StageError struct {
	Stage  string
	Kind   Kind
	Output string
	Err    error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("stage %s failed: %s", e.Stage, e.Kind)
	}
	return fmt.Sprintf("stage %s failed: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// KindOf extracts the failure kind from an error chain. Errors that do not
// carry a StageError yield the empty kind.
func KindOf(err error) Kind {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Kind
	}
	return ""
}
