package domain

import "fmt"

const (
	WorkflowRecordPrefix            = "workflow:record:"
	WorkflowStepPrefix              = "workflow:step:"
	WorkflowCompensationPrefix      = "workflow:compensation:"
	WorkflowCompensationIndexPrefix = "workflow:compensation-index:"
	WorkflowCounterPrefix           = "workflow:counter:"
	WorkflowActivePrefix            = "workflow:active:"
)

func WorkflowRecordKey(id string) string {
	return WorkflowRecordPrefix + id
}

// WorkflowStepKey is keyed by step name so repeated checkpoints overwrite.
func WorkflowStepKey(id, step string) string {
	return fmt.Sprintf("%s%s:%s", WorkflowStepPrefix, id, step)
}

func WorkflowStepsPrefix(id string) string {
	return fmt.Sprintf("%s%s:", WorkflowStepPrefix, id)
}

// WorkflowCompensationKey zero-pads the sequence so byte order equals log order.
func WorkflowCompensationKey(id string, seq int64) string {
	return fmt.Sprintf("%s%s:%020d", WorkflowCompensationPrefix, id, seq)
}

func WorkflowCompensationsPrefix(id string) string {
	return fmt.Sprintf("%s%s:", WorkflowCompensationPrefix, id)
}

func WorkflowCompensationIndexKey(id, recordID string) string {
	return fmt.Sprintf("%s%s:%s", WorkflowCompensationIndexPrefix, id, recordID)
}

func WorkflowCounterKey(id, name string) string {
	return fmt.Sprintf("%s%s:%s", WorkflowCounterPrefix, id, name)
}

func WorkflowActiveKey(id string) string {
	return WorkflowActivePrefix + id
}
