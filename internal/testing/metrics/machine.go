package metrics

import "time"

// Operation names a machine lifecycle step.
type Operation string

const (
	// OperationBoot is the cold boot of the base machine.
	OperationBoot Operation = "boot"
	// OperationSnapshot saves the booted base machine.
	OperationSnapshot Operation = "snapshot"
	// OperationRestore starts a worker machine from the snapshot.
	OperationRestore Operation = "restore"
)

// MachineMetric captures one machine lifecycle step
type MachineMetric struct {
	Machine   string
	Operation Operation
	Duration  time.Duration
	Success   bool
	Timestamp time.Time
}
