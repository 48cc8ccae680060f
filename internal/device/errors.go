package device

import "errors"

var (
	errInvalidQueues          = errors.New("device: rx_queues must be >= 1")
	errInvalidDescriptors     = errors.New("device: descriptor depth must be >= 1")
	errFlowControlNeedsNoDrop = errors.New("device: flow control requires rx_drop_en=0")
)
