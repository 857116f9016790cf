package ports

type Metrics interface {
	OperationTransitioned(opType, status string)
	MonitorPolled(outcome string)
	MonitorsActive(delta int)
	SettlementCompleted(outcome string)
}
