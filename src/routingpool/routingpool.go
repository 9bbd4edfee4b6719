package routingpool

type RoutingPool interface {
	Start() error
	// Stop blocks until every worker has returned.
	Stop()
}
