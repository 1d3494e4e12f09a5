package router

import "github.com/prometheus/client_golang/prometheus"

var (
	proxyDetours = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "router_proxy_detours_total",
		Help: "The total number of routes detoured through a proxy cell",
	})

	noProxy = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "router_no_proxy_total",
		Help: "The total number of route legs abandoned because no proxy cell was reachable",
	})

	rackFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "router_rack_failures_total",
		Help: "The total number of route legs abandoned because a mini switch link was down",
	})
)

func init() {
	prometheus.MustRegister(proxyDetours)
	prometheus.MustRegister(noProxy)
	prometheus.MustRegister(rackFailures)
}
