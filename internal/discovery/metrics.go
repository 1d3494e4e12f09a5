package discovery

import "github.com/prometheus/client_golang/prometheus"

var (
	probesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "discovery_probes_sent_total",
		Help: "The total number of LLDP probes injected into the network",
	})

	probeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "discovery_probe_errors_total",
		Help: "The total number of LLDP probes that could not be sent",
	})

	unknownLinks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "discovery_unknown_links_total",
		Help: "The total number of probes received over cables missing from the topology",
	})
)

func init() {
	prometheus.MustRegister(probesSent)
	prometheus.MustRegister(probeErrors)
	prometheus.MustRegister(unknownLinks)
}
