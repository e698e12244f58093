package wlantx

/*------------------------------------------------------------------
 *
 * Purpose:   	Announce the metrics endpoint using DNS-SD
 *
 * Description:
 *
 *     A bench full of simulated or real devices each serve /metrics on
 *     some port.  Rather than keep a list of addresses for the scraper,
 *     each one announces itself on the local network.
 *
 *     This uses the pure-Go github.com/brutella/dnssd package, so no
 *     system daemon or C library is needed.
 */

import (
	"context"
	"os"
	"strings"

	"github.com/brutella/dnssd"
	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
)

const DNS_SD_SERVICE = "_prometheus-http._tcp"

// DefaultServiceName is "wlantx on <hostname>", or just "wlantx" if the
// hostname cannot be obtained.
func DefaultServiceName() string {
	var hostname, hostnameErr = os.Hostname()
	if hostnameErr != nil {
		return "wlantx"
	}

	// on some systems, an FQDN is returned; remove domain part
	hostname, _, _ = strings.Cut(hostname, ".")

	return "wlantx on " + hostname
}

// AnnounceMetrics publishes the metrics endpoint on port until ctx ends.
// Setup errors are returned; the responder runs in the background.
func AnnounceMetrics(ctx context.Context, name string, port int, logger *log.Logger) error {
	if name == "" {
		name = DefaultServiceName()
	}
	if logger == nil {
		logger = discardLogger()
	}

	var cfg = dnssd.Config{ //nolint:exhaustruct
		Name: name,
		Type: DNS_SD_SERVICE,
		Port: port,
		Text: map[string]string{"path": "/metrics"},
	}

	var sv, svErr = dnssd.NewService(cfg)
	if svErr != nil {
		return errors.Wrap(svErr, "DNS-SD: create service")
	}

	var rp, rpErr = dnssd.NewResponder()
	if rpErr != nil {
		return errors.Wrap(rpErr, "DNS-SD: create responder")
	}

	var _, addErr = rp.Add(sv)
	if addErr != nil {
		return errors.Wrap(addErr, "DNS-SD: add service")
	}

	logger.Info("DNS-SD: announcing metrics", "port", port, "name", name)

	go func() {
		var respondErr = rp.Respond(ctx)
		if respondErr != nil && ctx.Err() == nil {
			logger.Error("DNS-SD: responder error", "err", respondErr)
		}
	}()

	return nil
}
