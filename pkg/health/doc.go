/*
Package health provides small, composable reachability checkers used
two ways: the sync server exposes an HTTP /ready endpoint backed by a
Checker, and a syncclient.WSStrategy can run an optional pre-flight
HTTPChecker against the server's REST health endpoint before
attempting the WebSocket upgrade, so a dead server shows up as
"disconnected" immediately rather than after a handshake timeout.

# Checkers

Checker is a small interface:

	type Checker interface {
		Check(ctx context.Context) Result
		Type() CheckType
	}

Two implementations are provided:

  - HTTPChecker issues a GET (or configured method) against a URL and
    considers the target healthy if the response status falls within
    a configurable range (default 200-399).
  - TCPChecker dials a TCP address and considers the target healthy if
    the connection succeeds.

# Usage

	checker := health.NewHTTPChecker("http://127.0.0.1:7420/api/health").
		WithTimeout(2 * time.Second)

	result := checker.Check(ctx)
	if !result.Healthy {
		log.Warn("sync server unreachable: " + result.Message)
	}

# Status tracking

Status accumulates consecutive successes/failures across repeated
checks and flips Healthy only after Config.Retries consecutive
failures, avoiding flapping on a single dropped probe:

	status := health.NewStatus()
	cfg := health.DefaultConfig()

	for {
		result := checker.Check(ctx)
		status.Update(result, cfg)
		time.Sleep(cfg.Interval)
	}
*/
package health
