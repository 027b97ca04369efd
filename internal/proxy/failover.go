package proxy

// isRetryableStatus reports whether an upstream HTTP status drives failover
// to the next provider. Only 429 is recoverable within the loop; every other
// status (including 5xx) is returned to the caller verbatim.
func isRetryableStatus(status int) bool {
	return status == 429
}
