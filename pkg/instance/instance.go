package instance

import "os"

// GetID returns the process instance identifier used in worker log context.
// STOREFRONT_INSTANCE_ID wins over the generic WORKER_ID.
func GetID() string {
	if id := os.Getenv("STOREFRONT_INSTANCE_ID"); id != "" {
		return id
	}
	if id := os.Getenv("WORKER_ID"); id != "" {
		return id
	}
	return "worker-0"
}
