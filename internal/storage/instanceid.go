package storage

import (
	"os"
	"strconv"
	"sync"

	"github.com/google/uuid"
)

var (
	instanceOnce sync.Once
	instanceID   string
)

// InstanceID identifies the running qget process in the journal. It is
// computed once per process as hostname-pid-random.
func InstanceID() string {
	instanceOnce.Do(func() {
		instanceID = GenerateInstanceID()
	})

	return instanceID
}

// GenerateInstanceID returns a new hostname-pid-random identifier.
func GenerateInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}

	return host + "-" + strconv.Itoa(os.Getpid()) + "-" + uuid.NewString()[:8]
}
