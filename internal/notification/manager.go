package notification

import (
	"sync"
	"sync/atomic"

	"github.com/MochamaB/FormReporting-sub006/internal/errors"
)

// The process-wide service installed by the daemon at startup.
var (
	global atomic.Pointer[Service]
	initMu sync.Mutex
)

// Initialize builds and installs the process-wide service on the first call.
// Later calls ignore config and return the installed service.
func Initialize(config *ServiceConfig) *Service {
	initMu.Lock()
	defer initMu.Unlock()
	if s := global.Load(); s != nil {
		return s
	}
	s := NewService(config)
	global.Store(s)
	return s
}

// GetService returns the installed service or nil.
func GetService() *Service { return global.Load() }

// SetServiceForTesting installs s unless a service is already present.
func SetServiceForTesting(s *Service) error {
	if !global.CompareAndSwap(nil, s) {
		return errors.Newf("notification service already initialized").
			Component(componentNotification).
			Category(errors.CategoryStateTransition).
			Build()
	}
	return nil
}

// ResetForTesting removes the installed service.
func ResetForTesting() {
	initMu.Lock()
	defer initMu.Unlock()
	global.Store(nil)
}
