package vulnerability

import (
	"fmt"

	"github.com/openctemio/vulncatalog/pkg/domain/shared"
)

// ErrAlreadyExists is returned by stores when a unique constraint (fingerprint
// or instance key) rejects an insert.
var ErrAlreadyExists = fmt.Errorf("vulnerability: %w", shared.ErrAlreadyExists)

// UnifiedAlreadyExistsError returns an error for a duplicate fingerprint.
func UnifiedAlreadyExistsError(fingerprint string) error {
	return shared.NewDomainError("UNIFIED_EXISTS", fmt.Sprintf("fingerprint %s already exists", fingerprint), ErrAlreadyExists)
}

// InstanceAlreadyExistsError returns an error for a duplicate instance key.
func InstanceAlreadyExistsError(key string) error {
	return shared.NewDomainError("INSTANCE_EXISTS", fmt.Sprintf("instance %s already exists", key), ErrAlreadyExists)
}

// UnifiedNotFoundError returns a not found error for a unified vulnerability.
func UnifiedNotFoundError(id shared.ID) error {
	return shared.NewDomainError("UNIFIED_NOT_FOUND", fmt.Sprintf("unified vulnerability %s not found", id), shared.ErrNotFound)
}
