package scansession

import (
	"fmt"

	"github.com/openctemio/vulncatalog/pkg/domain/shared"
)

// NotFoundError returns a not found error for a scan session.
func NotFoundError(id string) error {
	return shared.NewDomainError("SCAN_NOT_FOUND", fmt.Sprintf("scan session %s not found", id), shared.ErrNotFound)
}
