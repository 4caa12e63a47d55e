package reportstore

import (
	"fmt"
	"strings"

	"github.com/macrolens/mealreport/internal/domain"
)

// validateID rejects ids that cannot be mapped to a single record key or file name
func validateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return fmt.Errorf("%w: report id %q", domain.ErrInvalidRequest, id)
	}
	return nil
}
