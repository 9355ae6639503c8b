package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewApprovalID returns an identifier of the form APPR-XXXXXXXX.
func NewApprovalID() string {
	return "APPR-" + shortHex()
}

// NewIncidentID returns an identifier of the form INC-XXXXXXXX.
func NewIncidentID() string {
	return "INC-" + shortHex()
}

// NewExecutionID returns an identifier of the form EXEC-<unix-nanos>.
func NewExecutionID(now time.Time) string {
	return fmt.Sprintf("EXEC-%d", now.UnixNano())
}

// NewEscalationID returns an identifier of the form ESC-<unix>.
func NewEscalationID(now time.Time) string {
	return fmt.Sprintf("ESC-%d", now.Unix())
}

func shortHex() string {
	id := uuid.New()
	return strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8])
}
