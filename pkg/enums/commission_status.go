package enums

import "fmt"

// CommissionStatus tracks the settlement state of a commission row.
type CommissionStatus string

const (
	CommissionStatusPending  CommissionStatus = "pending"
	CommissionStatusCleared  CommissionStatus = "cleared"
	CommissionStatusPaidOut  CommissionStatus = "paid_out"
	CommissionStatusDisputed CommissionStatus = "disputed"
)

var validCommissionStatuses = []CommissionStatus{
	CommissionStatusPending,
	CommissionStatusCleared,
	CommissionStatusPaidOut,
	CommissionStatusDisputed,
}

// IsValid reports whether the value is a known CommissionStatus.
func (s CommissionStatus) IsValid() bool {
	for _, candidate := range validCommissionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further engine transition applies.
func (s CommissionStatus) IsTerminal() bool {
	return s == CommissionStatusPaidOut || s == CommissionStatusDisputed
}

// ParseCommissionStatus converts raw input into a CommissionStatus.
func ParseCommissionStatus(value string) (CommissionStatus, error) {
	for _, candidate := range validCommissionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid commission status %q", value)
}
