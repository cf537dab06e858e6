package payload

import (
	"fmt"
	"math"
	"regexp"
	"time"
)

// WeightTolerance is the maximum absolute difference accepted between the
// declared total weight and the sum of line item weights.
const WeightTolerance = 1e-3

// dateLayout is the layout of batch traceability dates.
const dateLayout = "2006-01-02"

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// ValidationError reports a structural violation of a shipment record. It
// always names the offending field and the constraint that was broken.
type ValidationError struct {
	Field      string
	Constraint string
}

// Error implements the error interface
func (e ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Constraint)
}

// NewValidationError creates a ValidationError for a field and constraint.
func NewValidationError(field, constraint string) ValidationError {
	return ValidationError{Field: field, Constraint: constraint}
}

// IsValidation checks whether an error is a ValidationError.
func IsValidation(err error) bool {
	_, ok := err.(ValidationError)
	return ok
}

// Validate performs full structural validation of a RecordBody. It returns the
// first violation found as a ValidationError, never a generic failure.
func (b *RecordBody) Validate() error {
	if b.TransactionID == "" {
		return NewValidationError("transaction_id", "required")
	}

	if b.Timestamp == "" {
		return NewValidationError("timestamp", "required")
	}
	if _, err := time.Parse(time.RFC3339, b.Timestamp); err != nil {
		return NewValidationError("timestamp", "must be an ISO-8601 timestamp")
	}

	if b.ShipperID == "" {
		return NewValidationError("shipper_erp_id", "required")
	}
	if b.ReceiverID == "" {
		return NewValidationError("receiver_erp_id", "required")
	}

	if len(b.PackingSlip.Items) == 0 {
		return NewValidationError("packing_slip.items", "at least one line item required")
	}

	var weightSum float64
	for i, item := range b.PackingSlip.Items {
		if item.SKU == "" {
			return NewValidationError(fmt.Sprintf("packing_slip.items[%d].sku", i), "required")
		}
		if item.Quantity < 1 {
			return NewValidationError(fmt.Sprintf("packing_slip.items[%d].quantity", i), "must be >= 1")
		}
		if item.Weight < 0 {
			return NewValidationError(fmt.Sprintf("packing_slip.items[%d].weight", i), "must be >= 0")
		}
		weightSum += float64(item.Quantity) * item.Weight
	}

	if math.Abs(b.PackingSlip.TotalWeight-weightSum) > WeightTolerance {
		return NewValidationError("total_weight",
			fmt.Sprintf("mismatch: declared %g, line items sum to %g", b.PackingSlip.TotalWeight, weightSum))
	}

	if b.BOLNumber == "" {
		return NewValidationError("bol_number", "required")
	}

	if b.BatchDetails.BatchID == "" {
		return NewValidationError("batch_details.batch_id", "required")
	}
	manufacture, err := time.Parse(dateLayout, b.BatchDetails.ManufactureDate)
	if err != nil {
		return NewValidationError("batch_details.manufacture_date", "must be a 2006-01-02 date")
	}
	expiry, err := time.Parse(dateLayout, b.BatchDetails.ExpiryDate)
	if err != nil {
		return NewValidationError("batch_details.expiry_date", "must be a 2006-01-02 date")
	}
	if expiry.Before(manufacture) {
		return NewValidationError("batch_details.expiry_date", "must not precede manufacture_date")
	}

	if b.CommercialInvoice.Number == "" {
		return NewValidationError("commercial_invoice.number", "required")
	}
	if b.CommercialInvoice.TotalValue < 0 {
		return NewValidationError("commercial_invoice.total_value", "must be >= 0")
	}
	if !currencyPattern.MatchString(b.CommercialInvoice.Currency) {
		return NewValidationError("commercial_invoice.currency", "must be an ISO-4217 code matching ^[A-Z]{3}$")
	}

	if b.PalletCount < 0 {
		return NewValidationError("pallet_count", "must be >= 0")
	}

	switch b.TransitType {
	case TransitTruck, TransitShip, TransitRail, TransitAir:
	default:
		return NewValidationError("transit_type", "must be one of truck, ship, rail, air")
	}

	return nil
}
