package domain

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

type OrderID = string
type ProductID = string

type PaymentMethod string

const (
	PaymentBankTransfer   PaymentMethod = "bank_transfer"
	PaymentCashOnDelivery PaymentMethod = "cod"
)

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bank_transfer", "bank-transfer", "bank":
		return PaymentBankTransfer, nil
	case "cod", "cash_on_delivery", "cash-on-delivery":
		return PaymentCashOnDelivery, nil
	}
	return "", fmt.Errorf("%w: unknown payment method %q", ErrValidation, s)
}

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Customer is copied into the order at creation time.
type Customer struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	City    string `json:"city"`
}

func (c Customer) Validate() error {
	missing := []string{}
	for field, v := range map[string]string{
		"name": c.Name, "email": c.Email, "phone": c.Phone, "address": c.Address, "city": c.City,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: customer %s required", ErrValidation, strings.Join(missing, ", "))
	}
	if !strings.Contains(c.Email, "@") {
		return fmt.Errorf("%w: customer email is invalid", ErrValidation)
	}
	return nil
}

type LineItem struct {
	ProductID ProductID `json:"productRef"`
	Name      string    `json:"name,omitempty"`
	Quantity  int       `json:"quantity"`
	UnitPrice int64     `json:"unitPriceAtOrderTime"` // minor units
}

func (li LineItem) Subtotal() int64 {
	return int64(li.Quantity) * li.UnitPrice
}

// MaxLineQuantity bounds the quantity of one product in an order. Stock
// counters are 32-bit.
const MaxLineQuantity = math.MaxInt32

// CheckQuantity rejects quantities outside (0, MaxLineQuantity].
func CheckQuantity(id ProductID, qty int) error {
	if qty <= 0 || qty > MaxLineQuantity {
		return fmt.Errorf("%w: quantity of %s must be between 1 and %d", ErrValidation, id, MaxLineQuantity)
	}
	return nil
}

// CheckedTotal is SumLineItems with overflow detection.
func CheckedTotal(items []LineItem) (int64, error) {
	var total int64
	for _, it := range items {
		if err := CheckQuantity(it.ProductID, it.Quantity); err != nil {
			return 0, err
		}
		if it.UnitPrice < 0 || it.UnitPrice > math.MaxInt64/int64(it.Quantity) {
			return 0, fmt.Errorf("%w: subtotal of %s is out of range", ErrValidation, it.ProductID)
		}
		sub := it.Subtotal()
		if total > math.MaxInt64-sub {
			return 0, fmt.Errorf("%w: order total is out of range", ErrValidation)
		}
		total += sub
	}
	return total, nil
}

// SumLineItems adds up line subtotals. Checkout derives totals through
// CheckedTotal.
func SumLineItems(items []LineItem) int64 {
	var total int64
	for _, it := range items {
		total += it.Subtotal()
	}
	return total
}

// Order is the aggregate persisted as one document.
type Order struct {
	ID          OrderID    `json:"id"`
	OrderNumber int64      `json:"orderNumber"`
	UserID      string     `json:"userRef,omitempty"`
	Customer    Customer   `json:"customer"`
	Items       []LineItem `json:"items"`
	TotalAmount int64      `json:"totalAmount"` // minor units

	PaymentMethod PaymentMethod `json:"paymentMethod"`
	OrderStatus   Status        `json:"orderStatus"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`

	// bank transfer only
	TransactionID      string             `json:"transactionId,omitempty"`
	PaymentProofRef    string             `json:"paymentProofRef,omitempty"`
	VerificationStatus VerificationStatus `json:"verificationStatus"`
	RejectionReason    string             `json:"rejectionReason,omitempty"`
	VerifiedAt         *time.Time         `json:"verifiedAt,omitempty"`
	VerifiedBy         string             `json:"verifiedByRef,omitempty"`
	PaidAt             *time.Time         `json:"paidAt,omitempty"`

	StockReduced bool       `json:"stockReduced"`
	IsDelivered  bool       `json:"isDelivered"`
	DeliveredAt  *time.Time `json:"deliveredAt,omitempty"`

	Version   int64     `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	cp := *o
	cp.Items = append([]LineItem(nil), o.Items...)
	cp.VerifiedAt = cloneTime(o.VerifiedAt)
	cp.PaidAt = cloneTime(o.PaidAt)
	cp.DeliveredAt = cloneTime(o.DeliveredAt)
	return &cp
}

func (o *Order) IsBankTransfer() bool {
	return o.PaymentMethod == PaymentBankTransfer
}

// Expirable reports whether o is an unpaid bank-transfer order created before
// cutoff with no proof awaiting review.
func (o *Order) Expirable(cutoff time.Time) bool {
	if !o.IsBankTransfer() || o.VerificationStatus == VerificationPending {
		return false
	}
	switch o.OrderStatus {
	case StatusPending, StatusCreated, StatusPaymentPending:
		return o.CreatedAt.Before(cutoff)
	}
	return false
}

// CheckTotal reports whether totalAmount still equals the line-item sum.
func (o *Order) CheckTotal() error {
	if sum := SumLineItems(o.Items); sum != o.TotalAmount {
		return fmt.Errorf("order %s: total %d does not match line items %d", o.ID, o.TotalAmount, sum)
	}
	return nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
