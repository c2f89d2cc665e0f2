package domain

import (
	"encoding/json"
	"fmt"
)

// VerificationStatus is the bank-transfer proof review sub-state. The zero
// value means no proof has been submitted and serializes as null.
type VerificationStatus string

const (
	VerificationNone     VerificationStatus = ""
	VerificationPending  VerificationStatus = "pending"
	VerificationApproved VerificationStatus = "approved"
	VerificationRejected VerificationStatus = "rejected"
)

func (v VerificationStatus) MarshalJSON() ([]byte, error) {
	if v == VerificationNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(v))
}

func (v *VerificationStatus) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = VerificationNone
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch VerificationStatus(s) {
	case VerificationNone, VerificationPending, VerificationApproved, VerificationRejected:
		*v = VerificationStatus(s)
		return nil
	}
	return fmt.Errorf("unknown verification status %q", s)
}
