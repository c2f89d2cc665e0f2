package httpapi

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/nazeru/medstore-orders-go/internal/auth"
	"github.com/nazeru/medstore-orders-go/internal/order/domain"
	"github.com/nazeru/medstore-orders-go/internal/order/lifecycle"
	"github.com/nazeru/medstore-orders-go/internal/order/payment"
	"github.com/nazeru/medstore-orders-go/pkg/idempotency"
	"github.com/nazeru/medstore-orders-go/pkg/problem"
)

type checkoutItem struct {
	ProductID         string `json:"productId"`
	Quantity          int    `json:"quantity"`
	ExpectedUnitPrice *int64 `json:"expectedUnitPrice,omitempty"`
}

type checkoutRequest struct {
	Customer      domain.Customer `json:"customer"`
	Items         []checkoutItem  `json:"items"`
	PaymentMethod string          `json:"paymentMethod"`
}

type checkoutResponse struct {
	Status string        `json:"status"`
	Order  *domain.Order `json:"order"`
}

func (s *Server) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		problem.WriteBadRequest(w, r, "invalid json")
		return
	}
	key, err := idempotency.Key(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	method, err := domain.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		writeError(w, r, err)
		return
	}

	in := lifecycle.CheckoutInput{
		Customer:       req.Customer,
		PaymentMethod:  method,
		IdempotencyKey: key,
		Items:          make([]lifecycle.CheckoutItem, 0, len(req.Items)),
	}
	if p, ok := auth.FromContext(r.Context()); ok {
		in.UserID = p.UserID
	}
	for _, it := range req.Items {
		ci := lifecycle.CheckoutItem{ProductID: it.ProductID, Quantity: it.Quantity}
		if it.ExpectedUnitPrice != nil {
			ci.ExpectedUnitPrice = *it.ExpectedUnitPrice
		}
		in.Items = append(in.Items, ci)
	}

	res, err := s.orders.CreateOrder(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res.Replayed {
		writeJSON(w, http.StatusOK, checkoutResponse{Status: "IDEMPOTENT_REPLAY", Order: res.Order})
		return
	}
	writeJSON(w, http.StatusCreated, checkoutResponse{Status: "CREATED", Order: res.Order})
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.visibleOrder(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// visibleOrder loads the order in the path if the caller may see it. Guest
// orders are addressed by id alone; other callers get NotFound.
func (s *Server) visibleOrder(r *http.Request) (*domain.Order, error) {
	id := r.PathValue("id")
	o, err := s.orders.Get(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if o.UserID == "" {
		return o, nil
	}
	p, ok := auth.FromContext(r.Context())
	if ok && (p.Admin || p.UserID == o.UserID) {
		return o, nil
	}
	return nil, domain.NotFoundf("order %s", id)
}

type proofRequest struct {
	TransactionID   string `json:"transactionId"`
	PaymentProofRef string `json:"paymentProofRef"`
}

func (s *Server) submitProof(w http.ResponseWriter, r *http.Request) {
	o, err := s.visibleOrder(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var proof payment.Proof
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		proof, err = s.uploadProof(w, r, o)
		if err != nil {
			var d *problem.Detail
			if errors.As(err, &d) {
				problem.Write(w, r, d)
				return
			}
			writeError(w, r, err)
			return
		}
	} else {
		var req proofRequest
		if err := decodeJSON(w, r, &req); err != nil {
			problem.WriteBadRequest(w, r, "invalid json")
			return
		}
		proof = payment.Proof{TransactionID: req.TransactionID, ProofRef: req.PaymentProofRef}
	}

	updated, err := s.payments.SubmitProof(r.Context(), o.ID, proof)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// uploadProof stores the image part of a multipart submission and returns the
// proof to record.
func (s *Server) uploadProof(w http.ResponseWriter, r *http.Request, o *domain.Order) (payment.Proof, error) {
	if !o.IsBankTransfer() {
		return payment.Proof{}, &domain.OperationError{Op: "submit proof", Reason: "order is not paid by bank transfer"}
	}
	if s.proofs == nil {
		return payment.Proof{}, problem.New(http.StatusUnsupportedMediaType, "proof uploads are not enabled, send paymentProofRef as json")
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxProof+maxJSONBody)
	if err := r.ParseMultipartForm(s.maxProof); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return payment.Proof{}, problem.New(http.StatusRequestEntityTooLarge, fmt.Sprintf("proof exceeds %d bytes", s.maxProof))
		}
		return payment.Proof{}, problem.New(http.StatusBadRequest, "invalid multipart form")
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, _, err := r.FormFile("proof")
	if err != nil {
		return payment.Proof{}, problem.New(http.StatusBadRequest, "proof file is required")
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(io.LimitReader(file, s.maxProof+1))
	if err != nil {
		return payment.Proof{}, err
	}
	if int64(len(data)) > s.maxProof {
		return payment.Proof{}, problem.New(http.StatusRequestEntityTooLarge, fmt.Sprintf("proof exceeds %d bytes", s.maxProof))
	}
	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		return payment.Proof{}, problem.New(http.StatusUnsupportedMediaType, "proof must be an image")
	}

	txID := strings.TrimSpace(r.FormValue("transactionId"))
	if txID == "" {
		return payment.Proof{}, fmt.Errorf("%w: transactionId is required", domain.ErrValidation)
	}
	ref, err := s.proofs.Put(r.Context(), o.ID, contentType, data)
	if err != nil {
		return payment.Proof{}, fmt.Errorf("store proof: %w", err)
	}
	return payment.Proof{TransactionID: txID, ProofRef: ref}, nil
}
