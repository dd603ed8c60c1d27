package payment

import (
	"context"
	"errors"
	"strings"

	paymentRepo "nutrify/database/repository/payment"
	"nutrify/models"
)

func (s *DefaultPaymentService) Status(ctx context.Context, reference string) (*models.PaymentStatusResponse, error) {
	booking, err := s.loadBooking(ctx, reference)
	if err != nil {
		return nil, err
	}
	status := booking.Payment.Status
	if status == "" {
		status = models.PaymentPending
	}
	return &models.PaymentStatusResponse{
		BookingReference: booking.Reference,
		Status:           status,
		FailureReason:    booking.Payment.FailureReason,
		PaidAt:           booking.Payment.PaidAt,
	}, nil
}

func (s *DefaultPaymentService) Details(ctx context.Context, reference string) (*models.PaymentDetails, error) {
	booking, err := s.loadBooking(ctx, reference)
	if err != nil {
		return nil, err
	}
	correlations, err := s.repo.ListCorrelations(ctx, booking.Reference)
	if err != nil {
		return nil, newError(CodeStorage, "could not load checkout attempts", err)
	}
	if correlations == nil {
		correlations = []models.CheckoutCorrelation{}
	}
	return &models.PaymentDetails{
		BookingReference: booking.Reference,
		Payment:          booking.Payment,
		Correlations:     correlations,
	}, nil
}

func (s *DefaultPaymentService) loadBooking(ctx context.Context, reference string) (*models.Booking, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, newError(CodeValidation, "booking reference is required", nil)
	}
	booking, err := s.repo.GetBooking(ctx, reference)
	if err != nil {
		if errors.Is(err, paymentRepo.ErrNotFound) {
			return nil, newError(CodeNotFound, "booking not found", err)
		}
		return nil, newError(CodeStorage, "could not load booking", err)
	}
	return booking, nil
}
