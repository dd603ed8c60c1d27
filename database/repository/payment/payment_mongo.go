package paymentRepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nutrify/database"
	"nutrify/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// MongoPaymentRepo implements PaymentRepository using MongoDB.
type MongoPaymentRepo struct {
	bookingColl     *mongo.Collection
	correlationColl *mongo.Collection
}

// NewMongoPaymentRepo creates the repository on the application database and ensures its indexes.
func NewMongoPaymentRepo(logger *zap.Logger) PaymentRepository {
	return NewMongoPaymentRepoWithDB(database.Database(), logger)
}

func NewMongoPaymentRepoWithDB(db *mongo.Database, logger *zap.Logger) PaymentRepository {
	repo := &MongoPaymentRepo{
		bookingColl:     db.Collection("bookings"),
		correlationColl: db.Collection("checkout_correlations"),
	}
	if err := repo.ensureIndexes(); err != nil && logger != nil {
		logger.Error("failed to create payment indexes", zap.Error(err))
	}
	return repo
}

func newContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, timeout)
}

func (r *MongoPaymentRepo) ensureIndexes() error {
	ctx, cancel := newContext(context.Background(), 10*time.Second)
	defer cancel()

	bookingIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "reference", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "payment.status", Value: 1}, {Key: "payment.initiatedAt", Value: 1}}},
	}
	if _, err := r.bookingColl.Indexes().CreateMany(ctx, bookingIndexes); err != nil {
		return fmt.Errorf("failed to create booking indexes: %w", err)
	}

	correlationIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "checkoutRequestId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "bookingReference", Value: 1}, {Key: "createdAt", Value: 1}}},
	}
	if _, err := r.correlationColl.Indexes().CreateMany(ctx, correlationIndexes); err != nil {
		return fmt.Errorf("failed to create correlation indexes: %w", err)
	}
	return nil
}

func (r *MongoPaymentRepo) GetBooking(ctx context.Context, reference string) (*models.Booking, error) {
	ctx, cancel := newContext(ctx, 5*time.Second)
	defer cancel()

	var booking models.Booking
	if err := r.bookingColl.FindOne(ctx, bson.M{"reference": reference}).Decode(&booking); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch booking %s: %w", reference, err)
	}
	return &booking, nil
}

func (r *MongoPaymentRepo) SaveCorrelation(ctx context.Context, corr *models.CheckoutCorrelation) error {
	ctx, cancel := newContext(ctx, 5*time.Second)
	defer cancel()

	if corr.CreatedAt.IsZero() {
		corr.CreatedAt = time.Now().UTC()
	}
	if _, err := r.correlationColl.InsertOne(ctx, corr); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("failed to save correlation %s: %w", corr.CheckoutRequestID, err)
	}
	return nil
}

func (r *MongoPaymentRepo) GetCorrelation(ctx context.Context, checkoutRequestID string) (*models.CheckoutCorrelation, error) {
	ctx, cancel := newContext(ctx, 5*time.Second)
	defer cancel()

	var corr models.CheckoutCorrelation
	err := r.correlationColl.FindOne(ctx, bson.M{"checkoutRequestId": checkoutRequestID}).Decode(&corr)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch correlation %s: %w", checkoutRequestID, err)
	}
	return &corr, nil
}

func (r *MongoPaymentRepo) ListCorrelations(ctx context.Context, reference string) ([]models.CheckoutCorrelation, error) {
	ctx, cancel := newContext(ctx, 5*time.Second)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	cursor, err := r.correlationColl.Find(ctx, bson.M{"bookingReference": reference}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list correlations for %s: %w", reference, err)
	}
	defer cursor.Close(ctx)

	var out []models.CheckoutCorrelation
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode correlations: %w", err)
	}
	return out, nil
}

func (r *MongoPaymentRepo) AppendCallback(ctx context.Context, checkoutRequestID string, rec models.CallbackRecord) error {
	ctx, cancel := newContext(ctx, 5*time.Second)
	defer cancel()

	res, err := r.correlationColl.UpdateOne(ctx,
		bson.M{"checkoutRequestId": checkoutRequestID},
		bson.M{"$push": bson.M{"callbacks": rec}},
	)
	if err != nil {
		return fmt.Errorf("failed to append callback to %s: %w", checkoutRequestID, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// TransitionPayment is a compare-and-swap on the booking's payment sub-document.
func (r *MongoPaymentRepo) TransitionPayment(ctx context.Context, reference string, tr models.PaymentTransition) (bool, error) {
	ctx, cancel := newContext(ctx, 5*time.Second)
	defer cancel()

	filter := transitionFilter(reference, tr)
	if tr.Outcome.UpdatedAt.IsZero() {
		tr.Outcome.UpdatedAt = time.Now().UTC()
	}
	update := bson.M{"$set": bson.M{
		"payment":    tr.Outcome,
		"updated_at": tr.Outcome.UpdatedAt,
	}}

	res, err := r.bookingColl.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to transition payment for %s: %w", reference, err)
	}
	return res.MatchedCount == 1, nil
}

func transitionFilter(reference string, tr models.PaymentTransition) bson.M {
	statuses := make(bson.A, 0, len(tr.From)+1)
	for _, s := range tr.From {
		if s == "" {
			// a booking that never saw a payment has no status field at all
			statuses = append(statuses, nil)
		}
		statuses = append(statuses, string(s))
	}
	filter := bson.M{
		"reference":      reference,
		"payment.status": bson.M{"$in": statuses},
	}
	if tr.ExpectCheckoutID != "" {
		filter["payment.checkoutRequestId"] = tr.ExpectCheckoutID
	}
	return filter
}

func (r *MongoPaymentRepo) FindStaleInitiated(ctx context.Context, before time.Time, limit int64) ([]models.Booking, error) {
	ctx, cancel := newContext(ctx, 10*time.Second)
	defer cancel()

	filter := bson.M{
		"payment.status":      models.PaymentInitiated,
		"payment.initiatedAt": bson.M{"$lt": before},
	}
	opts := options.Find().SetSort(bson.D{{Key: "payment.initiatedAt", Value: 1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cursor, err := r.bookingColl.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale payments: %w", err)
	}
	defer cursor.Close(ctx)

	var bookings []models.Booking
	for cursor.Next(ctx) {
		var b models.Booking
		if err := cursor.Decode(&b); err != nil {
			return nil, fmt.Errorf("error decoding booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return bookings, nil
}
