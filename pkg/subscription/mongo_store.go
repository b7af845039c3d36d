package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Collection names used by MongoStore.
const (
	CollectionSubscriptions = "subscriptions"
	CollectionPayments      = "payments"
	CollectionPlans         = "plans"
	CollectionWorkspaces    = "workspaces"
	CollectionUsers         = "users"
)

// MongoStore is a Repository backed by MongoDB.
// Update is a compare-and-swap on the version field, and the payment
// collection carries unique indexes on event_id and (provider, external_reference)
// so duplicate gateway deliveries cannot produce a second payment.
type MongoStore struct {
	subs       *mongo.Collection
	payments   *mongo.Collection
	plans      *mongo.Collection
	workspaces *mongo.Collection
	users      *mongo.Collection
}

var _ Repository = (*MongoStore)(nil)

// NewMongoStore creates a store on top of db. Call EnsureIndexes once at startup.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		subs:       db.Collection(CollectionSubscriptions),
		payments:   db.Collection(CollectionPayments),
		plans:      db.Collection(CollectionPlans),
		workspaces: db.Collection(CollectionWorkspaces),
		users:      db.Collection(CollectionUsers),
	}
}

// EnsureIndexes creates the indexes the store relies on for lookups and deduplication.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	nonEmpty := func(field string) bson.D {
		return bson.D{{Key: field, Value: bson.D{{Key: "$type", Value: "string"}, {Key: "$gt", Value: ""}}}}
	}

	if _, err := s.subs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "gateway_subscription_id", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(nonEmpty("gateway_subscription_id")),
		},
		{Keys: bson.D{{Key: "workspace_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("create subscription indexes: %w", err)
	}

	if _, err := s.payments.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "event_id", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(nonEmpty("event_id")),
		},
		{
			Keys: bson.D{
				{Key: "provider", Value: 1},
				{Key: "external_reference", Value: 1},
				{Key: "status", Value: 1},
			},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(nonEmpty("external_reference")),
		},
		{Keys: bson.D{{Key: "subscription_id", Value: 1}, {Key: "created_at", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("create payment indexes: %w", err)
	}

	return nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (*Subscription, error) {
	return s.findOne(ctx, bson.D{{Key: "_id", Value: id}})
}

func (s *MongoStore) FindByGatewayID(ctx context.Context, gatewaySubscriptionID string) (*Subscription, error) {
	if gatewaySubscriptionID == "" {
		return nil, ErrSubscriptionNotFound
	}
	return s.findOne(ctx, bson.D{{Key: "gateway_subscription_id", Value: gatewaySubscriptionID}})
}

func (s *MongoStore) FindByOwner(ctx context.Context, owner Owner, statuses ...Status) (*Subscription, error) {
	if owner.IsZero() {
		return nil, ErrSubscriptionNotFound
	}

	field := "workspace_id"
	if owner.IsLegacy() {
		field = "user_id"
	}
	filter := bson.D{{Key: field, Value: owner.ID()}}
	if len(statuses) > 0 {
		filter = append(filter, bson.E{Key: "status", Value: bson.D{{Key: "$in", Value: statuses}}})
	}

	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	return s.findOne(ctx, filter, opts)
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.D, opts ...options.Lister[options.FindOneOptions]) (*Subscription, error) {
	var doc subscriptionDoc
	if err := s.subs.FindOne(ctx, filter, opts...).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("find subscription: %w", err)
	}
	return doc.model(), nil
}

func (s *MongoStore) Create(ctx context.Context, sub *Subscription) error {
	sub.Version = 1
	if _, err := s.subs.InsertOne(ctx, newSubscriptionDoc(sub)); err != nil {
		sub.Version = 0
		if mongo.IsDuplicateKeyError(err) {
			return ErrSubscriptionAlreadyExists
		}
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func (s *MongoStore) Update(ctx context.Context, sub *Subscription) error {
	doc := newSubscriptionDoc(sub)
	doc.Version = sub.Version + 1

	res, err := s.subs.ReplaceOne(ctx, bson.D{
		{Key: "_id", Value: sub.ID},
		{Key: "version", Value: sub.Version},
	}, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrSubscriptionAlreadyExists
		}
		return fmt.Errorf("replace subscription: %w", err)
	}

	if res.MatchedCount == 0 {
		n, err := s.subs.CountDocuments(ctx, bson.D{{Key: "_id", Value: sub.ID}})
		if err != nil {
			return fmt.Errorf("count subscription: %w", err)
		}
		if n == 0 {
			return ErrSubscriptionNotFound
		}
		return ErrVersionConflict
	}

	sub.Version = doc.Version
	return nil
}

func (s *MongoStore) InsertPayment(ctx context.Context, p *Payment) error {
	if _, err := s.payments.InsertOne(ctx, p); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicatePayment
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (s *MongoStore) ListPayments(ctx context.Context, subscriptionID string) ([]Payment, error) {
	cur, err := s.payments.Find(ctx,
		bson.D{{Key: "subscription_id", Value: subscriptionID}},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("find payments: %w", err)
	}

	out := make([]Payment, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode payments: %w", err)
	}
	return out, nil
}

func (s *MongoStore) GetPlan(ctx context.Context, id string) (*Plan, error) {
	var p Plan
	if err := s.plans.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&p); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("find plan: %w", err)
	}
	return &p, nil
}

func (s *MongoStore) ListPlans(ctx context.Context) ([]Plan, error) {
	cur, err := s.plans.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find plans: %w", err)
	}

	out := make([]Plan, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode plans: %w", err)
	}
	return out, nil
}

func (s *MongoStore) SavePlan(ctx context.Context, plan *Plan) error {
	if plan.ID == "" {
		return ErrInvalidPlanConfiguration
	}
	_, err := s.plans.ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: plan.ID}},
		plan,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save plan: %w", err)
	}
	return nil
}

func (s *MongoStore) GetWorkspace(ctx context.Context, id string) (*Workspace, error) {
	var ws Workspace
	if err := s.workspaces.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&ws); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrWorkspaceNotFound
		}
		return nil, fmt.Errorf("find workspace: %w", err)
	}
	return &ws, nil
}

func (s *MongoStore) SaveWorkspace(ctx context.Context, ws *Workspace) error {
	_, err := s.workspaces.ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: ws.ID}},
		ws,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save workspace: %w", err)
	}
	return nil
}

func (s *MongoStore) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	if err := s.users.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &u, nil
}

func (s *MongoStore) SaveUser(ctx context.Context, u *User) error {
	_, err := s.users.ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: u.ID}},
		u,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

// subscriptionDoc is the persisted shape of a Subscription.
// Append-only logs are stored as plain arrays and rebuilt through NewLog.
type subscriptionDoc struct {
	ID          string `bson:"_id"`
	WorkspaceID string `bson:"workspace_id,omitempty"`
	UserID      string `bson:"user_id,omitempty"`
	PlanID      string `bson:"plan_id"`
	Tier        Tier   `bson:"tier"`
	Status      Status `bson:"status"`

	Provider              string `bson:"provider,omitempty"`
	GatewaySubscriptionID string `bson:"gateway_subscription_id,omitempty"`
	BillingEmail          string `bson:"billing_email,omitempty"`

	StartDate      time.Time       `bson:"start_date"`
	EndDate        time.Time       `bson:"end_date"`
	TrialEndDate   *time.Time      `bson:"trial_end_date,omitempty"`
	GracePeriodEnd *time.Time      `bson:"grace_period_end,omitempty"`
	CancelledAt    *time.Time      `bson:"cancelled_at,omitempty"`
	AutoRenew      bool            `bson:"auto_renew"`
	Interval       BillingInterval `bson:"billing_interval"`

	PriceAtPurchase Money    `bson:"price_at_purchase"`
	Features        []string `bson:"features"`
	CustomFeatures  []string `bson:"custom_features"`
	Limits          Limits   `bson:"limits"`

	PaymentHistory  []PaymentRef     `bson:"payment_history"`
	WebhookEvents   []WebhookEvent   `bson:"webhook_events"`
	RenewalAttempts []RenewalAttempt `bson:"renewal_attempts"`
	PausedStatus    *PauseSnapshot   `bson:"paused_status,omitempty"`
	PlanChanges     []PlanChange     `bson:"plan_changes"`
	Credits         []Credit         `bson:"credits"`
	TotalCredits    int64            `bson:"total_credits"`

	Version   int64     `bson:"version"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func newSubscriptionDoc(s *Subscription) subscriptionDoc {
	return subscriptionDoc{
		ID:                    s.ID,
		WorkspaceID:           s.WorkspaceID,
		UserID:                s.UserID,
		PlanID:                s.PlanID,
		Tier:                  s.Tier,
		Status:                s.Status,
		Provider:              s.Provider,
		GatewaySubscriptionID: s.GatewaySubscriptionID,
		BillingEmail:          s.BillingEmail,
		StartDate:             s.StartDate,
		EndDate:               s.EndDate,
		TrialEndDate:          s.TrialEndDate,
		GracePeriodEnd:        s.GracePeriodEnd,
		CancelledAt:           s.CancelledAt,
		AutoRenew:             s.AutoRenew,
		Interval:              s.Interval,
		PriceAtPurchase:       s.PriceAtPurchase,
		Features:              s.Features,
		CustomFeatures:        s.CustomFeatures,
		Limits:                s.Limits,
		PaymentHistory:        s.PaymentHistory,
		WebhookEvents:         s.WebhookEvents.All(),
		RenewalAttempts:       s.RenewalAttempts.All(),
		PausedStatus:          s.PausedStatus,
		PlanChanges:           s.PlanChanges.All(),
		Credits:               s.Credits.All(),
		TotalCredits:          s.TotalCredits,
		Version:               s.Version,
		CreatedAt:             s.CreatedAt,
		UpdatedAt:             s.UpdatedAt,
	}
}

func (d subscriptionDoc) model() *Subscription {
	return &Subscription{
		ID:                    d.ID,
		WorkspaceID:           d.WorkspaceID,
		UserID:                d.UserID,
		PlanID:                d.PlanID,
		Tier:                  d.Tier,
		Status:                d.Status,
		Provider:              d.Provider,
		GatewaySubscriptionID: d.GatewaySubscriptionID,
		BillingEmail:          d.BillingEmail,
		StartDate:             d.StartDate,
		EndDate:               d.EndDate,
		TrialEndDate:          d.TrialEndDate,
		GracePeriodEnd:        d.GracePeriodEnd,
		CancelledAt:           d.CancelledAt,
		AutoRenew:             d.AutoRenew,
		Interval:              d.Interval,
		PriceAtPurchase:       d.PriceAtPurchase,
		Features:              FeatureSet(d.Features),
		CustomFeatures:        FeatureSet(d.CustomFeatures),
		Limits:                d.Limits,
		PaymentHistory:        d.PaymentHistory,
		WebhookEvents:         NewLog(d.WebhookEvents...),
		RenewalAttempts:       NewLog(d.RenewalAttempts...),
		PausedStatus:          d.PausedStatus,
		PlanChanges:           NewLog(d.PlanChanges...),
		Credits:               NewLog(d.Credits...),
		TotalCredits:          d.TotalCredits,
		Version:               d.Version,
		CreatedAt:             d.CreatedAt,
		UpdatedAt:             d.UpdatedAt,
	}
}
