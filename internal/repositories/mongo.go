package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/auxilia-ai/auxilia/pkg/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	providersCollection   = "providers"
	credentialsCollection = "user_credentials"
	policiesCollection    = "tool_policies"
	approvalsCollection   = "pending_approvals"
	secretsCollection     = "vault_secrets"
)

type MongoProviderRepository struct {
	collection *mongo.Collection
}

func NewMongoProviderRepository(db *mongo.Database) *MongoProviderRepository {
	return &MongoProviderRepository{collection: db.Collection(providersCollection)}
}

func (r *MongoProviderRepository) CreateProvider(ctx context.Context, provider domain.ProviderConnection) error {
	if _, err := r.collection.InsertOne(ctx, provider); err != nil {
		return fmt.Errorf("failed to insert provider: %w", err)
	}
	return nil
}

func (r *MongoProviderRepository) GetProvider(ctx context.Context, id string) (domain.ProviderConnection, error) {
	var provider domain.ProviderConnection
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&provider)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.ProviderConnection{}, domain.ErrProviderNotFound
		}
		return domain.ProviderConnection{}, fmt.Errorf("failed to get provider: %w", err)
	}
	return provider, nil
}

func (r *MongoProviderRepository) ListProviders(ctx context.Context) ([]domain.ProviderConnection, error) {
	cursor, err := r.collection.Find(ctx, bson.M{}, options.Find().SetSort(bson.M{"created_at": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	defer cursor.Close(ctx)

	var providers []domain.ProviderConnection
	if err := cursor.All(ctx, &providers); err != nil {
		return nil, fmt.Errorf("failed to decode providers: %w", err)
	}
	return providers, nil
}

func (r *MongoProviderRepository) UpdateProvider(ctx context.Context, provider domain.ProviderConnection) error {
	result, err := r.collection.ReplaceOne(ctx, bson.M{"_id": provider.ID}, provider)
	if err != nil {
		return fmt.Errorf("failed to update provider: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrProviderNotFound
	}
	return nil
}

func (r *MongoProviderRepository) DeleteProvider(ctx context.Context, id string) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete provider: %w", err)
	}
	if result.DeletedCount == 0 {
		return domain.ErrProviderNotFound
	}
	return nil
}

func (r *MongoProviderRepository) SetClientIdentity(ctx context.Context, providerID, clientID, clientSecretRef string) error {
	update := bson.M{"$set": bson.M{
		"client_id":         clientID,
		"client_secret_ref": clientSecretRef,
		"updated_at":        time.Now(),
	}}
	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": providerID}, update)
	if err != nil {
		return fmt.Errorf("failed to set client identity: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrProviderNotFound
	}
	return nil
}

type MongoCredentialRepository struct {
	collection *mongo.Collection
}

func NewMongoCredentialRepository(db *mongo.Database) *MongoCredentialRepository {
	return &MongoCredentialRepository{collection: db.Collection(credentialsCollection)}
}

func (r *MongoCredentialRepository) UpsertCredential(ctx context.Context, credential domain.UserCredential) error {
	filter := bson.M{"provider_id": credential.ProviderID, "user_id": credential.UserID}
	_, err := r.collection.ReplaceOne(ctx, filter, credential, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}
	return nil
}

func (r *MongoCredentialRepository) GetCredential(ctx context.Context, providerID, userID string) (domain.UserCredential, error) {
	var credential domain.UserCredential
	err := r.collection.FindOne(ctx, bson.M{"provider_id": providerID, "user_id": userID}).Decode(&credential)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.UserCredential{}, domain.ErrCredentialNotFound
		}
		return domain.UserCredential{}, fmt.Errorf("failed to get credential: %w", err)
	}
	return credential, nil
}

func (r *MongoCredentialRepository) DeleteCredential(ctx context.Context, providerID, userID string) error {
	if _, err := r.collection.DeleteOne(ctx, bson.M{"provider_id": providerID, "user_id": userID}); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

type MongoPolicyRepository struct {
	collection *mongo.Collection
}

func NewMongoPolicyRepository(db *mongo.Database) *MongoPolicyRepository {
	return &MongoPolicyRepository{collection: db.Collection(policiesCollection)}
}

func (r *MongoPolicyRepository) GetPolicy(ctx context.Context, agentID, providerID string) (domain.ToolPolicy, error) {
	var policy domain.ToolPolicy
	err := r.collection.FindOne(ctx, bson.M{"agent_id": agentID, "provider_id": providerID}).Decode(&policy)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.ToolPolicy{}, domain.ErrPolicyNotFound
		}
		return domain.ToolPolicy{}, fmt.Errorf("failed to get tool policy: %w", err)
	}
	return policy, nil
}

func (r *MongoPolicyRepository) SavePolicy(ctx context.Context, policy domain.ToolPolicy) error {
	filter := bson.M{"agent_id": policy.AgentID, "provider_id": policy.ProviderID}
	_, err := r.collection.ReplaceOne(ctx, filter, policy, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save tool policy: %w", err)
	}
	return nil
}

type MongoApprovalRepository struct {
	collection *mongo.Collection
}

func NewMongoApprovalRepository(db *mongo.Database) *MongoApprovalRepository {
	return &MongoApprovalRepository{collection: db.Collection(approvalsCollection)}
}

func (r *MongoApprovalRepository) CreateApproval(ctx context.Context, approval domain.PendingApproval) error {
	if _, err := r.collection.InsertOne(ctx, approval); err != nil {
		return fmt.Errorf("failed to insert pending approval: %w", err)
	}
	return nil
}

func (r *MongoApprovalRepository) GetApproval(ctx context.Context, callID string) (domain.PendingApproval, error) {
	var approval domain.PendingApproval
	err := r.collection.FindOne(ctx, bson.M{"_id": callID}).Decode(&approval)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.PendingApproval{}, domain.ErrApprovalNotFound
		}
		return domain.PendingApproval{}, fmt.Errorf("failed to get pending approval: %w", err)
	}
	return approval, nil
}

func (r *MongoApprovalRepository) ResolveApproval(ctx context.Context, callID string, approved bool, reason string, at time.Time) (domain.PendingApproval, bool, error) {
	resolution := domain.ApprovalRejected
	if approved {
		resolution = domain.ApprovalApproved
	}

	// Matching on resolution=pending makes the transition at-most-once even
	// when duplicate Resolve requests race.
	filter := bson.M{"_id": callID, "resolution": domain.ApprovalPending}
	update := bson.M{"$set": bson.M{
		"resolution":  resolution,
		"reason":      reason,
		"resolved_at": at,
	}}

	var resolved domain.PendingApproval
	err := r.collection.FindOneAndUpdate(
		ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&resolved)

	if err == nil {
		return resolved, true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return domain.PendingApproval{}, false, fmt.Errorf("failed to resolve approval: %w", err)
	}

	// Either the approval does not exist or it is already terminal.
	existing, getErr := r.GetApproval(ctx, callID)
	if getErr != nil {
		return domain.PendingApproval{}, false, getErr
	}
	return existing, false, nil
}

func (r *MongoApprovalRepository) ListPendingByThread(ctx context.Context, threadID string) ([]domain.PendingApproval, error) {
	filter := bson.M{"thread_id": threadID, "resolution": domain.ApprovalPending}
	cursor, err := r.collection.Find(ctx, filter, options.Find().SetSort(bson.M{"requested_at": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to list pending approvals: %w", err)
	}
	defer cursor.Close(ctx)

	var approvals []domain.PendingApproval
	if err := cursor.All(ctx, &approvals); err != nil {
		return nil, fmt.Errorf("failed to decode pending approvals: %w", err)
	}
	return approvals, nil
}

type mongoSecret struct {
	Key        string    `bson:"_id"`
	Ciphertext []byte    `bson:"ciphertext"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

type MongoSecretStore struct {
	collection *mongo.Collection
}

func NewMongoSecretStore(db *mongo.Database) *MongoSecretStore {
	return &MongoSecretStore{collection: db.Collection(secretsCollection)}
}

func (s *MongoSecretStore) PutSecret(ctx context.Context, key string, ciphertext []byte) error {
	doc := mongoSecret{Key: key, Ciphertext: ciphertext, UpdatedAt: time.Now()}
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": key}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to store secret: %w", err)
	}
	return nil
}

func (s *MongoSecretStore) GetSecret(ctx context.Context, key string) ([]byte, error) {
	var doc mongoSecret
	err := s.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrSecretNotFound
		}
		return nil, fmt.Errorf("failed to get secret: %w", err)
	}
	return doc.Ciphertext, nil
}

func (s *MongoSecretStore) DeleteSecret(ctx context.Context, key string) error {
	if _, err := s.collection.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	return nil
}
