package repositories

import (
	"context"
	"sync"
	"time"

	"github.com/auxilia-ai/auxilia/pkg/domain"
)

// In-memory repository implementations. They back tests and single-node
// development mode; production wiring uses the mongo and redis variants.

type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]domain.AuthorizationSession
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]domain.AuthorizationSession)}
}

func (s *MemorySessionStore) PutSession(ctx context.Context, session domain.AuthorizationSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.State] = session
	return nil
}

func (s *MemorySessionStore) TakeSession(ctx context.Context, state string) (domain.AuthorizationSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[state]
	if !ok {
		return domain.AuthorizationSession{}, domain.ErrSessionNotFound
	}
	delete(s.sessions, state)

	if session.Expired(time.Now()) {
		return domain.AuthorizationSession{}, domain.ErrSessionNotFound
	}

	return session, nil
}

type MemoryProviderRepository struct {
	mu        sync.RWMutex
	providers map[string]domain.ProviderConnection
}

func NewMemoryProviderRepository() *MemoryProviderRepository {
	return &MemoryProviderRepository{providers: make(map[string]domain.ProviderConnection)}
}

func (r *MemoryProviderRepository) CreateProvider(ctx context.Context, provider domain.ProviderConnection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[provider.ID] = provider
	return nil
}

func (r *MemoryProviderRepository) GetProvider(ctx context.Context, id string) (domain.ProviderConnection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, ok := r.providers[id]
	if !ok {
		return domain.ProviderConnection{}, domain.ErrProviderNotFound
	}
	return provider, nil
}

func (r *MemoryProviderRepository) ListProviders(ctx context.Context) ([]domain.ProviderConnection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := make([]domain.ProviderConnection, 0, len(r.providers))
	for _, provider := range r.providers {
		providers = append(providers, provider)
	}
	return providers, nil
}

func (r *MemoryProviderRepository) UpdateProvider(ctx context.Context, provider domain.ProviderConnection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.providers[provider.ID]; !ok {
		return domain.ErrProviderNotFound
	}
	r.providers[provider.ID] = provider
	return nil
}

func (r *MemoryProviderRepository) DeleteProvider(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.providers[id]; !ok {
		return domain.ErrProviderNotFound
	}
	delete(r.providers, id)
	return nil
}

func (r *MemoryProviderRepository) SetClientIdentity(ctx context.Context, providerID, clientID, clientSecretRef string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	provider, ok := r.providers[providerID]
	if !ok {
		return domain.ErrProviderNotFound
	}
	provider.ClientID = clientID
	provider.ClientSecretRef = clientSecretRef
	provider.UpdatedAt = time.Now()
	r.providers[providerID] = provider
	return nil
}

type credentialKey struct {
	providerID string
	userID     string
}

type MemoryCredentialRepository struct {
	mu          sync.RWMutex
	credentials map[credentialKey]domain.UserCredential
}

func NewMemoryCredentialRepository() *MemoryCredentialRepository {
	return &MemoryCredentialRepository{credentials: make(map[credentialKey]domain.UserCredential)}
}

func (r *MemoryCredentialRepository) UpsertCredential(ctx context.Context, credential domain.UserCredential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.credentials[credentialKey{credential.ProviderID, credential.UserID}] = credential
	return nil
}

func (r *MemoryCredentialRepository) GetCredential(ctx context.Context, providerID, userID string) (domain.UserCredential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	credential, ok := r.credentials[credentialKey{providerID, userID}]
	if !ok {
		return domain.UserCredential{}, domain.ErrCredentialNotFound
	}
	return credential, nil
}

func (r *MemoryCredentialRepository) DeleteCredential(ctx context.Context, providerID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.credentials, credentialKey{providerID, userID})
	return nil
}

type policyKey struct {
	agentID    string
	providerID string
}

type MemoryPolicyRepository struct {
	mu       sync.RWMutex
	policies map[policyKey]domain.ToolPolicy
}

func NewMemoryPolicyRepository() *MemoryPolicyRepository {
	return &MemoryPolicyRepository{policies: make(map[policyKey]domain.ToolPolicy)}
}

func (r *MemoryPolicyRepository) GetPolicy(ctx context.Context, agentID, providerID string) (domain.ToolPolicy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	policy, ok := r.policies[policyKey{agentID, providerID}]
	if !ok {
		return domain.ToolPolicy{}, domain.ErrPolicyNotFound
	}
	return policy, nil
}

func (r *MemoryPolicyRepository) SavePolicy(ctx context.Context, policy domain.ToolPolicy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[policyKey{policy.AgentID, policy.ProviderID}] = policy
	return nil
}

type MemoryApprovalRepository struct {
	mu        sync.Mutex
	approvals map[string]domain.PendingApproval
}

func NewMemoryApprovalRepository() *MemoryApprovalRepository {
	return &MemoryApprovalRepository{approvals: make(map[string]domain.PendingApproval)}
}

func (r *MemoryApprovalRepository) CreateApproval(ctx context.Context, approval domain.PendingApproval) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.approvals[approval.CallID] = approval
	return nil
}

func (r *MemoryApprovalRepository) GetApproval(ctx context.Context, callID string) (domain.PendingApproval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	approval, ok := r.approvals[callID]
	if !ok {
		return domain.PendingApproval{}, domain.ErrApprovalNotFound
	}
	return approval, nil
}

func (r *MemoryApprovalRepository) ResolveApproval(ctx context.Context, callID string, approved bool, reason string, at time.Time) (domain.PendingApproval, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	approval, ok := r.approvals[callID]
	if !ok {
		return domain.PendingApproval{}, false, domain.ErrApprovalNotFound
	}

	if approval.Terminal() {
		return approval, false, nil
	}

	if approved {
		approval.Resolution = domain.ApprovalApproved
	} else {
		approval.Resolution = domain.ApprovalRejected
	}
	approval.Reason = reason
	resolvedAt := at
	approval.ResolvedAt = &resolvedAt

	r.approvals[callID] = approval
	return approval, true, nil
}

func (r *MemoryApprovalRepository) ListPendingByThread(ctx context.Context, threadID string) ([]domain.PendingApproval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pending []domain.PendingApproval
	for _, approval := range r.approvals {
		if approval.ThreadID == threadID && !approval.Terminal() {
			pending = append(pending, approval)
		}
	}
	return pending, nil
}

type MemorySecretStore struct {
	mu      sync.RWMutex
	secrets map[string][]byte
}

func NewMemorySecretStore() *MemorySecretStore {
	return &MemorySecretStore{secrets: make(map[string][]byte)}
}

func (s *MemorySecretStore) PutSecret(ctx context.Context, key string, ciphertext []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[key] = append([]byte(nil), ciphertext...)
	return nil
}

func (s *MemorySecretStore) GetSecret(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ciphertext, ok := s.secrets[key]
	if !ok {
		return nil, domain.ErrSecretNotFound
	}
	return append([]byte(nil), ciphertext...), nil
}

func (s *MemorySecretStore) DeleteSecret(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.secrets, key)
	return nil
}
