package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"wacampaign/internal/models"
	"wacampaign/internal/provider"
	"wacampaign/internal/repository"
)

// memStore backs the in-memory repositories. One mutex keeps counters and rows consistent
// the way the database transactions do.
type memStore struct {
	mu        sync.Mutex
	sessions  map[string]*models.Session
	campaigns map[int]*models.Campaign
	messages  []*models.CampaignMessage
	contacts  map[int]*models.Contact
	nextID    int
	now       func() time.Time

	Calls map[string]int
}

func newMemStore() *memStore {
	return &memStore{
		sessions:  make(map[string]*models.Session),
		campaigns: make(map[int]*models.Campaign),
		contacts:  make(map[int]*models.Contact),
		now:       time.Now,
		Calls:     make(map[string]int),
	}
}

func (s *memStore) call(name string) {
	s.Calls[name]++
}

func (s *memStore) id() int {
	s.nextID++
	return s.nextID
}

func (s *memStore) sessionRepo() *memSessions   { return &memSessions{s} }
func (s *memStore) campaignRepo() *memCampaigns { return &memCampaigns{s} }
func (s *memStore) messageRepo() *memMessages   { return &memMessages{s} }
func (s *memStore) contactRepo() *memContacts   { return &memContacts{s} }

func (s *memStore) addSession(session *models.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := copySession(session)
	s.sessions[session.Name] = copied
}

func (s *memStore) addContact(tenantID int, name, phone string, tags ...int64) *models.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &models.Contact{ID: s.id(), TenantID: tenantID, Name: &name, Phone: phone, Tags: tags}
	s.contacts[c.ID] = c
	return c
}

// addRunningCampaign stores a running campaign with one pending row per contact
func (s *memStore) addRunningCampaign(c *models.Campaign, contacts ...*models.Contact) *models.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.id()
	c.Status = models.CampaignStatusRunning
	c.TotalRecipients = len(contacts)
	stored := *c
	s.campaigns[c.ID] = &stored
	for _, contact := range contacts {
		s.messages = append(s.messages, &models.CampaignMessage{
			ID:         s.id(),
			CampaignID: c.ID,
			ContactID:  contact.ID,
			Phone:      provider.NormalizePhone(contact.Phone),
			Status:     models.MessageStatusPending,
			UpdatedAt:  s.now(),
		})
	}
	return c
}

func (s *memStore) session(name string) *models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.sessions[name]; ok {
		return copySession(row)
	}
	return nil
}

func (s *memStore) campaign(id int) models.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.campaigns[id]
}

func (s *memStore) setCampaignStatus(id int, status models.CampaignStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[id].Status = status
}

func (s *memStore) rows(campaignID int) []models.CampaignMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CampaignMessage
	for _, m := range s.messages {
		if m.CampaignID == campaignID {
			out = append(out, *m)
		}
	}
	return out
}

func (s *memStore) stats(campaignID int) models.CampaignStats {
	stats := models.CampaignStats{}
	for _, m := range s.messages {
		if m.CampaignID != campaignID {
			continue
		}
		stats.Total++
		switch m.Status {
		case models.MessageStatusPending:
			stats.Pending++
		case models.MessageStatusInFlight:
			stats.InFlight++
		case models.MessageStatusSent:
			stats.Sent++
		case models.MessageStatusFailed:
			stats.Failed++
		}
	}
	return stats
}

func copySession(s *models.Session) *models.Session {
	c := *s
	if s.Identity != nil {
		id := *s.Identity
		c.Identity = &id
	}
	return &c
}

// memSessions implements repository.SessionRepository
type memSessions struct{ *memStore }

func (r *memSessions) Create(ctx context.Context, u *models.SessionUpdate) (*models.Session, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}
	if u.TenantID == nil || u.Provider == nil || u.Status == nil {
		return nil, fmt.Errorf("creating %s needs tenant, provider and status", u.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.call("Create")

	if _, ok := r.sessions[u.Name]; ok {
		return nil, fmt.Errorf("session %s already exists", u.Name)
	}
	row := &models.Session{Name: u.Name, TenantID: *u.TenantID, Provider: *u.Provider, CreatedAt: r.now()}
	r.sessions[u.Name] = row
	r.apply(row, u)
	return copySession(row), nil
}

func (r *memSessions) Update(ctx context.Context, u *models.SessionUpdate) (*models.Session, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.call("Update")

	row, ok := r.sessions[u.Name]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", u.Name, repository.ErrNotFound)
	}
	r.apply(row, u)
	return copySession(row), nil
}

func (r *memSessions) apply(row *models.Session, u *models.SessionUpdate) {
	if u.DisplayName != nil {
		row.DisplayName = *u.DisplayName
	}
	if u.Status != nil {
		row.Status = *u.Status
	}
	if u.Credential != nil {
		cred := *u.Credential
		row.Credential = &cred
	}
	switch {
	case u.ClearIdentity:
		row.Identity = nil
	case u.Identity != nil:
		id := *u.Identity
		row.Identity = &id
	}
	switch {
	case u.ClearQR:
		row.QR, row.QRExpiresAt = nil, nil
	case u.QR != nil:
		qr, exp := *u.QR, *u.QRExpiresAt
		row.QR, row.QRExpiresAt = &qr, &exp
	}
	row.UpdatedAt = r.now()
}

func (r *memSessions) GetByName(ctx context.Context, tenantID int, name string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.sessions[name]
	if !ok || row.TenantID != tenantID {
		return nil, fmt.Errorf("session %s: %w", name, repository.ErrNotFound)
	}
	return copySession(row), nil
}

func (r *memSessions) GetByNameAnyTenant(ctx context.Context, name string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.call("GetByNameAnyTenant")
	row, ok := r.sessions[name]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", name, repository.ErrNotFound)
	}
	return copySession(row), nil
}

func (r *memSessions) ListByTenant(ctx context.Context, tenantID int) ([]*models.Session, error) {
	return r.filter(func(s *models.Session) bool { return s.TenantID == tenantID }), nil
}

func (r *memSessions) ListByNames(ctx context.Context, tenantID int, names []string) ([]*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*models.Session{}
	for _, name := range names {
		if row, ok := r.sessions[name]; ok && row.TenantID == tenantID {
			out = append(out, copySession(row))
		}
	}
	return out, nil
}

func (r *memSessions) ListAll(ctx context.Context) ([]*models.Session, error) {
	return r.filter(func(*models.Session) bool { return true }), nil
}

func (r *memSessions) filter(keep func(*models.Session) bool) []*models.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*models.Session{}
	for _, row := range r.sessions {
		if keep(row) {
			out = append(out, copySession(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *memSessions) Delete(ctx context.Context, tenantID int, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.sessions[name]
	if !ok || row.TenantID != tenantID {
		return fmt.Errorf("session %s: %w", name, repository.ErrNotFound)
	}
	delete(r.sessions, name)
	return nil
}

// memCampaigns implements repository.CampaignRepository
type memCampaigns struct{ *memStore }

func (r *memCampaigns) Create(ctx context.Context, c *models.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.call("Create")
	c.ID = r.id()
	c.CreatedAt, c.UpdatedAt = r.now(), r.now()
	stored := *c
	r.campaigns[c.ID] = &stored
	return nil
}

func (r *memCampaigns) GetByID(ctx context.Context, tenantID, id int) (*models.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || c.TenantID != tenantID {
		return nil, fmt.Errorf("campaign %d: %w", id, repository.ErrNotFound)
	}
	copied := *c
	return &copied, nil
}

func (r *memCampaigns) GetByIDAnyTenant(ctx context.Context, id int) (*models.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("campaign %d: %w", id, repository.ErrNotFound)
	}
	copied := *c
	return &copied, nil
}

func (r *memCampaigns) GetWithStats(ctx context.Context, tenantID, id int) (*models.CampaignWithStats, error) {
	c, err := r.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return &models.CampaignWithStats{Campaign: *c, Stats: r.stats(id)}, nil
}

func (r *memCampaigns) List(ctx context.Context, f repository.CampaignFilters) ([]*models.Campaign, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*models.Campaign
	for _, c := range r.campaigns {
		if c.TenantID == f.TenantID && (f.Status == nil || c.Status == *f.Status) {
			copied := *c
			all = append(all, &copied)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	return all, len(all), nil
}

func (r *memCampaigns) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*models.Campaign{}
	for _, c := range r.campaigns {
		if c.IsDue(now) {
			copied := *c
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memCampaigns) ListRunning(ctx context.Context, limit int) ([]*models.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*models.Campaign{}
	for _, c := range r.campaigns {
		if c.Status == models.CampaignStatusRunning {
			copied := *c
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memCampaigns) GetStatus(ctx context.Context, id int) (models.CampaignStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return "", fmt.Errorf("campaign %d: %w", id, repository.ErrNotFound)
	}
	return c.Status, nil
}

func (r *memCampaigns) TransitionStatus(ctx context.Context, id int, from, to models.CampaignStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.call("TransitionStatus")
	c, ok := r.campaigns[id]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	return true, nil
}

func (r *memCampaigns) Activate(ctx context.Context, id int, recipients []*models.CampaignMessage) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.call("Activate")
	c, ok := r.campaigns[id]
	if !ok || c.Status != models.CampaignStatusPending {
		return false, nil
	}
	c.Status = models.CampaignStatusRunning
	c.TotalRecipients = len(recipients)
	for _, m := range recipients {
		stored := *m
		stored.ID = r.id()
		stored.UpdatedAt = r.now()
		r.messages = append(r.messages, &stored)
	}
	return true, nil
}

// memMessages implements repository.MessageRepository
type memMessages struct{ *memStore }

func (r *memMessages) ClaimNext(ctx context.Context, campaignID int, sessionName string) (*models.CampaignMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.CampaignID == campaignID && m.Status == models.MessageStatusPending {
			name := sessionName
			m.Status = models.MessageStatusInFlight
			m.SessionUsed = &name
			m.UpdatedAt = r.now()
			copied := *m
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *memMessages) RecordOutcome(ctx context.Context, msg *models.CampaignMessage, o models.MessageOutcome) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.ID != msg.ID {
			continue
		}
		if m.Status != models.MessageStatusInFlight {
			return false, nil
		}
		session := o.SessionUsed
		m.Status = o.Status
		m.SentAt = o.SentAt
		m.SessionUsed = &session
		m.ErrorCategory = o.ErrorCategory
		m.ErrorDetail = o.ErrorDetail
		m.SelectedVariation = o.SelectedVariation
		if o.Status == models.MessageStatusSent {
			r.campaigns[m.CampaignID].Sent++
		} else {
			r.campaigns[m.CampaignID].Failed++
		}
		return true, nil
	}
	return false, nil
}

func (r *memMessages) Touch(ctx context.Context, id int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.call("Touch")
	for _, m := range r.messages {
		if m.ID == id && m.Status == models.MessageStatusInFlight {
			m.UpdatedAt = r.now()
			return true, nil
		}
	}
	return false, nil
}

func (r *memMessages) FailStaleInFlight(ctx context.Context, campaignID int, olderThan time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.messages {
		if m.CampaignID == campaignID && m.Status == models.MessageStatusInFlight && m.UpdatedAt.Before(olderThan) {
			category, detail := models.ErrorCategoryOther, "interrupted"
			m.Status = models.MessageStatusFailed
			m.ErrorCategory, m.ErrorDetail = &category, &detail
			n++
		}
	}
	if n > 0 {
		r.campaigns[campaignID].Failed += n
	}
	return n, nil
}

func (r *memMessages) CountByStatus(ctx context.Context, campaignID int) (models.CampaignStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats(campaignID), nil
}

func (r *memMessages) ListByCampaign(ctx context.Context, campaignID int, f repository.MessageFilters) ([]*models.CampaignMessage, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*models.CampaignMessage{}
	for _, m := range r.messages {
		if m.CampaignID == campaignID && (f.Status == nil || m.Status == *f.Status) {
			copied := *m
			out = append(out, &copied)
		}
	}
	return out, len(out), nil
}

// memContacts implements repository.ContactRepository
type memContacts struct{ *memStore }

func (r *memContacts) GetByID(ctx context.Context, tenantID, id int) (*models.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contacts[id]
	if !ok || c.TenantID != tenantID {
		return nil, fmt.Errorf("contact %d: %w", id, repository.ErrNotFound)
	}
	copied := *c
	return &copied, nil
}

func (r *memContacts) ListByTags(ctx context.Context, tenantID int, tagIDs []int64) ([]*models.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := make(map[int64]bool, len(tagIDs))
	for _, t := range tagIDs {
		want[t] = true
	}
	out := []*models.Contact{}
	for _, c := range r.contacts {
		if c.TenantID != tenantID {
			continue
		}
		for _, t := range c.Tags {
			if want[t] {
				copied := *c
				out = append(out, &copied)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

var (
	_ repository.SessionRepository  = (*memSessions)(nil)
	_ repository.CampaignRepository = (*memCampaigns)(nil)
	_ repository.MessageRepository  = (*memMessages)(nil)
	_ repository.ContactRepository  = (*memContacts)(nil)
)

type sentMessage struct {
	Session string
	Phone   string
	Payload provider.Payload
}

// MockProvider is a scriptable provider.Provider
type MockProvider struct {
	mu sync.Mutex

	CreateFunc func(ctx context.Context, name string) (provider.SessionRef, error)
	StartFunc  func(ctx context.Context, ref provider.SessionRef) (provider.PairingResult, error)
	StatusFunc func(ctx context.Context, ref provider.SessionRef) (models.SessionStatus, *models.Identity, error)
	SendFunc   func(ctx context.Context, ref provider.SessionRef, phone string, payload provider.Payload) (string, error)

	Unreachable map[string]bool
	ReachErr    error
	Sent        []sentMessage
	Calls       map[string]int
}

func NewMockProvider() *MockProvider {
	return &MockProvider{Unreachable: make(map[string]bool), Calls: make(map[string]int)}
}

func (m *MockProvider) call(name string) {
	m.mu.Lock()
	m.Calls[name]++
	m.mu.Unlock()
}

func (m *MockProvider) calls(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[name]
}

func (m *MockProvider) sent() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMessage(nil), m.Sent...)
}

func (m *MockProvider) CreateSession(ctx context.Context, name string) (provider.SessionRef, error) {
	m.call("CreateSession")
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, name)
	}
	return provider.SessionRef{Name: name}, nil
}

func (m *MockProvider) StartSession(ctx context.Context, ref provider.SessionRef) (provider.PairingResult, error) {
	m.call("StartSession")
	if m.StartFunc != nil {
		return m.StartFunc(ctx, ref)
	}
	return provider.PairingResult{Status: models.SessionStatusConnectingQR, QR: []byte("png")}, nil
}

func (m *MockProvider) StopSession(ctx context.Context, ref provider.SessionRef) error {
	m.call("StopSession")
	return nil
}

func (m *MockProvider) DeleteSession(ctx context.Context, ref provider.SessionRef) error {
	m.call("DeleteSession")
	return nil
}

func (m *MockProvider) GetStatus(ctx context.Context, ref provider.SessionRef) (models.SessionStatus, *models.Identity, error) {
	m.call("GetStatus")
	if m.StatusFunc != nil {
		return m.StatusFunc(ctx, ref)
	}
	return models.SessionStatusWorking, &models.Identity{RemoteID: "254700000000"}, nil
}

func (m *MockProvider) CheckRecipientReachable(ctx context.Context, ref provider.SessionRef, phone string) provider.Reachability {
	m.call("CheckRecipientReachable")
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Unreachable[phone] {
		return provider.Reachability{}
	}
	if m.ReachErr != nil {
		return provider.Reachability{Err: m.ReachErr}
	}
	return provider.Reachability{Reachable: true, ChatID: provider.ChatID(phone)}
}

func (m *MockProvider) Send(ctx context.Context, ref provider.SessionRef, phone string, payload provider.Payload) (string, error) {
	m.call("Send")
	if m.SendFunc != nil {
		if _, err := m.SendFunc(ctx, ref, phone, payload); err != nil {
			return "", err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, sentMessage{Session: ref.Name, Phone: phone, Payload: payload})
	return fmt.Sprintf("msg-%d", len(m.Sent)), nil
}

// MockDiscoverer adds provider C credential discovery to MockProvider
type MockDiscoverer struct {
	*MockProvider

	Health map[string]provider.CredentialHealth
	Remote []provider.RemoteSession
	minted int
}

func NewMockDiscoverer() *MockDiscoverer {
	return &MockDiscoverer{MockProvider: NewMockProvider(), Health: make(map[string]provider.CredentialHealth)}
}

func (m *MockDiscoverer) MintCredential() string {
	m.call("MintCredential")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.minted++
	return fmt.Sprintf("minted-%d", m.minted)
}

func (m *MockDiscoverer) CheckCredential(ctx context.Context, credential string) (provider.CredentialHealth, error) {
	m.call("CheckCredential")
	m.mu.Lock()
	defer m.mu.Unlock()
	health, ok := m.Health[credential]
	if !ok {
		return provider.CredentialHealth{}, provider.ErrUnknownCredential
	}
	return health, nil
}

func (m *MockDiscoverer) ListAccountSessions(ctx context.Context) ([]provider.RemoteSession, error) {
	m.call("ListAccountSessions")
	return m.Remote, nil
}

var (
	_ provider.Provider             = (*MockProvider)(nil)
	_ provider.CredentialDiscoverer = (*MockDiscoverer)(nil)
)

// echoResolver hands media URLs through unchanged
type echoResolver struct{}

func (echoResolver) Resolve(ctx context.Context, raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("empty media url")
	}
	return raw, nil
}

// MockGenerator is a scriptable TextGenerator
type MockGenerator struct {
	GenerateFunc func(ctx context.Context, system, user string) (string, error)
}

func (m *MockGenerator) Generate(ctx context.Context, system, user string) (string, error) {
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, system, user)
	}
	return "generated: " + user, nil
}

func workingSession(tenantID int, slug string, p models.Provider) *models.Session {
	s := &models.Session{
		Name:        models.SessionName(tenantID, slug),
		DisplayName: slug,
		Provider:    p,
		Status:      models.SessionStatusWorking,
		Identity:    &models.Identity{RemoteID: "2547000" + slug},
		TenantID:    tenantID,
	}
	if p == models.ProviderC {
		cred := "tok-" + slug
		s.Credential = &cred
	}
	return s
}

func textSpec(body string) models.MessageSpec {
	return models.MessageSpec{Steps: []models.Step{models.TextStep{Body: body}}}
}

func strPtr(s string) *string {
	return &s
}
