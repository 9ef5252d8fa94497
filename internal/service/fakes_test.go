package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"socialcrm/internal/models"
	"socialcrm/internal/queue"
	"socialcrm/internal/repository"
)

// Stateful in-memory fakes. The dispatcher, watchdog, and control surface
// are exercised against these the way they run against Postgres: status
// transitions are real compare-and-sets and counters are real mutations, so
// the tests catch ordering and race bugs, not just call sequences.

type fakeCampaignRepo struct {
	mu        sync.Mutex
	campaigns map[int]*models.Campaign
	nextID    int

	// Optional error injection, keyed by method name.
	failOn map[string]error
}

func newFakeCampaignRepo() *fakeCampaignRepo {
	return &fakeCampaignRepo{
		campaigns: make(map[int]*models.Campaign),
		nextID:    1,
		failOn:    make(map[string]error),
	}
}

func (f *fakeCampaignRepo) add(c *models.Campaign) *models.Campaign {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.ID == 0 {
		c.ID = f.nextID
		f.nextID++
	} else if c.ID >= f.nextID {
		f.nextID = c.ID + 1
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}
	f.campaigns[c.ID] = c
	return c
}

func (f *fakeCampaignRepo) get(id int) *models.Campaign {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.campaigns[id]
}

func (f *fakeCampaignRepo) fail(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOn[method] = err
}

func (f *fakeCampaignRepo) check(method string) error {
	if err, ok := f.failOn[method]; ok {
		return err
	}
	return nil
}

func (f *fakeCampaignRepo) Create(ctx context.Context, campaign *models.Campaign) error {
	if err := f.check("Create"); err != nil {
		return err
	}
	f.add(campaign)
	return nil
}

func (f *fakeCampaignRepo) GetByID(ctx context.Context, id int) (*models.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("GetByID"); err != nil {
		return nil, err
	}
	c, ok := f.campaigns[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCampaignRepo) GetWithStats(ctx context.Context, id int) (*models.CampaignWithStats, error) {
	c, err := f.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.CampaignWithStats{Campaign: *c}, nil
}

func (f *fakeCampaignRepo) List(ctx context.Context, filters repository.CampaignFilters) ([]*models.Campaign, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Campaign
	for _, c := range f.campaigns {
		if filters.Status != nil && c.Status != *filters.Status {
			continue
		}
		if filters.Platform != nil && c.Platform != *filters.Platform {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (f *fakeCampaignRepo) ListByStatus(ctx context.Context, status models.CampaignStatus) ([]*models.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("ListByStatus"); err != nil {
		return nil, err
	}
	var out []*models.Campaign
	for id := 1; id < f.nextID; id++ {
		if c, ok := f.campaigns[id]; ok && c.Status == status {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeCampaignRepo) ListDueScheduled(ctx context.Context, now time.Time) ([]*models.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Campaign
	for id := 1; id < f.nextID; id++ {
		c, ok := f.campaigns[id]
		if !ok || c.Status != models.CampaignStatusScheduled {
			continue
		}
		if c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeCampaignRepo) Delete(ctx context.Context, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.campaigns[id]; !ok {
		return repository.ErrNotFound
	}
	delete(f.campaigns, id)
	return nil
}

func (f *fakeCampaignRepo) TransitionStatus(ctx context.Context, id int, from []models.CampaignStatus, to models.CampaignStatus, startedAt, completedAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("TransitionStatus"); err != nil {
		return err
	}
	c, ok := f.campaigns[id]
	if !ok {
		return repository.ErrNotFound
	}
	allowed := false
	for _, s := range from {
		if c.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return repository.ErrStatusConflict
	}
	c.Status = to
	if startedAt != nil {
		c.StartedAt = startedAt
	}
	if completedAt != nil {
		c.CompletedAt = completedAt
	}
	c.UpdatedAt = time.Now()
	return nil
}

func (f *fakeCampaignRepo) SetSchedule(ctx context.Context, id int, scheduledAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.ScheduledAt = scheduledAt
	return nil
}

func (f *fakeCampaignRepo) SetTotalRecipients(ctx context.Context, id int, total int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("SetTotalRecipients"); err != nil {
		return err
	}
	c, ok := f.campaigns[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.TotalRecipients = total
	c.UpdatedAt = time.Now()
	return nil
}

func (f *fakeCampaignRepo) IncrementSent(ctx context.Context, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("IncrementSent"); err != nil {
		return err
	}
	c, ok := f.campaigns[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.SentCount++
	c.UpdatedAt = time.Now()
	return nil
}

func (f *fakeCampaignRepo) IncrementFailed(ctx context.Context, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("IncrementFailed"); err != nil {
		return err
	}
	c, ok := f.campaigns[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.FailedCount++
	c.UpdatedAt = time.Now()
	return nil
}

func (f *fakeCampaignRepo) MoveFailedToSent(ctx context.Context, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.SentCount++
	if c.FailedCount > 0 {
		c.FailedCount--
	}
	c.UpdatedAt = time.Now()
	return nil
}

func (f *fakeCampaignRepo) IncrementEngagement(ctx context.Context, id int, status models.MessageStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok {
		return repository.ErrNotFound
	}
	switch status {
	case models.MessageStatusDelivered:
		c.DeliveredCount++
	case models.MessageStatusRead:
		c.ReadCount++
	case models.MessageStatusReplied:
		c.RepliedCount++
	}
	return nil
}

func (f *fakeCampaignRepo) ResetProgress(ctx context.Context, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.TotalRecipients = 0
	c.SentCount = 0
	c.FailedCount = 0
	c.DeliveredCount = 0
	c.ReadCount = 0
	c.RepliedCount = 0
	c.ScheduledAt = nil
	c.StartedAt = nil
	c.CompletedAt = nil
	c.UpdatedAt = time.Now()
	return nil
}

type fakeMessageRepo struct {
	mu       sync.Mutex
	messages []*models.Message
	nextID   int
	failOn   map[string]error
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{nextID: 1, failOn: make(map[string]error)}
}

func (f *fakeMessageRepo) fail(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOn[method] = err
}

func (f *fakeMessageRepo) check(method string) error {
	if err, ok := f.failOn[method]; ok {
		return err
	}
	return nil
}

func (f *fakeMessageRepo) CreateBatch(ctx context.Context, messages []*models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("CreateBatch"); err != nil {
		return err
	}
	for _, m := range messages {
		m.ID = f.nextID
		f.nextID++
		if m.Status == "" {
			m.Status = models.MessageStatusPending
		}
		m.CreatedAt = time.Now()
		f.messages = append(f.messages, m)
	}
	return nil
}

func (f *fakeMessageRepo) GetByID(ctx context.Context, id int) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ID == id {
			cp := *m
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeMessageRepo) GetByProviderID(ctx context.Context, providerMessageID string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.FacebookMessageID != nil && *m.FacebookMessageID == providerMessageID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeMessageRepo) ListByStatus(ctx context.Context, campaignID int, status models.MessageStatus) ([]*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("ListByStatus"); err != nil {
		return nil, err
	}
	var out []*models.Message
	for _, m := range f.messages {
		if m.CampaignID == campaignID && m.Status == status {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeMessageRepo) CountByCampaign(ctx context.Context, campaignID int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, m := range f.messages {
		if m.CampaignID == campaignID {
			count++
		}
	}
	return count, nil
}

func (f *fakeMessageRepo) MarkSent(ctx context.Context, id int, providerMessageID string, sentAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("MarkSent"); err != nil {
		return err
	}
	for _, m := range f.messages {
		if m.ID == id {
			m.Status = models.MessageStatusSent
			m.FacebookMessageID = &providerMessageID
			m.SentAt = &sentAt
			m.ErrorMessage = nil
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeMessageRepo) MarkFailed(ctx context.Context, id int, errorMessage string, failedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("MarkFailed"); err != nil {
		return err
	}
	for _, m := range f.messages {
		if m.ID == id {
			m.Status = models.MessageStatusFailed
			m.ErrorMessage = &errorMessage
			m.FailedAt = &failedAt
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeMessageRepo) AdvanceStatus(ctx context.Context, id int, to models.MessageStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ID == id {
			if !m.Status.Advances(to) {
				return false, nil
			}
			m.Status = to
			return true, nil
		}
	}
	return false, repository.ErrNotFound
}

func (f *fakeMessageRepo) DeleteByCampaign(ctx context.Context, campaignID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.messages[:0]
	for _, m := range f.messages {
		if m.CampaignID != campaignID {
			kept = append(kept, m)
		}
	}
	f.messages = kept
	return nil
}

func (f *fakeMessageRepo) byID(id int) *models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ID == id {
			return m
		}
	}
	return nil
}

type fakeContactRepo struct {
	mu       sync.Mutex
	contacts map[int]*models.Contact
	nextID   int
	failOn   map[string]error
}

func newFakeContactRepo() *fakeContactRepo {
	return &fakeContactRepo{contacts: make(map[int]*models.Contact), nextID: 1, failOn: make(map[string]error)}
}

func (f *fakeContactRepo) fail(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOn[method] = err
}

func (f *fakeContactRepo) add(c *models.Contact) *models.Contact {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.ID == 0 {
		c.ID = f.nextID
		f.nextID++
	} else if c.ID >= f.nextID {
		f.nextID = c.ID + 1
	}
	f.contacts[c.ID] = c
	return c
}

func (f *fakeContactRepo) Create(ctx context.Context, contact *models.Contact) error {
	f.add(contact)
	return nil
}

func (f *fakeContactRepo) GetByID(ctx context.Context, id int) (*models.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failOn["GetByID"]; ok {
		return nil, err
	}
	c, ok := f.contacts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeContactRepo) GetByIDs(ctx context.Context, ids []int) ([]*models.Contact, error) {
	var out []*models.Contact
	for _, id := range ids {
		c, err := f.GetByID(ctx, id)
		if err == nil {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeContactRepo) ResolveRecipients(ctx context.Context, pageID string, targetTags []string, platform models.Platform) ([]*models.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failOn["ResolveRecipients"]; ok {
		return nil, err
	}
	var out []*models.Contact
	for id := 1; id < f.nextID; id++ {
		c, ok := f.contacts[id]
		if !ok || c.PageID != pageID {
			continue
		}
		if _, reachable := c.RecipientID(platform); !reachable {
			continue
		}
		if len(targetTags) > 0 && !hasAnyTag(c.Tags, targetTags) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func hasAnyTag(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

// fakeSender scripts per-recipient outcomes and records the send order.
type fakeSender struct {
	mu       sync.Mutex
	failFor  map[string]error
	sendHook func(recipientID string)
	calls    []string
	nextMID  int
}

func newFakeSender() *fakeSender {
	return &fakeSender{failFor: make(map[string]error)}
}

func (f *fakeSender) Send(ctx context.Context, recipientID, content, tag string) (string, error) {
	f.mu.Lock()
	hook := f.sendHook
	f.calls = append(f.calls, recipientID)
	err := f.failFor[recipientID]
	f.nextMID++
	mid := fmt.Sprintf("m_test_%d", f.nextMID)
	f.mu.Unlock()

	if hook != nil {
		hook(recipientID)
	}
	if err != nil {
		return "", err
	}
	return mid, nil
}

func (f *fakeSender) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeLocker implements lock.CampaignLocker in memory.
type fakeLocker struct {
	mu   sync.Mutex
	held map[int]bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[int]bool)}
}

func (f *fakeLocker) Acquire(ctx context.Context, campaignID int, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[campaignID] {
		return false, nil
	}
	f.held[campaignID] = true
	return true, nil
}

func (f *fakeLocker) Refresh(ctx context.Context, campaignID int, ttl time.Duration) error {
	return nil
}

func (f *fakeLocker) Release(ctx context.Context, campaignID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, campaignID)
	return nil
}

// fakePublisher records queued dispatch jobs.
type fakePublisher struct {
	mu   sync.Mutex
	jobs []queue.DispatchJob
}

func (f *fakePublisher) PublishDispatch(campaignID int, mode queue.DispatchMode) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := queue.DispatchJob{
		JobID:      fmt.Sprintf("job-%d", len(f.jobs)+1),
		CampaignID: campaignID,
		Mode:       mode,
	}
	f.jobs = append(f.jobs, job)
	return job.JobID, nil
}

func strPtr(s string) *string { return &s }
