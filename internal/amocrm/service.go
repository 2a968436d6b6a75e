package amocrm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Checker-Finance/amocrm-adapter/internal/metrics"
	"github.com/Checker-Finance/amocrm-adapter/pkg/model"
	"github.com/Checker-Finance/amocrm-adapter/pkg/utils"
)

// Locker serializes work on the same contact. Implementations live in internal/lock.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// EventPublisher emits CRM events. Publishing is best effort.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload any) error
}

// Service implements the contact and lead operations on top of Client.
type Service struct {
	logger *zap.Logger
	client *Client
	lead   LeadSettings
	locker Locker
	events EventPublisher
}

// NewService creates a Service. locker and events may be nil.
func NewService(logger *zap.Logger, client *Client, lead LeadSettings, locker Locker, events EventPublisher) *Service {
	return &Service{
		logger: logger,
		client: client,
		lead:   lead,
		locker: locker,
		events: events,
	}
}

// FindContact searches by phone first, then by email, and returns the first
// search response with at least one contact.
func (s *Service) FindContact(ctx context.Context, email, phone string) (Result, error) {
	res, err := s.findContact(ctx, email, phone)
	s.record("find_contact", res, err)
	return res, err
}

// UpdateContact overwrites name, email and phone of the matching contact.
// OutcomeNotFound is returned, without a PATCH, when nothing matches.
func (s *Service) UpdateContact(ctx context.Context, in ContactInput) (Result, error) {
	res, err := s.updateContact(ctx, in)
	s.record("update_contact", res, err)
	return res, err
}

// CreateContact creates a contact unless one already matches email or phone,
// in which case OutcomeAlreadyExists is returned and nothing is created.
func (s *Service) CreateContact(ctx context.Context, in ContactInput) (Result, error) {
	release, err := s.lock(ctx, in, "creating contact")
	if err != nil {
		s.record("create_contact", Result{}, err)
		return Result{}, err
	}
	defer release()

	res, err := s.createContact(ctx, in)
	s.record("create_contact", res, err)
	return res, err
}

// CreateLead upserts the contact and creates a lead linked to it.
//
// An existing contact is refreshed through UpdateContact; if it disappeared
// between the search and the update, a new contact is created instead. The
// whole sequence holds the contact lock.
func (s *Service) CreateLead(ctx context.Context, in ContactInput) (Result, error) {
	release, err := s.lock(ctx, in, "creating lead")
	if err != nil {
		s.record("create_lead", Result{}, err)
		return Result{}, err
	}
	defer release()

	res, err := s.createLead(ctx, in)
	s.record("create_lead", res, err)
	return res, err
}

func (s *Service) findContact(ctx context.Context, email, phone string) (Result, error) {
	for _, query := range []string{phone, email} {
		if query == "" {
			continue
		}
		raw, page, err := s.client.SearchContacts(ctx, query)
		if err != nil {
			s.logger.Warn("amocrm.find_contact.failed", zap.Error(err))
			return Result{}, wrap("finding contact", err)
		}
		if len(page.Embedded.Contacts) > 0 {
			return Result{Outcome: OutcomeFound, ContactID: page.FirstID(), Body: raw}, nil
		}
	}
	return Result{Outcome: OutcomeNotFound, Body: nullBody}, nil
}

func (s *Service) updateContact(ctx context.Context, in ContactInput) (Result, error) {
	found, err := s.findContact(ctx, in.Email, in.Phone)
	if err != nil {
		return Result{}, err
	}
	if found.Outcome == OutcomeNotFound {
		s.logger.Info("amocrm.update_contact.not_found",
			zap.String("email", utils.MaskEmail(in.Email)),
			zap.String("phone", utils.MaskPhone(in.Phone)))
		return found, nil
	}

	raw, err := s.client.UpdateContact(ctx, found.ContactID, contactPayload(in))
	if err != nil {
		s.logger.Warn("amocrm.update_contact.failed",
			zap.Int64("contact_id", found.ContactID),
			zap.Error(err))
		return Result{}, wrap("updating contact", err)
	}

	s.publish(ctx, model.EventContactUpdated, model.ContactEvent{
		ContactID: found.ContactID,
		Name:      in.Name,
		Email:     in.Email,
		Phone:     in.Phone,
	})
	return Result{Outcome: OutcomeUpdated, ContactID: found.ContactID, Body: raw}, nil
}

func (s *Service) createContact(ctx context.Context, in ContactInput) (Result, error) {
	found, err := s.findContact(ctx, in.Email, in.Phone)
	if err != nil {
		return Result{}, err
	}
	if found.Outcome == OutcomeFound {
		return Result{Outcome: OutcomeAlreadyExists, ContactID: found.ContactID, Body: found.Body}, nil
	}

	raw, page, err := s.client.CreateContacts(ctx, []ContactPayload{contactPayload(in)})
	if err != nil {
		s.logger.Warn("amocrm.create_contact.failed", zap.Error(err))
		return Result{}, wrap("creating contact", err)
	}
	id := page.FirstID()
	if id == 0 {
		return Result{}, wrap("creating contact", fmt.Errorf("amocrm response has no contact id"))
	}

	s.publish(ctx, model.EventContactCreated, model.ContactEvent{
		ContactID: id,
		Name:      in.Name,
		Email:     in.Email,
		Phone:     in.Phone,
	})
	return Result{Outcome: OutcomeCreated, ContactID: id, Body: raw}, nil
}

func (s *Service) createLead(ctx context.Context, in ContactInput) (Result, error) {
	found, err := s.findContact(ctx, in.Email, in.Phone)
	if err != nil {
		return Result{}, err
	}

	var contactID int64
	if found.Outcome == OutcomeFound {
		updated, err := s.updateContact(ctx, in)
		if err != nil {
			return Result{}, err
		}
		if updated.Outcome == OutcomeUpdated {
			contactID = found.ContactID
		} else {
			s.logger.Warn("amocrm.create_lead.contact_vanished",
				zap.Int64("contact_id", found.ContactID))
		}
	}

	contactCreated := false
	if contactID == 0 {
		created, err := s.createContact(ctx, in)
		if err != nil {
			return Result{}, err
		}
		contactID = created.ContactID
		contactCreated = created.Outcome == OutcomeCreated
	}

	lead := LeadPayload{
		Name:              DefaultLeadName,
		Price:             0,
		ResponsibleUserID: s.lead.ResponsibleUserID,
		PipelineID:        s.lead.PipelineID,
		StatusID:          s.lead.StatusID,
		Embedded:          LeadEmbedded{Contacts: []EntityRef{{ID: contactID}}},
	}
	raw, page, err := s.client.CreateLeads(ctx, []LeadPayload{lead})
	if err != nil {
		s.logger.Error("amocrm.create_lead.failed",
			zap.Int64("contact_id", contactID),
			zap.Error(err))
		return Result{}, wrap("creating lead", err)
	}

	var leadID int64
	if len(page.Embedded.Leads) > 0 {
		leadID = page.Embedded.Leads[0].ID
	}
	s.logger.Info("amocrm.create_lead.success",
		zap.Int64("lead_id", leadID),
		zap.Int64("contact_id", contactID),
		zap.Bool("contact_created", contactCreated))

	s.publish(ctx, model.EventLeadCreated, model.LeadEvent{
		LeadID:            leadID,
		ContactID:         contactID,
		ResponsibleUserID: s.lead.ResponsibleUserID,
		PipelineID:        s.lead.PipelineID,
		StatusID:          s.lead.StatusID,
		ContactCreated:    contactCreated,
	})
	return Result{Outcome: OutcomeCreated, ContactID: contactID, LeadID: leadID, Body: raw}, nil
}

// lock takes every key from LockKeys in order. A contact matches on phone or
// on email, so two requests sharing either one must serialize.
func (s *Service) lock(ctx context.Context, in ContactInput, op string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}

	keys := LockKeys(in)
	releases := make([]func(), 0, len(keys))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	for _, key := range keys {
		release, err := s.locker.Acquire(ctx, key)
		if err != nil {
			releaseAll()
			s.logger.Warn("amocrm.contact_lock.failed",
				zap.String("op", op),
				zap.String("key", key),
				zap.Error(err))
			return nil, &Error{Kind: KindConflict, Op: op, Err: err}
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}

// LockKeys returns the lock keys for a contact, one per searchable field, in
// the fixed acquisition order (email before phone). Emails are lower-cased.
func LockKeys(in ContactInput) []string {
	var keys []string
	if in.Email != "" {
		keys = append(keys, "contact:email:"+strings.ToLower(in.Email))
	}
	if in.Phone != "" {
		keys = append(keys, "contact:phone:"+in.Phone)
	}
	return keys
}

func (s *Service) publish(ctx context.Context, eventType string, payload any) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, eventType, payload); err != nil {
		s.logger.Warn("amocrm.event_publish_failed",
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}

func (s *Service) record(op string, res Result, err error) {
	if err != nil {
		metrics.IncOperation(op, "error_"+string(KindOf(err)))
		return
	}
	metrics.IncOperation(op, string(res.Outcome))
}
