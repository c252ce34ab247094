package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/careertrack/backend/internal/gamification"
	"go.uber.org/zap"
)

const (
	defaultAwardTimeout = 10 * time.Second
	fieldUserID         = "user_id"
	fieldApplicationID  = "application_id"
	fieldInternshipID   = "internship_id"
	fieldStatus         = "status"
)

var noOpLogger = zap.NewNop()

// ServiceConfig describes the collaborators of the tracker pipeline.
type ServiceConfig struct {
	Store        *Store
	Hub          *SnapshotHub
	Awarder      gamification.Awarder
	Policy       TransitionPolicy
	AwardTimeout time.Duration
	Clock        func() time.Time
	Logger       *zap.Logger
}

// Service is the status pipeline: it validates commands, persists them through
// the Store, publishes fresh snapshots and dispatches XP awards.
type Service struct {
	store        *Store
	hub          *SnapshotHub
	awarder      gamification.Awarder
	policy       TransitionPolicy
	awardTimeout time.Duration
	clock        func() time.Time
	logger       *zap.Logger

	publishMu sync.Mutex
	awards    sync.WaitGroup
}

// NewService validates the configuration and returns a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, reasonMissingStore, errMissingStore)
	}
	hub := cfg.Hub
	if hub == nil {
		hub = NewSnapshotHub()
	}
	policy := cfg.Policy
	if policy == nil {
		policy = PermissiveTransitions{}
	}
	awardTimeout := cfg.AwardTimeout
	if awardTimeout <= 0 {
		awardTimeout = defaultAwardTimeout
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		store:        cfg.Store,
		hub:          hub,
		awarder:      cfg.Awarder,
		policy:       policy,
		awardTimeout: awardTimeout,
		clock:        clock,
		logger:       logger,
	}, nil
}

// Track starts tracking an internship. initialStatus defaults to saved.
func (service *Service) Track(ctx context.Context, userID UserID, internship InternshipSnapshot, initialStatus Status) (TrackedApplication, error) {
	if err := service.ready(opTrack, userID); err != nil {
		return TrackedApplication{}, err
	}
	created, err := service.store.Create(ctx, userID, internship, initialStatus)
	if err != nil {
		return TrackedApplication{}, service.fail(opTrack, err,
			zap.String(fieldUserID, userID.String()),
			zap.String(fieldInternshipID, internship.ID.String()))
	}
	service.logger.Info("internship tracked",
		zap.String(fieldUserID, userID.String()),
		zap.String(fieldApplicationID, created.ID.String()),
		zap.String(fieldInternshipID, created.InternshipID.String()))
	if created.Status == StatusApplied {
		service.dispatchAward(userID, gamification.ActionApplyInternship)
	}
	service.publish(ctx, userID)
	return created, nil
}

// Get loads one tracked application.
func (service *Service) Get(ctx context.Context, userID UserID, applicationID ApplicationID) (TrackedApplication, error) {
	if err := service.ready(opGet, userID); err != nil {
		return TrackedApplication{}, err
	}
	application, err := service.store.Get(ctx, userID, applicationID)
	if err != nil {
		return TrackedApplication{}, service.fail(opGet, err,
			zap.String(fieldUserID, userID.String()),
			zap.String(fieldApplicationID, applicationID.String()))
	}
	return application, nil
}

// ChangeStatus moves an application to newStatus and appends a timeline entry.
// Each transition into applied awards APPLY_INTERNSHIP once; the award never
// affects the outcome of the status change.
func (service *Service) ChangeStatus(ctx context.Context, userID UserID, applicationID ApplicationID, newStatus Status, note string) (TrackedApplication, error) {
	if err := service.ready(opChangeStatus, userID); err != nil {
		return TrackedApplication{}, err
	}
	updated, err := service.store.UpdateStatus(ctx, userID, applicationID, newStatus, note, service.policy)
	if err != nil {
		return TrackedApplication{}, service.fail(opChangeStatus, err,
			zap.String(fieldUserID, userID.String()),
			zap.String(fieldApplicationID, applicationID.String()),
			zap.String(fieldStatus, newStatus.String()))
	}
	if newStatus == StatusApplied {
		service.dispatchAward(userID, gamification.ActionApplyInternship)
	}
	service.publish(ctx, userID)
	return updated, nil
}

// UpdateNotes overwrites the free-text notes.
func (service *Service) UpdateNotes(ctx context.Context, userID UserID, applicationID ApplicationID, notes string) (TrackedApplication, error) {
	if err := service.ready(opUpdateNotes, userID); err != nil {
		return TrackedApplication{}, err
	}
	updated, err := service.store.UpdateNotes(ctx, userID, applicationID, notes)
	if err != nil {
		return TrackedApplication{}, service.fail(opUpdateNotes, err,
			zap.String(fieldUserID, userID.String()),
			zap.String(fieldApplicationID, applicationID.String()))
	}
	service.publish(ctx, userID)
	return updated, nil
}

// UpdateDeadline overwrites the deadline.
func (service *Service) UpdateDeadline(ctx context.Context, userID UserID, applicationID ApplicationID, deadline string) (TrackedApplication, error) {
	if err := service.ready(opUpdateDeadline, userID); err != nil {
		return TrackedApplication{}, err
	}
	updated, err := service.store.UpdateDeadline(ctx, userID, applicationID, deadline)
	if err != nil {
		return TrackedApplication{}, service.fail(opUpdateDeadline, err,
			zap.String(fieldUserID, userID.String()),
			zap.String(fieldApplicationID, applicationID.String()))
	}
	service.publish(ctx, userID)
	return updated, nil
}

// AddDocument appends a document reference.
func (service *Service) AddDocument(ctx context.Context, userID UserID, applicationID ApplicationID, document Document) (TrackedApplication, error) {
	if err := service.ready(opAddDocument, userID); err != nil {
		return TrackedApplication{}, err
	}
	updated, err := service.store.AddDocument(ctx, userID, applicationID, document)
	if err != nil {
		return TrackedApplication{}, service.fail(opAddDocument, err,
			zap.String(fieldUserID, userID.String()),
			zap.String(fieldApplicationID, applicationID.String()))
	}
	service.publish(ctx, userID)
	return updated, nil
}

// Remove hard-deletes an application.
func (service *Service) Remove(ctx context.Context, userID UserID, applicationID ApplicationID) error {
	if err := service.ready(opRemove, userID); err != nil {
		return err
	}
	if err := service.store.Remove(ctx, userID, applicationID); err != nil {
		return service.fail(opRemove, err,
			zap.String(fieldUserID, userID.String()),
			zap.String(fieldApplicationID, applicationID.String()))
	}
	service.logger.Info("application removed",
		zap.String(fieldUserID, userID.String()),
		zap.String(fieldApplicationID, applicationID.String()))
	service.publish(ctx, userID)
	return nil
}

// List returns the user's tracked applications.
func (service *Service) List(ctx context.Context, userID UserID) ([]TrackedApplication, error) {
	if err := service.ready(opList, userID); err != nil {
		return nil, err
	}
	applications, err := service.store.List(ctx, userID)
	if err != nil {
		return nil, service.fail(opList, err, zap.String(fieldUserID, userID.String()))
	}
	return applications, nil
}

// IsTracked reports whether the user tracks the internship.
func (service *Service) IsTracked(ctx context.Context, userID UserID, internshipID InternshipID) (bool, error) {
	if err := service.ready(opIsTracked, userID); err != nil {
		return false, err
	}
	tracked, err := service.store.IsTracked(ctx, userID, internshipID)
	if err != nil {
		return false, service.fail(opIsTracked, err,
			zap.String(fieldUserID, userID.String()),
			zap.String(fieldInternshipID, internshipID.String()))
	}
	return tracked, nil
}

// StageCounts computes dashboard counts over the user's collection.
func (service *Service) StageCounts(ctx context.Context, userID UserID) (StageCounts, error) {
	applications, err := service.List(ctx, userID)
	if err != nil {
		return StageCounts{}, err
	}
	return CountStages(applications), nil
}

// Subscribe returns a stream of full snapshots. The current snapshot is
// delivered first, to the new stream only; every later mutation delivers a
// fresh one to all of the user's streams.
func (service *Service) Subscribe(ctx context.Context, userID UserID) (<-chan Snapshot, func(), error) {
	if err := service.ready(opSubscribe, userID); err != nil {
		return nil, nil, err
	}
	service.publishMu.Lock()
	defer service.publishMu.Unlock()

	subscriber, cancel := service.hub.subscribe(ctx, userID)
	snapshot, err := service.loadSnapshot(ctx, userID)
	if err != nil {
		cancel()
		return nil, nil, service.fail(opSubscribe, err, zap.String(fieldUserID, userID.String()))
	}
	subscriber.offer(snapshot)
	return subscriber.stream, cancel, nil
}

// Close waits for in-flight XP awards.
func (service *Service) Close() {
	if service == nil {
		return
	}
	service.awards.Wait()
}

func (service *Service) ready(operation string, userID UserID) error {
	if service == nil || service.store == nil {
		return newServiceError(operation, reasonMissingStore, errMissingStore)
	}
	if userID == "" {
		return newServiceError(operation, reasonUnauthenticated, ErrUnauthenticated)
	}
	return nil
}

func (service *Service) fail(operation string, err error, fields ...zap.Field) error {
	reason := classify(err)
	switch reason {
	case reasonStoreUnavailable, reasonMissingDatabase, reasonConcurrentModification:
		service.logError(operation, reason, err, fields...)
	default:
		service.logger.Debug("tracker request rejected",
			append([]zap.Field{
				zap.String("operation", operation),
				zap.String("reason", reason),
				zap.Error(err),
			}, fields...)...)
	}
	return newServiceError(operation, reason, err)
}

func (service *Service) dispatchAward(userID UserID, action gamification.Action) {
	if service.awarder == nil {
		return
	}
	service.awards.Add(1)
	go func() {
		defer service.awards.Done()
		ctx, cancel := context.WithTimeout(context.Background(), service.awardTimeout)
		defer cancel()
		if err := service.awarder.Award(ctx, userID.String(), action); err != nil {
			service.logger.Warn("xp award failed",
				zap.String("operation", opAwardExperience),
				zap.String("reason", reasonAwardFailed),
				zap.String(fieldUserID, userID.String()),
				zap.String("action", string(action)),
				zap.Error(err))
		}
	}()
}

func (service *Service) publish(ctx context.Context, userID UserID) {
	if !service.hub.HasSubscribers(userID) {
		return
	}
	service.publishMu.Lock()
	defer service.publishMu.Unlock()
	snapshot, err := service.loadSnapshot(context.WithoutCancel(ctx), userID)
	if err != nil {
		service.logError(opPublishSnapshot, reasonSnapshotLoadFailed, err, zap.String(fieldUserID, userID.String()))
		return
	}
	service.hub.Publish(snapshot)
}

func (service *Service) loadSnapshot(ctx context.Context, userID UserID) (Snapshot, error) {
	applications, err := service.store.List(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		UserID:       userID,
		Applications: applications,
		Counts:       CountStages(applications),
		Timestamp:    service.clock().UTC(),
	}, nil
}

func (service *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	service.logger.Error("tracker service error", attrs...)
}
