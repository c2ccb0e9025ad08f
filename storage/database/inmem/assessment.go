package inmemdb

import (
	"context"
	"sort"

	"github.com/relieflab/dms/core"
	"github.com/relieflab/dms/core/assessment"
)

type assessmentRepository struct {
	db *DB
}

func NewAssessmentRepository(db *DB) assessment.Repository {
	return &assessmentRepository{db: db}
}

func (repo *assessmentRepository) CreateAssessment(ctx context.Context, ra assessment.RapidAssessment) (assessment.RapidAssessment, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	repo.db.assessments[ra.ID] = &ra
	return ra, nil
}

func (repo *assessmentRepository) QueryAssessments(ctx context.Context, filter *assessment.QueryFilter, ordering []core.DBOrdering) ([]assessment.RapidAssessment, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var ras []assessment.RapidAssessment
	for _, ra := range repo.db.assessments {
		if filter != nil && !matchAssessment(*ra, filter) {
			continue
		}
		ras = append(ras, *ra)
	}
	sort.Slice(ras, func(i, j int) bool { return ras[i].Date.After(ras[j].Date) })
	return ras, nil
}

func matchAssessment(ra assessment.RapidAssessment, filter *assessment.QueryFilter) bool {
	if filter.Type != "" && ra.Type != filter.Type {
		return false
	}
	if filter.EntityID != "" && ra.EntityID != filter.EntityID {
		return false
	}
	if filter.AssessorID != "" && ra.AssessorID != filter.AssessorID {
		return false
	}
	if filter.Status != "" && ra.VerificationStatus != filter.Status {
		return false
	}
	if !filter.DateFrom.IsZero() && ra.Date.Before(filter.DateFrom) {
		return false
	}
	if !filter.DateTo.IsZero() && ra.Date.After(filter.DateTo) {
		return false
	}
	return true
}

func (repo *assessmentRepository) GetAssessmentByID(ctx context.Context, id string) (assessment.RapidAssessment, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if ra, ok := repo.db.assessments[id]; ok {
		return *ra, nil
	}
	return assessment.RapidAssessment{}, assessment.ErrNotFound
}

func (repo *assessmentRepository) GetAssessmentByOfflineID(ctx context.Context, offlineID string) (assessment.RapidAssessment, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, ra := range repo.db.assessments {
		if ra.OfflineID != "" && ra.OfflineID == offlineID {
			return *ra, nil
		}
	}
	return assessment.RapidAssessment{}, assessment.ErrNotFound
}

func (repo *assessmentRepository) UpdateAssessment(ctx context.Context, ra assessment.RapidAssessment) (assessment.RapidAssessment, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.assessments[ra.ID]; !ok {
		return assessment.RapidAssessment{}, assessment.ErrNotFound
	}
	repo.db.assessments[ra.ID] = &ra
	return ra, nil
}

func (repo *assessmentRepository) CreateFeedback(ctx context.Context, fb assessment.Feedback) (assessment.Feedback, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	repo.db.feedback[fb.AssessmentID] = append(repo.db.feedback[fb.AssessmentID], fb)
	return fb, nil
}

func (repo *assessmentRepository) QueryFeedback(ctx context.Context, assessmentID string) ([]assessment.Feedback, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	fbs := append([]assessment.Feedback(nil), repo.db.feedback[assessmentID]...)
	sort.Slice(fbs, func(i, j int) bool { return fbs[i].CreatedAt.After(fbs[j].CreatedAt) })
	return fbs, nil
}

func (repo *assessmentRepository) QueryStatusChangesSince(ctx context.Context, since int64) ([]assessment.RapidAssessment, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var ras []assessment.RapidAssessment
	for _, ra := range repo.db.assessments {
		if ra.VerificationStatus != core.StatusPending && ra.UpdatedAt.Unix() >= since {
			ras = append(ras, *ra)
		}
	}
	sort.Slice(ras, func(i, j int) bool { return ras[i].UpdatedAt.Before(ras[j].UpdatedAt) })
	return ras, nil
}
