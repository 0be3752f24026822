package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/pagepilot/internal/model"
)

var (
	// ErrPageNotFound indicates no landing page matched the lookup.
	ErrPageNotFound = errors.New("storage: landing page not found")
	// ErrSlugTaken indicates another landing page already uses the slug.
	ErrSlugTaken = errors.New("storage: landing page slug taken")
)

// PageUpdate carries the fields to change on a landing page. Nil fields are left untouched.
type PageUpdate struct {
	Slug               *string
	Title              *string
	Headline           *string
	Body               *string
	CallToActionLabel  *string
	CallToActionURL    *string
	BackgroundImageURL *string
	Published          *bool
}

// PageStore persists landing pages and cleans up their analytics on delete.
type PageStore struct {
	database *gorm.DB
	now      func() time.Time
}

// NewPageStore constructs a PageStore.
func NewPageStore(database *gorm.DB) *PageStore {
	return &PageStore{
		database: database,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// FindByID loads a landing page regardless of its published state.
func (store *PageStore) FindByID(ctx context.Context, pageID string) (model.LandingPage, error) {
	var page model.LandingPage
	err := store.database.WithContext(ctx).First(&page, "id = ?", strings.TrimSpace(pageID)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.LandingPage{}, ErrPageNotFound
	}
	return page, err
}

// FindPublishedBySlug loads a published landing page by slug.
func (store *PageStore) FindPublishedBySlug(ctx context.Context, slug string) (model.LandingPage, error) {
	var page model.LandingPage
	err := store.database.WithContext(ctx).
		Where("slug = ? AND published = ?", strings.ToLower(strings.TrimSpace(slug)), true).
		First(&page).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.LandingPage{}, ErrPageNotFound
	}
	return page, err
}

// Create inserts a new landing page.
func (store *PageStore) Create(ctx context.Context, page *model.LandingPage) error {
	if page == nil {
		return errors.New("storage: nil landing page")
	}
	if page.ID == "" {
		page.ID = NewID()
	}
	return store.database.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		if err := ensureSlugAvailable(transaction, page.Slug, ""); err != nil {
			return err
		}
		return transaction.Create(page).Error
	})
}

// Update applies changes to a landing page and returns the stored result.
// Publishing stamps PublishedAt; unpublishing clears it.
func (store *PageStore) Update(ctx context.Context, pageID string, update PageUpdate) (model.LandingPage, error) {
	var updated model.LandingPage
	err := store.database.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		var page model.LandingPage
		findErr := transaction.First(&page, "id = ?", strings.TrimSpace(pageID)).Error
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			return ErrPageNotFound
		}
		if findErr != nil {
			return findErr
		}

		if applyErr := store.applyUpdate(transaction, &page, update); applyErr != nil {
			return applyErr
		}
		if saveErr := transaction.Save(&page).Error; saveErr != nil {
			return saveErr
		}
		updated = page
		return nil
	})
	if err != nil {
		return model.LandingPage{}, err
	}
	return updated, nil
}

func (store *PageStore) applyUpdate(transaction *gorm.DB, page *model.LandingPage, update PageUpdate) error {
	if update.Title != nil {
		title := strings.TrimSpace(*update.Title)
		if title == "" {
			return model.ErrInvalidLandingPageTitle
		}
		page.Title = title
	}
	if update.Slug != nil {
		slug, slugErr := model.NormalizeSlug(*update.Slug)
		if slugErr != nil {
			return slugErr
		}
		if slug != page.Slug {
			if err := ensureSlugAvailable(transaction, slug, page.ID); err != nil {
				return err
			}
			page.Slug = slug
		}
	}
	if update.Headline != nil {
		page.Headline = strings.TrimSpace(*update.Headline)
	}
	if update.Body != nil {
		page.Body = *update.Body
	}
	if update.CallToActionLabel != nil {
		page.CallToActionLabel = strings.TrimSpace(*update.CallToActionLabel)
	}
	if update.CallToActionURL != nil {
		normalized, urlErr := model.NormalizeOptionalURL(*update.CallToActionURL)
		if urlErr != nil {
			return urlErr
		}
		page.CallToActionURL = normalized
	}
	if update.BackgroundImageURL != nil {
		normalized, urlErr := model.NormalizeOptionalURL(*update.BackgroundImageURL)
		if urlErr != nil {
			return urlErr
		}
		page.BackgroundImageURL = normalized
	}
	if update.Published != nil && *update.Published != page.Published {
		page.Published = *update.Published
		if page.Published {
			publishedAt := store.now()
			page.PublishedAt = &publishedAt
		} else {
			page.PublishedAt = nil
		}
	}
	return nil
}

// List returns the landing pages owned by ownerEmail, newest first.
// An empty ownerEmail lists every page.
func (store *PageStore) List(ctx context.Context, ownerEmail string) ([]model.LandingPage, error) {
	query := store.database.WithContext(ctx).Model(&model.LandingPage{})
	normalizedOwner := strings.ToLower(strings.TrimSpace(ownerEmail))
	if normalizedOwner != "" {
		query = query.Where("owner_email = ?", normalizedOwner)
	}
	var pages []model.LandingPage
	if err := query.Order("created_at desc").Order("id asc").Find(&pages).Error; err != nil {
		return nil, err
	}
	return pages, nil
}

// Delete removes a landing page along with its clicks, views and rollups.
func (store *PageStore) Delete(ctx context.Context, pageID string) error {
	trimmedID := strings.TrimSpace(pageID)
	return store.database.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		result := transaction.Where("id = ?", trimmedID).Delete(&model.LandingPage{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrPageNotFound
		}
		for _, dependent := range []any{&model.ClickEvent{}, &model.PageView{}, &model.PageDailyStat{}} {
			if err := transaction.Where("page_id = ?", trimmedID).Delete(dependent).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func ensureSlugAvailable(transaction *gorm.DB, slug string, exceptPageID string) error {
	query := transaction.Model(&model.LandingPage{}).Where("slug = ?", slug)
	if exceptPageID != "" {
		query = query.Where("id <> ?", exceptPageID)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: %s", ErrSlugTaken, slug)
	}
	return nil
}
