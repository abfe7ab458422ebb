package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gonggate/internal/models"
	"gonggate/internal/tier"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const blockedTimeLayout = "2006-01-02 15:04"

// Messages returned alongside access decisions.
const (
	msgInternalBypass = "Access granted for internal users."
	msgTotalLimit     = "Total limit reached for the user."
	msgCheckFailed    = "Access check failed. Please try again."
)

// Engine is the quota state machine. It decides, per identity and
// resource, whether an access is allowed, and mutates quota state as a
// side effect. All state lives in the database; the engine itself is
// stateless and safe for concurrent use.
type Engine struct {
	db             *gorm.DB
	limits         map[tier.Tier]tier.Limits
	internalDomain string
	nowFn          func() time.Time
}

// NewEngine constructs an Engine. Empty limits fall back to the stock
// tier tables.
func NewEngine(db *gorm.DB, limits map[tier.Tier]tier.Limits, internalDomain string) *Engine {
	if len(limits) == 0 {
		limits = tier.DefaultLimits()
	}
	return &Engine{
		db:             db,
		limits:         limits,
		internalDomain: strings.TrimPrefix(strings.TrimSpace(internalDomain), "@"),
		nowFn:          time.Now,
	}
}

// GetOrCreateUser returns the quota row for the identity, creating it
// seeded with the tier's lifetime limit when absent. Creation races
// converge on the unique email index: a conflicting insert is retried
// as a lookup.
func (e *Engine) GetOrCreateUser(ctx context.Context, email string, t tier.Tier) (*models.QuotaUser, error) {
	var existing models.QuotaUser
	errFind := e.db.WithContext(ctx).Where("email = ?", email).First(&existing).Error
	if errFind == nil {
		return &existing, nil
	}
	if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("access: query quota user: %w", errFind)
	}

	now := e.nowFn().UTC()
	row := models.QuotaUser{
		Email:       email,
		Tier:        string(t),
		TotalLimit:  e.limitsFor(t).TotalLimit,
		Status:      models.QuotaStatusActive,
		CreatedAt:   now,
		UnblockedAt: now,
		BlockedAt:   now,
	}
	errCreate := e.db.WithContext(ctx).Create(&row).Error
	if errCreate == nil {
		return &row, nil
	}

	// A concurrent request may have created the row first.
	if errRetry := e.db.WithContext(ctx).Where("email = ?", email).First(&existing).Error; errRetry == nil {
		return &existing, nil
	}
	return nil, fmt.Errorf("access: create quota user: %w", errCreate)
}

// Check decides whether the user may access the resource and records the
// access when allowed. Denials come back as (false, message); storage
// failures are logged and surfaced as a generic denial. The rule order
// is fixed: lifetime cap, auto-unblock, repeat-access exemption, block
// state, window cap, log.
func (e *Engine) Check(ctx context.Context, user *models.QuotaUser, resourceID string) (bool, string) {
	if user == nil {
		return false, msgCheckFailed
	}

	if e.internalDomain != "" && strings.HasSuffix(user.Email, "@"+e.internalDomain) {
		return true, msgInternalBypass
	}

	limits := e.limitsFor(tier.Parse(user.Tier))
	window := time.Duration(limits.WindowDays) * 24 * time.Hour

	allowed := false
	message := ""

	errTx := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := e.nowFn().UTC()

		// The caller's row may be stale; re-read inside the transaction.
		var row models.QuotaUser
		if errFind := tx.Where("id = ?", user.ID).First(&row).Error; errFind != nil {
			return fmt.Errorf("reload quota user: %w", errFind)
		}

		// Lifetime cap first: waiting out a block never resets it.
		lifetime, errLifetime := distinctResources(tx, row.ID, time.Time{})
		if errLifetime != nil {
			return errLifetime
		}
		if lifetime >= int64(row.TotalLimit) {
			allowed, message = false, msgTotalLimit
			return nil
		}

		if row.Status == models.QuotaStatusBlocked && now.Sub(row.UnblockedAt) >= window {
			row.Status = models.QuotaStatusActive
			row.UnblockedAt = now
			if errSave := tx.Model(&models.QuotaUser{}).Where("id = ?", row.ID).Updates(map[string]any{
				"status":       row.Status,
				"unblocked_at": row.UnblockedAt,
			}).Error; errSave != nil {
				return fmt.Errorf("unblock quota user: %w", errSave)
			}
		}

		seen, errSeen := alreadyAccessed(tx, row.ID, resourceID)
		if errSeen != nil {
			return errSeen
		}
		if seen {
			allowed, message = true, ""
			*user = row
			return nil
		}

		if row.Status == models.QuotaStatusBlocked {
			allowed, message = false, blockedMessage(row.UnblockedAt, window)
			*user = row
			return nil
		}

		windowStart := now.Add(-window)
		if row.UnblockedAt.After(windowStart) {
			windowStart = row.UnblockedAt
		}
		inWindow, errWindow := distinctResources(tx, row.ID, windowStart)
		if errWindow != nil {
			return errWindow
		}
		if inWindow >= int64(limits.WindowLimit) {
			row.Status = models.QuotaStatusBlocked
			row.BlockedAt = now
			if errSave := tx.Model(&models.QuotaUser{}).Where("id = ?", row.ID).Updates(map[string]any{
				"status":     row.Status,
				"blocked_at": row.BlockedAt,
			}).Error; errSave != nil {
				return fmt.Errorf("block quota user: %w", errSave)
			}
			allowed, message = false, blockedMessage(row.UnblockedAt, window)
			*user = row
			return nil
		}

		entry := models.Activity{
			QuotaUserID: row.ID,
			ResourceID:  resourceID,
			AccessedAt:  now,
		}
		if errLog := tx.Create(&entry).Error; errLog != nil {
			return fmt.Errorf("log activity: %w", errLog)
		}
		allowed, message = true, ""
		*user = row
		return nil
	})
	if errTx != nil {
		log.WithError(errTx).WithField("email", user.Email).Error("access check failed")
		return false, msgCheckFailed
	}

	return allowed, message
}

func (e *Engine) limitsFor(t tier.Tier) tier.Limits {
	if limits, ok := e.limits[t]; ok {
		return limits
	}
	return tier.Limits{WindowLimit: 30, WindowDays: 7, TotalLimit: 100}
}

// blockedMessage renders the denial message with the computed unblock
// timestamp.
func blockedMessage(unblockedAt time.Time, window time.Duration) string {
	unblockTime := unblockedAt.Add(window).UTC().Format(blockedTimeLayout)
	return fmt.Sprintf("User is blocked. Limit will be reset automatically at %s UTC.", unblockTime)
}

// distinctResources counts distinct resources accessed since the given
// time; a zero time counts the whole lifetime.
func distinctResources(tx *gorm.DB, quotaUserID uint64, since time.Time) (int64, error) {
	query := tx.Model(&models.Activity{}).
		Where("quota_user_id = ?", quotaUserID).
		Distinct("resource_id")
	if !since.IsZero() {
		query = query.Where("accessed_at >= ?", since)
	}
	var count int64
	if errCount := query.Count(&count).Error; errCount != nil {
		return 0, fmt.Errorf("count distinct resources: %w", errCount)
	}
	return count, nil
}

// alreadyAccessed reports whether the resource appears in the user's
// activity log.
func alreadyAccessed(tx *gorm.DB, quotaUserID uint64, resourceID string) (bool, error) {
	var row models.Activity
	errFind := tx.Select("id").
		Where("quota_user_id = ? AND resource_id = ?", quotaUserID, resourceID).
		First(&row).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if errFind != nil {
		return false, fmt.Errorf("check repeat access: %w", errFind)
	}
	return true, nil
}
