package aggregates

import (
	"strings"

	"gorm.io/gorm"

	"github.com/yungbote/layered-backend/internal/platform/dbctx"
)

// CASGuard performs compare-and-set updates inside aggregate transactions.
type CASGuard struct {
	db *gorm.DB
}

func NewCASGuard(db *gorm.DB) CASGuard {
	return CASGuard{db: db}
}

func (g CASGuard) baseDB(dbc dbctx.Context) (*gorm.DB, error) {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx), nil
	}
	if g.db != nil {
		return g.db.WithContext(dbc.Ctx), nil
	}
	return nil, ValidationError("missing db transaction context")
}

// UpdateByStatus updates table row id only while its status is one of allowedStatuses.
func (g CASGuard) UpdateByStatus(dbc dbctx.Context, table string, id string, allowedStatuses []string, updates map[string]any) (bool, error) {
	db, err := g.baseDB(dbc)
	if err != nil {
		return false, err
	}
	table = strings.TrimSpace(table)
	if table == "" || strings.TrimSpace(id) == "" {
		return false, ValidationError("table and id are required for UpdateByStatus")
	}
	if len(allowedStatuses) == 0 {
		return false, ValidationError("allowedStatuses must not be empty")
	}
	res := db.Table(table).
		Where("id = ? AND status IN ?", id, allowedStatuses).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CurrentStatus reads the status column of table row id.
func (g CASGuard) CurrentStatus(dbc dbctx.Context, table string, id string) (string, error) {
	db, err := g.baseDB(dbc)
	if err != nil {
		return "", err
	}
	var statuses []string
	if err := db.Table(table).Where("id = ?", id).Limit(1).Pluck("status", &statuses).Error; err != nil {
		return "", err
	}
	if len(statuses) == 0 {
		return "", gorm.ErrRecordNotFound
	}
	return statuses[0], nil
}

func RequireStatusAllowed(current string, allowed ...string) error {
	current = strings.TrimSpace(current)
	if len(allowed) == 0 {
		return ValidationError("allowed statuses cannot be empty")
	}
	for _, s := range allowed {
		if strings.EqualFold(current, strings.TrimSpace(s)) {
			return nil
		}
	}
	return ConflictError("status transition not allowed from " + current)
}
