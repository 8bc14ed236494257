package service

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/asklokesh/FireLater-sub004/models/portal"
)

// nextSequenceNumber 在事务内发放下一个单号.
// id_sequences按(租户,前缀)一行，行内next_val自增；调用方必须已处于
// 事务中，保证取号与业务写入同生共死.
func nextSequenceNumber(tx *gorm.DB, tenantID string, prefix string) (string, error) {
	var seq portal.IDSequence
	err := tx.Where(fieldTenant, tenantID).
		Where("prefix = ?", prefix).
		First(&seq).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		seq = portal.IDSequence{
			TenantModel: portal.TenantModel{TenantID: tenantID},
			Prefix:      prefix,
			NextVal:     1,
		}
		if err := tx.Create(&seq).Error; err != nil {
			return "", NewServerError("failed to create id sequence", err)
		}
	} else if err != nil {
		return "", NewServerError("failed to load id sequence", err)
	}

	number := fmt.Sprintf(swapNumberFormat, seq.Prefix, seq.NextVal)

	if err := tx.Model(&portal.IDSequence{}).
		Where(fieldID, seq.ID).
		Update("next_val", seq.NextVal+1).Error; err != nil {
		return "", NewServerError("failed to advance id sequence", err)
	}

	return number, nil
}
