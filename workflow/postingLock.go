package workflow

import (
	"fmt"

	"gorm.io/gorm"
)

// AcquireProjectPostingLock serializes cascades per project across instances using MySQL advisory locks.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the same *gorm.DB that will do the cascade transaction.
func AcquireProjectPostingLock(tx *gorm.DB, projectId int) error {
	lockName := fmt.Sprintf("posting:project:%d", projectId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire posting lock for project_id=%d", projectId)
	}
	return nil
}

func ReleaseProjectPostingLock(tx *gorm.DB, projectId int) {
	lockName := fmt.Sprintf("posting:project:%d", projectId)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}

// AcquireCatalogPostingLock serializes global catalog price edits. There is a
// single catalog, so a single lock name.
func AcquireCatalogPostingLock(tx *gorm.DB) error {
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", "posting:catalog").Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire catalog posting lock")
	}
	return nil
}

func ReleaseCatalogPostingLock(tx *gorm.DB) {
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", "posting:catalog").Scan(&_ok).Error
}
