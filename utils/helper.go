package utils

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/construdata/obras_backend/config"
	"github.com/bsm/redislock"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Item and composition prices carry 4 decimal places; user-facing money
// (service/stage/budget totals) carries 2. Rounding is half-away-from-zero
// at a fixed precision so repeated recalculation is stable.
const (
	ItemPricePrecision = 4
	MoneyPrecision     = 2
	DefaultBdiPercent  = 25
	CatalogReferenceUF = "SP"
)

func Round4(d decimal.Decimal) decimal.Decimal {
	return d.Round(ItemPricePrecision)
}

func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPrecision)
}

func ProcessValidationErrors(err error) map[string]string {

	validationErrors := err.(validator.ValidationErrors)

	errorResponse := make(map[string]string)

	for _, ve := range validationErrors {
		errorResponse[ve.Field()] = ve.Tag()
	}

	return errorResponse
}

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

func UniqueSlice[T comparable](slice []T) []T {
	keys := make(map[T]bool)
	list := []T{}
	for _, entry := range slice {
		if _, value := keys[entry]; !value {
			keys[entry] = true
			list = append(list, entry)
		}
	}
	return list
}

func DereferencePtr[T any](ptr *T, defaults ...T) T {
	if ptr != nil {
		return *ptr
	}
	if len(defaults) > 0 {
		return defaults[0]
	}
	var zero T
	return zero
}

func NilIfEmpty[T comparable](v T) *T {
	var zero T
	if v == zero {
		return nil
	}
	return &v
}

// ParseDecimal accepts formatted currency strings ("R$ 1.234,56" is NOT
// supported; values arrive dot-separated from the API) and plain numbers.
func ParseDecimal(value string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(value)
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.TrimLeft(cleaned, "R$ ")
	if cleaned == "" {
		return decimal.Zero, errors.New("empty decimal value")
	}
	dec, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal %q: %w", value, err)
	}
	return dec, nil
}

// ProjectLock obtains a best-effort distributed lock for the project before a
// cascade. Reliability must not depend on Redis: the authoritative
// serialization is the MySQL advisory lock taken inside the transaction.
func ProjectLock(ctx context.Context, projectId int, lockType string, moduleName string, functionName string) (*redislock.Lock, error) {
	logger := config.GetLogger()
	locker := config.GetRedisLock()
	if locker == nil {
		// Redis lock not initialized; MySQL advisory lock still serializes.
		return nil, nil
	}
	lockKey := fmt.Sprintf("%s:project:%d", lockType, projectId)
	lock, err := locker.Obtain(ctx, lockKey, 30*time.Second, nil)
	if err == redislock.ErrNotObtained {
		config.LogError(logger, moduleName, functionName, "Could not obtain lock for project", projectId, err)
		return nil, errors.New("could not obtain lock for project")
	} else if err != nil {
		config.LogError(logger, moduleName, functionName, "Error obtaining lock for project", projectId, err)
		return nil, err
	}
	return lock, nil
}

func ReleaseProjectLock(ctx context.Context, lock *redislock.Lock) {
	if lock == nil {
		return
	}
	_ = lock.Release(ctx)
}
